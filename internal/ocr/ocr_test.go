package ocr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModel(t *testing.T, dir, lang string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, lang+".traineddata"), []byte("model"), 0644))
}

func TestValidate_MissingDirectory(t *testing.T) {
	err := Validate(Options{DataDir: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, ErrModelDataMissing)
}

func TestValidate_UnconfiguredDirectory(t *testing.T) {
	assert.ErrorIs(t, Validate(Options{}), ErrModelDataMissing)
}

func TestValidate_MissingLanguageFile(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "eng")

	err := Validate(Options{DataDir: dir, Languages: []string{"tha", "eng"}})
	require.ErrorIs(t, err, ErrModelDataMissing)
	assert.Contains(t, err.Error(), "tha.traineddata")
	assert.NotContains(t, err.Error(), "eng.traineddata")
}

func TestValidate_DefaultLanguagesPresent(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "tha")
	writeModel(t, dir, "eng")

	assert.NoError(t, Validate(Options{DataDir: dir}))
}

func TestValidate_EmptyModelFileRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eng.traineddata"), nil, 0644))

	assert.ErrorIs(t, Validate(Options{DataDir: dir, Languages: []string{"eng"}}), ErrModelDataMissing)
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{}.WithDefaults()
	assert.Equal(t, []string{"tha", "eng"}, opts.Languages)
	assert.Equal(t, 3, opts.PageSegMode)
	assert.Equal(t, 1, opts.PoolSize)
	assert.Equal(t, "tha+eng", Options{}.LanguageSpec())
}

func TestRecognizerFunc(t *testing.T) {
	var r Recognizer = RecognizerFunc(func(ctx context.Context, image []byte) (string, error) {
		return string(image), nil
	})
	text, err := r.Recognize(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}
