package extraction

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// isDecodableImage reports whether data carries a header one of the
// registered decoders accepts. The OCR engine aborts noisily on garbage,
// so bytes are checked before they reach it.
func isDecodableImage(data []byte) bool {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	return err == nil && cfg.Width > 0 && cfg.Height > 0
}
