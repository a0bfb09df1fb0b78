// Package storage keeps attachment files on disk, one directory per email.
// Paths handed out are relative to the store root so the root can move.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrFileNotFound indicates the requested file was not found
	ErrFileNotFound = errors.New("file not found")
	// ErrFileWriteFailed indicates file write operation failed
	ErrFileWriteFailed = errors.New("failed to write file")
	// ErrPathOutsideRoot indicates a stored path escapes the store root
	ErrPathOutsideRoot = errors.New("path outside attachment root")
	// ErrInvalidEmailID indicates a zero email id
	ErrInvalidEmailID = errors.New("invalid email id")
)

// DefaultFileName is used when an attachment arrives without a usable name
const DefaultFileName = "attachment"

// Store saves and resolves attachment files under root
type Store struct {
	root string
}

// NewStore creates a Store rooted at root
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the base directory
func (s *Store) Root() string {
	return s.root
}

// EmailDir returns the directory holding one email's attachments
func (s *Store) EmailDir(emailID uint) (string, error) {
	if emailID == 0 {
		return "", ErrInvalidEmailID
	}
	return filepath.Join(s.root, strconv.FormatUint(uint64(emailID), 10)), nil
}

// Save writes content for emailID and returns the stored relative path.
// A name already taken in the email's directory gets a numeric suffix.
func (s *Store) Save(emailID uint, fileName string, content []byte) (string, error) {
	dir, err := s.EmailDir(emailID)
	if err != nil {
		return "", err
	}

	// Ensure directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}

	f, name, err := createUnique(dir, SanitizeFileName(fileName))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(filepath.Join(dir, name))
		return "", fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}

	return filepath.ToSlash(filepath.Join(strconv.FormatUint(uint64(emailID), 10), name)), nil
}

// createUnique opens name in dir exclusively, trying "base (n).ext" on
// collision
func createUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; i < 1000; i++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
	}
	return nil, "", fmt.Errorf("no free name for %q", name)
}

// Resolve turns a stored relative path into an absolute one, refusing
// anything that would leave the root
func (s *Store) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", ErrFileNotFound
	}
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return "", ErrPathOutsideRoot
	}

	var target string
	if filepath.IsAbs(rel) {
		target = filepath.Clean(rel)
	} else {
		target = filepath.Join(absRoot, filepath.FromSlash(rel))
	}

	// Ensure the path starts with the root directory
	if !strings.HasPrefix(target, absRoot+string(filepath.Separator)) {
		return "", ErrPathOutsideRoot
	}
	return target, nil
}

// Open opens a stored file for reading
func (s *Store) Open(rel string) (*os.File, error) {
	path, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	return f, err
}

// Read returns the whole content of a stored file
func (s *Store) Read(rel string) ([]byte, error) {
	f, err := s.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Remove deletes one stored file; a missing file is not an error
func (s *Store) Remove(rel string) error {
	path, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveEmail deletes every file stored for emailID
func (s *Store) RemoveEmail(emailID uint) error {
	dir, err := s.EmailDir(emailID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// SanitizeFileName reduces name to a single safe path element
func SanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		case 0:
			return -1
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.Trim(name, ".")
	if name == "" {
		return DefaultFileName
	}
	if len(name) > 200 {
		ext := filepath.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = name[:200-len(ext)] + ext
	}
	return name
}
