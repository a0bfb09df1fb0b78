package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// ErrEmptyKeyFile indicates the key file exists but holds no key
var ErrEmptyKeyFile = errors.New("api key file is empty")

const (
	// APIKeyHeader carries the key on ordinary requests
	APIKeyHeader = "X-API-Key"
	// APIKeyQuery carries the key for EventSource progress streams, which
	// cannot set headers
	APIKeyQuery = "api_key"
	// APIKeyLength is the number of random bytes in a key; keys are hex
	APIKeyLength = 32
	// KeyFileName is the key file inside the data directory
	KeyFileName = "api_key.txt"
)

// APIKeyManager owns the single operator key kept in <data_dir>/api_key.txt.
// The key is created on first use and replaced only by ResetKey.
type APIKeyManager struct {
	path string

	mu  sync.RWMutex
	key string
}

// NewAPIKeyManager loads the key from dataDir, creating it when absent
func NewAPIKeyManager(dataDir string) (*APIKeyManager, error) {
	m := &APIKeyManager{path: filepath.Join(dataDir, KeyFileName)}

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := m.rotate(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", m.path, err)
	default:
		m.key = strings.TrimSpace(string(data))
		if m.key == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyKeyFile, m.path)
		}
	}
	return m, nil
}

// Path returns the key file location
func (m *APIKeyManager) Path() string {
	return m.path
}

// rotate writes a fresh key next to the old file and renames it into place,
// so a crash never leaves a truncated key behind. Callers hold mu or own m.
func (m *APIKeyManager) rotate() error {
	raw := make([]byte, APIKeyLength)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	key := hex.EncodeToString(raw)

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, KeyFileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.WriteString(key); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return err
	}

	m.key = key
	return nil
}

// GetCurrentKey returns the key in force
func (m *APIKeyManager) GetCurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// ValidateKey compares in constant time
func (m *APIKeyManager) ValidateKey(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.key == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(m.key), []byte(key)) == 1
}

// ResetKey replaces the key; the previous one stops working immediately
func (m *APIKeyManager) ResetKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rotate(); err != nil {
		return "", err
	}
	return m.key, nil
}

func rejectUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   gin.H{"code": "AUTH_FAILED", "message": message},
	})
}

// APIKeyMiddleware accepts the key from the X-API-Key header or, for
// progress streams, the api_key query parameter
func APIKeyMiddleware(keys *APIKeyManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			key = c.Query(APIKeyQuery)
		}
		switch {
		case key == "":
			rejectUnauthorized(c, "API key is required")
		case !keys.ValidateKey(key):
			rejectUnauthorized(c, "Invalid API key")
		default:
			c.Next()
		}
	}
}
