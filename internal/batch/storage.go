package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Storage defines the interface for durable receipt image storage
type Storage interface {
	// Put stores an object and returns a stable reference
	Put(data []byte, contentType string) (string, error)

	// Get retrieves an object by reference
	Get(ref string) ([]byte, error)

	// AccessURL returns a URL usable to display the object for at least ttl
	AccessURL(ref string, ttl time.Duration) (string, error)

	// Delete removes an object
	Delete(ref string) error
}

// LocalStorage implements the Storage interface using the local filesystem
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage creates a new LocalStorage instance. baseURL is the URL
// prefix under which stored objects are served.
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
		baseURL:  baseURL,
	}, nil
}

// extensionFor maps a content type to a file extension
func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// Put stores an object under a fresh reference
func (l *LocalStorage) Put(data []byte, contentType string) (string, error) {
	ref := uuid.NewString() + extensionFor(contentType)
	path := filepath.Join(l.basePath, ref)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return ref, nil
}

// Get retrieves an object from local storage
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, ref))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// AccessURL returns the serving URL for an object. Local files do not
// expire, so ttl is ignored.
func (l *LocalStorage) AccessURL(ref string, _ time.Duration) (string, error) {
	if _, err := os.Stat(filepath.Join(l.basePath, ref)); err != nil {
		return "", fmt.Errorf("stating file: %w", err)
	}
	return l.baseURL + "/" + ref, nil
}

// Delete removes an object from local storage
func (l *LocalStorage) Delete(ref string) error {
	if err := os.Remove(filepath.Join(l.basePath, ref)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
