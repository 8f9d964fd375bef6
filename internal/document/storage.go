package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for file storage operations. References
// returned by Save are opaque handles; callers never interpret them.
type Storage interface {
	// Save stores file bytes and returns an opaque storage reference
	Save(name string, data []byte) (string, error)

	// Get retrieves file bytes by storage reference
	Get(ref string) ([]byte, error)

	// Delete removes stored bytes
	Delete(ref string) error
}

// LocalStorage implements the Storage interface on the local filesystem.
// Uploaded documents and export artifacts live under the same base
// directory; export references carry an "exports/" prefix.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	for _, dir := range []string{basePath, filepath.Join(basePath, "exports")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// resolve maps a storage reference onto the base path, refusing references
// that escape it
func (l *LocalStorage) resolve(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage reference: %s", ref)
	}
	return filepath.Join(l.basePath, clean), nil
}

// Save stores a file under the base path
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	path, err := l.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get retrieves a file by storage reference
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file by storage reference
func (l *LocalStorage) Delete(ref string) error {
	path, err := l.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
