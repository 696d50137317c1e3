package mailbox

import (
	"os"
)

// Backend abstracts the byte-level operations the store performs, so the
// directory/JSON layout could later be replaced by another backing store
// without touching the Store contracts. Paths are absolute and always come
// out of the Sandbox.
type Backend interface {
	ListDir(path string) ([]string, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(path string) error
	RemoveTree(path string) error
	IsDir(path string) bool
	IsFile(path string) bool
}

type fsBackend struct{}

// NewFSBackend returns the filesystem implementation of Backend.
func NewFSBackend() Backend {
	return fsBackend{}
}

func (fsBackend) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (fsBackend) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (fsBackend) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (fsBackend) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (fsBackend) Remove(path string) error {
	return os.Remove(path)
}

func (fsBackend) RemoveTree(path string) error {
	return os.RemoveAll(path)
}

func (fsBackend) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (fsBackend) IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
