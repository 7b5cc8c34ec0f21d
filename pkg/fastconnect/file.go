package fastconnect

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

type fileRecord struct {
	fs   afero.Fs
	path string
}

func (r *fileRecord) load() ([]byte, error) {
	data, readErr := afero.ReadFile(r.fs, r.path)
	if errors.Is(readErr, os.ErrNotExist) {
		return nil, nil
	}
	return data, readErr
}

func (r *fileRecord) store(data []byte) error {
	if mkdirErr := r.fs.MkdirAll(filepath.Dir(r.path), 0755); mkdirErr != nil {
		return mkdirErr
	}
	tmp := r.path + ".tmp"
	if writeErr := afero.WriteFile(r.fs, tmp, data, 0600); writeErr != nil {
		return writeErr
	}
	return r.fs.Rename(tmp, r.path)
}

func (r *fileRecord) close() error {
	return nil
}

// NewFileStore creates a Store that keeps all entries in a single JSON file
func NewFileStore(fs afero.Fs, path string) Store {
	return &recordStore{record: &fileRecord{fs: fs, path: path}}
}
