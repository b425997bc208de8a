package adapter

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
)

// fileStorage implements Storage on a local directory. Keys map to relative
// paths below the root.
type fileStorage struct {
	root string
}

// NewFileStorage creates Storage rooted at dir, creating it if needed
func NewFileStorage(dir string) (Storage, error) {
	if dir == "" {
		return nil, goerr.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("dir", dir))
	}
	return &fileStorage{root: dir}, nil
}

func (s *fileStorage) path(key string) (string, error) {
	if !filepath.IsLocal(key) {
		return "", goerr.New("invalid storage key", goerr.V("key", key))
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// atomicFile writes into a temporary file and renames it over the target on Close
type atomicFile struct {
	*os.File
	target string
}

func (f *atomicFile) Close() error {
	if err := f.File.Close(); err != nil {
		_ = os.Remove(f.Name())
		return goerr.Wrap(err, "failed to close temporary file", goerr.V("path", f.Name()))
	}
	if err := os.Rename(f.Name(), f.target); err != nil {
		_ = os.Remove(f.Name())
		return goerr.Wrap(err, "failed to commit file", goerr.V("path", f.target))
	}
	return nil
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create directory", goerr.V("path", path))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temporary file", goerr.V("path", path))
	}

	return &atomicFile{File: tmp, target: path}, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrObjectNotFound, "no such file", goerr.V("path", path))
		}
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("path", path))
	}

	return f, nil
}
