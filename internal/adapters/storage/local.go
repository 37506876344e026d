// Package storage provides object storage adapters.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// LocalStorage implements ObjectStorage for the local filesystem. Buckets
// map to subdirectories of the base path; the empty bucket is the base
// path itself.
type LocalStorage struct {
	basePath string
	bucket   string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// WithBucket returns a view on a subdirectory of the base path.
func (s *LocalStorage) WithBucket(bucket string) output.ObjectStorage {
	if bucket == s.bucket {
		return s
	}
	return &LocalStorage{basePath: s.basePath, bucket: bucket}
}

// root returns the directory keys are resolved against.
func (s *LocalStorage) root() string {
	return filepath.Join(s.basePath, s.bucket)
}

// List returns all files whose slash-separated relative path starts with prefix.
func (s *LocalStorage) List(_ context.Context, prefix string) ([]output.StorageObject, error) {
	var objects []output.StorageObject
	root := s.root()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, output.StorageObject{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: prefix, Err: err}
	}

	return objects, nil
}

// Stat returns the attributes of a file.
func (s *LocalStorage) Stat(_ context.Context, key string) (output.StorageObject, error) {
	info, err := os.Stat(s.FullPath(key))
	if err != nil {
		return output.StorageObject{}, s.wrap("stat", key, err)
	}
	if info.IsDir() {
		return output.StorageObject{}, s.wrap("stat", key, fs.ErrNotExist)
	}
	return output.StorageObject{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// ReadRange returns length bytes of a file starting at offset.
func (s *LocalStorage) ReadRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key)) //#nosec G304 -- keys are resolved below the configured base path
	if err != nil {
		return nil, s.wrap("read_range", key, err)
	}
	return &sectionCloser{
		Reader: io.NewSectionReader(f, offset, length),
		closer: f,
	}, nil
}

// GetReader returns a reader for the given file.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key)) //#nosec G304 -- keys are resolved below the configured base path
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return f, nil
}

// Delete removes a file.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.FullPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return s.wrap("delete", key, err)
	}
	return nil
}

// Put writes a file atomically through a temporary file in the same directory.
func (s *LocalStorage) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	dest := s.FullPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return s.wrap("put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".zipcat-*")
	if err != nil {
		return s.wrap("put", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return s.wrap("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return s.wrap("put", key, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return s.wrap("put", key, err)
	}
	return nil
}

// Exists checks if a file exists.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.FullPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.root(), filepath.FromSlash(key))
}

// URI returns a file:// URI for a key.
func (s *LocalStorage) URI(key string) string {
	path := s.FullPath(key)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}

// VSIPath returns the plain filesystem path, which GDAL reads directly.
func (s *LocalStorage) VSIPath(key string) string {
	return s.FullPath(key)
}

func (s *LocalStorage) wrap(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}

// sectionCloser pairs a section reader with the file it reads from.
type sectionCloser struct {
	io.Reader
	closer io.Closer
}

func (s *sectionCloser) Close() error {
	return s.closer.Close()
}
