// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
	"time"
)

// ObjectStorage defines the secondary port for object storage operations.
// An adapter is bound to one bucket (or container); WithBucket returns a
// view of the same backend on another one.
type ObjectStorage interface {
	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]StorageObject, error)

	// Stat returns the attributes of a single object.
	Stat(ctx context.Context, key string) (StorageObject, error)

	// ReadRange returns a reader for length bytes starting at offset.
	ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// GetReader returns a reader for the whole object.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Put writes an object, replacing any existing one.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI of an object, e.g. s3://bucket/key.
	URI(key string) string

	// VSIPath returns the GDAL virtual file system path of an object.
	VSIPath(key string) string

	// WithBucket returns a view on another bucket of the same backend.
	WithBucket(bucket string) ObjectStorage
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string    // Object key/path
	Size         int64     // Size in bytes
	LastModified time.Time // Last modification time
	ETag         string    // Content hash
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeGCS   StorageType = "gcs"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
