package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// GCSStorage implements ObjectStorage for Google Cloud Storage.
type GCSStorage struct {
	client *gcs.Client
	bucket string
}

// GCSConfig holds Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string // empty uses Application Default Credentials
	Endpoint        string // emulator endpoint, optional
}

// NewGCSStorage creates a new GCS storage adapter.
func NewGCSStorage(ctx context.Context, cfg GCSConfig) (*GCSStorage, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

// WithBucket returns a view on another bucket sharing the same client.
func (s *GCSStorage) WithBucket(bucket string) output.ObjectStorage {
	if bucket == "" || bucket == s.bucket {
		return s
	}
	return &GCSStorage{client: s.client, bucket: bucket}
}

// List returns all objects under prefix.
func (s *GCSStorage) List(ctx context.Context, prefix string) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Key: prefix, Err: err}
		}
		objects = append(objects, output.StorageObject{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
			ETag:         attrs.Etag,
		})
	}

	return objects, nil
}

// Stat returns the attributes of an object.
func (s *GCSStorage) Stat(ctx context.Context, key string) (output.StorageObject, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		return output.StorageObject{}, s.wrap("stat", key, err)
	}
	return output.StorageObject{
		Key:          key,
		Size:         attrs.Size,
		LastModified: attrs.Updated,
		ETag:         attrs.Etag,
	}, nil
}

// ReadRange returns length bytes of an object starting at offset.
func (s *GCSStorage) ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, s.wrap("read_range", key, err)
	}
	return r, nil
}

// GetReader returns a reader for the given object.
func (s *GCSStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return r, nil
}

// Put uploads an object.
func (s *GCSStorage) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return s.wrap("put", key, err)
	}
	if err := w.Close(); err != nil {
		return s.wrap("put", key, err)
	}
	return nil
}

// Delete removes an object from GCS.
func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return s.wrap("delete", key, err)
	}
	return nil
}

// Exists checks if an object exists in GCS.
func (s *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// URI returns gs://bucket/key.
func (s *GCSStorage) URI(key string) string {
	return "gs://" + s.bucket + "/" + key
}

// VSIPath returns /vsigs/bucket/key.
func (s *GCSStorage) VSIPath(key string) string {
	return "/vsigs/" + s.bucket + "/" + key
}

// Close closes the GCS client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) wrap(op, key string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		err = fmt.Errorf("%s/%s: %w", s.bucket, key, domain.ErrNotFound)
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}
