package storage

import (
	"context"
	"io"
	"time"

	"github.com/jobrunner/zipcat/internal/ports/output"
)

// Instrumented decorates an ObjectStorage with operation metrics.
type Instrumented struct {
	inner   output.ObjectStorage
	metrics output.MetricsCollector
}

// NewInstrumented wraps storage so every remote call is counted and timed.
func NewInstrumented(inner output.ObjectStorage, metrics output.MetricsCollector) *Instrumented {
	return &Instrumented{inner: inner, metrics: metrics}
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	s.metrics.IncStorageOperations(op, err == nil)
	s.metrics.ObserveStorageDuration(op, time.Since(start))
}

// WithBucket keeps the instrumentation on the returned view.
func (s *Instrumented) WithBucket(bucket string) output.ObjectStorage {
	return &Instrumented{inner: s.inner.WithBucket(bucket), metrics: s.metrics}
}

// List implements ObjectStorage.
func (s *Instrumented) List(ctx context.Context, prefix string) (objs []output.StorageObject, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())
	return s.inner.List(ctx, prefix)
}

// Stat implements ObjectStorage.
func (s *Instrumented) Stat(ctx context.Context, key string) (obj output.StorageObject, err error) {
	defer func(start time.Time) { s.observe("stat", start, err) }(time.Now())
	return s.inner.Stat(ctx, key)
}

// ReadRange implements ObjectStorage.
func (s *Instrumented) ReadRange(ctx context.Context, key string, offset, length int64) (rc io.ReadCloser, err error) {
	defer func(start time.Time) { s.observe("read_range", start, err) }(time.Now())
	return s.inner.ReadRange(ctx, key, offset, length)
}

// GetReader implements ObjectStorage.
func (s *Instrumented) GetReader(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.inner.GetReader(ctx, key)
}

// Put implements ObjectStorage.
func (s *Instrumented) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())
	return s.inner.Put(ctx, key, r, size, contentType)
}

// Delete implements ObjectStorage.
func (s *Instrumented) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.inner.Delete(ctx, key)
}

// Exists implements ObjectStorage.
func (s *Instrumented) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("exists", start, err) }(time.Now())
	return s.inner.Exists(ctx, key)
}

// URI implements ObjectStorage.
func (s *Instrumented) URI(key string) string { return s.inner.URI(key) }

// VSIPath implements ObjectStorage.
func (s *Instrumented) VSIPath(key string) string { return s.inner.VSIPath(key) }
