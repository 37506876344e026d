package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// HTTPStorage implements a read-only ObjectStorage over plain HTTP(S).
// Objects live at {base URL}/{bucket}/{key}; ranged reads use the Range
// header. Listing reads an index file with one key per line.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	bucket    string
	indexFile string
	username  string
	password  string
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// WithBucket returns a view rooted at {base URL}/{bucket}.
func (s *HTTPStorage) WithBucket(bucket string) output.ObjectStorage {
	if bucket == s.bucket {
		return s
	}
	clone := *s
	clone.bucket = bucket
	return &clone
}

func (s *HTTPStorage) url(key string) string {
	if s.bucket == "" {
		return s.baseURL + "/" + key
	}
	return s.baseURL + "/" + s.bucket + "/" + key
}

func (s *HTTPStorage) do(ctx context.Context, method, key string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.url(key), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	return s.client.Do(req)
}

// List returns the index file entries starting with prefix.
func (s *HTTPStorage) List(ctx context.Context, prefix string) ([]output.StorageObject, error) {
	resp, err := s.do(ctx, http.MethodGet, s.indexFile, nil)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: s.indexFile, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.StorageError{
			Operation: "list",
			Key:       s.indexFile,
			Err:       fmt.Errorf("index file returned status %d", resp.StatusCode),
		}
	}

	var objects []output.StorageObject
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, prefix) {
			continue
		}

		objects = append(objects, output.StorageObject{Key: line})
	}

	if err := scanner.Err(); err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: s.indexFile, Err: err}
	}

	return objects, nil
}

// Stat issues a HEAD request for an object.
func (s *HTTPStorage) Stat(ctx context.Context, key string) (output.StorageObject, error) {
	resp, err := s.do(ctx, http.MethodHead, key, nil)
	if err != nil {
		return output.StorageObject{}, &domain.StorageError{Operation: "stat", Key: key, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError("stat", key, resp.StatusCode, http.StatusOK); err != nil {
		return output.StorageObject{}, err
	}

	obj := output.StorageObject{
		Key:  key,
		Size: resp.ContentLength,
		ETag: strings.Trim(resp.Header.Get("ETag"), "\""),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			obj.LastModified = t
		}
	}
	return obj, nil
}

// ReadRange fetches length bytes starting at offset. Servers ignoring the
// Range header are tolerated by skipping to offset in the full body.
func (s *HTTPStorage) ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	header := http.Header{}
	header.Set("Range", httpRange(offset, length))

	resp, err := s.do(ctx, http.MethodGet, key, header)
	if err != nil {
		return nil, &domain.StorageError{Operation: "read_range", Key: key, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusOK:
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			_ = resp.Body.Close()
			return nil, &domain.StorageError{Operation: "read_range", Key: key, Err: err}
		}
		return &sectionCloser{Reader: io.LimitReader(resp.Body, length), closer: resp.Body}, nil
	default:
		_ = resp.Body.Close()
		return nil, statusError("read_range", key, resp.StatusCode, http.StatusPartialContent)
	}
}

// GetReader returns a reader for the given file.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, &domain.StorageError{Operation: "get", Key: key, Err: err}
	}
	if err := statusError("get", key, resp.StatusCode, http.StatusOK); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// Delete is not supported by the read-only HTTP backend.
func (s *HTTPStorage) Delete(_ context.Context, key string) error {
	return &domain.StorageError{
		Operation: "delete",
		Key:       key,
		Err:       fmt.Errorf("http storage is read-only: %w", domain.ErrUnsupported),
	}
}

// Put is not supported by the read-only HTTP backend.
func (s *HTTPStorage) Put(_ context.Context, key string, _ io.Reader, _ int64, _ string) error {
	return &domain.StorageError{
		Operation: "put",
		Key:       key,
		Err:       fmt.Errorf("http storage is read-only: %w", domain.ErrUnsupported),
	}
}

// Exists checks if a file exists via HTTP HEAD request.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.do(ctx, http.MethodHead, key, nil)
	if err != nil {
		return false, &domain.StorageError{Operation: "exists", Key: key, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK, nil
}

// URI returns the object URL.
func (s *HTTPStorage) URI(key string) string {
	return s.url(key)
}

// VSIPath returns /vsicurl/{url}.
func (s *HTTPStorage) VSIPath(key string) string {
	return "/vsicurl/" + s.url(key)
}

func statusError(op, key string, got, want int) error {
	switch {
	case got == want:
		return nil
	case got == http.StatusNotFound:
		return &domain.StorageError{Operation: op, Key: key, Err: fmt.Errorf("%s: %w", key, domain.ErrNotFound)}
	default:
		return &domain.StorageError{Operation: op, Key: key, Err: fmt.Errorf("HTTP %d", got)}
	}
}

// httpRange formats an inclusive byte range header value.
func httpRange(offset, length int64) string {
	return "bytes=" + strconv.FormatInt(offset, 10) + "-" + strconv.FormatInt(offset+length-1, 10)
}
