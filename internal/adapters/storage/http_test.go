package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobrunner/zipcat/internal/domain"
)

func newArchiveServer(t *testing.T, honorRange bool) *httptest.Server {
	t.Helper()
	content := []byte("0123456789")
	modTime := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/index.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# archives\nbucket/a.zip\n\nbucket/b.zip\nother/c.zip\n")
	})
	mux.HandleFunc("/bucket/a.zip", func(w http.ResponseWriter, r *http.Request) {
		if !honorRange {
			r.Header.Del("Range")
		}
		w.Header().Set("ETag", `"abc"`)
		http.ServeContent(w, r, "a.zip", modTime, bytes.NewReader(content))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStorageReadRange(t *testing.T) {
	for _, honor := range []bool{true, false} {
		name := "range"
		if !honor {
			name = "full body"
		}
		t.Run(name, func(t *testing.T) {
			srv := newArchiveServer(t, honor)
			storage := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL}).WithBucket("bucket")

			rc, err := storage.ReadRange(context.Background(), "a.zip", 3, 4)
			if err != nil {
				t.Fatalf("ReadRange() error = %v", err)
			}
			defer func() { _ = rc.Close() }()

			data, _ := io.ReadAll(rc)
			if string(data) != "3456" {
				t.Errorf("ReadRange() = %q, want %q", data, "3456")
			}
		})
	}
}

func TestHTTPStorageStat(t *testing.T) {
	srv := newArchiveServer(t, true)
	storage := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL}).WithBucket("bucket")

	obj, err := storage.Stat(context.Background(), "a.zip")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if obj.Size != 10 {
		t.Errorf("Size = %d, want 10", obj.Size)
	}
	if obj.ETag != "abc" {
		t.Errorf("ETag = %q, want abc", obj.ETag)
	}
	if obj.LastModified.IsZero() {
		t.Error("LastModified should be parsed")
	}

	_, err = storage.Stat(context.Background(), "missing.zip")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Stat(missing) error = %v, want ErrNotFound", err)
	}
}

func TestHTTPStorageList(t *testing.T) {
	srv := newArchiveServer(t, true)
	storage := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL})

	objects, err := storage.List(context.Background(), "bucket/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 2 {
		t.Errorf("len(objects) = %d, want 2", len(objects))
	}
}

func TestHTTPStoragePutUnsupported(t *testing.T) {
	storage := NewHTTPStorage(HTTPConfig{BaseURL: "http://example.invalid"})

	err := storage.Put(context.Background(), "a.json", strings.NewReader("{}"), 2, domain.MediaTypeJSON)
	if !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("Put() error = %v, want ErrUnsupported", err)
	}
	if err := storage.Delete(context.Background(), "a.json"); !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("Delete() error = %v, want ErrUnsupported", err)
	}
}

func TestHTTPStoragePaths(t *testing.T) {
	storage := NewHTTPStorage(HTTPConfig{BaseURL: "https://data.example.com/"}).WithBucket("b")

	if got := storage.URI("k.zip"); got != "https://data.example.com/b/k.zip" {
		t.Errorf("URI() = %q", got)
	}
	if got := storage.VSIPath("k.zip"); got != "/vsicurl/https://data.example.com/b/k.zip" {
		t.Errorf("VSIPath() = %q", got)
	}
}

func TestHTTPRange(t *testing.T) {
	if got := httpRange(10, 5); got != "bytes=10-14" {
		t.Errorf("httpRange() = %q", got)
	}
}
