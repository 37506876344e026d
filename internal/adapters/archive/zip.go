// Package archive opens zip archives held in object storage through ranged
// reads. Only the central directory and the entries actually read are
// fetched.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// Defaults for Config.
const (
	DefaultBlockSize       = 1 << 20
	DefaultCacheBlocks     = 64
	DefaultMaxInflateBytes = 512 << 20
	DefaultSeekWindow      = 1 << 20
)

// Config holds archive reader configuration.
type Config struct {
	BlockSize       int64  // Bytes per ranged read
	CacheBlocks     int    // Blocks kept per open archive
	MaxInflateBytes int64  // Upper bound for entries inflated to disk
	SeekWindow      int    // Trailing bytes of a compressed entry kept for backward reads
	TempDir         string // Directory for inflated entries, empty for os.TempDir
}

// Opener opens archives from object storage.
type Opener struct {
	storage output.ObjectStorage
	config  Config
	logger  *slog.Logger
}

// NewOpener creates an archive opener over storage.
func NewOpener(storage output.ObjectStorage, cfg Config, logger *slog.Logger) *Opener {
	if cfg.MaxInflateBytes <= 0 {
		cfg.MaxInflateBytes = DefaultMaxInflateBytes
	}
	if cfg.SeekWindow <= 0 {
		cfg.SeekWindow = DefaultSeekWindow
	}
	return &Opener{storage: storage, config: cfg, logger: logger}
}

// Open stats the archive and reads its central directory.
func (o *Opener) Open(ctx context.Context, locator domain.ArchiveLocator) (output.Archive, error) {
	if err := locator.Validate(); err != nil {
		return nil, err
	}

	store := o.storage.WithBucket(locator.Bucket)

	obj, err := store.Stat(ctx, locator.Key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: %v", domain.ErrArchiveNotFound, err)
		}
		return nil, &domain.ArchiveReadError{Archive: locator.String(), Err: err}
	}

	ra := newRangeReaderAt(store, locator.Key, obj.Size, o.config.BlockSize, o.config.CacheBlocks)
	zr, err := zip.NewReader(ra.withContext(ctx), obj.Size)
	if err != nil {
		return nil, &domain.ArchiveReadError{Archive: locator.String(), Err: err}
	}

	a := &zipArchive{
		locator: locator,
		store:   store,
		reader:  ra,
		modTime: obj.LastModified,
		files:   make(map[string]*zip.File, len(zr.File)),
		config:  o.config,
	}
	for _, f := range zr.File {
		a.entries = append(a.entries, output.ArchiveEntry{
			Name:             f.Name,
			CompressedSize:   int64(f.CompressedSize64),
			UncompressedSize: int64(f.UncompressedSize64),
			Stored:           f.Method == zip.Store,
			Modified:         f.Modified,
		})
		a.files[f.Name] = f
	}

	o.logger.Debug("opened archive",
		"archive", locator.String(),
		"size", obj.Size,
		"entries", len(a.entries),
		"fetched_bytes", ra.fetched.Load(),
	)

	return a, nil
}

// zipArchive implements output.Archive.
type zipArchive struct {
	locator domain.ArchiveLocator
	store   output.ObjectStorage
	reader  *rangeReaderAt
	modTime time.Time
	entries []output.ArchiveEntry
	files   map[string]*zip.File
	config  Config
}

func (a *zipArchive) Locator() domain.ArchiveLocator { return a.locator }

func (a *zipArchive) Entries() []output.ArchiveEntry {
	out := make([]output.ArchiveEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *zipArchive) ModTime() time.Time { return a.modTime }

// FetchedBytes returns how many bytes were read from storage so far.
func (a *zipArchive) FetchedBytes() int64 { return a.reader.fetched.Load() }

func (a *zipArchive) file(name string) (*zip.File, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%s in %s: %w", name, a.locator, domain.ErrEntryNotFound)
	}
	return f, nil
}

// data returns the raw (possibly compressed) bytes of an entry.
func (a *zipArchive) data(ctx context.Context, f *zip.File) (*io.SectionReader, error) {
	off, err := f.DataOffset()
	if err != nil {
		return nil, &domain.ArchiveReadError{Archive: a.locator.String(), Err: err}
	}
	return io.NewSectionReader(a.reader.withContext(ctx), off, int64(f.CompressedSize64)), nil
}

// Open returns a sequential reader for an entry.
func (a *zipArchive) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := a.file(name)
	if err != nil {
		return nil, err
	}
	raw, err := a.data(ctx, f)
	if err != nil {
		return nil, err
	}

	switch f.Method {
	case zip.Store:
		return io.NopCloser(raw), nil
	case zip.Deflate:
		return flate.NewReader(raw), nil
	default:
		return nil, fmt.Errorf("%s: compression method %d: %w", name, f.Method, domain.ErrUnsupportedFormat)
	}
}

// OpenSection returns a random-access reader for an entry. Stored entries
// are read in place. Compressed entries are inflated as a stream; see
// streamSection.
func (a *zipArchive) OpenSection(ctx context.Context, name string) (output.EntrySection, error) {
	f, err := a.file(name)
	if err != nil {
		return nil, err
	}

	if f.Method == zip.Store {
		raw, err := a.data(ctx, f)
		if err != nil {
			return nil, err
		}
		return storedSection{SectionReader: raw}, nil
	}

	rc, err := a.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &streamSection{
		rc:     rc,
		size:   int64(f.UncompressedSize64),
		window: make([]byte, 0, a.config.SeekWindow),
		limit:  a.config.SeekWindow,
		reopen: func() (io.ReadCloser, error) { return a.Open(ctx, name) },
		spill: func() (*tempSection, error) {
			if int64(f.UncompressedSize64) > a.config.MaxInflateBytes {
				return nil, nil
			}
			return a.inflate(ctx, name)
		},
	}, nil
}

// inflate decompresses an entry into a temporary file.
func (a *zipArchive) inflate(ctx context.Context, name string) (*tempSection, error) {
	rc, err := a.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	tmp, err := os.CreateTemp(a.config.TempDir, "zipcat-entry-*")
	if err != nil {
		return nil, err
	}

	n, err := io.Copy(tmp, io.LimitReader(rc, a.config.MaxInflateBytes+1))
	if err == nil && n > a.config.MaxInflateBytes {
		err = fmt.Errorf("%s: inflated beyond %d bytes: %w", name, a.config.MaxInflateBytes, domain.ErrAssetTooLarge)
	}
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, err
	}

	return &tempSection{file: tmp, size: n}, nil
}

// URI returns {archive URI}/{entry}.
func (a *zipArchive) URI(name string) string {
	return a.store.URI(a.locator.Key) + "/" + name
}

// VSIPath returns /vsizip/{archive path}/{entry}.
func (a *zipArchive) VSIPath(name string) string {
	return "/vsizip/" + a.store.VSIPath(a.locator.Key) + "/" + name
}

// Close drops the block cache.
func (a *zipArchive) Close() error {
	a.reader.reset()
	return nil
}

type storedSection struct {
	*io.SectionReader
}

func (storedSection) Close() error { return nil }

// tempSection is an inflated entry on disk, removed on Close.
type tempSection struct {
	file *os.File
	size int64
}

func (t *tempSection) ReadAt(p []byte, off int64) (int, error) {
	return t.file.ReadAt(p, off)
}

func (t *tempSection) Size() int64 { return t.size }

func (t *tempSection) Close() error {
	err := t.file.Close()
	if rmErr := os.Remove(t.file.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
