package output

import (
	"context"
	"io"
	"time"

	"github.com/jobrunner/zipcat/internal/domain"
)

// ArchiveEntry describes one entry of a zip central directory.
type ArchiveEntry struct {
	Name             string
	CompressedSize   int64
	UncompressedSize int64
	Stored           bool // no compression, readable in place
	Modified         time.Time
}

// EntrySection is a random-access view of an uncompressed archive entry.
type EntrySection interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Archive is an opened remote zip archive. Only the central directory is
// read on open; entry data is fetched on demand.
type Archive interface {
	// Locator returns the bucket and key the archive was opened from.
	Locator() domain.ArchiveLocator

	// Entries returns the central directory in enumeration order.
	Entries() []ArchiveEntry

	// ModTime returns the last modification time of the archive object.
	ModTime() time.Time

	// Open returns a sequential reader for an entry.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// OpenSection returns a random-access reader for an entry. Compressed
	// entries are inflated first, up to the configured size limit.
	OpenSection(ctx context.Context, name string) (EntrySection, error)

	// URI returns the storage URI of an entry, {archive URI}/{name}.
	URI(name string) string

	// VSIPath returns the GDAL path of an entry, /vsizip/{archive}/{name}.
	VSIPath(name string) string

	// Close releases cached blocks and temporary files.
	Close() error
}

// ArchiveOpener opens archives from object storage.
type ArchiveOpener interface {
	Open(ctx context.Context, locator domain.ArchiveLocator) (Archive, error)
}
