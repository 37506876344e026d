package output

import (
	"context"
	"time"
)

// LedgerRecord is the outcome of cataloging one archive version.
type LedgerRecord struct {
	Bucket       string
	Key          string
	ETag         string
	CollectionID string
	Items        int
	Status       string // one of the LedgerStatus constants
	Error        string
	ProcessedAt  time.Time
}

// Ledger statuses.
const (
	LedgerStatusCataloged = "cataloged"
	LedgerStatusFailed    = "failed"
	// LedgerStatusNoSpatialAssets marks an archive version without any
	// readable spatial asset. It is final like LedgerStatusCataloged.
	LedgerStatusNoSpatialAssets = "no_spatial_assets"
)

// LedgerStatusFinal reports whether an archive version with the status needs
// no further catalog attempts.
func LedgerStatusFinal(status string) bool {
	return status == LedgerStatusCataloged || status == LedgerStatusNoSpatialAssets
}

// ScanLedger remembers which archive versions were already processed so
// periodic scans only catalog new or changed archives.
type ScanLedger interface {
	// Seen reports whether the archive version reached a final status.
	Seen(ctx context.Context, bucket, key, etag string) (bool, error)

	// Record stores the outcome of a catalog run, replacing older records
	// for the same archive version.
	Record(ctx context.Context, rec LedgerRecord) error

	// Recent returns the latest records, newest first.
	Recent(ctx context.Context, limit int) ([]LedgerRecord, error)

	// Close releases the ledger.
	Close() error
}
