// Package ledger stores scan outcomes in a SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS archives (
	bucket        TEXT    NOT NULL,
	key           TEXT    NOT NULL,
	etag          TEXT    NOT NULL,
	collection_id TEXT    NOT NULL DEFAULT '',
	items         INTEGER NOT NULL DEFAULT 0,
	status        TEXT    NOT NULL,
	error         TEXT    NOT NULL DEFAULT '',
	processed_at  TEXT    NOT NULL,
	PRIMARY KEY (bucket, key, etag)
);
CREATE INDEX IF NOT EXISTS archives_processed_at ON archives (processed_at);
`

// timeLayout has fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite implements output.ScanLedger.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path. The special path
// ":memory:" keeps the ledger in memory.
func Open(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "migrate", Key: path, Err: err}
	}
	return &SQLite{db: db}, nil
}

// Seen implements output.ScanLedger.
func (l *SQLite) Seen(ctx context.Context, bucket, key, etag string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archives WHERE bucket = ? AND key = ? AND etag = ? AND status IN (?, ?)`,
		bucket, key, etag, output.LedgerStatusCataloged, output.LedgerStatusNoSpatialAssets,
	).Scan(&n)
	if err != nil {
		return false, &domain.StorageError{Operation: "ledger seen", Key: key, Err: err}
	}
	return n > 0, nil
}

// Record implements output.ScanLedger.
func (l *SQLite) Record(ctx context.Context, rec output.LedgerRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO archives (bucket, key, etag, collection_id, items, status, error, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket, key, etag) DO UPDATE SET
			collection_id = excluded.collection_id,
			items         = excluded.items,
			status        = excluded.status,
			error         = excluded.error,
			processed_at  = excluded.processed_at`,
		rec.Bucket, rec.Key, rec.ETag, rec.CollectionID, rec.Items, rec.Status, rec.Error,
		rec.ProcessedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return &domain.StorageError{Operation: "ledger record", Key: rec.Key, Err: err}
	}
	return nil
}

// Recent implements output.ScanLedger.
func (l *SQLite) Recent(ctx context.Context, limit int) ([]output.LedgerRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT bucket, key, etag, collection_id, items, status, error, processed_at
		FROM archives ORDER BY processed_at DESC, key LIMIT ?`, limit)
	if err != nil {
		return nil, &domain.StorageError{Operation: "ledger recent", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var records []output.LedgerRecord
	for rows.Next() {
		var (
			rec output.LedgerRecord
			ts  string
		)
		if err := rows.Scan(&rec.Bucket, &rec.Key, &rec.ETag, &rec.CollectionID, &rec.Items, &rec.Status, &rec.Error, &ts); err != nil {
			return nil, &domain.StorageError{Operation: "ledger recent", Err: err}
		}
		rec.ProcessedAt, err = time.Parse(timeLayout, ts)
		if err != nil {
			return nil, &domain.StorageError{Operation: "ledger recent", Key: rec.Key, Err: fmt.Errorf("parsing timestamp %q: %w", ts, err)}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Operation: "ledger recent", Err: err}
	}
	return records, nil
}

// Close implements output.ScanLedger.
func (l *SQLite) Close() error {
	return l.db.Close()
}
