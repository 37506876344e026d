package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jobrunner/zipcat/internal/ports/output"
)

func openTestLedger(t *testing.T) *SQLite {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestSeenAndRecord(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	seen, err := l.Seen(ctx, "bucket", "a.zip", "etag-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Fatal("Seen() = true on empty ledger")
	}

	failed := output.LedgerRecord{Bucket: "bucket", Key: "a.zip", ETag: "etag-1", Status: output.LedgerStatusFailed, Error: "boom"}
	if err := l.Record(ctx, failed); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if seen, _ := l.Seen(ctx, "bucket", "a.zip", "etag-1"); seen {
		t.Error("failed archives should be retried")
	}

	ok := output.LedgerRecord{
		Bucket: "bucket", Key: "a.zip", ETag: "etag-1",
		CollectionID: "c1", Items: 2, Status: output.LedgerStatusCataloged,
	}
	if err := l.Record(ctx, ok); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if seen, _ := l.Seen(ctx, "bucket", "a.zip", "etag-1"); !seen {
		t.Error("Seen() = false after successful record")
	}
	if seen, _ := l.Seen(ctx, "bucket", "a.zip", "etag-2"); seen {
		t.Error("a new etag should not be seen")
	}

	recs, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len(Recent()) = %d, want 1 (upsert)", len(recs))
	}
	if recs[0].Status != output.LedgerStatusCataloged || recs[0].Error != "" || recs[0].Items != 2 {
		t.Errorf("Recent()[0] = %+v", recs[0])
	}
}

func TestSeenStatuses(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{output.LedgerStatusCataloged, true},
		{output.LedgerStatusNoSpatialAssets, true},
		{output.LedgerStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			l := openTestLedger(t)
			ctx := context.Background()
			rec := output.LedgerRecord{Bucket: "bucket", Key: "a.zip", ETag: "etag-1", Status: tt.status}
			if err := l.Record(ctx, rec); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			seen, err := l.Seen(ctx, "bucket", "a.zip", "etag-1")
			if err != nil {
				t.Fatalf("Seen() error = %v", err)
			}
			if seen != tt.want {
				t.Errorf("Seen() = %v, want %v", seen, tt.want)
			}
		})
	}
}

func TestRecentOrdering(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, key := range []string{"old.zip", "new.zip", "mid.zip"} {
		offset := map[string]time.Duration{"old.zip": 0, "mid.zip": 500 * time.Millisecond, "new.zip": time.Hour}[key]
		rec := output.LedgerRecord{
			Bucket: "b", Key: key, ETag: "e", Status: output.LedgerStatusCataloged,
			Items: i, ProcessedAt: base.Add(offset),
		}
		if err := l.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	recs, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(Recent()) = %d, want 2", len(recs))
	}
	if recs[0].Key != "new.zip" || recs[1].Key != "mid.zip" {
		t.Errorf("Recent() order = %s, %s", recs[0].Key, recs[1].Key)
	}
	if !recs[1].ProcessedAt.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("ProcessedAt = %v", recs[1].ProcessedAt)
	}
}

func TestOpenInMemory(t *testing.T) {
	l, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer func() { _ = l.Close() }()

	if err := l.Record(context.Background(), output.LedgerRecord{Bucket: "b", Key: "k.zip", ETag: "e", Status: output.LedgerStatusCataloged}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if seen, _ := l.Seen(context.Background(), "b", "k.zip", "e"); !seen {
		t.Error("Seen() = false")
	}
}
