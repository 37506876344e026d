package application

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/input"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// ErrRateLimited is returned when the scan API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// triggerCooldown is the minimum time between two API triggered scans.
const triggerCooldown = 30 * time.Second

// ScanConfig holds configuration for the scan service.
type ScanConfig struct {
	Bucket   string
	Prefix   string
	Project  string
	Interval time.Duration
}

// ScanResult contains the result of a triggered scan.
type ScanResult struct {
	input.ScanSummary
	ScannedAt       time.Time `json:"scanned_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// ScanService periodically catalogs new or changed archives of a bucket.
type ScanService struct {
	cataloger input.Cataloger
	storage   output.ObjectStorage
	ledger    output.ScanLedger
	config    ScanConfig
	logger    *slog.Logger

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Rate limiting for API triggers
	lastAPIScan time.Time
	apiMutex    sync.Mutex

	// Prevents concurrent scans
	scanOpMutex sync.Mutex

	nextScan time.Time
	scanMu   sync.RWMutex
}

// NewScanService creates a new scan service.
func NewScanService(
	cataloger input.Cataloger,
	storage output.ObjectStorage,
	ledger output.ScanLedger,
	cfg ScanConfig,
	logger *slog.Logger,
) *ScanService {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &ScanService{
		cataloger:   cataloger,
		storage:     storage,
		ledger:      ledger,
		config:      cfg,
		logger:      logger,
		stopCh:      make(chan struct{}),
		lastAPIScan: time.Now().Add(-triggerCooldown - time.Second),
	}
}

// Start begins the periodic scan scheduler.
func (s *ScanService) Start(ctx context.Context) {
	s.logger.Info("starting scan service",
		"interval", s.config.Interval,
		"bucket", s.config.Bucket,
		"prefix", s.config.Prefix,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *ScanService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.setNextScan(time.Now().Add(s.config.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scan service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("scan service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled scan triggered")
			if _, err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("scan failed", "error", err)
			}
			s.setNextScan(time.Now().Add(s.config.Interval))
		}
	}
}

// Stop gracefully stops the scan service. It waits for a running scan.
func (s *ScanService) Stop() {
	s.logger.Info("stopping scan service")
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// TriggerScan runs a scan on request. Calls within 30 seconds of the
// previous one return ErrRateLimited.
func (s *ScanService) TriggerScan(ctx context.Context) (ScanResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	if time.Since(s.lastAPIScan) < triggerCooldown {
		return ScanResult{}, ErrRateLimited
	}
	s.lastAPIScan = time.Now()

	summary, err := s.ScanOnce(ctx)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{
		ScanSummary:     summary,
		ScannedAt:       time.Now(),
		NextScheduledAt: s.getNextScan(),
	}, nil
}

// ScanOnce implements input.Scanner. Archives are identified by bucket,
// key and version; a version already cataloged is skipped, a failed one is
// retried on the next scan.
func (s *ScanService) ScanOnce(ctx context.Context) (input.ScanSummary, error) {
	s.scanOpMutex.Lock()
	defer s.scanOpMutex.Unlock()

	var summary input.ScanSummary

	objects, err := s.storage.WithBucket(s.config.Bucket).List(ctx, s.config.Prefix)
	if err != nil {
		return summary, err
	}

	for _, obj := range objects {
		if !strings.HasSuffix(strings.ToLower(obj.Key), ".zip") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Listed++

		version := objectVersion(obj)
		seen, err := s.ledger.Seen(ctx, s.config.Bucket, obj.Key, version)
		if err != nil {
			return summary, err
		}
		if seen {
			summary.Skipped++
			continue
		}

		rec := output.LedgerRecord{
			Bucket: s.config.Bucket,
			Key:    obj.Key,
			ETag:   version,
		}

		result, err := s.cataloger.Catalog(ctx, domain.CatalogRequest{
			Project:      s.config.Project,
			Bucket:       s.config.Bucket,
			Key:          obj.Key,
			CollectionID: CollectionIDFor(s.config.Bucket, obj.Key),
		})
		switch {
		case errors.Is(err, domain.ErrNoSpatialAssets):
			summary.Empty++
			rec.Status = output.LedgerStatusNoSpatialAssets
			rec.Error = err.Error()
			s.logger.Info("archive has no spatial assets", "archive", obj.Key)
		case err != nil:
			summary.Failed++
			rec.Status = output.LedgerStatusFailed
			rec.Error = err.Error()
			s.logger.Warn("archive failed", "archive", obj.Key, "error", err)
		default:
			summary.Cataloged++
			rec.Status = output.LedgerStatusCataloged
			rec.Items = len(result.ItemResults)
			if result.Records != nil {
				rec.CollectionID = result.Records.ID
			}
		}
		rec.ProcessedAt = time.Now()

		if err := s.ledger.Record(ctx, rec); err != nil {
			return summary, err
		}
	}

	s.logger.Info("scan completed",
		"listed", summary.Listed,
		"skipped", summary.Skipped,
		"cataloged", summary.Cataloged,
		"failed", summary.Failed,
		"empty", summary.Empty,
	)
	return summary, nil
}

// Recent implements input.Scanner.
func (s *ScanService) Recent(ctx context.Context, limit int) ([]output.LedgerRecord, error) {
	return s.ledger.Recent(ctx, limit)
}

// Interval returns the scan interval.
func (s *ScanService) Interval() time.Duration {
	return s.config.Interval
}

func (s *ScanService) setNextScan(t time.Time) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.nextScan = t
}

func (s *ScanService) getNextScan() time.Time {
	s.scanMu.RLock()
	defer s.scanMu.RUnlock()
	return s.nextScan
}

// CollectionIDFor derives a stable collection id from an archive location,
// so rescans of a changed archive overwrite the earlier records.
func CollectionIDFor(bucket, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(bucket+"/"+key)).String()
}

// objectVersion identifies an object version. Backends without ETags fall
// back to size and modification time.
func objectVersion(obj output.StorageObject) string {
	if obj.ETag != "" {
		return obj.ETag
	}
	return strconv.FormatInt(obj.Size, 10) + "-" + strconv.FormatInt(obj.LastModified.UnixNano(), 10)
}
