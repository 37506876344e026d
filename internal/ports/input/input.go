// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// Cataloger defines the primary port for cataloging archives.
type Cataloger interface {
	// Catalog builds the item and collection records of an archive and
	// writes them to the archive's bucket unless the request is a dry run.
	Catalog(ctx context.Context, req domain.CatalogRequest) (*domain.CatalogResult, error)
}

// Inspector defines the primary port for read-only archive inspection.
type Inspector interface {
	// Inspect classifies the entries of an archive without writing anything.
	Inspect(ctx context.Context, locator domain.ArchiveLocator) (*domain.ContentInventory, error)
}

// Scanner defines the primary port for bucket scans.
type Scanner interface {
	// ScanOnce catalogs every new or changed archive under the configured prefix.
	ScanOnce(ctx context.Context) (ScanSummary, error)

	// Recent returns the latest ledger records.
	Recent(ctx context.Context, limit int) ([]output.LedgerRecord, error)
}

// ScanSummary reports the outcome of one scan pass.
type ScanSummary struct {
	Listed    int `json:"listed"`
	Skipped   int `json:"skipped"`
	Cataloged int `json:"cataloged"`
	Failed    int `json:"failed"`
	Empty     int `json:"empty"`
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy    bool              // Overall health status
	Ready      bool              // Ready to accept requests
	Components map[string]string // Component statuses
}
