package application

import (
	"context"
	"sync"
	"time"

	"github.com/jobrunner/zipcat/internal/ports/input"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// readinessTTL bounds how often the storage check runs.
const readinessTTL = 10 * time.Second

// HealthService provides health check functionality.
type HealthService struct {
	storage      output.ObjectStorage
	transformer  output.CoordinateTransformer
	readinessKey string

	mu        sync.Mutex
	checkedAt time.Time
	storageOK bool
}

// NewHealthService creates a new health service. Readiness checks that the
// storage answers an existence check for readinessKey; the answer itself does
// not matter.
func NewHealthService(storage output.ObjectStorage, transformer output.CoordinateTransformer, readinessKey string) *HealthService {
	return &HealthService{
		storage:      storage,
		transformer:  transformer,
		readinessKey: readinessKey,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	return true // Basic health check
}

// IsReady returns true if the service is ready to accept requests.
func (s *HealthService) IsReady(ctx context.Context) bool {
	return s.storageReady(ctx)
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	storage := "ok"
	if !s.storageReady(ctx) {
		storage = "unavailable"
	}

	transformer := "ok"
	if s.transformer == nil {
		transformer = "missing"
	}

	return input.HealthDetails{
		Healthy: s.IsHealthy(ctx),
		Ready:   storage == "ok",
		Components: map[string]string{
			"storage":     storage,
			"transformer": transformer,
		},
	}
}

func (s *HealthService) storageReady(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkedAt.IsZero() && time.Since(s.checkedAt) < readinessTTL {
		return s.storageOK
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.storage.Exists(ctx, s.readinessKey)
	s.storageOK = err == nil
	s.checkedAt = time.Now()
	return s.storageOK
}
