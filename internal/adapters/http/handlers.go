package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jobrunner/zipcat/internal/application"
	"github.com/jobrunner/zipcat/internal/domain"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// handleCatalog catalogs one archive. The body is a domain.CatalogRequest;
// dry runs return the built records instead of writing them.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	var req domain.CatalogRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Project == "" {
		req.Project = s.defaultProject
	}
	if req.Bucket == "" {
		req.Bucket = s.defaultBucket
	}

	result, err := s.cataloger.Catalog(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err, "catalog failed")
		return
	}

	response := map[string]interface{}{
		"collection":   result.Collection,
		"item_results": result.ItemResults,
	}
	if req.DryRun && result.Records != nil {
		response["records"] = map[string]interface{}{
			"collection": result.Records,
			"items":      result.Records.Items,
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleInventory classifies the entries of an archive without cataloging.
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	q := r.URL.Query()
	bucket := q.Get("bucket")
	if bucket == "" {
		bucket = s.defaultBucket
	}
	locator := domain.ArchiveLocator{Bucket: bucket, Key: q.Get("key")}
	if err := locator.Validate(); err != nil {
		s.handleDomainError(w, err, "")
		return
	}

	inv, err := s.inspector.Inspect(r.Context(), locator)
	if err != nil {
		s.handleDomainError(w, err, "inspection failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"archive":   locator,
		"kind":      inv.Kind(),
		"spatial":   inv.SpatialCount(),
		"inventory": inv,
	})
}

// handleScan triggers a bucket scan.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result, err := s.scanner.TriggerScan(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("scan failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Scan failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleRecentScans lists the latest ledger records.
func (s *Server) handleRecentScans(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := s.scanner.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading scan ledger failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read scan ledger")
		return
	}

	out := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		out[i] = map[string]interface{}{
			"bucket":        rec.Bucket,
			"key":           rec.Key,
			"etag":          rec.ETag,
			"collection_id": rec.CollectionID,
			"items":         rec.Items,
			"status":        rec.Status,
			"error":         rec.Error,
			"processed_at":  rec.ProcessedAt.UTC().Format(time.RFC3339),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": out,
		"count":   len(out),
	})
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":     boolToStatus(details.Healthy),
		"ready":      details.Ready,
		"components": details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// handleDomainError maps domain errors to HTTP status codes.
func (s *Server) handleDomainError(w http.ResponseWriter, err error, logMsg string) {
	var (
		validationErr *domain.ValidationError
		emptyErr      *domain.EmptyExtentError
		readErr       *domain.ArchiveReadError
	)
	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoSpatialAssets), errors.As(err, &emptyErr):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.logger.Error(logMsg, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
	case errors.As(err, &readErr):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(logMsg, "error", err)
		s.writeError(w, http.StatusInternalServerError, logMsg)
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
