package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// DefaultOutputPrefix is the key prefix catalog records are written under.
const DefaultOutputPrefix = "stac"

// CatalogService catalogs archives and writes the records back to storage.
type CatalogService struct {
	inspector    *InspectorService
	aggregator   *Aggregator
	storage      output.ObjectStorage
	metrics      output.MetricsCollector
	logger       *slog.Logger
	outputPrefix string
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(
	inspector *InspectorService,
	aggregator *Aggregator,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	outputPrefix string,
) *CatalogService {
	outputPrefix = strings.Trim(outputPrefix, "/")
	if outputPrefix == "" {
		outputPrefix = DefaultOutputPrefix
	}
	return &CatalogService{
		inspector:    inspector,
		aggregator:   aggregator,
		storage:      storage,
		metrics:      metrics,
		logger:       logger,
		outputPrefix: outputPrefix,
	}
}

// Catalog implements input.Cataloger.
func (s *CatalogService) Catalog(ctx context.Context, req domain.CatalogRequest) (*domain.CatalogResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	locator := req.Locator()
	logger := s.logger.With("archive", locator.String(), "project", req.Project)

	h, err := s.inspector.Open(ctx, locator)
	if err != nil {
		s.metrics.IncArchives("unknown", false)
		logger.Error("failed to open archive", "error", err)
		return nil, err
	}
	defer func() { _ = h.Close() }()

	kind := "unknown"
	if inv, err := h.Inventory(ctx); err == nil {
		kind = string(inv.Kind())
	}

	result, err := s.catalog(ctx, h, req)
	s.metrics.IncArchives(kind, err == nil)
	s.metrics.ObserveArchiveDuration(time.Since(start))
	if err != nil {
		logger.Error("failed to catalog archive", "error", err)
		return nil, err
	}

	logger.Info("archive cataloged",
		"collection", result.Collection,
		"items", len(result.ItemResults),
		"dry_run", req.DryRun,
		"duration", time.Since(start),
	)
	return result, nil
}

func (s *CatalogService) catalog(ctx context.Context, h *ArchiveHandle, req domain.CatalogRequest) (*domain.CatalogResult, error) {
	collection, items, err := s.aggregator.Aggregate(ctx, h, req)
	if err != nil {
		return nil, err
	}

	store := s.storage.WithBucket(req.Bucket)
	collectionKey := s.collectionKey(collection.ID)
	collection.SetSelfLink(store.URI(collectionKey))

	result := &domain.CatalogResult{
		Collection:  collectionKey,
		ItemResults: make([]string, len(items)),
		Records:     collection,
	}
	for i, item := range items {
		result.ItemResults[i] = s.itemKey(collection.ID, item.ID)
	}

	if req.DryRun {
		return result, nil
	}

	written := make([]string, 0, len(items)+1)
	for i, item := range items {
		if err := s.put(ctx, store, result.ItemResults[i], item, domain.MediaTypeGeoJSON); err != nil {
			s.logPartialWrite(collection.ID, written, err)
			return nil, err
		}
		written = append(written, result.ItemResults[i])
	}
	if err := s.put(ctx, store, collectionKey, collection, domain.MediaTypeJSON); err != nil {
		s.logPartialWrite(collection.ID, written, err)
		return nil, err
	}
	written = append(written, collectionKey)

	s.prune(ctx, store, collection.ID, written)
	return result, nil
}

// logPartialWrite reports the records a failed run left behind. They are
// replaced or pruned by the next successful run of the same collection.
func (s *CatalogService) logPartialWrite(cid string, written []string, err error) {
	if len(written) == 0 {
		return
	}
	s.logger.Error("catalog write incomplete",
		"collection", cid,
		"written", written,
		"error", err,
	)
}

// prune deletes record files under the collection that the current run did
// not write, such as items of members removed from the archive. Failures are
// logged and do not fail the run.
func (s *CatalogService) prune(ctx context.Context, store output.ObjectStorage, cid string, written []string) {
	keep := make(map[string]bool, len(written))
	for _, key := range written {
		keep[key] = true
	}
	prefix := path.Join(s.outputPrefix, "collections", cid) + "/"
	objects, err := store.List(ctx, prefix)
	if err != nil {
		s.logger.Warn("failed to list collection records for pruning", "collection", cid, "error", err)
		return
	}
	var pruned []string
	for _, obj := range objects {
		if keep[obj.Key] || !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		if err := store.Delete(ctx, obj.Key); err != nil {
			s.logger.Warn("failed to prune stale record", "key", obj.Key, "error", err)
			continue
		}
		pruned = append(pruned, obj.Key)
	}
	if len(pruned) > 0 {
		s.logger.Info("pruned stale records", "collection", cid, "keys", pruned)
	}
}

func (s *CatalogService) put(ctx context.Context, store output.ObjectStorage, key string, record any, contentType string) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return err
	}
	s.logger.Debug("wrote record", "key", key, "bytes", len(data))
	return nil
}

func (s *CatalogService) collectionKey(cid string) string {
	return path.Join(s.outputPrefix, "collections", cid, "collection.json")
}

func (s *CatalogService) itemKey(cid, itemID string) string {
	return path.Join(s.outputPrefix, "collections", cid, itemID, itemID+".json")
}
