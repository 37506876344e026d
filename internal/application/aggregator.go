package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// Asset statuses reported to metrics.
const (
	assetCataloged = "cataloged"
	assetSkipped   = "skipped"
	assetFailed    = "failed"
	assetTooLarge  = "too_large"
)

// modelIDSuffix is appended to the stem of hydraulic model items.
const modelIDSuffix = "-ras-model"

// AggregatorConfig holds configuration for the collection aggregator.
type AggregatorConfig struct {
	Concurrency     int
	AssetTimeout    time.Duration
	ModelProjection domain.Projection // used when no vector carries one
	Defaults        domain.PropertyDefaults
}

// Aggregator turns the spatial assets of an archive into items and merges
// them into a collection.
type Aggregator struct {
	registry   *ExtractorRegistry
	normalizer *Normalizer
	footprints *FootprintService
	sizeGuard  *SizeGuard
	metrics    output.MetricsCollector
	logger     *slog.Logger
	config     AggregatorConfig
	newID      func() string
}

// NewAggregator creates a new aggregator.
func NewAggregator(
	registry *ExtractorRegistry,
	normalizer *Normalizer,
	footprints *FootprintService,
	sizeGuard *SizeGuard,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg AggregatorConfig,
) *Aggregator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Aggregator{
		registry:   registry,
		normalizer: normalizer,
		footprints: footprints,
		sizeGuard:  sizeGuard,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
		newID:      uuid.NewString,
	}
}

// assetResult is the outcome of one successfully processed asset.
type assetResult struct {
	asset     domain.AssetRef
	meta      domain.AssetMetadata
	bbox      domain.BBox // WGS84
	footprint orb.Polygon
	estimate  domain.SizeEstimate
}

// Aggregate builds the collection of an opened archive. Assets that fail
// are logged and skipped; the archive fails only when it has no spatial
// assets or none of them produced an item.
func (a *Aggregator) Aggregate(ctx context.Context, h *ArchiveHandle, req domain.CatalogRequest) (*domain.Collection, []domain.Item, error) {
	inv, err := h.Inventory(ctx)
	if err != nil {
		return nil, nil, err
	}
	locator := h.Locator()
	if inv.Kind() == domain.ArchiveKindAsset {
		return nil, nil, fmt.Errorf("%s: %w", locator, domain.ErrNoSpatialAssets)
	}

	archive := h.Archive()
	assets := inv.Assets()
	results := make([]*assetResult, len(assets))

	// Phase one: everything except hydraulic models.
	if err := a.run(ctx, archive, assets, results, func(k domain.AssetKind) bool {
		return k != domain.AssetKindModel
	}, domain.Projection{}); err != nil {
		return nil, nil, err
	}

	// Phase two: models borrow the projection of the first vector.
	if len(inv.Models) > 0 {
		proj := a.modelProjection(results)
		if err := a.run(ctx, archive, assets, results, func(k domain.AssetKind) bool {
			return k == domain.AssetKindModel
		}, proj); err != nil {
			return nil, nil, err
		}
	}

	cid := req.CollectionID
	if cid == "" {
		cid = a.newID()
	}

	datetime := archive.ModTime()
	if datetime.IsZero() {
		datetime = time.Now().UTC()
	}

	defaults := a.config.Defaults
	if req.Project != "" {
		defaults.ProjectName = req.Project
	}

	ids := newIDSet()
	items := make([]domain.Item, 0, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		id := ids.assign(itemID(res.asset), res.asset.Kind)
		items = append(items, domain.NewItem(domain.ItemSpec{
			ID:           id,
			CollectionID: cid,
			Datetime:     datetime,
			BBox:         res.bbox,
			Footprint:    res.footprint,
			Properties:   defaults.Properties(res.meta, res.estimate),
			Extensions:   domain.ExtensionsFor(res.asset.Kind),
			Assets:       a.itemAssets(archive, res.asset),
		}))
	}

	title := req.CollectionTitle
	if title == "" {
		title = strings.TrimSuffix(locator.Name(), path.Ext(locator.Name()))
	}

	collection, err := domain.NewCollection(domain.CollectionSpec{
		ID:          cid,
		Title:       title,
		Description: "Zip archive",
		Assets:      a.collectionAssets(archive, inv.NonSpatial),
	}, items)
	if err != nil {
		var empty *domain.EmptyExtentError
		if errors.As(err, &empty) {
			empty.Archive = locator.String()
			empty.Attempted = len(assets)
		}
		return nil, nil, err
	}

	a.logger.Info("aggregated archive",
		"archive", locator.String(),
		"collection", cid,
		"kind", inv.Kind(),
		"assets", len(assets),
		"items", len(items),
	)
	return collection, items, nil
}

// run processes the selected assets with bounded parallelism and stores
// each result at the asset's enumeration index.
func (a *Aggregator) run(ctx context.Context, archive output.Archive, assets []domain.AssetRef, results []*assetResult, selected func(domain.AssetKind) bool, modelProj domain.Projection) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Concurrency)

	for i, asset := range assets {
		if !selected(asset.Kind) {
			continue
		}
		g.Go(func() error {
			results[i] = a.process(gctx, archive, asset, modelProj)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *Aggregator) modelProjection(results []*assetResult) domain.Projection {
	for _, res := range results {
		if res != nil && res.asset.Kind == domain.AssetKindVector && !res.meta.Projection.IsZero() {
			return res.meta.Projection
		}
	}
	return a.config.ModelProjection
}

// process runs size guard, extraction, reprojection and footprint
// derivation for one asset. It returns nil when the asset is skipped.
func (a *Aggregator) process(ctx context.Context, archive output.Archive, asset domain.AssetRef, modelProj domain.Projection) *assetResult {
	start := time.Now()
	kind := string(asset.Kind)
	logger := a.logger.With("archive", archive.Locator().String(), "asset", asset.Name, "kind", kind)

	if a.config.AssetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.AssetTimeout)
		defer cancel()
	}
	defer func() { a.metrics.ObserveAssetDuration(kind, time.Since(start)) }()

	fail := func(err error) *assetResult {
		if errors.Is(err, domain.ErrNoMetadata) {
			logger.Warn("skipping asset without spatial metadata", "error", err)
			a.metrics.IncAssets(kind, assetSkipped)
			return nil
		}
		logger.Warn("skipping asset", "error", err)
		a.metrics.IncAssets(kind, assetFailed)
		return nil
	}

	extractor, err := a.registry.Extractor(asset.Kind)
	if err != nil {
		return fail(err)
	}

	res := &assetResult{asset: asset}

	if estimator, ok := a.registry.Estimator(asset.Kind); ok && a.sizeGuard != nil && sized(asset.Kind) {
		res.estimate, err = a.sizeGuard.Check(ctx, estimator, archive, asset)
		if errors.Is(err, domain.ErrAssetTooLarge) {
			a.metrics.IncAssets(kind, assetTooLarge)
			return nil
		}
		if err != nil {
			return fail(err)
		}
	}

	res.meta, err = extractor.Extract(ctx, archive, asset)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return fail(err)
	}

	if asset.Kind == domain.AssetKindModel {
		if modelProj.IsZero() {
			return fail(&domain.ProjectionError{Reason: "no vector projection or configured model projection"})
		}
		res.meta = res.meta.WithProjection(modelProj)
	}

	res.bbox, err = a.normalizer.BBoxToWGS84(ctx, res.meta.BBox, res.meta.Projection)
	if err != nil {
		return fail(err)
	}

	sampler, _ := a.registry.Sampler(asset.Kind)
	res.footprint = a.footprints.Derive(ctx, sampler, archive, asset, res.meta, res.bbox)

	if err := ctx.Err(); err != nil {
		return fail(&domain.MetadataExtractionError{Asset: asset.Name, Kind: asset.Kind, Err: err})
	}

	logger.Debug("asset cataloged", "bbox", res.bbox, "duration", time.Since(start))
	a.metrics.IncAssets(kind, assetCataloged)
	return res
}

// itemAssets builds the asset map of an item. Keys are random UUIDs.
func (a *Aggregator) itemAssets(archive output.Archive, ref domain.AssetRef) map[string]domain.Asset {
	assets := make(map[string]domain.Asset)
	add := func(name, mediaType, description string, roles ...string) {
		assets[a.newID()] = domain.Asset{
			Href:        archive.URI(name),
			MediaType:   mediaType,
			Title:       name,
			Description: description,
			Roles:       roles,
		}
	}

	switch ref.Kind {
	case domain.AssetKindVector:
		add(ref.Name, domain.MediaTypeShapefile, "zipped vector file", "data")
	case domain.AssetKindDatabaseLayer:
		add(ref.Name, domain.MediaTypeZip, "zipped vector file", "data")
	case domain.AssetKindRaster:
		add(ref.Name, domain.MediaTypeGeoTIFF, "zipped raster file", "data")
	case domain.AssetKindModel:
		add(ref.Name, domain.MediaTypeText, "hec-ras file", "hec-ras")
		for _, name := range ref.GeometryFiles {
			add(name, mediaTypeFor(name), "hec-ras file", "hec-ras", "geometry")
		}
		for _, name := range ref.OtherFiles {
			add(name, mediaTypeFor(name), "hec-ras file", "hec-ras")
		}
		return assets
	}

	for _, name := range ref.Sidecars {
		add(name, mediaTypeFor(name), "", "metadata")
	}
	return assets
}

func (a *Aggregator) collectionAssets(archive output.Archive, names []string) map[string]domain.Asset {
	if len(names) == 0 {
		return nil
	}
	assets := make(map[string]domain.Asset, len(names))
	for _, name := range names {
		assets[a.newID()] = domain.Asset{
			Href:        archive.URI(name),
			MediaType:   mediaTypeFor(name),
			Title:       path.Base(name),
			Description: "internal file",
			Roles:       []string{"data"},
		}
	}
	return assets
}

func mediaTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return domain.MediaTypeJSON
	case ".geojson":
		return domain.MediaTypeGeoJSON
	case ".zip":
		return domain.MediaTypeZip
	case ".tif", ".tiff":
		return domain.MediaTypeGeoTIFF
	case ".txt", ".prj", ".tfw", ".tifw", ".cpg":
		return domain.MediaTypeText
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	}
	return ""
}

// sized reports whether assets of a kind are loaded feature by feature and
// therefore subject to the size guard.
func sized(kind domain.AssetKind) bool {
	return kind == domain.AssetKindVector || kind == domain.AssetKindDatabaseLayer
}

func itemID(ref domain.AssetRef) string {
	if ref.Kind == domain.AssetKindModel {
		return ref.Stem() + modelIDSuffix
	}
	if ref.Kind == domain.AssetKindDatabaseLayer {
		return ref.Name
	}
	return ref.Stem()
}

// idSet hands out item ids that are unique within one collection.
type idSet map[string]bool

func newIDSet() idSet {
	return make(idSet)
}

// assign returns base when it is free, else base-<kind>, else the first
// free base-<kind>-N counting from 2.
func (s idSet) assign(base string, kind domain.AssetKind) string {
	candidates := []string{base, base + "-" + string(kind)}
	for _, id := range candidates {
		if !s[id] {
			s[id] = true
			return id
		}
	}
	for n := 2; ; n++ {
		id := candidates[1] + "-" + strconv.Itoa(n)
		if !s[id] {
			s[id] = true
			return id
		}
	}
}
