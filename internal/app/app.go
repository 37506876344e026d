// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobrunner/zipcat/internal/adapters/archive"
	"github.com/jobrunner/zipcat/internal/adapters/gdal"
	"github.com/jobrunner/zipcat/internal/adapters/geotiff"
	"github.com/jobrunner/zipcat/internal/adapters/hecras"
	httpAdapter "github.com/jobrunner/zipcat/internal/adapters/http"
	"github.com/jobrunner/zipcat/internal/adapters/ledger"
	"github.com/jobrunner/zipcat/internal/adapters/metrics"
	"github.com/jobrunner/zipcat/internal/adapters/projection"
	"github.com/jobrunner/zipcat/internal/adapters/shapefile"
	"github.com/jobrunner/zipcat/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/zipcat/internal/adapters/tls"
	"github.com/jobrunner/zipcat/internal/adapters/watcher"
	"github.com/jobrunner/zipcat/internal/application"
	"github.com/jobrunner/zipcat/internal/config"
	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Metrics     *metrics.Collector
	Storage     output.ObjectStorage
	Transformer output.CoordinateTransformer
	Inspector   *application.InspectorService
	Catalog     *application.CatalogService
	Health      *application.HealthService
	Scanner     *application.ScanService
	Ledger      *ledger.SQLite
	TLS         *tlsAdapter.Manager
	HTTPServer  *httpAdapter.Server
	Watcher     *watcher.Watcher

	metricsOut output.MetricsCollector
	closers    []func() error
}

// New builds the catalog pipeline. Scanning, watching and serving are
// enabled separately by the commands that need them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config:     cfg,
		Logger:     logger,
		metricsOut: &output.NoOpMetrics{},
	}

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.NewRegistry())
		app.metricsOut = app.Metrics
	}

	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = storage.NewInstrumented(store, app.metricsOut)

	transformer, err := app.initProjection(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing projection engine: %w", err)
	}
	app.Transformer = transformer

	mode, err := application.ParseBBoxMode(cfg.Projection.BBoxMode)
	if err != nil {
		return nil, err
	}
	normalizer := application.NewNormalizer(transformer, mode)

	region, err := cfg.Footprint.RegionBBox()
	if err != nil {
		return nil, err
	}
	footprints := application.NewFootprintService(application.FootprintConfig{
		Region:          region,
		HullMaxFeatures: cfg.Footprint.HullMaxFeatures,
		HullMaxPoints:   cfg.Footprint.HullMaxPoints,
		Tolerance:       cfg.Footprint.Tolerance,
	}, normalizer, app.metricsOut, logger)

	var modelProj domain.Projection
	if cfg.Catalog.ModelProjection != "" {
		if modelProj, err = domain.ParseProjection(cfg.Catalog.ModelProjection); err != nil {
			return nil, fmt.Errorf("catalog.model_projection: %w", err)
		}
	}

	extractors := []output.AssetExtractor{
		shapefile.NewExtractor(logger),
		rasterExtractor(logger),
		hecras.NewExtractor(logger),
	}
	var layers output.LayerSource
	if gdal.Available {
		gdalExtractor := gdal.NewExtractor(logger)
		extractors = append(extractors, gdalExtractor)
		layers = gdalExtractor
	} else {
		logger.Info("built without GDAL, geodatabase layers are not cataloged")
	}

	opener := archive.NewOpener(app.Storage, archive.Config{
		BlockSize:       cfg.Archive.BlockSize,
		CacheBlocks:     cfg.Archive.CacheBlocks,
		MaxInflateBytes: cfg.Archive.MaxInflateBytes,
		SeekWindow:      cfg.Archive.SeekWindow,
		TempDir:         cfg.Archive.TempDir,
	}, logger)

	app.Inspector = application.NewInspectorService(opener, layers, hecras.NewDetector(), cfg.Catalog.SkipLayers, logger)

	aggregator := application.NewAggregator(
		application.NewExtractorRegistry(extractors...),
		normalizer,
		footprints,
		application.NewSizeGuard(cfg.Catalog.MaxAssetGB, logger),
		app.metricsOut,
		logger,
		application.AggregatorConfig{
			Concurrency:     cfg.Catalog.Concurrency,
			AssetTimeout:    cfg.Catalog.AssetTimeout,
			ModelProjection: modelProj,
			Defaults:        cfg.Catalog.PropertyDefaults(cfg.Catalog.Project),
		},
	)

	app.Catalog = application.NewCatalogService(
		app.Inspector,
		aggregator,
		app.Storage,
		app.metricsOut,
		logger,
		cfg.Catalog.OutputPrefix,
	)

	readinessKey := path.Join(strings.Trim(cfg.Catalog.OutputPrefix, "/"), "collections")
	app.Health = application.NewHealthService(app.Storage.WithBucket(app.bucket()), transformer, readinessKey)

	return app, nil
}

// rasterExtractor prefers GDAL, which reads any raster format and
// user-defined coordinate systems, over the built-in GeoTIFF reader.
func rasterExtractor(logger *slog.Logger) output.AssetExtractor {
	if gdal.Available {
		return gdal.NewRasterExtractor(logger)
	}
	return geotiff.NewExtractor(logger)
}

// closingTransformer is a coordinate transformer holding resources.
type closingTransformer interface {
	output.CoordinateTransformer
	Close() error
}

// openSpatiaLite loads the SpatiaLite transformer.
var openSpatiaLite = func(ctx context.Context) (closingTransformer, error) {
	sl, err := projection.NewSpatiaLite(ctx)
	if err != nil {
		return nil, err
	}
	return sl, nil
}

// initProjection picks the coordinate transformer. "auto" reprojects with
// SpatiaLite and keeps the builtin projections for codes it cannot
// resolve. Without SpatiaLite only the builtin projections are used.
func (a *App) initProjection(ctx context.Context) (output.CoordinateTransformer, error) {
	builtin := projection.NewBuiltin()

	switch a.Config.Projection.Engine {
	case "builtin":
		return builtin, nil

	case "spatialite":
		sl, err := openSpatiaLite(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sl.Close)
		return projection.NewChain(sl), nil

	default:
		sl, err := openSpatiaLite(ctx)
		if err != nil {
			a.Logger.Warn("spatialite unavailable, using builtin projections without datum shifts", "error", err)
			return builtin, nil
		}
		a.closers = append(a.closers, sl.Close)
		return projection.NewChain(sl, builtin), nil
	}
}

// bucket returns the bucket catalog runs default to.
func (a *App) bucket() string {
	if a.Config.Catalog.Bucket != "" {
		return a.Config.Catalog.Bucket
	}
	return a.Config.Storage.DefaultBucket()
}

// EnableScan opens the scan ledger and creates the scan service.
func (a *App) EnableScan(ctx context.Context) error {
	if a.Scanner != nil {
		return nil
	}

	l, err := ledger.Open(ctx, a.Config.Scan.LedgerPath)
	if err != nil {
		return fmt.Errorf("opening scan ledger: %w", err)
	}
	a.Ledger = l
	a.closers = append(a.closers, l.Close)

	a.Scanner = application.NewScanService(a.Catalog, a.Storage, l, application.ScanConfig{
		Bucket:   a.bucket(),
		Prefix:   a.Config.Scan.Prefix,
		Project:  a.Config.Catalog.Project,
		Interval: a.Config.Scan.Interval,
	}, a.Logger)
	return nil
}

// EnableWatch creates the drop-directory watcher. Watching needs local
// storage because the dropped files are read back through it.
func (a *App) EnableWatch() error {
	if a.Config.Storage.Type != "local" {
		return &domain.ConfigError{Field: "watch.path", Message: "watching requires local storage"}
	}

	root := a.Config.Watch.Path
	if root == "" {
		root = a.Config.Storage.LocalPath
	}
	prefix, err := relativeKey(a.Config.Storage.LocalPath, root)
	if err != nil {
		return &domain.ConfigError{Field: "watch.path", Message: "must be inside storage.local_path"}
	}

	w, err := watcher.New(watcher.Config{
		Root:     root,
		Debounce: a.Config.Watch.Debounce,
	}, func(ctx context.Context, arrival watcher.Arrival) error {
		return a.handleArrival(ctx, path.Join(prefix, arrival.Key))
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	a.Watcher = w
	return nil
}

// handleArrival catalogs a dropped archive under a collection id derived
// from its key, so rewriting the file replaces the earlier records.
func (a *App) handleArrival(ctx context.Context, key string) error {
	_, err := a.Catalog.Catalog(ctx, domain.CatalogRequest{
		Project:      a.Config.Catalog.Project,
		Key:          key,
		CollectionID: application.CollectionIDFor("", key),
	})
	return err
}

// relativeKey returns target relative to base as a storage key prefix.
func relativeKey(base, target string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not below %s", target, base)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// BuildServer creates the HTTP server, and the certificate manager when
// TLS is enabled. Call EnableScan first to expose the scan endpoints.
func (a *App) BuildServer() error {
	opts := []httpAdapter.Option{
		httpAdapter.WithDefaults(a.Config.Catalog.Project, a.bucket()),
	}
	if a.Metrics != nil {
		opts = append(opts, httpAdapter.WithMetrics(a.Config.Metrics.Path, a.Metrics.Handler(), a.Metrics.Middleware))
	}
	if a.Scanner != nil {
		opts = append(opts, httpAdapter.WithScanner(a.Scanner))
	}

	manager, err := tlsAdapter.NewManager(a.Config.TLS, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing TLS: %w", err)
	}
	if manager != nil {
		a.TLS = manager
		opts = append(opts, httpAdapter.WithTLS(manager.TLSConfig()))
	}

	a.HTTPServer = httpAdapter.NewServer(a.Config.Server, a.Catalog, a.Inspector, a.Health, a.Logger, opts...)
	return nil
}

// Start runs the background components and blocks serving HTTP.
func (a *App) Start(ctx context.Context) error {
	if a.HTTPServer == nil {
		if err := a.BuildServer(); err != nil {
			return err
		}
	}

	if a.TLS != nil {
		if err := a.TLS.Obtain(ctx); err != nil {
			return err
		}
	}

	if a.Scanner != nil {
		a.Scanner.Start(ctx)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start watcher", "error", err)
		}
	}

	err := a.HTTPServer.Start()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	if a.Scanner != nil {
		a.Scanner.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTP server shutdown error", "error", err)
		}
	}

	return a.Close()
}

// Close releases the ledger and the projection database.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
		})

	case "gcs":
		return storage.NewGCSStorage(ctx, storage.GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
			Endpoint:        cfg.GCS.Endpoint,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
