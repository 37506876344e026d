// Package main provides the entry point for zipcat, the geospatial archive
// cataloger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jobrunner/zipcat/internal/app"
	"github.com/jobrunner/zipcat/internal/config"
	"github.com/jobrunner/zipcat/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zipcat",
	Short: "zipcat - geospatial archive cataloger",
	Long: `zipcat catalogs zip archives of geospatial data held in object storage.

Each spatial asset in an archive (shapefiles, GeoTIFFs, geodatabase layers,
HEC-RAS models) becomes an item with a WGS84 bounding box and footprint.
The items of an archive are merged into a collection.

Features:
  - Local, AWS S3, Azure Blob, Google Cloud Storage and HTTP storage
  - Ranged reads, archives are never downloaded whole
  - Hull footprints for vector data, rectangles for everything else
  - Periodic bucket scans with a ledger of processed archive versions
  - Drop-directory watching
  - REST API with TLS and Prometheus metrics`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("zipcat %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog [key]",
	Short: "Catalog one archive",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCatalog,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [key]",
	Short: "Classify the entries of an archive without cataloging it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInspect,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Catalog archives dropped into a local directory",
	RunE:  runWatch,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Catalog new or changed archives under a bucket prefix",
	RunE:  runScan,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, text)")
	pf.String("storage-type", "local", "storage type (local, s3, azure, gcs, http)")
	pf.String("storage-path", "./data", "local storage path")
	pf.String("project", "", "project name written to item properties")
	pf.String("bucket", "", "bucket or container holding the archives")

	_ = viper.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("storage.type", pf.Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", pf.Lookup("storage-path"))
	_ = viper.BindPFlag("catalog.project", pf.Lookup("project"))
	_ = viper.BindPFlag("catalog.bucket", pf.Lookup("bucket"))

	// Catalog flags
	catalogCmd.Flags().String("key", "", "archive key")
	catalogCmd.Flags().String("collection-id", "", "collection id (default: generated)")
	catalogCmd.Flags().String("title", "", "collection title (default: archive name)")
	catalogCmd.Flags().Bool("dry-run", false, "print the records instead of writing them")

	// Inspect flags
	inspectCmd.Flags().String("key", "", "archive key")
	inspectCmd.Flags().StringP("output", "o", "json", "output format (json, yaml)")

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8080, "server port")
	serveCmd.Flags().Bool("tls", false, "enable TLS")
	serveCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	serveCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	serveCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	serveCmd.Flags().Bool("scan", false, "run periodic bucket scans")
	serveCmd.Flags().Bool("watch", false, "watch the local storage directory for new archives")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", serveCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", serveCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", serveCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("server.cors.allowed_origins", serveCmd.Flags().Lookup("cors"))
	_ = viper.BindPFlag("scan.enabled", serveCmd.Flags().Lookup("scan"))

	// Watch flags
	watchCmd.Flags().String("path", "", "directory to watch (default: storage path)")
	watchCmd.Flags().Duration("debounce", 2*time.Second, "quiet period before a changed archive is cataloged")
	_ = viper.BindPFlag("watch.path", watchCmd.Flags().Lookup("path"))
	_ = viper.BindPFlag("watch.debounce", watchCmd.Flags().Lookup("debounce"))

	// Scan flags
	scanCmd.Flags().String("prefix", "", "key prefix to scan")
	scanCmd.Flags().String("ledger", "./data/ledger.db", "scan ledger database")
	scanCmd.Flags().Bool("loop", false, "keep scanning at the configured interval")
	_ = viper.BindPFlag("scan.prefix", scanCmd.Flags().Lookup("prefix"))
	_ = viper.BindPFlag("scan.ledger_path", scanCmd.Flags().Lookup("ledger"))

	rootCmd.AddCommand(versionCmd, catalogCmd, inspectCmd, serveCmd, watchCmd, scanCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// bootstrap loads the configuration and builds the application. One-shot
// commands log to stderr so stdout carries only their result.
func bootstrap(ctx context.Context, logOut io.Writer) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, logOut)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

func archiveKey(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		return "", errors.New("archive key is required")
	}
	return key, nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	key, err := archiveKey(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	collectionID, _ := cmd.Flags().GetString("collection-id")
	title, _ := cmd.Flags().GetString("title")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	bucket := a.Config.Catalog.Bucket
	if bucket == "" {
		bucket = a.Config.Storage.DefaultBucket()
	}

	result, err := a.Catalog.Catalog(ctx, domain.CatalogRequest{
		Project:         a.Config.Catalog.Project,
		Bucket:          bucket,
		Key:             key,
		CollectionID:    collectionID,
		CollectionTitle: title,
		DryRun:          dryRun,
	})
	if err != nil {
		return err
	}

	if dryRun {
		return printJSON(map[string]interface{}{
			"collection": result.Records,
			"items":      result.Records.Items,
		})
	}
	return printJSON(result)
}

func runInspect(cmd *cobra.Command, args []string) error {
	key, err := archiveKey(cmd, args)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("output")
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown output format %q", format)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	bucket := a.Config.Catalog.Bucket
	if bucket == "" {
		bucket = a.Config.Storage.DefaultBucket()
	}
	locator := domain.ArchiveLocator{Bucket: bucket, Key: key}
	if err := locator.Validate(); err != nil {
		return err
	}

	inv, err := a.Inspector.Inspect(ctx, locator)
	if err != nil {
		return err
	}

	report := map[string]interface{}{
		"archive":   locator,
		"kind":      inv.Kind(),
		"spatial":   inv.SpatialCount(),
		"inventory": inv,
	}
	if format == "yaml" {
		return printYAML(report)
	}
	return printJSON(report)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bootstrap(ctx, os.Stdout)
	if err != nil {
		return err
	}
	cfg := a.Config
	logger := a.Logger

	logger.Info("starting zipcat",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
		"scan", cfg.Scan.Enabled,
	)

	if cfg.Scan.Enabled {
		if err := a.EnableScan(ctx); err != nil {
			_ = a.Close()
			return err
		}
	}
	if watch, _ := cmd.Flags().GetBool("watch"); watch || cfg.Watch.Path != "" {
		if err := a.EnableWatch(); err != nil {
			_ = a.Close()
			return err
		}
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		if err := a.Start(ctx); err != nil {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runWatch(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.EnableWatch(); err != nil {
		return err
	}
	if err := a.Watcher.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.Info("stopping watcher")
	return a.Watcher.Stop()
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.EnableScan(ctx); err != nil {
		return err
	}

	if loop, _ := cmd.Flags().GetBool("loop"); loop {
		a.Scanner.Start(ctx)
		<-ctx.Done()
		a.Scanner.Stop()
		return nil
	}

	summary, err := a.Scanner.ScanOnce(ctx)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML prints v as YAML using its JSON field names.
func printYAML(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}
