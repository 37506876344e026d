package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/zipcat/internal/domain"
)

func validConfig() *Config {
	return &Config{
		Server:     ServerConfig{Port: 8080},
		Storage:    StorageConfig{Type: "local", LocalPath: "./data"},
		Projection: ProjectionConfig{Engine: "auto", BBoxMode: "auto"},
		Catalog:    CatalogConfig{Concurrency: 4},
	}
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Errorf("Address() = %q", cfg.Server.Address())
	}
	if cfg.Catalog.MaxAssetGB != 1.0 || cfg.Catalog.OutputPrefix != "stac" {
		t.Errorf("catalog defaults = %+v", cfg.Catalog)
	}
	if len(cfg.Catalog.SkipLayers) != 3 {
		t.Errorf("skip layers = %v", cfg.Catalog.SkipLayers)
	}
	if cfg.Scan.Interval != time.Hour {
		t.Errorf("scan interval = %v", cfg.Scan.Interval)
	}
	region, err := cfg.Footprint.RegionBBox()
	if err != nil || region != domain.NewBBox(-125, 24, -66, 50) {
		t.Errorf("RegionBBox() = %v, %v", region, err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "zipcat.yaml")
	data := []byte(`
storage:
  type: s3
  s3:
    bucket: deliveries
    region: us-east-1
catalog:
  project: trinity
  concurrency: 8
  model_projection: "EPSG:26915"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ZIPCAT_CATALOG_CONCURRENCY", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.DefaultBucket() != "deliveries" {
		t.Errorf("DefaultBucket() = %q", cfg.Storage.DefaultBucket())
	}
	if cfg.Catalog.Project != "trinity" {
		t.Errorf("project = %q", cfg.Catalog.Project)
	}
	if cfg.Catalog.Concurrency != 2 {
		t.Errorf("concurrency = %d, want the environment to win", cfg.Catalog.Concurrency)
	}

	props := cfg.Catalog.PropertyDefaults("trinity")
	if props.ProjectName != "trinity" || props.ProjectType != "pilot" || props.Status != "provisional" {
		t.Errorf("PropertyDefaults() = %+v", props)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"tls without domains", func(c *Config) { c.TLS.Enabled = true; c.TLS.Email = "ops@example.com" }, "tls.domains"},
		{"tls without email", func(c *Config) { c.TLS.Enabled = true; c.TLS.Domains = []string{"a.example.com"} }, "tls.email"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "ftp" }, "storage.type"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3"; c.Storage.S3.Region = "us-east-1" }, "storage.s3.bucket"},
		{"s3 without region", func(c *Config) { c.Storage.Type = "s3"; c.Storage.S3.Bucket = "b" }, "storage.s3.region"},
		{"azure without credentials", func(c *Config) { c.Storage.Type = "azure"; c.Storage.Azure.Container = "c" }, "storage.azure"},
		{"gcs without bucket", func(c *Config) { c.Storage.Type = "gcs" }, "storage.gcs.bucket"},
		{"http without url", func(c *Config) { c.Storage.Type = "http" }, "storage.http.base_url"},
		{"unknown engine", func(c *Config) { c.Projection.Engine = "proj4" }, "projection.engine"},
		{"unknown bbox mode", func(c *Config) { c.Projection.BBoxMode = "corners" }, "projection.bbox_mode"},
		{"zero concurrency", func(c *Config) { c.Catalog.Concurrency = 0 }, "catalog.concurrency"},
		{"bad model projection", func(c *Config) { c.Catalog.ModelProjection = "not a crs" }, "catalog.model_projection"},
		{"short region", func(c *Config) { c.Footprint.Region = []float64{1, 2, 3} }, "footprint.region"},
		{"scan too frequent", func(c *Config) { c.Scan.Enabled = true; c.Scan.Interval = time.Second }, "scan.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			var cerr *domain.ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Validate() error = %v, want ConfigError", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("ConfigError.Field = %q, want %q", cerr.Field, tt.field)
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Error("ConfigError should wrap ErrInvalidInput")
			}
		})
	}
}
