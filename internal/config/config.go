// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/zipcat/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	TLS        TLSConfig        `mapstructure:"tls"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Footprint  FootprintConfig  `mapstructure:"footprint"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Watch      WatchConfig      `mapstructure:"watch"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g. ["https://ops.example.com", "*.example.com"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// TLSConfig holds ACME certificate configuration for the API server.
type TLSConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Domains  []string `mapstructure:"domains"`
	Email    string   `mapstructure:"email"`
	CacheDir string   `mapstructure:"cache_dir"`
	Staging  bool     `mapstructure:"staging"`

	AzureDNS AzureDNSConfig `mapstructure:"azure_dns"`
}

// AzureDNSConfig selects the Azure DNS zone used for DNS-01 challenges.
type AzureDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"` // empty uses the system assigned identity
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // local, s3, azure, gcs, http
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	GCS       GCSConfig   `mapstructure:"gcs"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
}

// GCSConfig holds Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

// HTTPConfig holds configuration of read-only HTTP storage.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// ProjectionConfig selects the coordinate transformation engine.
type ProjectionConfig struct {
	Engine   string `mapstructure:"engine"`    // builtin, spatialite, auto
	BBoxMode string `mapstructure:"bbox_mode"` // auto, diagonal, envelope
}

// CatalogConfig holds the parameters of catalog runs.
type CatalogConfig struct {
	Project         string        `mapstructure:"project"`
	Bucket          string        `mapstructure:"bucket"`
	Concurrency     int           `mapstructure:"concurrency"`
	AssetTimeout    time.Duration `mapstructure:"asset_timeout"`
	MaxAssetGB      float64       `mapstructure:"max_asset_gb"`
	ModelProjection string        `mapstructure:"model_projection"`
	SkipLayers      []string      `mapstructure:"skip_layers"`
	OutputPrefix    string        `mapstructure:"output_prefix"`

	ProjectType     string `mapstructure:"project_type"`
	Status          string `mapstructure:"status"`
	Platform        string `mapstructure:"platform"`
	Region          string `mapstructure:"region"`
	SoftwareName    string `mapstructure:"software_name"`
	SoftwareVersion string `mapstructure:"software_version"`
}

// PropertyDefaults returns the descriptive item properties for a project.
func (c *CatalogConfig) PropertyDefaults(project string) domain.PropertyDefaults {
	return domain.PropertyDefaults{
		ProjectName:     project,
		ProjectType:     c.ProjectType,
		Status:          c.Status,
		Platform:        c.Platform,
		Region:          c.Region,
		SoftwareName:    c.SoftwareName,
		SoftwareVersion: c.SoftwareVersion,
	}
}

// FootprintConfig holds footprint derivation limits.
type FootprintConfig struct {
	Region          []float64 `mapstructure:"region"` // minx, miny, maxx, maxy in WGS84
	HullMaxFeatures int64     `mapstructure:"hull_max_features"`
	HullMaxPoints   int       `mapstructure:"hull_max_points"`
	Tolerance       float64   `mapstructure:"tolerance"`
}

// ArchiveConfig holds remote archive access settings.
type ArchiveConfig struct {
	BlockSize       int64  `mapstructure:"block_size"`
	CacheBlocks     int    `mapstructure:"cache_blocks"`
	MaxInflateBytes int64  `mapstructure:"max_inflate_bytes"`
	SeekWindow      int    `mapstructure:"seek_window"`
	TempDir         string `mapstructure:"temp_dir"`
}

// WatchConfig holds drop-directory watcher configuration.
type WatchConfig struct {
	Path     string        `mapstructure:"path"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// ScanConfig holds periodic bucket scan configuration.
type ScanConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	Prefix     string        `mapstructure:"prefix"`
	LedgerPath string        `mapstructure:"ledger_path"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("server.max_body_bytes", 1<<20)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Projection defaults
	viper.SetDefault("projection.engine", "auto")
	viper.SetDefault("projection.bbox_mode", "auto")

	// Catalog defaults
	viper.SetDefault("catalog.concurrency", 4)
	viper.SetDefault("catalog.asset_timeout", 10*time.Minute)
	viper.SetDefault("catalog.max_asset_gb", 1.0)
	viper.SetDefault("catalog.skip_layers", []string{"FEMA", "NHD", "NSI"})
	viper.SetDefault("catalog.output_prefix", "stac")
	viper.SetDefault("catalog.project_type", "pilot")
	viper.SetDefault("catalog.status", "provisional")
	viper.SetDefault("catalog.software_name", "zipcat")

	// Footprint defaults
	viper.SetDefault("footprint.region", []float64{-125, 24, -66, 50})
	viper.SetDefault("footprint.hull_max_features", 10000)
	viper.SetDefault("footprint.hull_max_points", 5000)
	viper.SetDefault("footprint.tolerance", 0.0001)

	// Archive defaults
	viper.SetDefault("archive.block_size", 1<<20)
	viper.SetDefault("archive.cache_blocks", 16)
	viper.SetDefault("archive.max_inflate_bytes", 4<<30)
	viper.SetDefault("archive.seek_window", 1<<20)

	// Watch defaults
	viper.SetDefault("watch.debounce", 2*time.Second)

	// Scan defaults
	viper.SetDefault("scan.enabled", false)
	viper.SetDefault("scan.interval", time.Hour)
	viper.SetDefault("scan.ledger_path", "./data/ledger.db")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.namespace", "zipcat")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("ZIPCAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/zipcat")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
		}
		if c.TLS.Email == "" {
			return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
		}
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	switch c.Projection.Engine {
	case "builtin", "spatialite", "auto":
	default:
		return &domain.ConfigError{Field: "projection.engine", Message: "unknown engine " + c.Projection.Engine}
	}
	switch c.Projection.BBoxMode {
	case "", "auto", "diagonal", "envelope":
	default:
		return &domain.ConfigError{Field: "projection.bbox_mode", Message: "unknown mode " + c.Projection.BBoxMode}
	}

	if c.Catalog.Concurrency < 1 {
		return &domain.ConfigError{Field: "catalog.concurrency", Message: "must be at least 1"}
	}
	if c.Catalog.ModelProjection != "" {
		if _, err := domain.ParseProjection(c.Catalog.ModelProjection); err != nil {
			return &domain.ConfigError{Field: "catalog.model_projection", Message: err.Error()}
		}
	}

	if _, err := c.Footprint.RegionBBox(); err != nil {
		return err
	}

	if c.Scan.Enabled && c.Scan.Interval < time.Minute {
		return &domain.ConfigError{Field: "scan.interval", Message: "must be at least 1m"}
	}

	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Type {
	case "local":
		if s.LocalPath == "" {
			return &domain.ConfigError{Field: "storage.local_path", Message: "local storage path is required"}
		}
	case "s3":
		if s.S3.Bucket == "" {
			return &domain.ConfigError{Field: "storage.s3.bucket", Message: "S3 bucket is required"}
		}
		if s.S3.Region == "" {
			return &domain.ConfigError{Field: "storage.s3.region", Message: "S3 region is required"}
		}
	case "azure":
		if s.Azure.Container == "" {
			return &domain.ConfigError{Field: "storage.azure.container", Message: "azure container is required"}
		}
		if s.Azure.AccountName == "" && s.Azure.ConnectionString == "" {
			return &domain.ConfigError{Field: "storage.azure", Message: "azure account name or connection string is required"}
		}
	case "gcs":
		if s.GCS.Bucket == "" {
			return &domain.ConfigError{Field: "storage.gcs.bucket", Message: "GCS bucket is required"}
		}
	case "http":
		if s.HTTP.BaseURL == "" {
			return &domain.ConfigError{Field: "storage.http.base_url", Message: "HTTP base URL is required"}
		}
	default:
		return &domain.ConfigError{Field: "storage.type", Message: "unknown storage type " + s.Type}
	}
	return nil
}

// DefaultBucket returns the bucket or container the storage is bound to.
// Local and HTTP storage have none.
func (s *StorageConfig) DefaultBucket() string {
	switch s.Type {
	case "s3":
		return s.S3.Bucket
	case "azure":
		return s.Azure.Container
	case "gcs":
		return s.GCS.Bucket
	}
	return ""
}

// RegionBBox returns the hull region. An empty region is allowed and means
// the default.
func (f *FootprintConfig) RegionBBox() (domain.BBox, error) {
	if len(f.Region) == 0 {
		return domain.BBox{}, nil
	}
	if len(f.Region) != 4 {
		return domain.BBox{}, &domain.ConfigError{Field: "footprint.region", Message: "expected minx, miny, maxx, maxy"}
	}
	b := domain.NewBBox(f.Region[0], f.Region[1], f.Region[2], f.Region[3])
	if b[0] >= b[2] || b[1] >= b[3] {
		return domain.BBox{}, &domain.ConfigError{Field: "footprint.region", Message: "min must be below max"}
	}
	return b, nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
