// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/gpkgindex/internal/adapters/storage"
	"github.com/jobrunner/gpkgindex/internal/application"
	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// EnvPrefix prefixes every environment variable, e.g. GPKGINDEX_INDEX_ORDER.
const EnvPrefix = "GPKGINDEX"

// Config holds all application configuration.
type Config struct {
	Index   IndexConfig   `mapstructure:"index"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// IndexConfig holds the policy applied to every feature table.
type IndexConfig struct {
	Order           []string `mapstructure:"order"`    // query order, e.g. [rtree, geopackage, metadata]
	Location        string   `mapstructure:"location"` // kind written by index and drop
	Build           []string `mapstructure:"build"`    // kinds built when a package is loaded in watch mode
	ContinueOnError bool     `mapstructure:"continue_on_error"`
	SideStoreDir    string   `mapstructure:"side_store_dir"` // empty: next to each package
	Force           bool     `mapstructure:"force"`
}

// StorageConfig holds package source configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
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
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// SyncConfig controls the periodic pull from remote storage in watch mode.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"` // zero disables the scheduler
	Cooldown time.Duration `mapstructure:"cooldown"` // minimum gap between manual syncs
}

// ServerConfig holds the ops HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Index defaults
	viper.SetDefault("index.order", kindNames(domain.DefaultIndexOrder))
	viper.SetDefault("index.location", domain.IndexNone.String())
	viper.SetDefault("index.build", []string{})
	viper.SetDefault("index.continue_on_error", true)
	viper.SetDefault("index.side_store_dir", "")
	viper.SetDefault("index.force", false)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.http.index_file", storage.DefaultIndexFile)
	viper.SetDefault("storage.http.timeout", storage.DefaultHTTPTimeout)

	// Sync defaults
	viper.SetDefault("sync.interval", time.Duration(0))
	viper.SetDefault("sync.cooldown", application.DefaultSyncCooldown)

	// Server defaults
	viper.SetDefault("server.enabled", false)
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 5*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix(EnvPrefix)
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
		viper.AddConfigPath("/etc/gpkgindex")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
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
	order, err := domain.ParseIndexKinds(c.Index.Order)
	if err != nil {
		return fmt.Errorf("index.order: %w", err)
	}
	for _, k := range order {
		if k == domain.IndexNone {
			return fmt.Errorf("index.order: %w: none is not a backend", domain.ErrInvalidInput)
		}
	}
	if _, err := domain.ParseIndexKind(c.Index.Location); err != nil {
		return fmt.Errorf("index.location: %w", err)
	}
	build, err := domain.ParseIndexKinds(c.Index.Build)
	if err != nil {
		return fmt.Errorf("index.build: %w", err)
	}
	for _, k := range build {
		if k == domain.IndexNone {
			return fmt.Errorf("index.build: %w: none is not a backend", domain.ErrInvalidInput)
		}
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("invalid sync interval: %s", c.Sync.Interval)
	}

	switch output.StorageType(c.Storage.Type) {
	case output.StorageTypeLocal:
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case output.StorageTypeS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case output.StorageTypeAzure:
		if c.Storage.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	case output.StorageTypeHTTP:
		if c.Storage.HTTP.BaseURL == "" {
			return fmt.Errorf("HTTP base URL is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	return nil
}

// ManagerConfig converts the index section into the policy of a manager.
// Call it on a validated config.
func (c *IndexConfig) ManagerConfig() application.ManagerConfig {
	order, _ := domain.ParseIndexKinds(c.Order)
	location, _ := domain.ParseIndexKind(c.Location)
	return application.ManagerConfig{
		Order:           order,
		Location:        location,
		ContinueOnError: c.ContinueOnError,
	}
}

// BuildKinds returns the kinds built on load.
func (c *IndexConfig) BuildKinds() []domain.IndexKind {
	kinds, _ := domain.ParseIndexKinds(c.Build)
	return kinds
}

// Source converts the storage section for the storage adapters.
func (c *StorageConfig) Source() storage.Config {
	return storage.Config{
		Type:      output.StorageType(c.Type),
		LocalPath: c.LocalPath,
		S3: storage.S3Config{
			Bucket:          c.S3.Bucket,
			Region:          c.S3.Region,
			Prefix:          c.S3.Prefix,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
		},
		Azure: storage.AzureConfig{
			Container:        c.Azure.Container,
			AccountName:      c.Azure.AccountName,
			AccountKey:       c.Azure.AccountKey,
			ConnectionString: c.Azure.ConnectionString,
			Prefix:           c.Azure.Prefix,
		},
		HTTP: storage.HTTPConfig{
			BaseURL:   c.HTTP.BaseURL,
			IndexFile: c.HTTP.IndexFile,
			Timeout:   c.HTTP.Timeout,
			Username:  c.HTTP.Username,
			Password:  c.HTTP.Password,
		},
	}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func kindNames(kinds []domain.IndexKind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
