// Package config provides configuration loading and management for TableVault.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/supporttools/TableVault/pkg/backuperr"
)

// DatabaseConfig defines PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"sslMode"`
}

// BackupConfig defines how a backup run behaves.
type BackupConfig struct {
	OutputDirectory        string   `yaml:"outputDirectory"`
	MaxConnections         int      `yaml:"maxConnections"`
	MaxConcurrentDownloads int      `yaml:"maxConcurrentDownloads"`
	ChunkSize              int      `yaml:"chunkSize"`
	TableTimeout           string   `yaml:"tableTimeout"`   // per-table export timeout
	ChunkTimeout           string   `yaml:"chunkTimeout"`   // per-chunk fetch timeout
	AcquireTimeout         string   `yaml:"acquireTimeout"` // pool acquire wait
	IncludeTables          []string `yaml:"includeTables"`
	ExcludeTables          []string `yaml:"excludeTables"`
	Schedule               string   `yaml:"schedule"` // cron expression; empty means one-shot

	// Parsed durations, populated by setDefaults.
	TableTimeoutValue   time.Duration `yaml:"-"`
	ChunkTimeoutValue   time.Duration `yaml:"-"`
	AcquireTimeoutValue time.Duration `yaml:"-"`
}

// S3Config defines optional S3 upload settings for completed table files.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Prefix    string `yaml:"prefix"`
}

// MetricsConfig defines metrics server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	Database DatabaseConfig `yaml:"database"`
	Backup   BackupConfig   `yaml:"backup"`
	S3       S3Config       `yaml:"s3"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Debug    bool           `yaml:"debug"`

	ConfigFile string `yaml:"-"`
}

// CFG is the global configuration object.
var CFG AppConfig

// LoadConfiguration loads configuration from an optional YAML file, then
// applies environment variable overrides and defaults.
func LoadConfiguration() error {
	configFile := getEnvOrDefault("CONFIG_FILE", "")
	if configFile != "" {
		if err := loadConfigFile(configFile); err != nil {
			return err
		}
		CFG.ConfigFile = configFile
	}

	loadFromEnvironment()
	return setDefaults()
}

// loadConfigFile reads configuration from a YAML file.
func loadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(backuperr.ErrConfig, "read config file %s: %v", path, err)
	}

	if err := yaml.Unmarshal(data, &CFG); err != nil {
		return errors.Wrapf(backuperr.ErrConfig, "parse config file %s: %v", path, err)
	}

	return nil
}

// loadFromEnvironment applies environment variable overrides.
func loadFromEnvironment() {
	CFG.Debug = parseEnvBool("DEBUG", CFG.Debug)

	// Database settings
	CFG.Database.Host = getEnvOrDefault("DB_HOST", CFG.Database.Host)
	CFG.Database.Port = getEnvOrDefault("DB_PORT", CFG.Database.Port)
	CFG.Database.Username = getEnvOrDefault("DB_USER", CFG.Database.Username)
	CFG.Database.Password = getEnvOrDefault("DB_PASSWORD", CFG.Database.Password)
	CFG.Database.Database = getEnvOrDefault("DB_NAME", CFG.Database.Database)
	CFG.Database.Schema = getEnvOrDefault("DB_SCHEMA", CFG.Database.Schema)
	CFG.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", CFG.Database.SSLMode)

	// Backup settings
	CFG.Backup.OutputDirectory = getEnvOrDefault("OUTPUT_DIR", CFG.Backup.OutputDirectory)
	CFG.Backup.MaxConnections = parseEnvInt("MAX_CONNECTIONS", CFG.Backup.MaxConnections)
	CFG.Backup.MaxConcurrentDownloads = parseEnvInt("MAX_CONCURRENT_DOWNLOADS", CFG.Backup.MaxConcurrentDownloads)
	CFG.Backup.ChunkSize = parseEnvInt("CHUNK_SIZE", CFG.Backup.ChunkSize)
	CFG.Backup.TableTimeout = getEnvOrDefault("TABLE_TIMEOUT", CFG.Backup.TableTimeout)
	CFG.Backup.ChunkTimeout = getEnvOrDefault("CHUNK_TIMEOUT", CFG.Backup.ChunkTimeout)
	CFG.Backup.AcquireTimeout = getEnvOrDefault("ACQUIRE_TIMEOUT", CFG.Backup.AcquireTimeout)
	CFG.Backup.Schedule = getEnvOrDefault("BACKUP_SCHEDULE", CFG.Backup.Schedule)

	// S3 settings
	CFG.S3.Enabled = parseEnvBool("S3_UPLOAD_ENABLED", CFG.S3.Enabled)
	CFG.S3.Bucket = getEnvOrDefault("S3_BUCKET", CFG.S3.Bucket)
	CFG.S3.Region = getEnvOrDefault("S3_REGION", CFG.S3.Region)
	CFG.S3.AccessKey = getEnvOrDefault("S3_ACCESS_KEY", CFG.S3.AccessKey)
	CFG.S3.SecretKey = getEnvOrDefault("S3_SECRET_KEY", CFG.S3.SecretKey)
	CFG.S3.Prefix = getEnvOrDefault("S3_PREFIX", CFG.S3.Prefix)

	// Metrics settings
	CFG.Metrics.Enabled = parseEnvBool("METRICS_ENABLED", CFG.Metrics.Enabled)
	CFG.Metrics.Port = getEnvOrDefault("METRICS_PORT", CFG.Metrics.Port)

	if CFG.Debug {
		log.Debugf("Configuration loaded: %+v", CFG)
	}
}

// setDefaults ensures all config fields have reasonable default values and
// parses duration strings.
func setDefaults() error {
	if CFG.Database.Port == "" {
		CFG.Database.Port = "5432"
	}
	if CFG.Database.Schema == "" {
		CFG.Database.Schema = "public"
	}
	if CFG.Database.SSLMode == "" {
		CFG.Database.SSLMode = "disable"
	}

	if CFG.Backup.OutputDirectory == "" {
		CFG.Backup.OutputDirectory = "downloaded_tables"
	}
	if CFG.Backup.MaxConnections == 0 {
		CFG.Backup.MaxConnections = 10
	}
	if CFG.Backup.MaxConcurrentDownloads == 0 {
		CFG.Backup.MaxConcurrentDownloads = 3
	}
	if CFG.Backup.ChunkSize == 0 {
		CFG.Backup.ChunkSize = 10000
	}
	if CFG.Backup.TableTimeout == "" {
		CFG.Backup.TableTimeout = "30m"
	}
	if CFG.Backup.ChunkTimeout == "" {
		CFG.Backup.ChunkTimeout = "5m"
	}
	if CFG.Backup.AcquireTimeout == "" {
		CFG.Backup.AcquireTimeout = "1m"
	}

	if CFG.Metrics.Port == "" {
		CFG.Metrics.Port = "8080"
	}

	var err error
	if CFG.Backup.TableTimeoutValue, err = time.ParseDuration(CFG.Backup.TableTimeout); err != nil {
		return errors.Wrapf(backuperr.ErrConfig, "invalid tableTimeout %q: %v", CFG.Backup.TableTimeout, err)
	}
	if CFG.Backup.ChunkTimeoutValue, err = time.ParseDuration(CFG.Backup.ChunkTimeout); err != nil {
		return errors.Wrapf(backuperr.ErrConfig, "invalid chunkTimeout %q: %v", CFG.Backup.ChunkTimeout, err)
	}
	if CFG.Backup.AcquireTimeoutValue, err = time.ParseDuration(CFG.Backup.AcquireTimeout); err != nil {
		return errors.Wrapf(backuperr.ErrConfig, "invalid acquireTimeout %q: %v", CFG.Backup.AcquireTimeout, err)
	}

	return nil
}

// DSN builds the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
}

// getEnvOrDefault returns the environment variable value or the fallback.
func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseEnvBool parses a boolean environment variable.
func parseEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Warnf("Invalid boolean value for %s: %q, using default %v", key, value, fallback)
		return fallback
	}
	return parsed
}

// parseEnvInt parses an integer environment variable.
func parseEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Warnf("Invalid integer value for %s: %q, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}
