package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/TableVault/pkg/backuperr"
)

func resetConfig(t *testing.T) {
	t.Helper()
	CFG = AppConfig{}
	for _, key := range []string{
		"CONFIG_FILE", "DEBUG",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SCHEMA", "DB_SSLMODE",
		"OUTPUT_DIR", "MAX_CONNECTIONS", "MAX_CONCURRENT_DOWNLOADS", "CHUNK_SIZE",
		"TABLE_TIMEOUT", "CHUNK_TIMEOUT", "ACQUIRE_TIMEOUT", "BACKUP_SCHEDULE",
		"S3_UPLOAD_ENABLED", "S3_BUCKET", "S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_PREFIX",
		"METRICS_ENABLED", "METRICS_PORT",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadConfigurationDefaults(t *testing.T) {
	resetConfig(t)

	err := LoadConfiguration()
	require.NoError(t, err)

	assert.Equal(t, "5432", CFG.Database.Port)
	assert.Equal(t, "public", CFG.Database.Schema)
	assert.Equal(t, "downloaded_tables", CFG.Backup.OutputDirectory)
	assert.Equal(t, 10, CFG.Backup.MaxConnections)
	assert.Equal(t, 3, CFG.Backup.MaxConcurrentDownloads)
	assert.Equal(t, 10000, CFG.Backup.ChunkSize)
	assert.Equal(t, 30*time.Minute, CFG.Backup.TableTimeoutValue)
	assert.Equal(t, 5*time.Minute, CFG.Backup.ChunkTimeoutValue)
	assert.Equal(t, time.Minute, CFG.Backup.AcquireTimeoutValue)
}

func TestLoadConfigurationFromEnvironment(t *testing.T) {
	resetConfig(t)

	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "appdb")
	t.Setenv("DB_USER", "backup")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("MAX_CONNECTIONS", "4")
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "2")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("TABLE_TIMEOUT", "90s")

	err := LoadConfiguration()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", CFG.Database.Host)
	assert.Equal(t, "appdb", CFG.Database.Database)
	assert.Equal(t, 4, CFG.Backup.MaxConnections)
	assert.Equal(t, 2, CFG.Backup.MaxConcurrentDownloads)
	assert.Equal(t, 500, CFG.Backup.ChunkSize)
	assert.Equal(t, 90*time.Second, CFG.Backup.TableTimeoutValue)
	assert.NoError(t, ValidateConfig())
}

func TestLoadConfigurationFromFile(t *testing.T) {
	resetConfig(t)

	content := `
database:
  host: pg.example.com
  username: exporter
  password: hunter2
  database: warehouse
  schema: analytics
backup:
  outputDirectory: /var/backups/tables
  maxConnections: 8
  maxConcurrentDownloads: 12
  chunkSize: 2500
  excludeTables:
    - audit_log
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("CONFIG_FILE", path)

	err := LoadConfiguration()
	require.NoError(t, err)

	assert.Equal(t, "pg.example.com", CFG.Database.Host)
	assert.Equal(t, "analytics", CFG.Database.Schema)
	assert.Equal(t, "/var/backups/tables", CFG.Backup.OutputDirectory)
	assert.Equal(t, 8, CFG.Backup.MaxConnections)
	assert.Equal(t, []string{"audit_log"}, CFG.Backup.ExcludeTables)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	resetConfig(t)

	content := `
database:
  host: pg.example.com
  username: exporter
  password: hunter2
  database: warehouse
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DB_HOST", "replica.example.com")

	err := LoadConfiguration()
	require.NoError(t, err)

	assert.Equal(t, "replica.example.com", CFG.Database.Host)
}

func TestValidateConfigMissingConnection(t *testing.T) {
	resetConfig(t)

	require.NoError(t, LoadConfiguration())

	err := ValidateConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, backuperr.ErrConfig))
}

func TestValidateConfigS3Requirements(t *testing.T) {
	resetConfig(t)

	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_NAME", "appdb")
	t.Setenv("DB_USER", "backup")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("S3_UPLOAD_ENABLED", "true")

	require.NoError(t, LoadConfiguration())

	err := ValidateConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, backuperr.ErrConfig))
	assert.Contains(t, err.Error(), "S3 bucket")
}

func TestInvalidDurationRejected(t *testing.T) {
	resetConfig(t)

	t.Setenv("TABLE_TIMEOUT", "soon")

	err := LoadConfiguration()
	require.Error(t, err)
	assert.True(t, errors.Is(err, backuperr.ErrConfig))
}
