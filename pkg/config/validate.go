package config

import (
	"github.com/pkg/errors"

	"github.com/supporttools/TableVault/pkg/backuperr"
)

// ValidateConfig validates the configuration. All violations are reported as
// configuration errors so the caller can fail fast before any table work.
func ValidateConfig() error {
	if CFG.Database.Host == "" {
		return errors.Wrap(backuperr.ErrConfig, "database host is required")
	}
	if CFG.Database.Database == "" {
		return errors.Wrap(backuperr.ErrConfig, "database name is required")
	}
	if CFG.Database.Username == "" {
		return errors.Wrap(backuperr.ErrConfig, "database username is required")
	}
	if CFG.Database.Password == "" {
		return errors.Wrap(backuperr.ErrConfig, "database password is required")
	}

	if CFG.Backup.MaxConnections < 1 {
		return errors.Wrap(backuperr.ErrConfig, "maxConnections must be at least 1")
	}
	if CFG.Backup.MaxConcurrentDownloads < 1 {
		return errors.Wrap(backuperr.ErrConfig, "maxConcurrentDownloads must be at least 1")
	}
	if CFG.Backup.ChunkSize < 1 {
		return errors.Wrap(backuperr.ErrConfig, "chunkSize must be at least 1")
	}

	if CFG.S3.Enabled {
		if CFG.S3.Bucket == "" {
			return errors.Wrap(backuperr.ErrConfig, "S3 bucket must be specified when S3 upload is enabled")
		}
		if CFG.S3.Region == "" {
			return errors.Wrap(backuperr.ErrConfig, "S3 region must be specified when S3 upload is enabled")
		}
		if CFG.S3.AccessKey == "" || CFG.S3.SecretKey == "" {
			return errors.Wrap(backuperr.ErrConfig, "S3 access key and secret key must be specified when S3 upload is enabled")
		}
	}

	return nil
}
