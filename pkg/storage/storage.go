// Package storage defines upload targets for completed backup files.
package storage

import (
	"context"

	"github.com/supporttools/TableVault/pkg/config"
	s3store "github.com/supporttools/TableVault/pkg/storage/s3"
)

// Store uploads a finished local file under a key.
type Store interface {
	Name() string
	Upload(ctx context.Context, localPath, key string) error
}

// FromConfig builds the configured upload targets. The local output directory
// is not a Store; table files are written there directly by the exporter.
func FromConfig(ctx context.Context, cfg *config.AppConfig) ([]Store, error) {
	var stores []Store

	if cfg.S3.Enabled {
		client, err := s3store.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		stores = append(stores, client)
	}

	return stores, nil
}
