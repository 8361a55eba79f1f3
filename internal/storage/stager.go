// Package storage stages binary assets through the configured cloud storage
// provider and streams job results to local disk.
package storage

import (
	"context"
	"time"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
)

// Entry is one file found by List.
type Entry struct {
	Name string
	Path string
	Size int64
}

// Stager uploads and downloads files addressed by a provider path and issues
// short-lived links the remote services read from or write to. Links must
// not be cached across runs.
type Stager interface {
	// Kind is the storage value used in job input and output descriptors.
	Kind() domain.StorageKind
	Upload(ctx context.Context, localPath, remotePath string) (domain.AssetReference, error)
	Download(ctx context.Context, remotePath, dst string) (Checksum, error)
	ReadLink(ctx context.Context, remotePath string) (string, error)
	WriteLink(ctx context.Context, remotePath string) (string, error)
	List(ctx context.Context, folder string) ([]Entry, error)
}

// New selects the stager named by STORAGE_PROVIDER.
func New(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (Stager, error) {
	if err := cfg.RequireStorage(); err != nil {
		return nil, err
	}
	if cfg.StorageProvider == "s3" {
		return NewS3Stager(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			LinkExpiry:      cfg.LinkExpiry,
			Logger:          logger,
		})
	}
	return NewDropboxStager(ctx, DropboxOptions{
		AppKey:       cfg.DropboxAppKey,
		AppSecret:    cfg.DropboxAppSecret,
		RefreshToken: cfg.DropboxRefreshToken,
		LinkExpiry:   cfg.LinkExpiry,
		Logger:       logger,
	}), nil
}

func clampExpiry(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
