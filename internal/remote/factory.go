package remote

import (
	"context"
	"fmt"

	"cubeo/internal/config"
)

// NewCorpusFromConfig creates a Corpus implementation based on the remote config type.
func NewCorpusFromConfig(ctx context.Context, cfg config.RemoteConfig) (Corpus, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCorpus(), nil
	case "s3":
		c, err := NewS3Corpus(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PollInterval:    cfg.PollInterval,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem remote requires fs_root to be set")
		}
		c, err := NewFileSystemCorpus(cfg.FSRoot, cfg.PollInterval)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
