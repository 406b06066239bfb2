package storage

import (
	"fmt"
	"strings"

	"github.com/timmy/kmap/internal/config"
)

// NewStorage creates an ObjectStorage from the storage section of the config.
// Returns nil without error when no endpoint or bucket is configured, so
// s3:// sources are rejected at fetch time instead of at startup.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	if cfg == nil || (cfg.Endpoint == "" && cfg.Bucket == "") {
		return nil, nil
	}

	s3cfg := &S3Config{
		Type:      StorageType(strings.ToLower(cfg.Type)),
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
	}
	// Auto-detect storage type if not specified
	if s3cfg.Type == "" || s3cfg.Type == "auto" {
		s3cfg.Type = detectStorageType(cfg.Endpoint)
	}

	switch s3cfg.Type {
	case StorageTypeS3, StorageTypeR2, StorageTypeS3Compatible:
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
	return NewS3Storage(s3cfg)
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}

// ParseURL splits s3://bucket/key. The bucket may be empty (s3:///key).
func ParseURL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url %q has no object key", raw)
	}
	return bucket, key, nil
}
