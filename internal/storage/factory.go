package storage

import (
	"strings"

	"github.com/timmy/planmail/internal/config"
)

// NewStorage builds the ObjectStorage selected by cfg.Type.
// "minio" uses the MinIO client and "memory" keeps objects in process;
// everything else goes through the S3 SDK, with the flavour auto-detected
// from the endpoint when Type is empty.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	if strings.EqualFold(cfg.Type, "memory") {
		return NewMemoryStorage(), nil
	}
	if strings.EqualFold(cfg.Type, "minio") {
		return NewMinIOStorage(&MinIOConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		})
	}

	storeType := StorageType(strings.ToLower(cfg.Type))
	if storeType == "" {
		storeType = detectStorageType(cfg.Endpoint)
	}
	return NewS3Storage(&S3Config{
		Type:      storeType,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
	})
}

// detectStorageType guesses the S3 flavour from the endpoint host
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
