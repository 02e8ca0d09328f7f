// Package objectstore provides the target stores that hold object shards
// and a factory that builds them from a backend URI.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/zhangyunhao116/skipmap"

	"github.com/zzenonn/zplace/internal/domain"
)

// TargetStore sends shard bytes to a storage target and reads them back.
// Get returns an error wrapping ErrShardNotFound when the target holds no
// such shard.
type TargetStore interface {
	Put(ctx context.Context, target domain.TargetID, key string, r io.Reader) error
	Get(ctx context.Context, target domain.TargetID, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, target domain.TargetID, key string) error
	StorageType() string
}

// RepositoryType represents the backend of a target store
type RepositoryType string

const (
	MemoryType RepositoryType = "mem"
	S3Type     RepositoryType = "s3"
	GCSType    RepositoryType = "gcs"
)

// BucketConfig holds configuration for a storage bucket
type BucketConfig struct {
	Name string
	Type RepositoryType
}

// TargetKey is the object key a shard is stored under. Every target owns a
// prefix inside the shared bucket.
func TargetKey(target domain.TargetID, key string) string {
	return path.Join("targets", strconv.FormatUint(uint64(target), 10), key)
}

// namedMemoryStores holds the mem://name stores of this process.
var namedMemoryStores = skipmap.NewFunc[string, *MemoryTargetStore](func(a, b string) bool {
	return a < b
})

// SharedMemoryTargetStore returns the process-wide memory store called
// name, creating it on first use.
func SharedMemoryTargetStore(name string) *MemoryTargetStore {
	store, _ := namedMemoryStores.LoadOrStore(name, NewMemoryTargetStore())
	return store
}

// TargetStoreFactory creates target store instances
type TargetStoreFactory struct {
	awsConfig aws.Config
	gcsClient *storage.Client
}

// NewTargetStoreFactory creates a new factory. gcsClient may be nil when no
// GCS bucket is used.
func NewTargetStoreFactory(awsConfig aws.Config, gcsClient *storage.Client) *TargetStoreFactory {
	return &TargetStoreFactory{
		awsConfig: awsConfig,
		gcsClient: gcsClient,
	}
}

// CreateStore creates a target store based on bucket configuration
func (f *TargetStoreFactory) CreateStore(config BucketConfig) (TargetStore, error) {
	switch config.Type {
	case MemoryType:
		if config.Name == "" {
			return NewMemoryTargetStore(), nil
		}
		return SharedMemoryTargetStore(config.Name), nil
	case S3Type:
		client := s3.NewFromConfig(f.awsConfig)
		return NewS3TargetStore(client, config.Name), nil
	case GCSType:
		if f.gcsClient == nil {
			return nil, fmt.Errorf("GCS client not configured")
		}
		return NewGCSTargetStore(f.gcsClient, config.Name), nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", config.Type)
	}
}

// ParseBucketConfig parses a target backend from string
// Formats: "mem://", "mem://name" (shared within the process), "s3://bucket-name", "gs://bucket-name", "s3:bucket-name", or "bucket-name" (defaults to S3)
func ParseBucketConfig(bucketStr string) (BucketConfig, error) {
	bucketStr = strings.TrimSpace(bucketStr)
	if bucketStr == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}

	// Handle URI format (mem://, s3://, gs://)
	if scheme, bucketName, ok := strings.Cut(bucketStr, "://"); ok {
		scheme = strings.ToLower(strings.TrimSpace(scheme))
		bucketName = strings.TrimSpace(bucketName)

		var repoType RepositoryType
		switch scheme {
		case "mem":
			return BucketConfig{Name: bucketName, Type: MemoryType}, nil
		case "s3":
			repoType = S3Type
		case "gs":
			repoType = GCSType
		default:
			return BucketConfig{}, fmt.Errorf("unsupported scheme: %s", scheme)
		}

		if bucketName == "" {
			return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
		}
		return BucketConfig{
			Name: bucketName,
			Type: repoType,
		}, nil
	}

	// Handle colon format (s3:bucket-name)
	kind, bucketName, ok := strings.Cut(bucketStr, ":")
	if !ok {
		// Default to S3 for backward compatibility
		return BucketConfig{
			Name: bucketStr,
			Type: S3Type,
		}, nil
	}

	bucketName = strings.TrimSpace(bucketName)
	if bucketName == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}

	return BucketConfig{
		Name: bucketName,
		Type: RepositoryType(strings.ToLower(strings.TrimSpace(kind))),
	}, nil
}
