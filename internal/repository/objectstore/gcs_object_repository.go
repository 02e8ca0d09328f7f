package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// GCSTargetStore implements TargetStore for Google Cloud Storage
type GCSTargetStore struct {
	client     *storage.Client
	bucketName string
}

// NewGCSTargetStore creates a new GCS target store
func NewGCSTargetStore(client *storage.Client, bucketName string) *GCSTargetStore {
	return &GCSTargetStore{
		client:     client,
		bucketName: bucketName,
	}
}

// Put uploads a shard to GCS
func (r *GCSTargetStore) Put(ctx context.Context, target domain.TargetID, key string, reader io.Reader) error {
	objectKey := TargetKey(target, key)
	log.Debugf("Uploading shard to gs://%s/%s", r.bucketName, objectKey)

	writer := r.client.Bucket(r.bucketName).Object(objectKey).NewWriter(ctx)
	if _, err := io.Copy(writer, reader); err != nil {
		writer.Close()
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}
	return nil
}

// Get downloads a shard from GCS
func (r *GCSTargetStore) Get(ctx context.Context, target domain.TargetID, key string) (io.ReadCloser, error) {
	objectKey := TargetKey(target, key)

	reader, err := r.client.Bucket(r.bucketName).Object(objectKey).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", zerrors.ErrShardNotFound, r.bucketName, objectKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return reader, nil
}

// Delete deletes a shard from GCS
func (r *GCSTargetStore) Delete(ctx context.Context, target domain.TargetID, key string) error {
	err := r.client.Bucket(r.bucketName).Object(TargetKey(target, key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// DeletePrefix deletes all shards with the given prefix from GCS
func (r *GCSTargetStore) DeletePrefix(ctx context.Context, prefix string) error {
	bucket := r.client.Bucket(r.bucketName)

	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil {
			log.Warnf("Failed to delete object %s: %v", attrs.Name, err)
		}
	}

	return nil
}

// GetBucketName returns the bucket name
func (r *GCSTargetStore) GetBucketName() string {
	return r.bucketName
}

// StorageType returns the storage type
func (r *GCSTargetStore) StorageType() string {
	return string(GCSType)
}
