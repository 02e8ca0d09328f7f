package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// S3TargetStore keeps every target under its own prefix of one S3 bucket.
type S3TargetStore struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucketName string
}

// NewS3TargetStore initializes a new S3TargetStore.
func NewS3TargetStore(client *s3.Client, bucketName string) *S3TargetStore {
	return &S3TargetStore{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucketName: bucketName,
	}
}

// GetBucketName returns the bucket name.
func (r *S3TargetStore) GetBucketName() string {
	return r.bucketName
}

// StorageType returns the object store type.
func (r *S3TargetStore) StorageType() string {
	return string(S3Type)
}

// Put uploads a shard to the target's prefix
func (r *S3TargetStore) Put(ctx context.Context, target domain.TargetID, key string, reader io.Reader) error {
	objectKey := TargetKey(target, key)
	log.Debugf("Uploading shard to s3://%s/%s", r.bucketName, objectKey)

	_, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(objectKey),
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Get downloads a shard from the target's prefix
func (r *S3TargetStore) Get(ctx context.Context, target domain.TargetID, key string) (io.ReadCloser, error) {
	objectKey := TargetKey(target, key)

	buf := manager.NewWriteAtBuffer(nil)
	_, err := r.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", zerrors.ErrShardNotFound, r.bucketName, objectKey)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// Delete removes a shard from the target's prefix
func (r *S3TargetStore) Delete(ctx context.Context, target domain.TargetID, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(TargetKey(target, key)),
	})
	return err
}

// DeletePrefix removes all shards with the given prefix from S3
func (r *S3TargetStore) DeletePrefix(ctx context.Context, prefix string) error {
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucketName),
		Prefix: aws.String(prefix),
	}

	paginator := s3.NewListObjectsV2Paginator(r.client, listInput)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if _, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(r.bucketName),
				Key:    obj.Key,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
