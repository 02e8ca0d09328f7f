package objectstore_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/repository/objectstore"
)

func TestParseBucketConfig(t *testing.T) {
	tests := []struct {
		in      string
		want    objectstore.BucketConfig
		wantErr bool
	}{
		{in: "mem://", want: objectstore.BucketConfig{Type: objectstore.MemoryType}},
		{in: "s3://shards", want: objectstore.BucketConfig{Name: "shards", Type: objectstore.S3Type}},
		{in: " gs://shards ", want: objectstore.BucketConfig{Name: "shards", Type: objectstore.GCSType}},
		{in: "s3:shards", want: objectstore.BucketConfig{Name: "shards", Type: objectstore.S3Type}},
		{in: "shards", want: objectstore.BucketConfig{Name: "shards", Type: objectstore.S3Type}},
		{in: "s3://", wantErr: true},
		{in: "ftp://shards", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := objectstore.ParseBucketConfig(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateStore(t *testing.T) {
	f := objectstore.NewTargetStoreFactory(aws.Config{Region: "us-east-1"}, nil)

	store, err := f.CreateStore(objectstore.BucketConfig{Type: objectstore.MemoryType})
	require.NoError(t, err)
	assert.Equal(t, "mem", store.StorageType())

	store, err = f.CreateStore(objectstore.BucketConfig{Name: "shards", Type: objectstore.S3Type})
	require.NoError(t, err)
	assert.Equal(t, "s3", store.StorageType())

	_, err = f.CreateStore(objectstore.BucketConfig{Name: "shards", Type: objectstore.GCSType})
	assert.Error(t, err)

	_, err = f.CreateStore(objectstore.BucketConfig{Name: "shards", Type: "azure"})
	assert.Error(t, err)
}

func TestSharedMemoryStore(t *testing.T) {
	ctx := context.Background()
	f := objectstore.NewTargetStoreFactory(aws.Config{}, nil)

	first, err := f.CreateStore(objectstore.BucketConfig{Name: "shared-test", Type: objectstore.MemoryType})
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, 3, "k", strings.NewReader("v")))

	second, err := f.CreateStore(objectstore.BucketConfig{Name: "shared-test", Type: objectstore.MemoryType})
	require.NoError(t, err)
	rc, err := second.Get(ctx, 3, "k")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))

	anon, err := f.CreateStore(objectstore.BucketConfig{Type: objectstore.MemoryType})
	require.NoError(t, err)
	_, err = anon.Get(ctx, 3, "k")
	assert.ErrorIs(t, err, zerrors.ErrShardNotFound)
}

func TestTargetKey(t *testing.T) {
	assert.Equal(t, "targets/12/pool/1.2/0", objectstore.TargetKey(12, "pool/1.2/0"))
}

func TestMemoryTargetStore(t *testing.T) {
	ctx := context.Background()
	s := objectstore.NewMemoryTargetStore()

	require.NoError(t, s.Put(ctx, 1, "a", strings.NewReader("one")))
	require.NoError(t, s.Put(ctx, 2, "a", strings.NewReader("two")))
	assert.Equal(t, 2, s.Len())

	rc, err := s.Get(ctx, 1, "a")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	_, err = s.Get(ctx, 3, "a")
	assert.ErrorIs(t, err, zerrors.ErrShardNotFound)

	s.SetOffline(2, true)
	_, err = s.Get(ctx, 2, "a")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, zerrors.ErrShardNotFound)
	assert.Error(t, s.Put(ctx, 2, "b", strings.NewReader("x")))

	s.SetOffline(2, false)
	require.NoError(t, s.Delete(ctx, 2, "a"))
	assert.False(t, s.Has(2, "a"))
	assert.True(t, s.Has(1, "a"))
}
