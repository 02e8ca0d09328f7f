package db

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

type versionStore interface {
	LoadVersion(ctx context.Context, pool string) (uint64, error)
	SaveVersion(ctx context.Context, pool string, version uint64) error
	ListVersions(ctx context.Context) (map[string]uint64, error)
}

// fakeDynamo evaluates the single condition expression SaveVersion uses.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key["pool"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Item["pool"].(*types.AttributeValueMemberS).Value
	if old, ok := f.items[key]; ok && in.ConditionExpression != nil {
		proposed := in.ExpressionAttributeValues[":version"].(*types.AttributeValueMemberN).Value
		if number(old["version"]) >= mustUint(proposed) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func number(av types.AttributeValue) uint64 {
	return mustUint(av.(*types.AttributeValueMemberN).Value)
}

func mustUint(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		panic(err)
	}
	return n
}

func stores(t *testing.T) map[string]versionStore {
	bolt, err := NewBoltVersionRepository(filepath.Join(t.TempDir(), "versions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	dynamo := NewVersionRepository(newFakeDynamo(), "pool_versions")
	return map[string]versionStore{
		"bolt":   bolt,
		"memory": NewMemoryVersionRepository(),
		"dynamo": &dynamo,
	}
}

func TestVersionStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			v, err := store.LoadVersion(ctx, "tank")
			require.NoError(t, err)
			assert.Zero(t, v)

			require.NoError(t, store.SaveVersion(ctx, "tank", 3))
			require.NoError(t, store.SaveVersion(ctx, "tank", 5))
			require.NoError(t, store.SaveVersion(ctx, "pond", 1))

			for _, stale := range []uint64{5, 4} {
				err := store.SaveVersion(ctx, "tank", stale)
				require.ErrorIs(t, err, zerrors.ErrStaleVersion)

				var sve *zerrors.StaleVersionError
				require.ErrorAs(t, err, &sve)
				assert.Equal(t, uint64(5), sve.Current)
				assert.Equal(t, stale, sve.Proposed)
			}

			v, err = store.LoadVersion(ctx, "tank")
			require.NoError(t, err)
			assert.Equal(t, uint64(5), v)

			all, err := store.ListVersions(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]uint64{"tank": 5, "pond": 1}, all)
		})
	}
}

func TestBoltVersionsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "versions.db")

	repo, err := NewBoltVersionRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.SaveVersion(ctx, "tank", 9))
	require.NoError(t, repo.Close())

	repo, err = NewBoltVersionRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	v, err := repo.LoadVersion(ctx, "tank")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v)
	assert.ErrorIs(t, repo.SaveVersion(ctx, "tank", 9), zerrors.ErrStaleVersion)
}

func TestTableNameFromARN(t *testing.T) {
	assert.Equal(t, "pool_versions", tableNameFromARN("arn:aws:dynamodb:us-east-1:123456789012:table/pool_versions"))
	assert.Equal(t, "plain", tableNameFromARN("plain"))
}
