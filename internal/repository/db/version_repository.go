package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// DynamoAPI is the part of the DynamoDB client the version repository uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type poolVersionRecord struct {
	Pool      string    `dynamodbav:"pool"`
	Version   uint64    `dynamodbav:"version"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// VersionRepository stores the latest published map version of each pool in
// DynamoDB. Writes are conditional, so concurrent publishers on different
// nodes can never move a pool's version backwards.
type VersionRepository struct {
	client    DynamoAPI
	tableName string
}

// NewVersionRepository initializes a new VersionRepository.
func NewVersionRepository(client DynamoAPI, tableName string) VersionRepository {
	return VersionRepository{
		client:    client,
		tableName: tableName,
	}
}

// LoadVersion returns the persisted version of pool, or zero if none.
func (repo *VersionRepository) LoadVersion(ctx context.Context, pool string) (uint64, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"pool": &types.AttributeValueMemberS{Value: pool},
		},
		ConsistentRead: aws.Bool(true),
	}

	result, err := repo.client.GetItem(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to get version of pool %s: %w", pool, err)
	}
	if result.Item == nil {
		return 0, nil
	}

	var record poolVersionRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return 0, fmt.Errorf("failed to unmarshal version record: %w", err)
	}
	return record.Version, nil
}

// SaveVersion records version for pool. It fails with a StaleVersionError
// when the stored version is not lower.
func (repo *VersionRepository) SaveVersion(ctx context.Context, pool string, version uint64) error {
	item, err := attributevalue.MarshalMap(poolVersionRecord{
		Pool:      pool,
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal version record: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(repo.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pool) OR #version < :version"),
		ExpressionAttributeNames: map[string]string{
			"#pool":    "pool",
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
		},
	}

	if _, err := repo.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			current, _ := repo.LoadVersion(ctx, pool)
			return &zerrors.StaleVersionError{Pool: pool, Current: current, Proposed: version}
		}
		return fmt.Errorf("failed to save version of pool %s: %w", pool, err)
	}
	return nil
}

// ListVersions returns every persisted pool version.
func (repo *VersionRepository) ListVersions(ctx context.Context) (map[string]uint64, error) {
	out := make(map[string]uint64)
	paginator := dynamodb.NewScanPaginator(repo.client, &dynamodb.ScanInput{
		TableName: aws.String(repo.tableName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool versions: %w", err)
		}

		var records []poolVersionRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &records); err != nil {
			return nil, fmt.Errorf("failed to unmarshal version records: %w", err)
		}
		for _, r := range records {
			out[r.Pool] = r.Version
		}
	}
	return out, nil
}
