package migrate

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	PoolVersionsTableName = "pool_versions"
	PoolVersionsVersion   = "20250901000000_pool_versions_table"

	// PurposeTag marks tables created by this migration.
	PurposeTag   = "Purpose"
	PurposeValue = "PlacementMapVersions"
)

// CreatePoolVersionsTable creates the table holding the latest published
// map version of every pool.
type CreatePoolVersionsTable struct {
	// Name overrides PoolVersionsTableName.
	Name string
}

func (m *CreatePoolVersionsTable) Version() string {
	return PoolVersionsVersion
}

func (m *CreatePoolVersionsTable) TableName() string {
	if m.Name == "" {
		return PoolVersionsTableName
	}
	return m.Name
}

func (m *CreatePoolVersionsTable) Up(ctx context.Context, client *dynamodb.Client) error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("pool"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("pool"),
				KeyType:       types.KeyTypeHash, // Partition Key
			},
		},
		TableName:   aws.String(m.TableName()),
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{
				Key:   aws.String(PurposeTag),
				Value: aws.String(PurposeValue),
			},
		},
	}

	if _, err := client.CreateTable(ctx, input); err != nil {
		return err
	}

	// Wait for table to become active
	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(m.TableName()),
	}, 5*time.Minute)
}

func (m *CreatePoolVersionsTable) Down(ctx context.Context, client *dynamodb.Client) error {
	input := &dynamodb.DeleteTableInput{
		TableName: aws.String(m.TableName()),
	}

	_, err := client.DeleteTable(ctx, input)
	return err
}
