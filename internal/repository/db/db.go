package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	taggingtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/repository/migrate"
)

type DynamoDb struct {
	Client        *dynamodb.Client
	TaggingClient *resourcegroupstaggingapi.Client
}

func NewDatabase(awsConfig aws.Config) (*DynamoDb, error) {
	client := dynamodb.NewFromConfig(awsConfig)
	if client == nil {
		return nil, fmt.Errorf("failed to create DynamoDB client")
	}

	taggingClient := resourcegroupstaggingapi.NewFromConfig(awsConfig)
	if taggingClient == nil {
		return nil, fmt.Errorf("failed to create Resource Groups Tagging API client")
	}

	return &DynamoDb{
		Client:        client,
		TaggingClient: taggingClient,
	}, nil
}

// MigrateDb creates the pool version table unless a table with that name
// already carries the migration's purpose tag.
func (d *DynamoDb) MigrateDb(ctx context.Context, tableName string) error {
	m := &migrate.CreatePoolVersionsTable{Name: tableName}

	existing, err := d.FindTaggedTables(ctx, migrate.PurposeTag, migrate.PurposeValue)
	if err != nil {
		log.Warnf("Could not list tagged tables, creating %s anyway: %v", m.TableName(), err)
	} else if slices.Contains(existing, m.TableName()) {
		log.Infof("Table %s already exists", m.TableName())
		return nil
	}

	log.WithFields(log.Fields{
		"table":     m.TableName(),
		"migration": m.Version(),
	}).Info("Applying migration")
	if err := m.Up(ctx, d.Client); err != nil {
		return fmt.Errorf("failed to apply %s: %w", m.Version(), err)
	}
	return nil
}

// MigrateDown drops the pool version table.
func (d *DynamoDb) MigrateDown(ctx context.Context, tableName string) error {
	m := &migrate.CreatePoolVersionsTable{Name: tableName}
	if err := m.Down(ctx, d.Client); err != nil {
		return fmt.Errorf("failed to roll back %s: %w", m.Version(), err)
	}
	return nil
}

// FindTaggedTables returns the names of the DynamoDB tables tagged key=value.
func (d *DynamoDb) FindTaggedTables(ctx context.Context, key, value string) ([]string, error) {
	input := &resourcegroupstaggingapi.GetResourcesInput{
		ResourceTypeFilters: []string{"dynamodb:table"},
		TagFilters: []taggingtypes.TagFilter{
			{Key: aws.String(key), Values: []string{value}},
		},
	}

	var tables []string
	paginator := resourcegroupstaggingapi.NewGetResourcesPaginator(d.TaggingClient, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tagged tables: %w", err)
		}
		for _, res := range page.ResourceTagMappingList {
			tables = append(tables, tableNameFromARN(aws.ToString(res.ResourceARN)))
		}
	}
	return tables, nil
}

// tableNameFromARN extracts "name" from arn:aws:dynamodb:region:acct:table/name.
func tableNameFromARN(arn string) string {
	_, name, found := strings.Cut(arn, ":table/")
	if !found {
		return arn
	}
	return name
}
