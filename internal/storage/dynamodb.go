package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/cyderes/tweet-ingest/internal/config"
	"github.com/cyderes/tweet-ingest/internal/models"
)

const dynamoKey = "filename"

// DynamoLedger implements Ledger using an AWS DynamoDB table keyed by filename
type DynamoLedger struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoLedger creates a DynamoDB ledger, creating the table if needed
func NewDynamoLedger(cfg config.LedgerConfig) (*DynamoLedger, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	ledger := newDynamoLedger(dynamodb.New(sess), cfg.TableName)
	if err := ledger.ensureTable(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}
	return ledger, nil
}

func newDynamoLedger(client dynamodbiface.DynamoDBAPI, tableName string) *DynamoLedger {
	return &DynamoLedger{client: client, tableName: tableName}
}

// ensureTable creates the checkpoint table if it doesn't exist
func (d *DynamoLedger) ensureTable(ctx context.Context) error {
	describe := &dynamodb.DescribeTableInput{TableName: aws.String(d.tableName)}
	if _, err := d.client.DescribeTableWithContext(ctx, describe); err == nil {
		return nil
	}

	_, err := d.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(dynamoKey),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(dynamoKey),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExistsWithContext(ctx, describe)
}

// IsProcessed reports whether a checkpoint item exists for filename
func (d *DynamoLedger) IsProcessed(ctx context.Context, filename string) (bool, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			dynamoKey: {S: aws.String(filename)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get checkpoint for %s: %w", filename, err)
	}
	return result.Item != nil, nil
}

// MarkProcessed puts the checkpoint only if none exists for the filename
func (d *DynamoLedger) MarkProcessed(ctx context.Context, record models.CheckpointRecord) error {
	item, err := dynamodbattribute.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint for %s: %w", record.Filename, err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + dynamoKey + ")"),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return fmt.Errorf("%w: %s", ErrAlreadyProcessed, record.Filename)
		}
		return fmt.Errorf("failed to store checkpoint for %s: %w", record.Filename, err)
	}
	return nil
}

// List scans the whole table and returns checkpoints ordered by filename
func (d *DynamoLedger) List(ctx context.Context) ([]models.CheckpointRecord, error) {
	var records []models.CheckpointRecord
	input := &dynamodb.ScanInput{TableName: aws.String(d.tableName)}

	for {
		result, err := d.client.ScanWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoints: %w", err)
		}

		var page []models.CheckpointRecord
		if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoints: %w", err)
		}
		records = append(records, page...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
	return records, nil
}

// Close closes the DynamoDB connection
func (d *DynamoLedger) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
