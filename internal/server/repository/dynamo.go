package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// skIndexName is the global secondary index inverting (pk, sk). It is the
// only way to find which account partition owns a token row.
const skIndexName = "sk_gsi"

// transactLimit is the DynamoDB cap on actions per TransactWriteItems call.
const transactLimit = 100

// dynamoKeyspace stores the keyspace in one DynamoDB table with a string
// partition key "pk", a string sort key "sk" and the sk_gsi reverse index.
type dynamoKeyspace struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoDBBackend returns a Backend over the given DynamoDB table. The
// table must have the layout created by EnsureTable.
func NewDynamoDBBackend(client *dynamodb.Client, table string) Backend {
	return newStore(&dynamoKeyspace{client: client, table: table})
}

// EnsureTable creates the registry table and its reverse index when they do
// not exist yet, and waits until the table is active.
func EnsureTable(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %q: %w", table, err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(skIndexName),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("sk"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("pk"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create table %q: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %q: %w", table, err)
	}
	return nil
}

func keyAttributes(key RecordKey) map[string]types.AttributeValue {
	pk, sk := key.Encode()
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

func (d *dynamoKeyspace) Get(ctx context.Context, key RecordKey) (*record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key:       keyAttributes(key),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func (d *dynamoKeyspace) Put(ctx context.Context, rec record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}
	return nil
}

func (d *dynamoKeyspace) Delete(ctx context.Context, key RecordKey) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       keyAttributes(key),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}
	return nil
}

func (d *dynamoKeyspace) QueryPartition(ctx context.Context, pk, skPrefix string) ([]record, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if skPrefix != "" {
		input.KeyConditionExpression = aws.String("pk = :pk AND begins_with(sk, :sk)")
		input.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	return d.queryAll(ctx, input)
}

func (d *dynamoKeyspace) QueryBySort(ctx context.Context, sk string) ([]record, error) {
	return d.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(skIndexName),
		KeyConditionExpression: aws.String("sk = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sk": &types.AttributeValueMemberS{Value: sk},
		},
	})
}

func (d *dynamoKeyspace) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]record, error) {
	var out []record

	paginator := dynamodb.NewQueryPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb query: %w", err)
		}

		var recs []record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal records: %w", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (d *dynamoKeyspace) ScanProjectHeaders(ctx context.Context) ([]record, error) {
	// ACL rows of a project partition carry an "account#" sort key, so
	// filtering both key halves on the project prefix leaves only headers.
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.table),
		FilterExpression: aws.String("begins_with(pk, :p) AND begins_with(sk, :p)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: projectPrefix},
		},
	}

	var out []record
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}

		var recs []record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal records: %w", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (d *dynamoKeyspace) WriteBatch(ctx context.Context, puts []record, deletes []RecordKey) error {
	actions := make([]types.TransactWriteItem, 0, len(puts)+len(deletes))

	for _, rec := range puts {
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		actions = append(actions, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(d.table), Item: item},
		})
	}
	for _, key := range deletes {
		actions = append(actions, types.TransactWriteItem{
			Delete: &types.Delete{TableName: aws.String(d.table), Key: keyAttributes(key)},
		})
	}

	// TransactWriteItems caps at 100 actions; larger batches (huge ACL
	// deltas) degrade to sequential transactions.
	for start := 0; start < len(actions); start += transactLimit {
		end := min(start+transactLimit, len(actions))
		_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: actions[start:end],
		})
		if err != nil {
			return fmt.Errorf("dynamodb transact write: %w", err)
		}
	}
	return nil
}
