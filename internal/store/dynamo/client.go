// Package dynamo is the generic DynamoDB access layer underneath the
// store gateway, adapted from the teacher's internal/database package.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrNotFound is returned by GetItem when the key has no matching row.
var ErrNotFound = errors.New("dynamo: item not found")

// ErrConditionFailed surfaces DynamoDB's ConditionalCheckFailedException so
// callers can distinguish "someone beat us to it" from other write errors.
var ErrConditionFailed = errors.New("dynamo: conditional check failed")

type Client struct {
	svc *dynamodb.Client
}

// Options configures the client from the store DSN the way the teacher's
// internal/env configures AWS credentials and an optional local endpoint.
type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string
}

func New(ctx context.Context, opts Options) (*Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
				opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken,
			)),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}

	return &Client{svc: dynamodb.NewFromConfig(cfg, clientOpts...)}, nil
}

func (c *Client) PutItem(ctx context.Context, table string, item interface{}) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put item %s: %w", table, err)
	}
	return nil
}

// PutItemIfNotExists performs a conditional put that fails with
// ErrConditionFailed if an item with the same partition key already
// exists. It backs the find-or-create-within-transaction primitive spec.md
// §9 calls for around unique DIRECT conversations.
func (c *Client) PutItemIfNotExists(ctx context.Context, table string, item interface{}, pkField string) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                av,
		ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s)", pkField)),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConditionFailed
		}
		return fmt.Errorf("put item if not exists %s: %w", table, err)
	}
	return nil
}

func (c *Client) GetItem(ctx context.Context, table string, key map[string]types.AttributeValue, out interface{}) error {
	res, err := c.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("get item %s: %w", table, err)
	}
	if res.Item == nil {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal item: %w", err)
	}
	return nil
}

func (c *Client) UpdateItem(
	ctx context.Context,
	table string,
	key map[string]types.AttributeValue,
	updateExpr string,
	exprValues map[string]types.AttributeValue,
	exprNames map[string]string,
) error {
	_, err := c.svc.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeValues: exprValues,
		ExpressionAttributeNames:  exprNames,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return fmt.Errorf("update item %s: %w", table, err)
	}
	return nil
}

func (c *Client) DeleteItem(ctx context.Context, table string, key map[string]types.AttributeValue) error {
	_, err := c.svc.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("delete item %s: %w", table, err)
	}
	return nil
}

func (c *Client) QueryItems(
	ctx context.Context,
	table string,
	indexName *string,
	keyCondExpr string,
	exprValues map[string]types.AttributeValue,
	exprNames map[string]string,
	scanIndexForward *bool,
) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    aws.String(keyCondExpr),
		ExpressionAttributeValues: exprValues,
	}
	if indexName != nil {
		input.IndexName = indexName
	}
	if exprNames != nil {
		input.ExpressionAttributeNames = exprNames
	}
	if scanIndexForward != nil {
		input.ScanIndexForward = aws.Bool(*scanIndexForward)
	}

	out, err := c.svc.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query %s[%s]: %w", table, aws.ToString(indexName), err)
	}
	return out.Items, nil
}

// QueryAll pages through a full query, handling ExclusiveStartKey
// internally, the way the teacher's QueryAll does.
func (c *Client) QueryAll(
	ctx context.Context,
	table string,
	indexName *string,
	keyCondExpr string,
	exprValues map[string]types.AttributeValue,
) ([]map[string]types.AttributeValue, error) {
	var all []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(table),
			KeyConditionExpression:    aws.String(keyCondExpr),
			ExpressionAttributeValues: exprValues,
		}
		if indexName != nil {
			input.IndexName = indexName
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		out, err := c.svc.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query all %s[%s]: %w", table, aws.ToString(indexName), err)
		}

		all = append(all, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		lastKey = out.LastEvaluatedKey
	}

	return all, nil
}

// Ping probes connectivity with a cheap, always-available call, the
// way the teacher's health check pings its database connection pool.
// ListTables with a limit of 1 costs nothing to run against a live
// table set and fails fast if DynamoDB is unreachable or misconfigured.
func (c *Client) Ping(ctx context.Context) error {
	limit := int32(1)
	_, err := c.svc.ListTables(ctx, &dynamodb.ListTablesInput{Limit: &limit})
	if err != nil {
		return fmt.Errorf("dynamo ping: %w", err)
	}
	return nil
}

func (c *Client) ScanItems(
	ctx context.Context,
	table string,
	filterExpr string,
	exprValues map[string]types.AttributeValue,
	exprNames map[string]string,
) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(table),
	}
	if filterExpr != "" {
		input.FilterExpression = aws.String(filterExpr)
		input.ExpressionAttributeValues = exprValues
	}
	if exprNames != nil {
		input.ExpressionAttributeNames = exprNames
	}

	out, err := c.svc.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return out.Items, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

func IsIndexNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index") && strings.Contains(msg, "not") && strings.Contains(msg, "found")
}

func AttrString(value string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: value}
}
