package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-relay/internal/domain"
)

const (
	pkPrefixReq = "REQ#"
	skPrefixJob = "JOB#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table used as an append-only job ledger.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func reqPK(requestID string) string {
	return pkPrefixReq + requestID
}

func jobSK(jobID string) string {
	if jobID == "" {
		return skPrefixJob + "none"
	}
	return skPrefixJob + jobID
}

// RecordJob stamps keys, creation time and TTL onto rec and writes it.
// Records are never overwritten.
func (c *Client) RecordJob(ctx context.Context, rec domain.JobRecord) error {
	if strings.TrimSpace(rec.RequestID) == "" {
		return errors.New("repository: RecordJob: request id is required")
	}
	now := c.now().UTC()
	rec.PK = reqPK(rec.RequestID)
	rec.SK = jobSK(rec.JobID)
	rec.CreatedAt = now.Format(time.RFC3339)
	rec.TTL = now.Add(ttlDuration).Unix()

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                recordItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordJob: %w", err)
	}
	return nil
}

func recordItem(rec domain.JobRecord) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: rec.PK},
		"SK":             &types.AttributeValueMemberS{Value: rec.SK},
		"requestId":      &types.AttributeValueMemberS{Value: rec.RequestID},
		"status":         &types.AttributeValueMemberS{Value: rec.Status},
		"pollAttempts":   &types.AttributeValueMemberN{Value: strconv.Itoa(rec.PollAttempts)},
		"durationMillis": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.DurationMillis, 10)},
		"cleanupOk":      &types.AttributeValueMemberBOOL{Value: rec.CleanupOK},
		"createdAt":      &types.AttributeValueMemberS{Value: rec.CreatedAt},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.TTL, 10)},
	}
	// empty strings are legal in DynamoDB but noisy in the console
	if rec.ContainerID != "" {
		item["containerId"] = &types.AttributeValueMemberS{Value: rec.ContainerID}
	}
	if rec.JobID != "" {
		item["jobId"] = &types.AttributeValueMemberS{Value: rec.JobID}
	}
	if rec.ErrorCode != "" {
		item["errorCode"] = &types.AttributeValueMemberS{Value: rec.ErrorCode}
	}
	return item
}
