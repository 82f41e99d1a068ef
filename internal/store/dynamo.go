package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "CLAIM#"
	skRun    = "RUN#"

	reportAttr = "report"
)

// DynamoAPI is the part of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements RunStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// Compile-time interface check.
var _ RunStore = (*DynamoStore)(nil)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// NewDynamoStore creates a DynamoStore for the given table. A ttl of zero
// uses DefaultTTL.
func NewDynamoStore(client DynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func claimPK(claimID string) string { return pkPrefix + claimID }
func runSK(runID string) string     { return skRun + runID }

// PutRun writes the run, compressing its report.
func (s *DynamoStore) PutRun(ctx context.Context, run *Run) error {
	if run.ClaimID == "" || run.RunID == "" {
		return fmt.Errorf("run needs claim and run ids")
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.now().Unix()
	}
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pk, sk := claimPK(run.ClaimID), runSK(run.RunID)
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)}
	if len(run.Report) > 0 {
		item[reportAttr] = &types.AttributeValueMemberB{Value: encoder.EncodeAll(run.Report, nil)}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	log.Debug().Str("claimId", run.ClaimID).Str("runId", run.RunID).Int("reportBytes", len(run.Report)).Msg("Run stored")
	return nil
}

// GetRun reads one run. Returns nil, nil if it does not exist.
func (s *DynamoStore) GetRun(ctx context.Context, claimID, runID string) (*Run, error) {
	pk, sk := claimPK(claimID), runSK(runID)
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	return decodeRun(result.Item)
}

// ListRuns returns every run for a claim, newest first, without reports.
func (s *DynamoStore) ListRuns(ctx context.Context, claimID string) ([]*Run, error) {
	pk := claimPK(claimID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skRun},
		},
	}

	var runs []*Run
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", pk, err)
		}
		for _, item := range result.Items {
			delete(item, reportAttr)
			run, err := decodeRun(item)
			if err != nil {
				return nil, err
			}
			runs = append(runs, run)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt > runs[j].CreatedAt })
	return runs, nil
}

func decodeRun(item map[string]types.AttributeValue) (*Run, error) {
	var run Run
	if err := attributevalue.UnmarshalMap(item, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	if v, ok := item["PK"].(*types.AttributeValueMemberS); ok {
		run.ClaimID = strings.TrimPrefix(v.Value, pkPrefix)
	}
	if v, ok := item["SK"].(*types.AttributeValueMemberS); ok {
		run.RunID = strings.TrimPrefix(v.Value, skRun)
	}
	if v, ok := item[reportAttr].(*types.AttributeValueMemberB); ok {
		report, err := decoder.DecodeAll(v.Value, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress report for %s: %w", run.RunID, err)
		}
		run.Report = report
	}
	return &run, nil
}
