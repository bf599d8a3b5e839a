// Package dynamo stores rides in a DynamoDB table keyed by skier, with a
// resortDay secondary index.
package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

// MaxBatch is the BatchWriteItem request limit.
const MaxBatch = 25

// API is the slice of the DynamoDB client the store uses.
type API interface {
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store writes rides with BatchWriteItem and answers queries with Query.
type Store struct {
	api   API
	table string
	index string
	log   logger.Logger
}

// New builds a client from cfg. A custom endpoint targets DynamoDB Local.
func New(ctx context.Context, cfg config.DynamoDBConfig, log logger.Logger) (*Store, error) {
	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.Table, cfg.ResortDayIndex, log), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, table, index string, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{api: api, table: table, index: index, log: log.WithFields(logger.Fields{"component": "dynamodb"})}
}

func num(n int) types.AttributeValue { return &types.AttributeValueMemberN{Value: strconv.Itoa(n)} }
func str(s string) types.AttributeValue { return &types.AttributeValueMemberS{Value: s} }

func item(r *model.Record) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"skierID":          num(r.SkierID),
		"timestamp_liftID": str(r.TimestampLiftID),
		"resortID":         num(r.ResortID),
		"seasonID":         str(r.SeasonID),
		"dayID":            str(r.DayID),
		"liftID":           num(r.LiftID),
		"time":             num(r.Time),
		"vertical":         num(r.Vertical),
		"timestamp":        str(r.Timestamp),
		"resortDay":        str(r.ResortDay),
	}
}

// WriteBatch issues one BatchWriteItem per MaxBatch records. Unprocessed
// items are reported as an error, not resubmitted.
func (s *Store) WriteBatch(ctx context.Context, records []model.Record) error {
	for start := 0; start < len(records); start += MaxBatch {
		chunk := records[start:min(start+MaxBatch, len(records))]
		writes := make([]types.WriteRequest, 0, len(chunk))
		for i := range chunk {
			writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: item(&chunk[i])}})
		}

		out, err := s.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: writes},
		})
		if err != nil {
			return fmt.Errorf("batch write %d items: %w", len(writes), err)
		}
		if left := len(out.UnprocessedItems[s.table]); left > 0 {
			return fmt.Errorf("batch write left %d of %d items unprocessed", left, len(writes))
		}
	}
	return nil
}

func (s *Store) query(ctx context.Context, in *dynamodb.QueryInput, fn func(map[string]types.AttributeValue)) error {
	in.TableName = aws.String(s.table)
	pages := dynamodb.NewQueryPaginator(s.api, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("query %s: %w", s.table, err)
		}
		for _, it := range page.Items {
			fn(it)
		}
	}
	return nil
}

func skierSeason(skierID int, seasonID string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		KeyConditionExpression:   aws.String("skierID = :skierID"),
		FilterExpression:         aws.String("#seasonID = :seasonID"),
		ExpressionAttributeNames: map[string]string{"#seasonID": "seasonID"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":skierID":  num(skierID),
			":seasonID": str(seasonID),
		},
	}
}

func stringAttr(it map[string]types.AttributeValue, name string) (string, bool) {
	v, ok := it[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

func numberAttr(it map[string]types.AttributeValue, name string) (int, bool) {
	v, ok := it[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v.Value)
	return n, err == nil
}

func (s *Store) SkierDays(ctx context.Context, skierID int, seasonID string) (int, error) {
	days := make(map[string]struct{})
	err := s.query(ctx, skierSeason(skierID, seasonID), func(it map[string]types.AttributeValue) {
		if day, ok := stringAttr(it, "dayID"); ok {
			days[day] = struct{}{}
		}
	})
	return len(days), err
}

func (s *Store) SkierVertical(ctx context.Context, skierID int, seasonID string) (map[string]int, error) {
	out := make(map[string]int)
	err := s.query(ctx, skierSeason(skierID, seasonID), func(it map[string]types.AttributeValue) {
		day, ok := stringAttr(it, "dayID")
		vertical, okV := numberAttr(it, "vertical")
		if ok && okV {
			out[day] += vertical
		}
	})
	return out, err
}

func (s *Store) SkierLifts(ctx context.Context, skierID int, seasonID, dayID string) ([]int, error) {
	in := skierSeason(skierID, seasonID)
	in.FilterExpression = aws.String("#seasonID = :seasonID AND #dayID = :dayID")
	in.ExpressionAttributeNames["#dayID"] = "dayID"
	in.ExpressionAttributeValues[":dayID"] = str(dayID)

	lifts := []int{}
	err := s.query(ctx, in, func(it map[string]types.AttributeValue) {
		if lift, ok := numberAttr(it, "liftID"); ok {
			lifts = append(lifts, lift)
		}
	})
	return lifts, err
}

func (s *Store) ResortSkiers(ctx context.Context, resortID int, dayID string) (int, error) {
	skiers := make(map[int]struct{})
	err := s.query(ctx, &dynamodb.QueryInput{
		IndexName:              aws.String(s.index),
		KeyConditionExpression: aws.String("resortDay = :resortDay"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":resortDay": str(model.ResortDay(resortID, dayID)),
		},
	}, func(it map[string]types.AttributeValue) {
		if skier, ok := numberAttr(it, "skierID"); ok {
			skiers[skier] = struct{}{}
		}
	})
	return len(skiers), err
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }
