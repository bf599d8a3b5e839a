package dynamo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const pageSize = 2

// fakeAPI keeps items in memory and answers queries a page at a time.
type fakeAPI struct {
	mu          sync.Mutex
	items       []map[string]types.AttributeValue
	batchSizes  []int
	writeErr    error
	unprocessed int
}

func (f *fakeAPI) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, writes := range in.RequestItems {
		f.batchSizes = append(f.batchSizes, len(writes))
		keep := len(writes) - f.unprocessed
		for i, w := range writes {
			if i < keep {
				f.items = append(f.items, w.PutRequest.Item)
			} else {
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], w)
			}
		}
	}
	return out, nil
}

func matches(it map[string]types.AttributeValue, name string, want types.AttributeValue) bool {
	if want == nil {
		return true
	}
	switch w := want.(type) {
	case *types.AttributeValueMemberN:
		v, ok := it[name].(*types.AttributeValueMemberN)
		return ok && v.Value == w.Value
	case *types.AttributeValueMemberS:
		v, ok := it[name].(*types.AttributeValueMemberS)
		return ok && v.Value == w.Value
	}
	return false
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	vals := in.ExpressionAttributeValues
	var hits []map[string]types.AttributeValue
	for _, it := range f.items {
		if in.IndexName != nil {
			if matches(it, "resortDay", vals[":resortDay"]) {
				hits = append(hits, it)
			}
			continue
		}
		if matches(it, "skierID", vals[":skierID"]) && matches(it, "seasonID", vals[":seasonID"]) &&
			matches(it, "dayID", vals[":dayID"]) {
			hits = append(hits, it)
		}
	}

	start := 0
	if off, ok := in.ExclusiveStartKey["offset"].(*types.AttributeValueMemberN); ok {
		start, _ = strconv.Atoi(off.Value)
	}
	end := min(start+pageSize, len(hits))
	out := &dynamodb.QueryOutput{Items: hits[start:end]}
	if end < len(hits) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"offset": num(end)}
	}
	return out, nil
}

func records(n int) []model.Record {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		day := "1"
		if i%3 == 0 {
			day = "2"
		}
		out = append(out, model.NewRecord(model.LiftRideEvent{
			LiftRide: model.LiftRide{Time: i, LiftID: 1 + i%5},
			ResortID: 2, SeasonID: "2025", DayID: day, SkierID: 100 + i%4,
		}, base.Add(time.Duration(i)*time.Second)))
	}
	return out
}

func TestWriteBatchSplitsAtLimit(t *testing.T) {
	api := &fakeAPI{}
	st := NewWithAPI(api, "LiftRides", "ResortDayIndex", nil)

	require.NoError(t, st.WriteBatch(context.Background(), records(60)))
	assert.Equal(t, []int{25, 25, 10}, api.batchSizes)
	assert.Len(t, api.items, 60)

	first := api.items[0]
	assert.Equal(t, &types.AttributeValueMemberN{Value: "100"}, first["skierID"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2#2"}, first["resortDay"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "10"}, first["vertical"])
}

func TestWriteBatchErrors(t *testing.T) {
	api := &fakeAPI{writeErr: errors.New("ProvisionedThroughputExceededException")}
	st := NewWithAPI(api, "LiftRides", "ResortDayIndex", nil)
	assert.Error(t, st.WriteBatch(context.Background(), records(3)))

	api = &fakeAPI{unprocessed: 1}
	st = NewWithAPI(api, "LiftRides", "ResortDayIndex", nil)
	err := st.WriteBatch(context.Background(), records(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3")
}

func TestQueriesFollowPages(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	st := NewWithAPI(api, "LiftRides", "ResortDayIndex", nil)
	require.NoError(t, st.WriteBatch(ctx, records(12)))

	// Skier 100 rides at i = 0, 4, 8: days 2, 1, 1 and lifts 1, 5, 4.
	days, err := st.SkierDays(ctx, 100, "2025")
	require.NoError(t, err)
	assert.Equal(t, 2, days)

	vertical, err := st.SkierVertical(ctx, 100, "2025")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2": 10, "1": 90}, vertical)

	lifts, err := st.SkierLifts(ctx, 100, "2025", "1")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, lifts)

	skiers, err := st.ResortSkiers(ctx, 2, "1")
	require.NoError(t, err)
	assert.Equal(t, 4, skiers)

	none, err := st.SkierDays(ctx, 100, "2024")
	require.NoError(t, err)
	assert.Zero(t, none)
	assert.NoError(t, st.Close())
}
