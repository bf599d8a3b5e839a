package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/LiftFlow/pkg/faker"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []model.LiftRideEvent
	err    error
}

func (p *fakePublisher) PublishEvent(_ context.Context, ev model.LiftRideEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func writeRouter(pub Publisher) *mux.Router {
	r := mux.NewRouter()
	NewWriteHandler(pub, faker.DefaultRanges(), time.Second, nil).Register(r)
	return r
}

func TestPostRideValidation(t *testing.T) {
	const okBody = `{"time":217,"liftID":21}`
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"valid", "/skiers/7/seasons/2025/days/1/skiers/90210", okBody, http.StatusCreated},
		{"lower bounds", "/skiers/1/seasons/2025/days/1/skiers/1", `{"time":1,"liftID":1}`, http.StatusCreated},
		{"upper bounds", "/skiers/10/seasons/2025/days/1/skiers/100000", `{"time":360,"liftID":40}`, http.StatusCreated},
		{"resort too high", "/skiers/11/seasons/2025/days/1/skiers/5", okBody, http.StatusBadRequest},
		{"resort not a number", "/skiers/x/seasons/2025/days/1/skiers/5", okBody, http.StatusBadRequest},
		{"wrong season", "/skiers/1/seasons/2024/days/1/skiers/5", okBody, http.StatusBadRequest},
		{"wrong day", "/skiers/1/seasons/2025/days/2/skiers/5", okBody, http.StatusBadRequest},
		{"skier zero", "/skiers/1/seasons/2025/days/1/skiers/0", okBody, http.StatusBadRequest},
		{"skier too high", "/skiers/1/seasons/2025/days/1/skiers/100001", okBody, http.StatusBadRequest},
		{"short path", "/skiers/1/seasons/2025", okBody, http.StatusBadRequest},
		{"misspelled segment", "/skiers/1/season/2025/days/1/skiers/5", okBody, http.StatusBadRequest},
		{"lift too high", "/skiers/1/seasons/2025/days/1/skiers/5", `{"time":10,"liftID":41}`, http.StatusBadRequest},
		{"time zero", "/skiers/1/seasons/2025/days/1/skiers/5", `{"time":0,"liftID":4}`, http.StatusBadRequest},
		{"malformed body", "/skiers/1/seasons/2025/days/1/skiers/5", `{"time":`, http.StatusBadRequest},
		{"empty body", "/skiers/1/seasons/2025/days/1/skiers/5", ``, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			writeRouter(pub).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusCreated {
				assert.Len(t, pub.events, 1)
			} else {
				assert.Empty(t, pub.events)
			}
		})
	}
}

func TestPostRidePublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/skiers/7/seasons/2025/days/1/skiers/90210",
		strings.NewReader(`{"time":217,"liftID":21}`))
	writeRouter(pub).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"message":"Write successful"}`, rec.Body.String())
	require.Len(t, pub.events, 1)

	ev := pub.events[0]
	assert.NotEmpty(t, ev.EventID)
	ev.EventID = ""
	assert.Equal(t, model.LiftRideEvent{
		LiftRide: model.LiftRide{Time: 217, LiftID: 21},
		ResortID: 7,
		SeasonID: "2025",
		DayID:    "1",
		SkierID:  90210,
	}, ev)
}

func TestPostRidePublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/skiers/7/seasons/2025/days/1/skiers/90210",
		strings.NewReader(`{"time":217,"liftID":21}`))
	writeRouter(pub).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker unavailable")
}

func TestHealth(t *testing.T) {
	for _, path := range []string{"/health", "/"} {
		rec := httptest.NewRecorder()
		writeRouter(&fakePublisher{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	}
}

type fakeQueries struct {
	err error
}

func (f fakeQueries) SkierDays(context.Context, int, string) (int, error) { return 3, f.err }

func (f fakeQueries) SkierVertical(context.Context, int, string) (map[string]int, error) {
	return map[string]int{"1": 420}, f.err
}

func (f fakeQueries) SkierLifts(_ context.Context, skier int, _, _ string) ([]int, error) {
	if skier == 2 {
		return nil, f.err
	}
	return []int{4, 21}, f.err
}

func (f fakeQueries) ResortSkiers(context.Context, int, string) (int, error) { return 9, f.err }
func (f fakeQueries) TotalProcessed() int64                                  { return 60 }
func (f fakeQueries) UniqueKeys() int64                                      { return 12 }

func TestQueryRoutes(t *testing.T) {
	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/api/skiers/5/seasons/2025/days/count", http.StatusOK, `3`},
		{"/api/skiers/5/seasons/2025/vertical", http.StatusOK, `{"1":420}`},
		{"/api/skiers/5/seasons/2025/days/1/lifts", http.StatusOK, `[4,21]`},
		{"/api/skiers/2/seasons/2025/days/1/lifts", http.StatusOK, `[]`},
		{"/api/resorts/3/seasons/2025/days/1/skiers/count", http.StatusOK, `9`},
		{"/api/stats", http.StatusOK, `{"totalProcessedMessages":60,"uniqueSkiers":12}`},
		{"/api/skiers/abc/seasons/2025/vertical", http.StatusBadRequest, `{"message":"invalid skierID"}`},
	}

	r := mux.NewRouter()
	RegisterQueries(r, fakeQueries{}, nil)
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestQueryFailure(t *testing.T) {
	r := mux.NewRouter()
	RegisterQueries(r, fakeQueries{err: errors.New("store offline")}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/skiers/5/seasons/2025/days/count", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAccessLogKeepsStatus(t *testing.T) {
	r := writeRouter(&fakePublisher{})
	r.Use(AccessLog(nopLogger()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/skiers/1/seasons/2025/days/9/skiers/1", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func nopLogger() logger.Logger { return logger.Nop() }
