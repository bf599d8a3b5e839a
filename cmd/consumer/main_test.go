package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/pkg/admission"
	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/ingest"
	"github.com/siqueiraa/LiftFlow/pkg/kafka"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/metrics"
	"github.com/siqueiraa/LiftFlow/pkg/model"
	"github.com/siqueiraa/LiftFlow/pkg/queue"
	"github.com/siqueiraa/LiftFlow/pkg/sink"
	"github.com/siqueiraa/LiftFlow/pkg/worker"
)

func TestDeliveriesArePersistedAndQueryable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.Default().Sink
	cfg.Badger = config.BadgerConfig{InMemory: true}
	be, err := openBackend(ctx, cfg, nil)
	require.NoError(t, err)

	bs := sink.New(be.store, sink.DefaultThreshold, nil)
	defer func() { assert.NoError(t, bs.Close(context.Background())) }()

	gate, err := admission.New(admission.DefaultConfig(), clock.RealClock{}, nil)
	require.NoError(t, err)
	q := queue.New[*kafka.Delivery](100)
	pool, err := worker.New(worker.Config{Initial: 4, Min: 1, Max: 4}, q, gate,
		worker.Static(persistHandler(bs, 0, clock.RealClock{})))
	require.NoError(t, err)
	pool.Start(ctx)

	for skier := 1; skier <= 12; skier++ {
		for ride := 0; ride < 5; ride++ {
			ev := model.LiftRideEvent{
				LiftRide: model.LiftRide{Time: 10 + ride, LiftID: ride + 1},
				ResortID: 3,
				SeasonID: "2025",
				DayID:    "1",
				SkierID:  skier,
			}
			require.NoError(t, q.Enqueue(ctx, &kafka.Delivery{Event: ev}))
		}
	}
	q.Close()
	pool.Wait()

	assert.Equal(t, int64(60), pool.Stats().Succeeded)
	assert.Equal(t, int64(60), bs.TotalProcessed())
	assert.Equal(t, int64(12), bs.UniqueKeys())

	router := mux.NewRouter()
	ingest.RegisterQueries(router, bs, nil)

	get := func(path string) string {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		return rec.Body.String()
	}
	assert.JSONEq(t, `12`, get("/api/resorts/3/seasons/2025/days/1/skiers/count"))
	assert.JSONEq(t, `1`, get("/api/skiers/7/seasons/2025/days/count"))
	assert.JSONEq(t, `{"1":150}`, get("/api/skiers/7/seasons/2025/vertical"))
	assert.JSONEq(t, `{"totalProcessedMessages":60,"uniqueSkiers":12}`, get("/api/stats"))
}

func TestOpenBackendUnknown(t *testing.T) {
	_, err := openBackend(context.Background(), config.SinkConfig{Backend: "tape"}, nil)
	assert.Error(t, err)
}

type stubConsumer struct{ closed bool }

func (c *stubConsumer) Backlog(context.Context) (int64, error) { return 0, nil }

func (c *stubConsumer) Close() error {
	c.closed = true
	return nil
}

func TestStartupFailureReleasesStoreAndConsumer(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Sink.Backend = config.BackendBadger
	cfg.Sink.Badger = config.BadgerConfig{Path: t.TempDir()}

	be, err := openBackend(ctx, cfg.Sink, nil)
	require.NoError(t, err)
	bs := sink.New(be.store, cfg.Sink.BatchSize, nil)
	cons := &stubConsumer{}

	cc := cfg.Consumer
	cc.Pool.Min = cc.Pool.Max + 1
	_, err = buildWorkers(cc, bs, cons, clock.RealClock{}, metrics.NewRecorder("test"), logger.Nop())
	require.Error(t, err)
	require.Error(t, closeOnError(ctx, err, bs, cons))
	assert.True(t, cons.closed)

	// Badger holds a directory lock while open; reopening proves it was released.
	again, err := openBackend(ctx, cfg.Sink, nil)
	require.NoError(t, err)
	assert.NoError(t, again.store.Close())
}

func TestPersistHandlerStopsOnCancel(t *testing.T) {
	cfg := config.BadgerConfig{InMemory: true}
	be, err := openBackend(context.Background(), config.SinkConfig{Backend: config.BackendBadger, Badger: cfg}, nil)
	require.NoError(t, err)
	bs := sink.New(be.store, sink.DefaultThreshold, nil)
	defer func() { _ = bs.Close(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := persistHandler(bs, time.Hour, clock.RealClock{})
	err = h.Handle(ctx, &kafka.Delivery{Event: model.LiftRideEvent{SkierID: 1}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, bs.TotalProcessed())
}
