package state

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

func openMemory(t *testing.T, snap *Snapshotter) *BadgerStore {
	t.Helper()
	st, err := OpenBadger(context.Background(), config.BadgerConfig{InMemory: true}, snap, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func rides(t *testing.T) []model.Record {
	t.Helper()
	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	mk := func(skier, resort, lift int, day string, offset time.Duration) model.Record {
		return model.NewRecord(model.LiftRideEvent{
			LiftRide: model.LiftRide{Time: 100, LiftID: lift},
			ResortID: resort, SeasonID: "2025", DayID: day, SkierID: skier,
		}, base.Add(offset))
	}
	return []model.Record{
		mk(1, 3, 10, "1", 0),
		mk(1, 3, 12, "1", time.Second),
		mk(1, 3, 5, "2", 2*time.Second),
		mk(10, 3, 40, "1", 3*time.Second),
		mk(11, 4, 1, "1", 4*time.Second),
	}
}

func TestBadgerQueries(t *testing.T) {
	ctx := context.Background()
	st := openMemory(t, nil)
	require.NoError(t, st.WriteBatch(ctx, rides(t)))

	days, err := st.SkierDays(ctx, 1, "2025")
	require.NoError(t, err)
	assert.Equal(t, 2, days)

	vertical, err := st.SkierVertical(ctx, 1, "2025")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 220, "2": 50}, vertical)

	lifts, err := st.SkierLifts(ctx, 1, "2025", "1")
	require.NoError(t, err)
	assert.Equal(t, []int{10, 12}, lifts, "ordered by timestamp")

	// Skier 1 must not pick up skier 10's rides.
	lifts, err = st.SkierLifts(ctx, 10, "2025", "1")
	require.NoError(t, err)
	assert.Equal(t, []int{40}, lifts)

	skiers, err := st.ResortSkiers(ctx, 3, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, skiers)

	none, err := st.SkierLifts(ctx, 99, "2025", "1")
	require.NoError(t, err)
	assert.Empty(t, none)

	days, err = st.SkierDays(ctx, 1, "2024")
	require.NoError(t, err)
	assert.Zero(t, days)
}

func TestBadgerRepeatedSkierCountsOnce(t *testing.T) {
	ctx := context.Background()
	st := openMemory(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.WriteBatch(ctx, rides(t)[:1]))
	}
	skiers, err := st.ResortSkiers(ctx, 3, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, skiers)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	objects := NewFsObjects(afero.NewMemMapFs(), "/snapshots")
	snap := NewSnapshotter(objects, "consumer/", "rides", nil)
	assert.Equal(t, "consumer/rides.badger.gz", snap.Key())

	// Nothing uploaded yet: opening restores nothing and succeeds.
	source := openMemory(t, snap)
	require.NoError(t, source.WriteBatch(ctx, rides(t)))
	require.NoError(t, snap.Snapshot(ctx, source))

	restored := openMemory(t, snap)
	vertical, err := restored.SkierVertical(ctx, 1, "2025")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 220, "2": 50}, vertical)
}

type failingObjects struct{}

func (failingObjects) Put(context.Context, string, io.Reader) (string, error) {
	return "", fmt.Errorf("bucket unreachable")
}

func (failingObjects) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("bucket unreachable")
}

func TestSnapshotErrors(t *testing.T) {
	ctx := context.Background()
	snap := NewSnapshotter(failingObjects{}, "", "rides", nil)

	st := openMemory(t, nil)
	require.NoError(t, st.WriteBatch(ctx, rides(t)))
	assert.Error(t, snap.Snapshot(ctx, st))

	_, err := OpenBadger(ctx, config.BadgerConfig{InMemory: true}, snap, nil)
	assert.Error(t, err)
}

func TestOpenBadgerOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := OpenBadger(ctx, config.BadgerConfig{Path: dir}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, st.WriteBatch(ctx, rides(t)))
	require.NoError(t, st.Close())

	st, err = OpenBadger(ctx, config.BadgerConfig{Path: dir}, nil, nil)
	require.NoError(t, err)
	defer st.Close()
	days, err := st.SkierDays(ctx, 1, "2025")
	require.NoError(t, err)
	assert.Equal(t, 2, days)
}
