package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/duck"
	"github.com/siqueiraa/LiftFlow/pkg/dynamo"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/sink"
	"github.com/siqueiraa/LiftFlow/pkg/state"
)

const snapshotName = "liftflow"

// backend is the opened bulk store plus its optional snapshot loop.
type backend struct {
	store    sink.Store
	badger   *state.BadgerStore
	snapshot *state.Snapshotter
}

func openBackend(ctx context.Context, cfg config.SinkConfig, log logger.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendDuckDB:
		st, err := duck.Open(ctx, cfg.DuckDB.Path, log)
		if err != nil {
			return nil, err
		}
		return &backend{store: st}, nil

	case config.BackendDynamoDB:
		st, err := dynamo.New(ctx, cfg.DynamoDB, log)
		if err != nil {
			return nil, err
		}
		return &backend{store: st}, nil

	case config.BackendBadger:
		var snap *state.Snapshotter
		if sc := cfg.Badger.Snapshot; sc.Enabled {
			var objects state.ObjectStore
			if sc.S3.Enabled {
				s3, err := state.NewS3Objects(ctx, sc.S3)
				if err != nil {
					return nil, err
				}
				objects = s3
			} else {
				objects = state.NewFsObjects(afero.NewOsFs(), cfg.Badger.Path+".snapshots")
			}
			snap = state.NewSnapshotter(objects, sc.S3.Prefix, snapshotName, log)
		}
		st, err := state.OpenBadger(ctx, cfg.Badger, snap, log)
		if err != nil {
			return nil, err
		}
		return &backend{store: st, badger: st, snapshot: snap}, nil

	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}

// runSnapshots blocks until ctx ends when snapshots are enabled.
func (b *backend) runSnapshots(ctx context.Context, cfg config.SinkConfig) {
	if b.snapshot == nil {
		return
	}
	b.snapshot.Run(ctx, b.badger, cfg.Badger.Snapshot.Interval)
}

// finalSnapshot runs after the last flush and before the store closes.
func (b *backend) finalSnapshot(ctx context.Context) error {
	if b.snapshot == nil {
		return nil
	}
	return b.snapshot.Snapshot(ctx, b.badger)
}
