package state

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
)

const maxPendingWrites = 256 // Badger Load concurrency bound

// ErrNoSnapshot is returned by an ObjectStore when nothing was uploaded yet.
var ErrNoSnapshot = errors.New("no snapshot found")

// ObjectStore holds snapshot archives.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader) (location string, err error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Snapshotter streams gzip-compressed Badger backups to an ObjectStore and
// restores them into a fresh store.
type Snapshotter struct {
	objects ObjectStore
	key     string
	clock   clock.WithTicker
	log     logger.Logger
}

// NewSnapshotter stores snapshots under prefix+name.
func NewSnapshotter(objects ObjectStore, prefix, name string, log logger.Logger) *Snapshotter {
	if log == nil {
		log = logger.Nop()
	}
	return &Snapshotter{
		objects: objects,
		key:     fmt.Sprintf("%s%s.badger.gz", prefix, name),
		clock:   clock.RealClock{},
		log:     log.WithFields(logger.Fields{"component": "snapshot"}),
	}
}

// Key is the object key snapshots are written to.
func (s *Snapshotter) Key() string { return s.key }

// Snapshot takes a full backup of st and uploads it.
func (s *Snapshotter) Snapshot(ctx context.Context, st *BadgerStore) error {
	start := time.Now()
	pr, pw := io.Pipe()

	go func() {
		gz := gzip.NewWriter(pw)
		_, err := st.db.Backup(gz, 0)
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	location, err := s.objects.Put(ctx, s.key, pr)
	// Unblocks the backup goroutine if the upload gave up early.
	_ = pr.CloseWithError(err)
	if err != nil {
		return fmt.Errorf("upload snapshot %s: %w", s.key, err)
	}

	s.log.WithFields(logger.Fields{"location": location, "took": time.Since(start)}).Info("snapshot uploaded")
	return nil
}

// Restore loads the latest snapshot into st. A missing snapshot is not an
// error.
func (s *Snapshotter) Restore(ctx context.Context, st *BadgerStore) error {
	rc, err := s.objects.Get(ctx, s.key)
	if errors.Is(err, ErrNoSnapshot) {
		s.log.WithFields(logger.Fields{"key": s.key}).Info("no snapshot to restore")
		return nil
	}
	if err != nil {
		return fmt.Errorf("download snapshot %s: %w", s.key, err)
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", s.key, err)
	}
	defer gz.Close()

	if err := st.db.Load(gz, maxPendingWrites); err != nil {
		return fmt.Errorf("load snapshot %s: %w", s.key, err)
	}
	s.log.WithFields(logger.Fields{"key": s.key}).Info("snapshot restored")
	return nil
}

// Run snapshots st every interval until ctx ends. Failures are logged and
// retried on the next tick.
func (s *Snapshotter) Run(ctx context.Context, st *BadgerStore, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := s.Snapshot(ctx, st); err != nil {
				s.log.WithFields(logger.Fields{"error": err}).Warn("snapshot failed")
			}
		}
	}
}
