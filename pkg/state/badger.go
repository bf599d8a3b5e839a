package state

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const (
	dirMode      = 0o755 // Default directory permissions
	skierPrefix  = "ride/"
	resortPrefix = "resort/"
	keySep       = "/"
)

var json = jsoniter.ConfigFastest

// BadgerStore keeps rides in an embedded Badger database.
//
// Layout:
//
//	ride/<skier>/<season>/<day>/<timestamp#lift>  -> JSON record
//	resort/<resort#day>/<skier>                   -> empty
//
// Skier IDs are zero-padded so prefix scans never mix skier 1 with skier 10.
type BadgerStore struct {
	db  *badger.DB
	log logger.Logger
}

// OpenBadger opens (or creates) the store described by cfg. When a
// snapshotter is given and the data directory is empty, the latest snapshot
// is restored before the store is returned.
func OpenBadger(ctx context.Context, cfg config.BadgerConfig, snap *Snapshotter, log logger.Logger) (*BadgerStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithFields(logger.Fields{"component": "badger"})

	var opts badger.Options
	fresh := true
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, dirMode); err != nil {
			return nil, fmt.Errorf("create badger path: %w", err)
		}
		entries, err := os.ReadDir(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("read badger path: %w", err)
		}
		fresh = len(entries) == 0
		opts = badger.DefaultOptions(cfg.Path)
	}

	db, err := badger.Open(opts.WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	st := &BadgerStore{db: db, log: log}

	if snap != nil && fresh {
		if err := snap.Restore(ctx, st); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
	} else if snap != nil {
		log.Info("skipping snapshot restore: data directory is not empty")
	}
	return st, nil
}

func skierKey(skierID int, parts ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%010d", skierPrefix, skierID)
	for _, p := range parts {
		b.WriteString(keySep)
		b.WriteString(p)
	}
	return []byte(b.String())
}

func resortKey(resortDay string, skierID int) []byte {
	return fmt.Appendf(nil, "%s%s%s%010d", resortPrefix, resortDay, keySep, skierID)
}

func resortScan(resortDay string) []byte {
	return []byte(resortPrefix + resortDay + keySep)
}

// WriteBatch stores every record in one Badger write batch.
func (s *BadgerStore) WriteBatch(_ context.Context, records []model.Record) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range records {
		rec := &records[i]
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record for skier %d: %w", rec.SkierID, err)
		}
		if err := wb.Set(skierKey(rec.SkierID, rec.SeasonID, rec.DayID, rec.TimestampLiftID), data); err != nil {
			return err
		}
		if err := wb.Set(resortKey(rec.ResortDay, rec.SkierID), nil); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// scan calls fn for every record under prefix.
func (s *BadgerStore) scan(prefix []byte, fn func(rec *model.Record)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec model.Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			fn(&rec)
		}
		return nil
	})
}

// countKeys counts keys under prefix without reading values.
func (s *BadgerStore) countKeys(prefix []byte) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) SkierDays(_ context.Context, skierID int, seasonID string) (int, error) {
	prefix := append(skierKey(skierID, seasonID), keySep...)
	days := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			if i := bytes.Index(rest, []byte(keySep)); i > 0 {
				days[string(rest[:i])] = struct{}{}
			}
		}
		return nil
	})
	return len(days), err
}

func (s *BadgerStore) SkierVertical(_ context.Context, skierID int, seasonID string) (map[string]int, error) {
	out := make(map[string]int)
	err := s.scan(append(skierKey(skierID, seasonID), keySep...), func(rec *model.Record) {
		out[rec.DayID] += rec.Vertical
	})
	return out, err
}

func (s *BadgerStore) SkierLifts(_ context.Context, skierID int, seasonID, dayID string) ([]int, error) {
	lifts := []int{}
	err := s.scan(append(skierKey(skierID, seasonID, dayID), keySep...), func(rec *model.Record) {
		lifts = append(lifts, rec.LiftID)
	})
	return lifts, err
}

func (s *BadgerStore) ResortSkiers(_ context.Context, resortID int, dayID string) (int, error) {
	return s.countKeys(resortScan(model.ResortDay(resortID, dayID)))
}

// DB exposes the underlying handle for backups.
func (s *BadgerStore) DB() *badger.DB { return s.db }

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
