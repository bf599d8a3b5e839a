// Package duck stores rides in DuckDB for ad-hoc analytical queries.
package duck

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const table = "lift_rides"

const createTable = `CREATE TABLE IF NOT EXISTS lift_rides (
	skier_id          BIGINT,
	timestamp_lift_id VARCHAR,
	resort_id         BIGINT,
	season_id         VARCHAR,
	day_id            VARCHAR,
	lift_id           BIGINT,
	ride_time         BIGINT,
	vertical          BIGINT,
	ts                VARCHAR,
	resort_day        VARCHAR
);`

// Store is a DuckDB-backed bulk store. Writes go through the appender API,
// one appender per batch.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex // one appender at a time
	log logger.Logger
}

// Open opens the database at path; an empty path keeps everything in memory.
func Open(ctx context.Context, path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	dsn := ":memory:"
	if path != "" {
		dsn = fmt.Sprintf("%s?access_mode=read_write", path)
	}

	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		for _, q := range []string{`SET schema='main'`, `SET search_path='main'`} {
			if _, err := execer.ExecContext(ctx, q, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s: %w", table, err)
	}
	return &Store{db: db, log: log.WithFields(logger.Fields{"component": "duckdb"})}, nil
}

// WriteBatch appends every record and flushes the appender once.
func (s *Store) WriteBatch(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var appender *duckdb.Appender
	err = conn.Raw(func(dc any) error {
		driverConn, ok := dc.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		appender, err = duckdb.NewAppenderFromConn(driverConn, "main", table)
		return err
	})
	if err != nil {
		return fmt.Errorf("create appender: %w", err)
	}

	for i := range records {
		r := &records[i]
		if err := appender.AppendRow(
			int64(r.SkierID), r.TimestampLiftID, int64(r.ResortID), r.SeasonID, r.DayID,
			int64(r.LiftID), int64(r.Time), int64(r.Vertical), r.Timestamp, r.ResortDay,
		); err != nil {
			_ = appender.Close()
			return fmt.Errorf("append row for skier %d: %w", r.SkierID, err)
		}
	}

	// Close flushes the pending rows.
	if err := appender.Close(); err != nil {
		return fmt.Errorf("flush appender: %w", err)
	}
	s.log.WithFields(logger.Fields{"rows": len(records)}).Trace("rows appended")
	return nil
}

func (s *Store) SkierDays(ctx context.Context, skierID int, seasonID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT day_id) FROM lift_rides WHERE skier_id = ? AND season_id = ?`,
		skierID, seasonID).Scan(&n)
	return n, err
}

func (s *Store) SkierVertical(ctx context.Context, skierID int, seasonID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day_id, SUM(vertical) FROM lift_rides WHERE skier_id = ? AND season_id = ? GROUP BY day_id`,
		skierID, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var day string
		var total int64
		if err := rows.Scan(&day, &total); err != nil {
			return nil, err
		}
		out[day] = int(total)
	}
	return out, rows.Err()
}

func (s *Store) SkierLifts(ctx context.Context, skierID int, seasonID, dayID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lift_id FROM lift_rides WHERE skier_id = ? AND season_id = ? AND day_id = ? ORDER BY timestamp_lift_id`,
		skierID, seasonID, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lifts := []int{}
	for rows.Next() {
		var lift int64
		if err := rows.Scan(&lift); err != nil {
			return nil, err
		}
		lifts = append(lifts, int(lift))
	}
	return lifts, rows.Err()
}

func (s *Store) ResortSkiers(ctx context.Context, resortID int, dayID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT skier_id) FROM lift_rides WHERE resort_day = ?`,
		model.ResortDay(resortID, dayID)).Scan(&n)
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
