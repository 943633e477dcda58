// Package results persists per-tick export rows for later querying.
package results

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

const (
	defaultRetention = 24 * time.Hour
	cleanupInterval  = 10 * time.Minute
	defaultLimit     = 1000
	maxLimit         = 10000
)

// ErrStoreRetryable marks failures caused by a locked or busy database.
var ErrStoreRetryable = errors.New("results store busy")

// StoredRow is an export row as persisted, with its insertion time.
type StoredRow struct {
	types.ExportRow
	CreatedAt time.Time `json:"created_at"`
}

// Query selects stored rows. Empty fields match everything.
type Query struct {
	CollectorID string
	Name        string
	SinceTick   uint64
	Limit       int
}

type Store struct {
	db        *sql.DB
	maxRows   int
	retention time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(dbPath string, maxRows int, retention time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// modernc.org/sqlite requires explicit PRAGMAs (not query-string params)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if retention <= 0 {
		retention = defaultRetention
	}
	s := &Store{
		db:        db,
		maxRows:   maxRows,
		retention: retention,
		stopCh:    make(chan struct{}),
	}

	s.cleanup()

	s.wg.Add(1)
	go s.cleanupLoop()

	return s, nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.db.Close(); err != nil {
			logging.Warn("results store: close failed", logging.Field{Key: "error", Value: err})
		}
	})
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS export_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		collector_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		value REAL NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return err
	}
	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_export_rows_created_at ON export_rows(created_at)`); err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_export_rows_collector_tick ON export_rows(collector_id, tick)`)
	return err
}

// SaveRows writes one tick's rows in a single transaction.
func (s *Store) SaveRows(rows []types.ExportRow) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return classify("begin tx", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO export_rows (tick, collector_id, name, value, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return classify("prepare insert", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(int64(r.Tick), r.CollectorID, r.Name, r.Value, now); err != nil {
			tx.Rollback()
			return classify("insert row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// Query returns matching rows ordered by tick then insertion order.
func (s *Store) Query(q Query) ([]StoredRow, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var (
		where []string
		args  []interface{}
	)
	if q.CollectorID != "" {
		where = append(where, "collector_id = ?")
		args = append(args, q.CollectorID)
	}
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}
	if q.SinceTick > 0 {
		where = append(where, "tick >= ?")
		args = append(args, int64(q.SinceTick))
	}
	query := `SELECT tick, collector_id, name, value, created_at FROM export_rows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY tick, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, classify("query rows", err)
	}
	defer rows.Close()

	var out []StoredRow
	for rows.Next() {
		var (
			r    StoredRow
			tick int64
		)
		if err := rows.Scan(&tick, &r.CollectorID, &r.Name, &r.Value, &r.CreatedAt); err != nil {
			return nil, classify("scan row", err)
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate rows", err)
	}
	return out, nil
}

// Count returns the number of stored rows.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM export_rows`).Scan(&n); err != nil {
		return 0, classify("count rows", err)
	}
	return n, nil
}

func classify(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreRetryable, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) cleanup() {
	cutoff := time.Now().UTC().Add(-s.retention)
	res, err := s.db.Exec(`DELETE FROM export_rows WHERE created_at < ?`, cutoff)
	if err != nil {
		logging.Warn("results cleanup (age) failed", logging.Field{Key: "error", Value: err})
	} else if n, _ := res.RowsAffected(); n > 0 {
		logging.Info("results cleanup: removed expired",
			logging.Field{Key: "count", Value: n})
	}

	// Trim to max count, keeping newest
	if s.maxRows > 0 {
		res, err = s.db.Exec(
			`DELETE FROM export_rows WHERE id NOT IN (
				SELECT id FROM export_rows ORDER BY id DESC LIMIT ?
			)`, s.maxRows)
		if err != nil {
			logging.Warn("results cleanup (count) failed", logging.Field{Key: "error", Value: err})
		} else if n, _ := res.RowsAffected(); n > 0 {
			logging.Info("results cleanup: trimmed to max",
				logging.Field{Key: "removed", Value: n},
				logging.Field{Key: "max", Value: s.maxRows})
		}
	}
}

// Cleanup runs one retention pass immediately.
func (s *Store) Cleanup() {
	s.cleanup()
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}
