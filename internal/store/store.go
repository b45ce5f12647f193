package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// Conflict is returned by UpdateWith when the position changed between the
// caller's read and its write — the CAS guard fired.
var Conflict = errors.New("store: position changed concurrently")

// ErrNotFound is returned when a mint has no active position record.
var ErrNotFound = errors.New("store: position not found")

// Store is the Position Store: a SQLite-backed, msgpack-serialized,
// optimistic-concurrency-guarded table of active positions, plus an
// append-only trade history table for closed positions.
type Store struct {
	db     *sql.DB
	prefix string
}

// New opens (and migrates) the SQLite database at path, using tablePrefix to
// namespace tables for multi-instance deployments sharing one file.
func New(path, tablePrefix string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline

	s := &Store{db: db, prefix: tablePrefix}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) positionsTable() string { return s.prefix + "_positions" }
func (s *Store) historyTable() string   { return s.prefix + "_trade_history" }

func (s *Store) migrate() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			mint TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 0,
			data BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);

		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mint TEXT NOT NULL,
			reason TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			pnl_percent REAL NOT NULL,
			duration_secs REAL NOT NULL,
			closed_at DATETIME NOT NULL
		);
	`, s.positionsTable(), s.prefix, s.positionsTable(), s.historyTable()))
	return err
}

// Put inserts or fully replaces a position record, resetting its version to
// 0. Used for initial position creation, not for updates (use UpdateWith).
func (s *Store) Put(ctx context.Context, p Position) error {
	p.version = 0
	data, err := msgpack.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (mint, status, version, data) VALUES (?, ?, 0, ?)
		 ON CONFLICT(mint) DO UPDATE SET status = excluded.status, version = 0, data = excluded.data`,
		s.positionsTable()), p.Mint, string(p.Status), data)
	if err != nil {
		return fmt.Errorf("put position: %w", err)
	}
	return nil
}

// Get returns the current position for mint, or ErrNotFound.
func (s *Store) Get(ctx context.Context, mint string) (Position, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT version, data FROM %s WHERE mint = ?`, s.positionsTable()), mint)

	var version int64
	var data []byte
	if err := row.Scan(&version, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Position{}, ErrNotFound
		}
		return Position{}, fmt.Errorf("get position: %w", err)
	}

	var p Position
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return Position{}, fmt.Errorf("unmarshal position: %w", err)
	}
	p.version = version
	return p, nil
}

// ListActive returns every position whose status is Open or Exiting — the
// set the orchestrator fans work out over each tick.
func (s *Store) ListActive(ctx context.Context) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT version, data FROM %s WHERE status IN (?, ?)`, s.positionsTable()),
		string(StatusOpen), string(StatusExiting))
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var version int64
		var data []byte
		if err := rows.Scan(&version, &data); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		var p Position
		if err := msgpack.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal position: %w", err)
		}
		p.version = version
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateWith reads the current position, applies fn to a mutable clone, and
// writes the result back inside a transaction guarded by
// WHERE version = <observed>. If another writer raced this call, the guard
// affects zero rows and UpdateWith returns Conflict — an optimistic CAS
// realized in SQL rather than an in-process lock, so it stays correct even
// if a future deployment shares this database across processes.
func (s *Store) UpdateWith(ctx context.Context, mint string, fn func(Position) (Position, error)) (Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Position{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT version, data FROM %s WHERE mint = ?`, s.positionsTable()), mint)

	var version int64
	var data []byte
	if err := row.Scan(&version, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Position{}, ErrNotFound
		}
		return Position{}, fmt.Errorf("read position: %w", err)
	}

	var current Position
	if err := msgpack.Unmarshal(data, &current); err != nil {
		return Position{}, fmt.Errorf("unmarshal position: %w", err)
	}
	current.version = version

	updated, err := fn(current.Clone())
	if err != nil {
		return Position{}, err
	}
	updated.LastUpdatedAt = time.Now()

	newData, err := msgpack.Marshal(updated)
	if err != nil {
		return Position{}, fmt.Errorf("marshal position: %w", err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, version = version + 1, data = ? WHERE mint = ? AND version = ?`,
		s.positionsTable()), string(updated.Status), newData, mint, version)
	if err != nil {
		return Position{}, fmt.Errorf("update position: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Position{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return Position{}, Conflict
	}

	if err := tx.Commit(); err != nil {
		return Position{}, fmt.Errorf("commit: %w", err)
	}

	updated.version = version + 1
	return updated, nil
}

// RecordHistory appends a closed position's terminal outcome to the audit
// table, in the same spirit as the CAS close but without needing a CAS —
// history rows are append-only and never revisited.
func (s *Store) RecordHistory(ctx context.Context, rec TradeRecord) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (mint, reason, entry_price, exit_price, pnl_percent, duration_secs, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`, s.historyTable()),
		rec.Mint, rec.Reason, rec.EntryPrice, rec.ExitPrice, rec.PnLPercent, rec.DurationSecs, rec.ClosedAt)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// Delete removes a position from the active table. Called after a Closed
// position has had its terminal state recorded in history.
func (s *Store) Delete(ctx context.Context, mint string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE mint = ?`, s.positionsTable()), mint)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	log.Debug().Str("mint", mint).Msg("position removed from active set")
	return nil
}
