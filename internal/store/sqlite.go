package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"

	"jupitor/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol TEXT NOT NULL,
	date   TEXT NOT NULL,
	o      REAL NOT NULL,
	h      REAL NOT NULL,
	l      REAL NOT NULL,
	c      REAL NOT NULL,
	v      INTEGER NOT NULL,
	PRIMARY KEY (symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_bars_symbol_date ON bars(symbol, date DESC);

CREATE TABLE IF NOT EXISTS sync_log (
	symbol                  TEXT PRIMARY KEY,
	last_sync_at            TEXT NOT NULL,
	last_bar_date           TEXT NOT NULL,
	bar_count               INTEGER NOT NULL,
	first_bar_date          TEXT NOT NULL DEFAULT '',
	full_history_completed  INTEGER NOT NULL DEFAULT 0
);
`

// Compile-time interface check.
var _ BarStore = (*SQLiteStore)(nil)

// SQLiteStore implements BarStore backed by a SQLite database: two tables,
// bars and sync_log, exactly the layout spec §4.3 describes.
type SQLiteStore struct {
	db  *sql.DB
	dir string
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use SQLiteStore. now defaults to
// time.Now when nil; tests inject a fixed clock to make the stale-today-bar
// repair rule deterministic.
func NewSQLiteStore(dbPath string, now func() time.Time) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers through one connection.

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}

	if now == nil {
		now = time.Now
	}

	return &SQLiteStore{db: db, dir: dbPath, now: now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Has reports whether at least minDays bars are archived for symbol.
func (s *SQLiteStore) Has(ctx context.Context, symbol string, minDays int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bars WHERE symbol = ?`, symbol).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has(%s): %w", symbol, err)
	}
	return count >= minDays, nil
}

// Get returns up to lastN most recent bars for symbol, ordered ascending by
// date.
func (s *SQLiteStore) Get(ctx context.Context, symbol string, lastN int) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, o, h, l, c, v FROM bars
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT ?`, symbol, lastN)
	if err != nil {
		return nil, fmt.Errorf("get(%s): %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("get(%s): scan: %w", symbol, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get(%s): %w", symbol, err)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return bars, nil
}

// Upsert merges bars into the archive for symbol, applying the
// stale-today-bar repair rule, and returns the new row count. All steps
// occur inside a single transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	deduped := dedupeByDate(bars)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert(%s): begin: %w", symbol, err)
	}
	defer tx.Rollback()

	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT date FROM bars WHERE symbol = ?`, symbol)
	if err != nil {
		return 0, fmt.Errorf("upsert(%s): read existing: %w", symbol, err)
	}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return 0, fmt.Errorf("upsert(%s): scan existing: %w", symbol, err)
		}
		existing[d] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("upsert(%s): %w", symbol, err)
	}

	now := s.now()
	today := now.Format("2006-01-02")

	var priorSyncAt sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT last_sync_at FROM sync_log WHERE symbol = ?`, symbol).Scan(&priorSyncAt)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("upsert(%s): read sync_log: %w", symbol, err)
	}

	inInput := false
	for _, b := range deduped {
		if b.Date == today {
			inInput = true
			break
		}
	}

	if inInput && existing[today] && priorSyncAt.Valid {
		priorTime, perr := time.ParseInLocation("2006-01-02T15:04:05", priorSyncAt.String, now.Location())
		if perr == nil && priorTime.Before(closeOf(now)) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM bars WHERE symbol = ? AND date = ?`, symbol, today); err != nil {
				return 0, fmt.Errorf("upsert(%s): repair delete: %w", symbol, err)
			}
			delete(existing, today)
		}
	}

	newRows := 0
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO bars (symbol, date, o, h, l, c, v) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("upsert(%s): prepare: %w", symbol, err)
	}
	defer stmt.Close()

	for _, b := range deduped {
		if existing[b.Date] {
			continue
		}
		if _, err := stmt.ExecContext(ctx, symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return 0, fmt.Errorf("upsert(%s): insert %s: %w", symbol, b.Date, err)
		}
		existing[b.Date] = true
		newRows++
	}

	var barCount int
	var lastDate, firstDate sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*), MAX(date), MIN(date) FROM bars WHERE symbol = ?`, symbol).
		Scan(&barCount, &lastDate, &firstDate)
	if err != nil {
		return 0, fmt.Errorf("upsert(%s): recount: %w", symbol, err)
	}

	nowStr := now.Format("2006-01-02T15:04:05")
	res, err := tx.ExecContext(ctx, `
		UPDATE sync_log SET last_sync_at = ?, last_bar_date = ?, bar_count = ?, first_bar_date = ?
		WHERE symbol = ?`, nowStr, lastDate.String, barCount, firstDate.String, symbol)
	if err != nil {
		return 0, fmt.Errorf("upsert(%s): update sync_log: %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_log (symbol, last_sync_at, last_bar_date, bar_count, first_bar_date, full_history_completed)
			VALUES (?, ?, ?, ?, ?, 0)`, symbol, nowStr, lastDate.String, barCount, firstDate.String)
		if err != nil {
			return 0, fmt.Errorf("upsert(%s): insert sync_log: %w", symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert(%s): commit: %w", symbol, err)
	}

	return newRows, nil
}

func closeOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 15, 0, 0, 0, t.Location())
}

func dedupeByDate(bars []domain.Bar) []domain.Bar {
	byDate := make(map[string]domain.Bar, len(bars))
	for _, b := range bars {
		byDate[b.Date] = b // last-writer-wins within the batch
	}
	out := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (s *SQLiteStore) LastDate(ctx context.Context, symbol string) (string, error) {
	var d sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_bar_date FROM sync_log WHERE symbol = ?`, symbol).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lastDate(%s): %w", symbol, err)
	}
	return d.String, nil
}

func (s *SQLiteStore) FirstDate(ctx context.Context, symbol string) (string, error) {
	var d sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT first_bar_date FROM sync_log WHERE symbol = ?`, symbol).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("firstDate(%s): %w", symbol, err)
	}
	return d.String, nil
}

func (s *SQLiteStore) MarkFullHistory(ctx context.Context, symbol string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_log SET full_history_completed = 1 WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("markFullHistory(%s): %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		now := s.now().Format("2006-01-02T15:04:05")
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO sync_log (symbol, last_sync_at, last_bar_date, bar_count, first_bar_date, full_history_completed)
			VALUES (?, ?, '', 0, '', 1)`, symbol, now)
		if err != nil {
			return fmt.Errorf("markFullHistory(%s): insert: %w", symbol, err)
		}
	}
	return nil
}

func (s *SQLiteStore) IsFullHistory(ctx context.Context, symbol string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT full_history_completed FROM sync_log WHERE symbol = ?`, symbol).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("isFullHistory(%s): %w", symbol, err)
	}
	return v != 0, nil
}

func (s *SQLiteStore) SyncState(ctx context.Context, symbol string) (domain.SyncState, bool, error) {
	var st domain.SyncState
	var lastSyncAt string
	var full int
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, last_sync_at, first_bar_date, last_bar_date, bar_count, full_history_completed
		FROM sync_log WHERE symbol = ?`, symbol).
		Scan(&st.Symbol, &lastSyncAt, &st.FirstBarDate, &st.LastBarDate, &st.BarCount, &full)
	if err == sql.ErrNoRows {
		return domain.SyncState{}, false, nil
	}
	if err != nil {
		return domain.SyncState{}, false, fmt.Errorf("syncState(%s): %w", symbol, err)
	}
	st.FullHistoryCompleted = full != 0
	if t, perr := time.ParseInLocation("2006-01-02T15:04:05", lastSyncAt, time.Local); perr == nil {
		st.LastSyncAt = t
	}
	return st, true, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (int, int, int64, error) {
	var symbols, totalRows int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT symbol), COUNT(*) FROM bars`).Scan(&symbols, &totalRows)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("stats: %w", err)
	}
	var sizeBytes int64
	if fi, err := os.Stat(s.dir); err == nil {
		sizeBytes = fi.Size()
	}
	return symbols, totalRows, sizeBytes, nil
}
