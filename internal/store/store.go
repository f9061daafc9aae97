// Package store implements the Local Store: a persistent per-symbol bar
// archive with idempotent upsert, range queries, and sync-state metadata.
package store

import (
	"context"

	"jupitor/internal/domain"
)

// BarStore is the Local Store's contract (spec §4.3).
type BarStore interface {
	// Has reports whether at least minDays bars are archived for symbol.
	Has(ctx context.Context, symbol string, minDays int) (bool, error)

	// Get returns up to lastN most recent bars for symbol, ordered by date
	// ascending.
	Get(ctx context.Context, symbol string, lastN int) ([]domain.Bar, error)

	// Upsert merges bars into the archive for symbol and returns the count
	// of genuinely new rows inserted. Dates already archived are kept as
	// they are, except today's row when the previous sync ran before 15:00:
	// that row is replaced by the incoming one (stale-today-bar repair).
	Upsert(ctx context.Context, symbol string, bars []domain.Bar) (int, error)

	// LastDate returns the most recent archived date for symbol, or "" if
	// none.
	LastDate(ctx context.Context, symbol string) (string, error)

	// FirstDate returns the earliest archived date for symbol, or "" if
	// none.
	FirstDate(ctx context.Context, symbol string) (string, error)

	// MarkFullHistory latches fullHistoryCompleted for symbol. One-way:
	// never cleared by any public operation.
	MarkFullHistory(ctx context.Context, symbol string) error

	// IsFullHistory reports the current value of the fullHistoryCompleted
	// latch for symbol.
	IsFullHistory(ctx context.Context, symbol string) (bool, error)

	// SyncState returns the full sync-state record for symbol, or the zero
	// value with ok=false if the symbol has never been synced.
	SyncState(ctx context.Context, symbol string) (domain.SyncState, bool, error)

	// Stats returns the aggregate counters behind GetSyncStats: distinct
	// symbol count, total archived rows, and on-disk size in bytes.
	Stats(ctx context.Context) (symbols int, totalRows int, sizeBytes int64, err error)

	Close() error
}
