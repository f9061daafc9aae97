// Package symboldir implements the Symbol Directory of spec §4.8: a
// read-mostly code→name snapshot refreshed from an upstream listing at
// most once per refreshHours, served stale-but-available in the
// meantime, with a disk-persisted cold-start cache. Grounded on the
// teacher's internal/cnapi/index.go csi300/csi500 loader (disk-snapshot
// read, in-memory map, case-insensitive lookup) and on
// internal/gather/us/reference.go's disk-cache-first refresh pattern.
//
// Also carries the sector/index constituent enrichment supplemented from
// original_source/services/sector_data_service.py: each entry may name the
// index(es) it belongs to, read from the same on-disk snapshot format.
package symboldir

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Entry is one directory row.
type Entry struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Sectors []string `json:"sectors,omitempty"`
}

// Lister fetches the full upstream symbol listing. A real implementation
// calls an exchange or data-vendor listing endpoint; tests supply a fake.
type Lister interface {
	ListSymbols(ctx context.Context) ([]Entry, error)
}

type snapshot struct {
	Entries   []Entry   `json:"entries"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Directory holds the current snapshot plus the refresh bookkeeping.
type Directory struct {
	mu       sync.RWMutex
	entries  []Entry
	byCode   map[string]Entry
	fetched  time.Time
	refresh  time.Duration
	lister   Lister
	cachePath string
	log      *slog.Logger
	now      func() time.Time

	refreshing bool
}

// New constructs a Directory. cachePath may be empty to disable disk
// persistence. now defaults to time.Now.
func New(lister Lister, refreshHours int, cachePath string, log *slog.Logger) *Directory {
	if refreshHours <= 0 {
		refreshHours = 24
	}
	return &Directory{
		byCode:    make(map[string]Entry),
		refresh:   time.Duration(refreshHours) * time.Hour,
		lister:    lister,
		cachePath: cachePath,
		log:       log,
		now:       time.Now,
	}
}

// WithNow overrides the clock, for deterministic tests.
func (d *Directory) WithNow(now func() time.Time) *Directory {
	d.now = now
	return d
}

// Load performs the cold-start sequence: read the disk cache if present,
// then, if the loaded (or absent) snapshot is older than the refresh
// interval, refresh from the lister synchronously and return its error.
func (d *Directory) Load(ctx context.Context) error {
	if d.cachePath != "" {
		if snap, err := readSnapshot(d.cachePath); err == nil {
			d.apply(snap.Entries, snap.FetchedAt)
		} else if !errors.Is(err, os.ErrNotExist) {
			d.log.Warn("symbol directory cache read failed", "path", d.cachePath, "error", err)
		}
	}

	if d.isStale() {
		return d.refreshNow(ctx)
	}
	return nil
}

// EnsureFresh triggers a background refresh (non-blocking, deduplicated)
// if the current snapshot is older than refreshHours. Callers on the read
// path should call this after serving a possibly-stale Search/Lookup.
func (d *Directory) EnsureFresh(ctx context.Context) {
	if !d.isStale() {
		return
	}
	d.mu.Lock()
	if d.refreshing {
		d.mu.Unlock()
		return
	}
	d.refreshing = true
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			d.refreshing = false
			d.mu.Unlock()
		}()
		if err := d.refreshNow(context.Background()); err != nil {
			d.log.Error("symbol directory refresh failed", "error", err)
		}
	}()
}

func (d *Directory) isStale() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.now().Sub(d.fetched) > d.refresh
}

func (d *Directory) refreshNow(ctx context.Context) error {
	entries, err := d.lister.ListSymbols(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("symbol directory: upstream returned empty listing")
	}
	fetchedAt := d.now()
	d.apply(entries, fetchedAt)

	if d.cachePath != "" {
		if err := writeSnapshot(d.cachePath, snapshot{Entries: entries, FetchedAt: fetchedAt}); err != nil {
			d.log.Warn("symbol directory cache write failed", "path", d.cachePath, "error", err)
		}
	}
	return nil
}

func (d *Directory) apply(entries []Entry, fetchedAt time.Time) {
	byCode := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byCode[strings.ToLower(e.Code)] = e
	}
	d.mu.Lock()
	d.entries = entries
	d.byCode = byCode
	d.fetched = fetchedAt
	d.mu.Unlock()
}

// Lookup returns the entry for an exact code match.
func (d *Directory) Lookup(code string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byCode[strings.ToLower(code)]
	return e, ok
}

// Search performs a case-insensitive substring match over code and name,
// returning at most limit results in directory order.
func (d *Directory) Search(q string, limit int) []Entry {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	q = strings.ToLower(strings.TrimSpace(q))

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Entry
	for _, e := range d.entries {
		if q == "" || strings.Contains(strings.ToLower(e.Code), q) || strings.Contains(strings.ToLower(e.Name), q) {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// All returns every entry in the currently served snapshot, in directory
// order. Used by batch jobs that need the full symbol universe rather than
// a search match.
func (d *Directory) All() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Age reports how old the currently served snapshot is.
func (d *Directory) Age() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.now().Sub(d.fetched)
}

func readSnapshot(path string) (snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func writeSnapshot(path string, snap snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
