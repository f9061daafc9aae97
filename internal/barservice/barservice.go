// Package barservice implements the Bar Service (Smart Fetch) of spec
// §4.5, the central orchestrator: local-store-first reads with a
// sufficiency gate, background incremental/backfill scheduling through the
// Work Queue, and live-quote fusion during a trading session. Grounded on
// the data-flow diagram in spec.md §2 and the pseudocode in §4.5; the
// provider-ordering-by-request-size rule is grounded on
// original_source/services/local_data_service.py's `get_stock_data`, which
// picks between its fast and high-capacity sources the same way.
package barservice

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"jupitor/internal/clock"
	"jupitor/internal/domain"
	"jupitor/internal/fallback"
	"jupitor/internal/provider"
	"jupitor/internal/quotecache"
	"jupitor/internal/store"
	"jupitor/internal/workqueue"
)

// largeRequestThreshold is the day-span above which the high-capacity
// provider is tried before the fast one (spec §4.5).
const largeRequestThreshold = 640

// backfillPageIterationCap bounds the background backfill loop (spec §4.5).
const backfillPageIterationCap = 10

// backfillRateLimitDelay is the pause between backfill pages, a courtesy to
// upstream providers' rate limits.
const backfillRateLimitDelay = 500 * time.Millisecond

// Service is the Bar Service.
type Service struct {
	store     store.BarStore
	quotes    *quotecache.Cache
	queue     *workqueue.Queue
	session   *clock.Session
	log       *slog.Logger

	barProvidersSmall []provider.BarProvider // <=640 days, fast-first
	barProvidersLarge []provider.BarProvider // >640 days, high-capacity-first

	now func() time.Time
}

// New builds a Bar Service. barProvidersSmall and barProvidersLarge are the
// provider orderings for small and large requests respectively (spec
// §4.5's "provider ordering depends on request size").
func New(
	st store.BarStore,
	quotes *quotecache.Cache,
	queue *workqueue.Queue,
	session *clock.Session,
	barProvidersSmall, barProvidersLarge []provider.BarProvider,
	log *slog.Logger,
) *Service {
	return &Service{
		store:             st,
		quotes:            quotes,
		queue:             queue,
		session:           session,
		barProvidersSmall: barProvidersSmall,
		barProvidersLarge: barProvidersLarge,
		log:               log,
		now:               time.Now,
	}
}

// WithNow overrides the clock used for staleness checks; for tests only.
func (s *Service) WithNow(fn func() time.Time) *Service {
	s.now = fn
	return s
}

func sufficientCount(n int) int {
	// ceil(0.8*n)
	return (n*8 + 9) / 10
}

// GetBars is the request-handling entry point of spec §4.5.
func (s *Service) GetBars(ctx context.Context, symbol domain.Symbol, n int, withLive bool) (out []domain.Bar, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("GetBars recovered from panic", "symbol", symbol.String(), "panic", r, "stack", string(debug.Stack()))
			out, err = nil, nil
		}
	}()

	key := symbol.String()

	bars, err := s.store.Get(ctx, key, n)
	if err != nil {
		s.log.Warn("local store read failed, treating as cache miss", "symbol", key, "error", err)
		bars = nil
	}

	if len(bars) >= sufficientCount(n) {
		needsIncr, err := s.needsIncrementalUpdate(ctx, key)
		if err != nil {
			s.log.Warn("needsIncrementalUpdate check failed", "symbol", key, "error", err)
		}
		stale, err := s.isStale(ctx, key)
		if err != nil {
			s.log.Warn("isStale check failed", "symbol", key, "error", err)
		}
		if needsIncr || stale {
			s.queue.Submit(workqueue.HIGH, "incr-"+key, s.incrementalTask(symbol))
		}

		full, err := s.store.IsFullHistory(ctx, key)
		if err != nil {
			s.log.Warn("IsFullHistory check failed", "symbol", key, "error", err)
		}
		if !full {
			s.queue.Submit(workqueue.LOW, "backfill-"+key, s.backfillTask(symbol))
		}

		if withLive && s.session.IsTradingSession(s.now()) {
			bars = s.fuseLive(ctx, symbol, bars)
		}
		return bars, nil
	}

	// Cold / insufficient path.
	fetched, ok := s.fetchFromProviders(ctx, symbol, n, "")
	if !ok || len(fetched) == 0 {
		return nil, nil
	}

	if _, err := s.store.Upsert(ctx, key, fetched); err != nil {
		s.log.Error("upsert after cold fetch failed", "symbol", key, "error", err)
		return nil, nil
	}

	s.queue.Submit(workqueue.LOW, "backfill-"+key, s.backfillTask(symbol))

	result, err := s.store.Get(ctx, key, n)
	if err != nil {
		s.log.Error("local store re-read failed", "symbol", key, "error", err)
		return nil, nil
	}

	if withLive && s.session.IsTradingSession(s.now()) {
		result = s.fuseLive(ctx, symbol, result)
	}
	return result, nil
}

// needsIncrementalUpdate ≡ LastDate(S) < getLastTradingDay(now).
func (s *Service) needsIncrementalUpdate(ctx context.Context, key string) (bool, error) {
	last, err := s.store.LastDate(ctx, key)
	if err != nil {
		return false, err
	}
	if last == "" {
		return true, nil
	}
	lastTradingDay := clock.DateString(s.session.LastTradingDay(s.now()))
	return last < lastTradingDay, nil
}

// isStale ≡ today is a trading day, LastDate(S)==today, last sync time is
// before today 15:00, and now is after 15:00.
func (s *Service) isStale(ctx context.Context, key string) (bool, error) {
	now := s.session.Now()
	if !s.session.IsTradingDay(now) || !s.session.IsAfterClose(now) {
		return false, nil
	}
	last, err := s.store.LastDate(ctx, key)
	if err != nil {
		return false, err
	}
	today := clock.DateString(now)
	if last != today {
		return false, nil
	}
	sync, ok, err := s.store.SyncState(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	todayClose := time.Date(now.Year(), now.Month(), now.Day(), 15, 0, 0, 0, now.Location())
	return sync.LastSyncAt.Before(todayClose), nil
}

// fuseLive appends a synthetic today's bar from the live quote if today's
// bar is absent from the archived series; leaves it untouched if present.
func (s *Service) fuseLive(ctx context.Context, symbol domain.Symbol, bars []domain.Bar) []domain.Bar {
	today := clock.DateString(s.session.Now())
	if len(bars) > 0 && bars[len(bars)-1].Date == today {
		return bars
	}
	q, ok := s.quotes.GetQuote(ctx, symbol)
	if !ok {
		return bars
	}
	synthetic := domain.Bar{
		Symbol: symbol.String(),
		Date:   today,
		Open:   q.Open,
		High:   q.High,
		Low:    q.Low,
		Close:  q.Now,
		Volume: q.Volume,
	}
	return append(bars, synthetic)
}

func (s *Service) providersFor(days int) []provider.BarProvider {
	if days > largeRequestThreshold {
		return s.barProvidersLarge
	}
	return s.barProvidersSmall
}

// fetchFromProviders drives the Fallback Executor over the size-ordered
// provider list for a single page ending at endDate (empty = today).
func (s *Service) fetchFromProviders(ctx context.Context, symbol domain.Symbol, days int, endDate string) ([]domain.Bar, bool) {
	providers := s.providersFor(days)
	attempts := make([]fallback.Attempt[[]domain.Bar], 0, len(providers))
	for _, p := range providers {
		p := p
		attempts = append(attempts, fallback.Attempt[[]domain.Bar]{
			Name: p.Name(),
			Do: func(ctx context.Context) ([]domain.Bar, error) {
				if !p.Available() {
					return nil, provider.ErrUnsupported
				}
				return p.FetchBars(ctx, symbol, days, endDate)
			},
		})
	}
	return fallback.Execute(ctx, s.log, "bars:"+symbol.String(), attempts, func(v []domain.Bar) bool { return len(v) == 0 })
}

// incrementalTask refreshes a symbol to the latest trading day.
func (s *Service) incrementalTask(symbol domain.Symbol) func(ctx context.Context) error {
	key := symbol.String()
	return func(ctx context.Context) error {
		bars, ok := s.fetchFromProviders(ctx, symbol, 5, "")
		if !ok || len(bars) == 0 {
			return fmt.Errorf("barservice: incremental fetch for %s returned no data", key)
		}
		if _, err := s.store.Upsert(ctx, key, bars); err != nil {
			return fmt.Errorf("barservice: incremental upsert for %s failed: %w", key, err)
		}
		return nil
	}
}

// backfillTask walks a symbol's history backward until the earliest
// available page, latching fullHistoryCompleted when a page comes back
// empty (spec §4.5's backfill loop). Reaching the iteration cap ends the
// task without setting the latch.
func (s *Service) backfillTask(symbol domain.Symbol) func(ctx context.Context) error {
	key := symbol.String()
	return func(ctx context.Context) error {
		for i := 0; i < backfillPageIterationCap; i++ {
			firstDate, err := s.store.FirstDate(ctx, key)
			if err != nil {
				return fmt.Errorf("barservice: backfill FirstDate for %s failed: %w", key, err)
			}
			if firstDate == "" {
				return nil
			}

			endDate := dayBefore(firstDate)
			page, ok := s.fetchFromProviders(ctx, symbol, largeRequestThreshold, endDate)
			if !ok || len(page) == 0 {
				if err := s.store.MarkFullHistory(ctx, key); err != nil {
					return fmt.Errorf("barservice: MarkFullHistory for %s failed: %w", key, err)
				}
				return nil
			}

			if _, err := s.store.Upsert(ctx, key, page); err != nil {
				return fmt.Errorf("barservice: backfill upsert for %s failed: %w", key, err)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backfillRateLimitDelay):
			}
		}
		return nil
	}
}

func dayBefore(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, -1).Format("2006-01-02")
}
