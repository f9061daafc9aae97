// Command md-daily runs the market data engine's background sync path
// standalone: refresh the symbol directory, then call GetBars for every
// known symbol so the Bar Service's Smart Fetch drives incremental and
// backfill work through the Work Queue, without an HTTP server attached.
// Grounded on the teacher's cmd/cn-daily/main.go: config load, gatherer
// construction, run-to-completion over a signal-bound context.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"jupitor/internal/barservice"
	"jupitor/internal/clock"
	"jupitor/internal/config"
	"jupitor/internal/domain"
	"jupitor/internal/provider"
	"jupitor/internal/quotecache"
	"jupitor/internal/store"
	"jupitor/internal/symboldir"
	"jupitor/internal/util"
	"jupitor/internal/workqueue"
)

// bootstrapDays is how many days of history GetBars requests per symbol
// during the daily sweep; it is well above the sufficiency threshold so
// every call exercises the warm path's incremental/stale checks, or seeds
// a cold symbol's initial history.
const bootstrapDays = 250

// sweepPerMinute caps how many symbols the daily sweep dispatches through
// GetBars per minute, so a full-universe run doesn't hammer the upstream
// providers ahead of the adapters' own per-call retry/backoff.
const sweepPerMinute = 600

// sweepConcurrency bounds how many GetBars calls run at once, the same
// semaphore-over-errgroup shape the teacher's buildHeatmap uses to fan a
// per-symbol loop out concurrently without unbounding it.
const sweepConcurrency = 16

func main() {
	cfgPath := "config/market-data.yaml"
	if p := os.Getenv("MARKET_DATA_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	barStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, nil)
	if err != nil {
		log.Fatalf("opening bar store: %v", err)
	}
	defer barStore.Close()

	provider.SetTimeout(time.Duration(cfg.Providers.RequestTimeoutSeconds) * time.Second)

	tencent := provider.NewTencent()
	eastmoney := provider.NewEastmoney()
	sina := provider.NewSina()
	hkquote := provider.NewHKQuote()

	barProvidersSmall := []provider.BarProvider{tencent, eastmoney}
	barProvidersLarge := []provider.BarProvider{eastmoney, tencent}
	quoteProviders := []provider.QuoteProvider{sina, tencent, hkquote}

	session := clock.New(cfg.Market.TradingCalendar)
	quotes := quotecache.New(quoteProviders, logger)
	queue := workqueue.New(cfg.WorkQueue.Workers, logger)

	bars := barservice.New(barStore, quotes, queue, session, barProvidersSmall, barProvidersLarge, logger)

	directory := symboldir.New(eastmoney, cfg.SymbolDirectory.RefreshHours, cfg.SymbolDirectory.CachePath, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := directory.Load(ctx); err != nil {
		log.Fatalf("loading symbol directory: %v", err)
	}

	universe := directory.All()
	logger.Info("starting daily sync sweep", "symbols", len(universe))

	limiter := util.NewRateLimiter(sweepPerMinute)
	sem := make(chan struct{}, sweepConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	var synced int64

	for _, entry := range universe {
		entry := entry

		if err := limiter.Wait(ctx); err != nil {
			logger.Warn("daily sweep interrupted while pacing dispatch", "synced", atomic.LoadInt64(&synced), "total", len(universe))
			break
		}

		symbol, ok := domain.ParseSymbol(entry.Code)
		if !ok {
			logger.Warn("skipping unroutable symbol", "code", entry.Code)
			continue
		}

		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if _, err := bars.GetBars(gctx, symbol, bootstrapDays, false); err != nil {
				logger.Error("GetBars failed during daily sweep", "symbol", symbol.String(), "error", err)
				return nil
			}
			atomic.AddInt64(&synced, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("daily sweep fan-out error", "error", err)
	}

	logger.Info("daily sweep dispatched, draining work queue", "synced", atomic.LoadInt64(&synced))
	queue.Shutdown()

	stats := queue.Stats()
	logger.Info("daily sync complete", "completed", stats.Completed, "failed", stats.Failed)
}
