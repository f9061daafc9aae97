// Command md-server runs the market data engine's HTTP surface: Bar
// Service, Quote Cache, Symbol Directory, Watchlist and Analysis Cache,
// wired together and served over net/http. Grounded on the teacher's
// cmd/cn-server/main.go: config load, file+stdout logging, signal-driven
// graceful shutdown.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jupitor/internal/analysiscache"
	"jupitor/internal/barservice"
	"jupitor/internal/clock"
	"jupitor/internal/config"
	"jupitor/internal/httpapi"
	"jupitor/internal/provider"
	"jupitor/internal/quotecache"
	"jupitor/internal/store"
	"jupitor/internal/symboldir"
	"jupitor/internal/watchlist"
	"jupitor/internal/workqueue"
)

func main() {
	cfgPath := "config/market-data.yaml"
	if p := os.Getenv("MARKET_DATA_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logFileName := fmt.Sprintf("/tmp/md-server-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Logging.Level))
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

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

	barProvidersByName := map[string]provider.BarProvider{
		"tencent":   tencent,
		"eastmoney": eastmoney,
	}
	quoteProvidersByName := map[string]provider.QuoteProvider{
		"tencent": tencent,
		"sina":    sina,
		"hkquote": hkquote,
	}

	barProvidersSmall := resolveBarProviders(cfg.Providers.BarOrderSmall, barProvidersByName, logger)
	barProvidersLarge := resolveBarProviders(cfg.Providers.BarOrderLarge, barProvidersByName, logger)
	quoteProviders := resolveQuoteProviders(cfg.Providers.QuoteOrder, quoteProvidersByName, logger)

	session := clock.New(cfg.Market.TradingCalendar)
	quotes := quotecache.New(quoteProviders, logger)
	queue := workqueue.New(cfg.WorkQueue.Workers, logger)
	defer queue.Shutdown()

	bars := barservice.New(barStore, quotes, queue, session, barProvidersSmall, barProvidersLarge, logger)

	indicators, err := analysiscache.New(cfg.AnalysisCache.MaxEntries, time.Duration(cfg.AnalysisCache.TTLMinutes)*time.Minute)
	if err != nil {
		log.Fatalf("building analysis cache: %v", err)
	}
	defer indicators.Close()

	directory := symboldir.New(eastmoney, cfg.SymbolDirectory.RefreshHours, cfg.SymbolDirectory.CachePath, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := directory.Load(ctx); err != nil {
		logger.Warn("symbol directory cold start failed, serving empty until next refresh", "error", err)
	}

	wl := watchlist.New(cfg.Watchlist.Path)

	srv := httpapi.New(bars, quotes, tencent, directory, wl, barStore, indicators, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv,
	}

	go func() {
		logger.Info("market data server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down market data server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func resolveBarProviders(names []string, by map[string]provider.BarProvider, logger *slog.Logger) []provider.BarProvider {
	out := make([]provider.BarProvider, 0, len(names))
	for _, n := range names {
		p, ok := by[n]
		if !ok {
			logger.Warn("unknown bar provider in config, skipping", "name", n)
			continue
		}
		out = append(out, p)
	}
	return out
}

func resolveQuoteProviders(names []string, by map[string]provider.QuoteProvider, logger *slog.Logger) []provider.QuoteProvider {
	out := make([]provider.QuoteProvider, 0, len(names))
	for _, n := range names {
		p, ok := by[n]
		if !ok {
			logger.Warn("unknown quote provider in config, skipping", "name", n)
			continue
		}
		out = append(out, p)
	}
	return out
}
