// Package httpapi exposes the Bar Service and its neighboring components
// over HTTP, spec §6's "thin HTTP layer" wrapping the programmatic
// surface. Grounded on the teacher's internal/cnapi/server.go:
// net/http.ServeMux routing, a shared writeJSON helper, and a permissive
// CORS middleware for the (external, out-of-scope) frontend.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"jupitor/internal/analysiscache"
	"jupitor/internal/barservice"
	"jupitor/internal/domain"
	"jupitor/internal/indicator"
	"jupitor/internal/provider"
	"jupitor/internal/quotecache"
	"jupitor/internal/store"
	"jupitor/internal/symboldir"
	"jupitor/internal/watchlist"
)

// Server wires the Bar Service and its neighbors into an HTTP surface.
type Server struct {
	bars       *barservice.Service
	quotes     *quotecache.Cache
	intraday   provider.IntradayProvider
	directory  *symboldir.Directory
	watchlist  *watchlist.Store
	store      store.BarStore
	indicators *analysiscache.Cache
	log        *slog.Logger

	mux *http.ServeMux
}

// New builds a Server and registers its routes. indicators may be nil, in
// which case /api/indicators always recomputes.
func New(
	bars *barservice.Service,
	quotes *quotecache.Cache,
	intraday provider.IntradayProvider,
	directory *symboldir.Directory,
	wl *watchlist.Store,
	st store.BarStore,
	indicators *analysiscache.Cache,
	log *slog.Logger,
) *Server {
	s := &Server{
		bars:       bars,
		quotes:     quotes,
		intraday:   intraday,
		directory:  directory,
		watchlist:  wl,
		store:      st,
		indicators: indicators,
		log:        log,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler, wrapping every route in the CORS
// middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	withCORS(s.mux).ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/bars", s.handleGetBars)
	s.mux.HandleFunc("/api/quote", s.handleGetQuote)
	s.mux.HandleFunc("/api/quotes", s.handleGetQuoteBatch)
	s.mux.HandleFunc("/api/intraday", s.handleGetIntraday)
	s.mux.HandleFunc("/api/search", s.handleSearchSymbols)
	s.mux.HandleFunc("/api/sync-stats", s.handleGetSyncStats)
	s.mux.HandleFunc("/api/watchlist", s.handleWatchlist)
	s.mux.HandleFunc("/api/indicators", s.handleGetIndicators)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseSymbolParam(r *http.Request) (domain.Symbol, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if raw == "" {
		return domain.Symbol{}, false
	}
	return domain.ParseSymbol(raw)
}

// handleGetBars serves GetBars(symbol, days, withLive) (spec §6).
func (s *Server) handleGetBars(w http.ResponseWriter, r *http.Request) {
	symbol, ok := parseSymbolParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing symbol")
		return
	}

	days := 120
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	withLive := r.URL.Query().Get("withLive") == "true"

	bars, err := s.bars.GetBars(r.Context(), symbol, days, withLive)
	if err != nil {
		s.log.Error("GetBars failed", "symbol", symbol.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if bars == nil {
		writeError(w, http.StatusNotFound, "no data available for symbol")
		return
	}
	writeJSON(w, http.StatusOK, bars)
}

// handleGetQuote serves GetQuote(symbol) (spec §6).
func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	symbol, ok := parseSymbolParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing symbol")
		return
	}
	q, ok := s.quotes.GetQuote(r.Context(), symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "quote unavailable")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleGetQuoteBatch serves GetQuoteBatch(symbols[]) for up to 50 symbols
// (spec §6).
func (s *Server) handleGetQuoteBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing symbols parameter")
		return
	}
	parts := strings.Split(raw, ",")
	if len(parts) > 50 {
		writeError(w, http.StatusBadRequest, "at most 50 symbols per request")
		return
	}

	symbols := make([]domain.Symbol, 0, len(parts))
	for _, p := range parts {
		sym, ok := domain.ParseSymbol(strings.TrimSpace(p))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid symbol: "+p)
			return
		}
		symbols = append(symbols, sym)
	}

	quotes := s.quotes.GetQuoteBatch(r.Context(), symbols)
	writeJSON(w, http.StatusOK, quotes)
}

// handleGetIntraday serves GetIntraday(symbol) (spec §6).
func (s *Server) handleGetIntraday(w http.ResponseWriter, r *http.Request) {
	symbol, ok := parseSymbolParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing symbol")
		return
	}
	if s.intraday == nil || !s.intraday.Available() {
		writeError(w, http.StatusNotFound, "intraday data unavailable")
		return
	}
	points, err := s.intraday.FetchIntraday(r.Context(), symbol)
	if err != nil {
		s.log.Warn("FetchIntraday failed", "symbol", symbol.String(), "error", err)
		writeError(w, http.StatusNotFound, "intraday data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol.String(),
		"points": points,
	})
}

// handleSearchSymbols serves SearchSymbols(query, limit<=50) (spec §6).
func (s *Server) handleSearchSymbols(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			limit = n
		}
	}
	s.directory.EnsureFresh(r.Context())
	writeJSON(w, http.StatusOK, s.directory.Search(q, limit))
}

// indicatorsResult is the cached/computed payload for /api/indicators.
type indicatorsResult struct {
	MA   []float64             `json:"ma"`
	BBI  []float64             `json:"bbi"`
	MACD []indicator.MACDPoint `json:"macd"`
	KDJ  []indicator.KDJPoint  `json:"kdj"`
}

// handleGetIndicators computes MA/BBI/MACD/KDJ over a symbol's bar history,
// going through the Analysis Cache (spec §4.7) to avoid recomputation on
// repeated requests within its TTL.
func (s *Server) handleGetIndicators(w http.ResponseWriter, r *http.Request) {
	symbol, ok := parseSymbolParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing symbol")
		return
	}
	days := 120
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	maWindow := 20
	if v := r.URL.Query().Get("maWindow"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			maWindow = n
		}
	}

	key := fmt.Sprintf("%s:%d:%d", symbol.String(), days, maWindow)
	if s.indicators != nil {
		if cached, hit := s.indicators.Get(key); hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	bars, err := s.bars.GetBars(r.Context(), symbol, days, false)
	if err != nil {
		s.log.Error("GetBars for indicators failed", "symbol", symbol.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if bars == nil {
		writeError(w, http.StatusNotFound, "no data available for symbol")
		return
	}

	result := indicatorsResult{
		MA:   indicator.MA(bars, maWindow),
		BBI:  indicator.BBI(bars),
		MACD: indicator.MACD(bars),
		KDJ:  indicator.KDJ(bars),
	}
	if s.indicators != nil {
		s.indicators.Set(key, result)
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetSyncStats serves the Local Store's aggregate counters.
func (s *Server) handleGetSyncStats(w http.ResponseWriter, r *http.Request) {
	symbols, totalRows, sizeBytes, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols":   symbols,
		"totalRows": totalRows,
		"sizeBytes": sizeBytes,
	})
}

// handleWatchlist serves the three watchlist operations: GET to read, POST
// to add {bucket, code}, DELETE to remove.
func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.watchlist.Get()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost, http.MethodDelete:
		var body struct {
			Bucket string `json:"bucket"`
			Code   string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Bucket == "" || body.Code == "" {
			writeError(w, http.StatusBadRequest, "bucket and code are required")
			return
		}

		var (
			list watchlist.List
			err  error
		)
		if r.Method == http.MethodPost {
			list, err = s.watchlist.Add(body.Bucket, body.Code)
		} else {
			list, err = s.watchlist.Remove(body.Bucket, body.Code)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, list)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
