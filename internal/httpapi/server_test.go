package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"jupitor/internal/analysiscache"
	"jupitor/internal/barservice"
	"jupitor/internal/clock"
	"jupitor/internal/domain"
	"jupitor/internal/provider"
	"jupitor/internal/quotecache"
	"jupitor/internal/store"
	"jupitor/internal/symboldir"
	"jupitor/internal/watchlist"
	"jupitor/internal/workqueue"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is a minimal in-memory store.BarStore for HTTP-layer tests.
type memStore struct {
	mu   sync.Mutex
	bars map[string][]domain.Bar
}

func newMemStore() *memStore { return &memStore{bars: make(map[string][]domain.Bar)} }

func (m *memStore) Has(ctx context.Context, symbol string, minDays int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bars[symbol]) >= minDays, nil
}

func (m *memStore) Get(ctx context.Context, symbol string, lastN int) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.bars[symbol]
	if len(all) <= lastN {
		out := make([]domain.Bar, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]domain.Bar, lastN)
	copy(out, all[len(all)-lastN:])
	return out, nil
}

func (m *memStore) Upsert(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate := make(map[string]domain.Bar)
	for _, b := range m.bars[symbol] {
		byDate[b.Date] = b
	}
	for _, b := range bars {
		byDate[b.Date] = b
	}
	merged := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	m.bars[symbol] = merged
	return len(bars), nil
}

func (m *memStore) LastDate(ctx context.Context, symbol string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.bars[symbol]
	if len(all) == 0 {
		return "", nil
	}
	return all[len(all)-1].Date, nil
}

func (m *memStore) FirstDate(ctx context.Context, symbol string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.bars[symbol]
	if len(all) == 0 {
		return "", nil
	}
	return all[0].Date, nil
}

func (m *memStore) MarkFullHistory(ctx context.Context, symbol string) error { return nil }

func (m *memStore) IsFullHistory(ctx context.Context, symbol string) (bool, error) {
	return true, nil
}

func (m *memStore) SyncState(ctx context.Context, symbol string) (domain.SyncState, bool, error) {
	return domain.SyncState{}, false, nil
}

func (m *memStore) Stats(ctx context.Context) (int, int, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, b := range m.bars {
		total += len(b)
	}
	return len(m.bars), total, 1024, nil
}

func (m *memStore) Close() error { return nil }

var _ store.BarStore = (*memStore)(nil)

type fakeBarProvider struct{ bars []domain.Bar }

func (f *fakeBarProvider) Name() string        { return "fake" }
func (f *fakeBarProvider) Available() bool     { return true }
func (f *fakeBarProvider) MaxBarsPerCall() int  { return 640 }
func (f *fakeBarProvider) FetchBars(ctx context.Context, symbol domain.Symbol, days int, endDate string) ([]domain.Bar, error) {
	return f.bars, nil
}

type fakeQuoteProvider struct{ quotes map[string]domain.Quote }

func (f *fakeQuoteProvider) Name() string    { return "fake" }
func (f *fakeQuoteProvider) Available() bool { return true }
func (f *fakeQuoteProvider) FetchQuote(ctx context.Context, symbols []domain.Symbol) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote)
	for _, s := range symbols {
		if q, ok := f.quotes[s.String()]; ok {
			out[s.String()] = q
		}
	}
	return out, nil
}

type fakeIntradayProvider struct{ points []domain.IntradayPoint }

func (f *fakeIntradayProvider) Name() string    { return "fake" }
func (f *fakeIntradayProvider) Available() bool { return true }
func (f *fakeIntradayProvider) FetchIntraday(ctx context.Context, symbol domain.Symbol) ([]domain.IntradayPoint, error) {
	return f.points, nil
}

var _ provider.IntradayProvider = (*fakeIntradayProvider)(nil)

type fakeLister struct{ entries []symboldir.Entry }

func (f *fakeLister) ListSymbols(ctx context.Context) ([]symboldir.Entry, error) {
	return f.entries, nil
}

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	st := newMemStore()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	session := clock.New("Asia/Shanghai").WithNow(func() time.Time { return now })
	qc := quotecache.New([]provider.QuoteProvider{&fakeQuoteProvider{quotes: map[string]domain.Quote{
		"sh600519": {Symbol: "sh600519", Name: "Kweichow Moutai", Now: 1700},
	}}}, quietLogger())
	q := workqueue.New(1, quietLogger())
	t.Cleanup(q.Shutdown)

	fp := &fakeBarProvider{bars: []domain.Bar{
		{Symbol: "sh600519", Date: "2026-07-29", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000},
		{Symbol: "sh600519", Date: "2026-07-30", Open: 10.5, High: 11, Low: 10, Close: 10.8, Volume: 1200},
	}}
	bars := barservice.New(st, qc, q, session, []provider.BarProvider{fp}, []provider.BarProvider{fp}, quietLogger())
	bars.WithNow(func() time.Time { return now })

	intraday := &fakeIntradayProvider{points: []domain.IntradayPoint{{Time: "09:30", Price: 1700, Avg: 1700, Volume: 1000}}}

	dir := symboldir.New(&fakeLister{entries: []symboldir.Entry{{Code: "sh600519", Name: "Kweichow Moutai"}}}, 24, "", quietLogger())
	if err := dir.Load(context.Background()); err != nil {
		t.Fatalf("symboldir.Load: %v", err)
	}

	wl := watchlist.New(filepath.Join(t.TempDir(), "watchlist.json"))

	ic, err := analysiscache.New(50, 5*time.Minute)
	if err != nil {
		t.Fatalf("analysiscache.New: %v", err)
	}
	t.Cleanup(ic.Close)

	return New(bars, qc, intraday, dir, wl, st, ic, quietLogger()), st
}

func TestHandleGetBars(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/bars?symbol=sh600519&days=2", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var bars []domain.Bar
	if err := json.Unmarshal(w.Body.Bytes(), &bars); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(bars) != 2 {
		t.Errorf("len(bars) = %d, want 2", len(bars))
	}
}

func TestHandleGetBarsInvalidSymbol(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/bars?symbol=bogus!!", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleGetQuote(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/quote?symbol=sh600519", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var q domain.Quote
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.Name != "Kweichow Moutai" {
		t.Errorf("q.Name = %q, want Kweichow Moutai", q.Name)
	}
}

func TestHandleSearchSymbols(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=moutai", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var entries []symboldir.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Code != "sh600519" {
		t.Errorf("entries = %+v, want [sh600519]", entries)
	}
}

func TestHandleWatchlistAddGetRemove(t *testing.T) {
	s, _ := newTestServer(t)

	body := bodyJSON(t, map[string]string{"bucket": "favorites", "code": "sh600519"})
	req := httptest.NewRequest(http.MethodPost, "/api/watchlist", body)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want 200; body=%s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/watchlist", nil)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	var list watchlist.List
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Favorites) != 1 || list.Favorites[0] != "sh600519" {
		t.Fatalf("Favorites = %v, want [sh600519]", list.Favorites)
	}

	body = bodyJSON(t, map[string]string{"bucket": "favorites", "code": "sh600519"})
	req = httptest.NewRequest(http.MethodDelete, "/api/watchlist", body)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d, want 200", w.Code)
	}
}

func TestHandleGetIndicators(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/indicators?symbol=sh600519&days=2&maWindow=2", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var result indicatorsResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.MACD) == 0 {
		t.Error("MACD should be populated for a 2-bar series")
	}

	// A second request within the TTL should be served from cache.
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/indicators?symbol=sh600519&days=2&maWindow=2", nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("cached status = %d, want 200", w2.Code)
	}
}

func TestHandleGetSyncStats(t *testing.T) {
	s, st := newTestServer(t)
	if _, err := st.Upsert(context.Background(), "sh600519", []domain.Bar{{Symbol: "sh600519", Date: "2026-07-30"}}); err != nil {
		t.Fatalf("seed Upsert: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sync-stats", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if int(stats["symbols"].(float64)) != 1 {
		t.Errorf("symbols = %v, want 1", stats["symbols"])
	}
}

func bodyJSON(t *testing.T, v any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return &jsonReader{data: raw}
}

type jsonReader struct {
	data []byte
	pos  int
}

func (r *jsonReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
