package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"jupitor/internal/domain"
)

// HKQuote is the browser-API provider C spec §4.4 names as the final
// fallback in the quote-provider order: a Hong Kong quote endpoint that
// mirrors what a browser's market-data widget calls directly. Supplements
// the spec's CN-only provider pair with the Hong Kong coverage
// original_source/services/hk_quotation_service.py provides.
type HKQuote struct {
	client    *http.Client
	available atomic.Bool
}

func NewHKQuote() *HKQuote {
	h := &HKQuote{client: newHTTPClient()}
	h.available.Store(true)
	return h
}

func (h *HKQuote) Name() string    { return "hkquote" }
func (h *HKQuote) Available() bool { return h.available.Load() }

// FetchQuote fetches realtime quotes for Hong Kong symbols. Non-HK symbols
// are skipped: this provider only ever sits at the tail of the quote
// fallback chain, after the two A-share-oriented providers have had their
// turn.
func (h *HKQuote) FetchQuote(ctx context.Context, symbols []domain.Symbol) (map[string]domain.Quote, error) {
	hkSymbols := make([]domain.Symbol, 0, len(symbols))
	for _, sym := range symbols {
		if sym.Market == domain.MarketHK {
			hkSymbols = append(hkSymbols, sym)
		}
	}
	if len(hkSymbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	codes := make([]string, len(hkSymbols))
	for i, sym := range hkSymbols {
		codes[i] = "r_hk" + sym.Code
	}
	url := "http://qt.gtimg.cn/q=" + strings.Join(codes, ",")

	out := make(map[string]domain.Quote)
	err := withRetry(ctx, func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, rerr)
		}
		resp, derr := h.client.Do(req)
		if derr != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, derr)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return ErrRateLimit
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
		}

		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, rerr)
		}

		for _, line := range strings.Split(string(body), ";") {
			line = strings.TrimSpace(line)
			if !strings.Contains(line, "=\"") {
				continue
			}
			eq := strings.Index(line, "=\"")
			varName := line[:eq]
			data := strings.Trim(line[eq+2:], "\";\r\n ")
			code := strings.TrimPrefix(strings.TrimPrefix(varName, "v_"), "r_hk")
			fields := strings.Split(data, "~")
			if len(fields) < 9 {
				continue
			}
			now, _ := strconv.ParseFloat(fields[3], 64)
			prevClose, _ := strconv.ParseFloat(fields[4], 64)
			open, _ := strconv.ParseFloat(fields[5], 64)
			high, _ := strconv.ParseFloat(safeIndex(fields, 33), 64)
			low, _ := strconv.ParseFloat(safeIndex(fields, 34), 64)

			out["hk"+code] = domain.Quote{
				Symbol:    "hk" + code,
				Name:      safeIndex(fields, 1),
				Now:       now,
				Open:      open,
				PrevClose: prevClose,
				High:      high,
				Low:       low,
				AsOf:      time.Now(),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
