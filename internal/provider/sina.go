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

// Sina wraps hq.sinajs.cn, the preferred A-share realtime quote source:
// stable and officially sanctioned, no history support. Grounded on
// original_source/services/data_sources/sina.py.
type Sina struct {
	client    *http.Client
	available atomic.Bool
}

func NewSina() *Sina {
	s := &Sina{client: newHTTPClient()}
	s.available.Store(true)
	return s
}

func (s *Sina) Name() string    { return "sina" }
func (s *Sina) Available() bool { return s.available.Load() }

// FetchQuote fetches realtime quotes for A-share symbols. Sina does not
// serve Hong Kong codes through this endpoint; those are dropped silently.
// A request of only HK symbols therefore yields an empty map, which the
// Fallback Executor treats as a failure and passes on to the next provider
// in the quote order; in a mixed batch the HK symbols are simply missing.
func (s *Sina) FetchQuote(ctx context.Context, symbols []domain.Symbol) (map[string]domain.Quote, error) {
	cnSymbols := make([]domain.Symbol, 0, len(symbols))
	for _, sym := range symbols {
		if sym.Market != domain.MarketHK {
			cnSymbols = append(cnSymbols, sym)
		}
	}
	if len(cnSymbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	codes := make([]string, len(cnSymbols))
	for i, sym := range cnSymbols {
		codes[i] = sym.String()
	}
	url := "http://hq.sinajs.cn/list=" + strings.Join(codes, ",")

	out := make(map[string]domain.Quote)
	err := withRetry(ctx, func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, rerr)
		}
		req.Header.Set("Referer", "http://finance.sina.com.cn")

		resp, derr := s.client.Do(req)
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

		for _, line := range strings.Split(string(body), "\n") {
			line = strings.TrimSpace(line)
			if !strings.Contains(line, "=\"") {
				continue
			}
			eq := strings.Index(line, "=\"")
			varName := strings.TrimPrefix(line[:eq], "var ") // "hq_str_sh600519"
			code := strings.TrimPrefix(varName, "hq_str_")
			data := strings.Trim(line[eq+2:], "\";\r\n")
			if data == "" {
				continue
			}
			fields := strings.Split(data, ",")
			if len(fields) < 10 {
				continue
			}
			open, _ := strconv.ParseFloat(fields[1], 64)
			prevClose, _ := strconv.ParseFloat(fields[2], 64)
			now, _ := strconv.ParseFloat(fields[3], 64)
			high, _ := strconv.ParseFloat(fields[4], 64)
			low, _ := strconv.ParseFloat(fields[5], 64)
			volume, _ := strconv.ParseFloat(fields[8], 64)
			turnover, _ := strconv.ParseFloat(fields[9], 64)

			out[code] = domain.Quote{
				Symbol:    code,
				Name:      fields[0],
				Now:       now,
				Open:      open,
				PrevClose: prevClose,
				High:      high,
				Low:       low,
				Volume:    int64(volume),
				Turnover:  turnover,
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
