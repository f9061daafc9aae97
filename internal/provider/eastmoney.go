package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"jupitor/internal/domain"
	"jupitor/internal/symboldir"
)

// Eastmoney wraps push2his.eastmoney.com's kline endpoint, the
// high-capacity A-share bar provider (up to 3000 days per call), used
// when a request exceeds Tencent's 640-day ceiling. Grounded on
// original_source/services/data_sources/eastmoney.py.
type Eastmoney struct {
	client    *http.Client
	available atomic.Bool
}

func NewEastmoney() *Eastmoney {
	e := &Eastmoney{client: newHTTPClient()}
	e.available.Store(true)
	return e
}

var _ symboldir.Lister = (*Eastmoney)(nil)

func (e *Eastmoney) Name() string       { return "eastmoney" }
func (e *Eastmoney) Available() bool    { return e.available.Load() }
func (e *Eastmoney) MaxBarsPerCall() int { return 3000 }

type eastmoneyResponse struct {
	Data *eastmoneyData `json:"data"`
}

type eastmoneyData struct {
	Klines []string `json:"klines"`
}

func (e *Eastmoney) FetchBars(ctx context.Context, symbol domain.Symbol, days int, endDate string) ([]domain.Bar, error) {
	if symbol.Market == domain.MarketHK {
		return nil, ErrUnsupported
	}
	if days > e.MaxBarsPerCall() {
		days = e.MaxBarsPerCall()
	}

	secid := eastmoneySecID(symbol)
	url := fmt.Sprintf(
		"http://push2his.eastmoney.com/api/qt/stock/kline/get?secid=%s&klt=101&fqt=1&lmt=%d&end=%s&fields1=f1,f2,f3&fields2=f51,f52,f53,f54,f55,f56",
		secid, days, strings.ReplaceAll(endDate, "-", ""))

	var bars []domain.Bar
	err := withRetry(ctx, func() error {
		body, ferr := e.get(ctx, url)
		if ferr != nil {
			return ferr
		}
		var resp eastmoneyResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			e.available.Store(false)
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		if resp.Data == nil {
			bars = nil
			return nil
		}
		bars = make([]domain.Bar, 0, len(resp.Data.Klines))
		for _, line := range resp.Data.Klines {
			b, perr := parseEastmoneyRow(symbol.String(), line)
			if perr != nil {
				continue
			}
			bars = append(bars, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.available.Store(true)
	return bars, nil
}

func parseEastmoneyRow(symbol, line string) (domain.Bar, error) {
	fields := strings.Split(line, ",")
	// date,open,close,high,low,volume,...
	if len(fields) < 6 {
		return domain.Bar{}, ErrParse
	}
	o, err1 := strconv.ParseFloat(fields[1], 64)
	c, err2 := strconv.ParseFloat(fields[2], 64)
	h, err3 := strconv.ParseFloat(fields[3], 64)
	l, err4 := strconv.ParseFloat(fields[4], 64)
	v, err5 := strconv.ParseFloat(fields[5], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return domain.Bar{}, ErrParse
	}
	return domain.Bar{
		Symbol: symbol,
		Date:   fields[0],
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: int64(v),
	}, nil
}

func (e *Eastmoney) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimit
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return body, nil
}

// eastmoneySecID renders eastmoney's "<market>.<code>" secid: 1 for
// Shanghai, 0 for Shenzhen and Beijing.
func eastmoneySecID(s domain.Symbol) string {
	if s.Market == domain.MarketSH {
		return "1." + s.Code
	}
	return "0." + s.Code
}

type eastmoneyClistResponse struct {
	Data *eastmoneyClistData `json:"data"`
}

type eastmoneyClistData struct {
	Diff []eastmoneyClistRow `json:"diff"`
}

type eastmoneyClistRow struct {
	Code   string `json:"f12"`
	Name   string `json:"f14"`
	Market int    `json:"f13"` // 1 = SH, 0 = SZ/BJ
}

// ListSymbols satisfies symboldir.Lister: it fetches the full A-share
// universe (name, code, market) from eastmoney's clist screener endpoint,
// a single paginated call covering every SH/SZ/BJ-listed stock.
func (e *Eastmoney) ListSymbols(ctx context.Context) ([]symboldir.Entry, error) {
	const pageSize = 5000
	url := fmt.Sprintf(
		"http://push2.eastmoney.com/api/qt/clist/get?pn=1&pz=%d&fs=m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048&fields=f12,f13,f14",
		pageSize)

	body, err := e.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var resp eastmoneyClistResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if resp.Data == nil {
		return nil, nil
	}

	entries := make([]symboldir.Entry, 0, len(resp.Data.Diff))
	for _, row := range resp.Data.Diff {
		market := domain.MarketSZ
		if row.Market == 1 {
			market = domain.MarketSH
		}
		entries = append(entries, symboldir.Entry{
			Code: domain.Symbol{Market: market, Code: row.Code}.String(),
			Name: row.Name,
		})
	}
	return entries, nil
}
