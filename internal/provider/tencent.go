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
	"time"

	"jupitor/internal/domain"
)

// Tencent wraps the gtimg.cn endpoints: A-share and HK forward-adjusted
// kline (preferred bar source for requests within MaxBarsPerCall), and a
// realtime quote endpoint used as the quote fallback's second attempt.
// Grounded on original_source/services/data_sources/tencent.py.
type Tencent struct {
	client    *http.Client
	available atomic.Bool
}

func NewTencent() *Tencent {
	t := &Tencent{client: newHTTPClient()}
	t.available.Store(true)
	return t
}

var (
	_ BarProvider      = (*Tencent)(nil)
	_ QuoteProvider    = (*Tencent)(nil)
	_ IntradayProvider = (*Tencent)(nil)
)

func (t *Tencent) Name() string       { return "tencent" }
func (t *Tencent) Available() bool    { return t.available.Load() }
func (t *Tencent) MaxBarsPerCall() int { return 640 }

type tencentKlineResponse struct {
	Code int                         `json:"code"`
	Data map[string]tencentKlineData `json:"data"`
}

type tencentKlineData struct {
	Day  [][]string `json:"day"`
	Qfq  [][]string `json:"qfqday"`
}

// FetchBars fetches forward-adjusted daily kline for a CN or HK symbol.
func (t *Tencent) FetchBars(ctx context.Context, symbol domain.Symbol, days int, endDate string) ([]domain.Bar, error) {
	if days > t.MaxBarsPerCall() {
		days = t.MaxBarsPerCall()
	}

	endpoint := "http://web.ifzq.gtimg.cn/appstock/app/fqkline/get"
	if symbol.Market == domain.MarketHK {
		endpoint = "http://web.ifzq.gtimg.cn/appstock/app/hkfqkline/get"
	}

	code := tencentCode(symbol)
	param := fmt.Sprintf("%s,day,,%s,%d,qfq", code, endDate, days)
	url := fmt.Sprintf("%s?param=%s", endpoint, param)

	var bars []domain.Bar
	err := withRetry(ctx, func() error {
		body, ferr := t.get(ctx, url)
		if ferr != nil {
			return ferr
		}
		var resp tencentKlineResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			t.available.Store(false)
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		rows := resp.Data[code]
		series := rows.Qfq
		if len(series) == 0 {
			series = rows.Day
		}
		bars = make([]domain.Bar, 0, len(series))
		for _, row := range series {
			b, perr := parseTencentRow(symbol.String(), row)
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
	t.available.Store(true)
	return bars, nil
}

func parseTencentRow(symbol string, row []string) (domain.Bar, error) {
	// ["date","open","close","high","low","volume", ...]
	if len(row) < 6 {
		return domain.Bar{}, ErrParse
	}
	o, err1 := strconv.ParseFloat(row[1], 64)
	c, err2 := strconv.ParseFloat(row[2], 64)
	h, err3 := strconv.ParseFloat(row[3], 64)
	l, err4 := strconv.ParseFloat(row[4], 64)
	v, err5 := strconv.ParseFloat(row[5], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return domain.Bar{}, ErrParse
	}
	return domain.Bar{
		Symbol: symbol,
		Date:   row[0],
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: int64(v),
	}, nil
}

// FetchQuote fetches realtime quotes via qt.gtimg.cn, used as the quote
// fallback's second attempt behind Sina.
func (t *Tencent) FetchQuote(ctx context.Context, symbols []domain.Symbol) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}
	codes := make([]string, len(symbols))
	for i, s := range symbols {
		codes[i] = tencentCode(s)
	}
	url := "http://qt.gtimg.cn/q=" + strings.Join(codes, ",")

	out := make(map[string]domain.Quote)
	err := withRetry(ctx, func() error {
		body, ferr := t.get(ctx, url)
		if ferr != nil {
			return ferr
		}
		for _, line := range strings.Split(string(body), ";") {
			line = strings.TrimSpace(line)
			if !strings.Contains(line, "=\"") {
				continue
			}
			eq := strings.Index(line, "=\"")
			varName := line[:eq] // e.g. "v_sh600519"
			data := strings.Trim(line[eq+2:], "\";\r\n ")
			code := strings.TrimPrefix(varName, "v_")
			fields := strings.Split(data, "~")
			if len(fields) < 10 {
				continue
			}
			now, _ := strconv.ParseFloat(fields[3], 64)
			prevClose, _ := strconv.ParseFloat(fields[4], 64)
			open, _ := strconv.ParseFloat(fields[5], 64)
			volume, _ := strconv.ParseFloat(fields[6], 64)
			high, _ := strconv.ParseFloat(safeIndex(fields, 33), 64)
			low, _ := strconv.ParseFloat(safeIndex(fields, 34), 64)
			out[code] = domain.Quote{
				Symbol:    code,
				Name:      safeIndex(fields, 1),
				Now:       now,
				Open:      open,
				PrevClose: prevClose,
				High:      high,
				Low:       low,
				Volume:    int64(volume),
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

type tencentMinuteResponse struct {
	Code int                          `json:"code"`
	Data map[string]tencentMinuteData `json:"data"`
}

type tencentMinuteData struct {
	Data struct {
		Data []string `json:"data"`
	} `json:"data"`
}

// FetchIntraday fetches today's minute series via the ifzq.gtimg.cn
// JSONP-wrapped minute endpoint, grounded on the
// tryGetIntradayFromTencent reference implementation: rows are
// "HHMM price volume amount" strings, keyed by the request's own code.
func (t *Tencent) FetchIntraday(ctx context.Context, symbol domain.Symbol) ([]domain.IntradayPoint, error) {
	code := tencentCode(symbol)
	url := fmt.Sprintf("http://ifzq.gtimg.cn/appstock/app/minute/query?_var=min_data_%s&code=%s", code, code)

	var points []domain.IntradayPoint
	err := withRetry(ctx, func() error {
		body, ferr := t.get(ctx, url)
		if ferr != nil {
			return ferr
		}
		jsonStr := body
		if eq := strings.IndexByte(string(body), '='); eq >= 0 {
			jsonStr = body[eq+1:]
		}
		var resp tencentMinuteResponse
		if err := json.Unmarshal(jsonStr, &resp); err != nil {
			t.available.Store(false)
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		rows := resp.Data[code].Data.Data
		points = make([]domain.IntradayPoint, 0, len(rows))
		var volumeSum, priceVolSum float64
		for _, row := range rows {
			fields := strings.Fields(row)
			if len(fields) < 3 {
				continue
			}
			price, perr := strconv.ParseFloat(fields[1], 64)
			vol, verr := strconv.ParseFloat(fields[2], 64)
			if perr != nil || verr != nil {
				continue
			}
			timeStr := fields[0]
			if len(timeStr) == 4 {
				timeStr = timeStr[:2] + ":" + timeStr[2:]
			}
			volumeSum += vol
			priceVolSum += price * vol
			avg := price
			if volumeSum > 0 {
				avg = priceVolSum / volumeSum
			}
			points = append(points, domain.IntradayPoint{Time: timeStr, Price: price, Avg: avg, Volume: int64(vol)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.available.Store(true)
	return points, nil
}

func safeIndex(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func (t *Tencent) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	resp, err := t.client.Do(req)
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
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return body, nil
}

// tencentCode renders the provider-specific code: CN symbols keep their
// sh/sz/bj prefix, HK symbols drop the "hk" prefix and use "hk" + code.
func tencentCode(s domain.Symbol) string {
	if s.Market == domain.MarketHK {
		return "hk" + s.Code
	}
	return s.String()
}
