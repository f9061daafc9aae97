package provider

import (
	"context"
	"net/http/httptest"
	"testing"

	"jupitor/internal/domain"
)

func TestSinaFetchQuote(t *testing.T) {
	body := `var hq_str_sh600519="Kweichow Moutai,1700.00,1690.00,1705.50,1710.00,1695.00,1705.00,1705.50,12000000,2.1e10,100,1705.00,200,1705.50,0,0,0,0,0,0,2026-07-30,15:00:00,00,";`
	ts := httptest.NewServer(httptestMux(map[string]string{
		"/list=sh600519": body,
	}))
	defer ts.Close()

	s := NewSina()
	s.client = redirectingClient(ts)

	sh := domain.Symbol{Market: domain.MarketSH, Code: "600519"}
	quotes, err := s.FetchQuote(context.Background(), []domain.Symbol{sh})
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	q, ok := quotes["sh600519"]
	if !ok {
		t.Fatal("quotes missing sh600519")
	}
	if q.Name != "Kweichow Moutai" || q.Now != 1705.50 {
		t.Errorf("quote = %+v, unexpected field mapping", q)
	}
}

func TestSinaFetchQuoteSkipsHK(t *testing.T) {
	s := NewSina()
	hk := domain.Symbol{Market: domain.MarketHK, Code: "00700"}
	quotes, err := s.FetchQuote(context.Background(), []domain.Symbol{hk})
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if len(quotes) != 0 {
		t.Errorf("quotes = %v, want empty for HK-only input", quotes)
	}
}
