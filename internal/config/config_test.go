package config

import (
	"os"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/market/data"
  sqlite_path: "/tmp/market/market.db"
server:
  host: "0.0.0.0"
  port: 9090
logging:
  level: "debug"
  format: "json"
providers:
  bar_order_small: ["tencent", "eastmoney"]
  bar_order_large: ["eastmoney", "tencent"]
  quote_order: ["sina", "tencent", "hkquote"]
work_queue:
  workers: 4
analysis_cache:
  max_entries: 100
  ttl_minutes: 10
symbol_directory:
  refresh_hours: 12
  cache_path: "/tmp/market/symbols.json"
watchlist:
  path: "/tmp/market/watchlist.json"
`)

	tmpFile, err := os.CreateTemp("", "market-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	os.Unsetenv("DATA_DIR")
	os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/market/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/market/data")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.WorkQueue.Workers != 4 {
		t.Errorf("WorkQueue.Workers = %d, want %d", cfg.WorkQueue.Workers, 4)
	}
	if cfg.AnalysisCache.MaxEntries != 100 {
		t.Errorf("AnalysisCache.MaxEntries = %d, want %d", cfg.AnalysisCache.MaxEntries, 100)
	}
	if len(cfg.Providers.BarOrderLarge) != 2 || cfg.Providers.BarOrderLarge[0] != "eastmoney" {
		t.Errorf("Providers.BarOrderLarge = %v, want [eastmoney tencent]", cfg.Providers.BarOrderLarge)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "market-config-empty-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.WorkQueue.Workers != 2 {
		t.Errorf("WorkQueue.Workers default = %d, want %d", cfg.WorkQueue.Workers, 2)
	}
	if cfg.AnalysisCache.TTLMinutes != 5 {
		t.Errorf("AnalysisCache.TTLMinutes default = %d, want %d", cfg.AnalysisCache.TTLMinutes, 5)
	}
	if cfg.Market.TradingCalendar != "Asia/Shanghai" {
		t.Errorf("Market.TradingCalendar default = %q, want %q", cfg.Market.TradingCalendar, "Asia/Shanghai")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/original/data"
`)

	tmpFile, err := os.CreateTemp("", "market-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("DATA_DIR", "/env/data")
	defer os.Unsetenv("DATA_DIR")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
}
