package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the market data engine.
type Config struct {
	Storage         Storage         `yaml:"storage"`
	Server          Server          `yaml:"server"`
	Logging         Logging         `yaml:"logging"`
	Providers       Providers       `yaml:"providers"`
	Market          Market          `yaml:"market"`
	WorkQueue       WorkQueue       `yaml:"work_queue"`
	AnalysisCache   AnalysisCache   `yaml:"analysis_cache"`
	SymbolDirectory SymbolDirectory `yaml:"symbol_directory"`
	Watchlist       Watchlist       `yaml:"watchlist"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Providers configures ordered provider attempts for bar and quote fetches.
type Providers struct {
	// BarOrderSmall is the fallback order used for requests of <=640 days.
	BarOrderSmall []string `yaml:"bar_order_small"`
	// BarOrderLarge is the fallback order used for requests of >640 days.
	BarOrderLarge []string `yaml:"bar_order_large"`
	// QuoteOrder is the fallback order for live quote lookups.
	QuoteOrder []string `yaml:"quote_order"`
	// RequestTimeoutSeconds bounds every single upstream call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// Market selects the trading calendar used by Clock/Session.
type Market struct {
	TradingCalendar string `yaml:"trading_calendar"`
}

// WorkQueue sizes the background worker pool.
type WorkQueue struct {
	Workers int `yaml:"workers"`
}

// AnalysisCache bounds the analyzer-output cache.
type AnalysisCache struct {
	MaxEntries int `yaml:"max_entries"`
	TTLMinutes int `yaml:"ttl_minutes"`
}

// SymbolDirectory configures the daily-refreshed symbol→name snapshot.
type SymbolDirectory struct {
	RefreshHours int    `yaml:"refresh_hours"`
	CachePath    string `yaml:"cache_path"`
}

// Watchlist points at the JSON-backed favorites/holdings/watching file.
type Watchlist struct {
	Path string `yaml:"path"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults for anything left zero, and then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/market.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if len(cfg.Providers.BarOrderSmall) == 0 {
		cfg.Providers.BarOrderSmall = []string{"tencent", "eastmoney"}
	}
	if len(cfg.Providers.BarOrderLarge) == 0 {
		cfg.Providers.BarOrderLarge = []string{"eastmoney", "tencent"}
	}
	if len(cfg.Providers.QuoteOrder) == 0 {
		cfg.Providers.QuoteOrder = []string{"sina", "tencent", "hkquote"}
	}
	if cfg.Providers.RequestTimeoutSeconds == 0 {
		cfg.Providers.RequestTimeoutSeconds = 15
	}
	if cfg.Market.TradingCalendar == "" {
		cfg.Market.TradingCalendar = "Asia/Shanghai"
	}
	if cfg.WorkQueue.Workers == 0 {
		cfg.WorkQueue.Workers = 2
	}
	if cfg.AnalysisCache.MaxEntries == 0 {
		cfg.AnalysisCache.MaxEntries = 50
	}
	if cfg.AnalysisCache.TTLMinutes == 0 {
		cfg.AnalysisCache.TTLMinutes = 5
	}
	if cfg.SymbolDirectory.RefreshHours == 0 {
		cfg.SymbolDirectory.RefreshHours = 24
	}
	if cfg.SymbolDirectory.CachePath == "" {
		cfg.SymbolDirectory.CachePath = "./data/symbol_directory_cache.json"
	}
	if cfg.Watchlist.Path == "" {
		cfg.Watchlist.Path = "./data/watchlist.json"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WATCHLIST_PATH"); v != "" {
		cfg.Watchlist.Path = v
	}
}
