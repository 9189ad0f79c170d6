package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Venue     VenueConfig     `json:"venue"`
	Strategy  StrategyConfig  `json:"strategy"`
	Risk      RiskConfig      `json:"risk"`
	Breaker   BreakerConfig   `json:"circuit_breaker"`
	Server    ServerConfig    `json:"server"`
	Vault     VaultConfig     `json:"vault"`
	Redis     RedisConfig     `json:"redis"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	Sentiment SentimentConfig `json:"sentiment"`
}

// VenueConfig holds the brokerage venue connection settings
type VenueConfig struct {
	BaseURL      string `json:"base_url"`
	APIKeyID     string `json:"api_key_id"`
	APISecret    string `json:"api_secret"`
	PaperTrading bool   `json:"paper_trading"` // Simulate the venue in-memory, no real orders
	TimeoutSecs  int    `json:"timeout_secs"`
}

// ProductConfig describes a single tradable product
type ProductConfig struct {
	Symbol          string  `json:"symbol"`
	Commodity       bool    `json:"commodity"`         // Contract-count future rather than perpetual
	ContractUnitUSD float64 `json:"contract_unit_usd"` // USD value of one contract (commodity only)
}

// StrategyConfig holds the signal generation thresholds and tick settings
type StrategyConfig struct {
	Enabled           bool            `json:"enabled"`
	CycleIntervalSecs int             `json:"cycle_interval_secs"`
	Products          []ProductConfig `json:"products"`

	StrongBullishThreshold    float64 `json:"strong_bullish_threshold"`    // Confluence score for HIGH urgency long
	BullishThreshold          float64 `json:"bullish_threshold"`           // Confluence score for MEDIUM urgency long
	StrongBearishThreshold    float64 `json:"strong_bearish_threshold"`    // Confluence score for HIGH urgency short (positive magnitude)
	BearishThreshold          float64 `json:"bearish_threshold"`           // Confluence score for MEDIUM urgency short (positive magnitude)
	NeutralZone               float64 `json:"neutral_zone"`                // |score| below this emits FLAT
	CommodityBullishThreshold float64 `json:"commodity_bullish_threshold"` // Composite macro score gate for commodity longs
	CommodityBearishThreshold float64 `json:"commodity_bearish_threshold"` // Composite macro score gate for commodity shorts (positive magnitude)
}

// RiskConfig holds the risk envelope every trade is gated through
type RiskConfig struct {
	MaxLeverage              int     `json:"max_leverage"`
	MaxPositionPercent       float64 `json:"max_position_percent"`       // Single position as % of buying power
	MaxTotalExposurePercent  float64 `json:"max_total_exposure_percent"` // All positions as % of buying power
	MaxOpenPositions         int     `json:"max_open_positions"`
	StopLossPercent          float64 `json:"stop_loss_percent"` // Negative, e.g. -10
	TakeProfitPercent        float64 `json:"take_profit_percent"`
	LiquidationBufferPercent float64 `json:"liquidation_buffer_percent"` // Min distance from liquidation price
	MaxFundingRateBps        float64 `json:"max_funding_rate_bps"`       // Penalize directions paying more than this
	PositionCooldownMinutes  int     `json:"position_cooldown_minutes"`
	BasePositionUSD          float64 `json:"base_position_usd"`
	MinPositionUSD           float64 `json:"min_position_usd"`
	MaxPositionUSD           float64 `json:"max_position_usd"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxLossPerHour       float64 `json:"max_loss_per_hour"`      // Max loss in USD per hour
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // Max losing trades in a row
	CooldownMinutes      int     `json:"cooldown_minutes"`       // Cooldown after trip
	MaxTradesPerMinute   int     `json:"max_trades_per_minute"`  // Rate limit
	MaxDailyLoss         float64 `json:"max_daily_loss"`         // Max daily loss in USD
	MaxDailyTrades       int     `json:"max_daily_trades"`       // Max trades per day
}

// ServerConfig holds the dashboard HTTP server configuration
type ServerConfig struct {
	Enabled        bool   `json:"enabled"`
	Port           int    `json:"port"`
	Host           string `json:"host"`
	AllowedOrigins string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout    int    `json:"read_timeout"`    // Seconds
	WriteTimeout   int    `json:"write_timeout"`   // Seconds
}

// VaultConfig holds HashiCorp Vault configuration for venue credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path for venue credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for ledger and cooldown persistence
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds Postgres configuration for the trade archive
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"` // postgres:// connection string
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // Console writer instead of JSON
}

// SentimentConfig holds the fear & greed index provider configuration
type SentimentConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
}

// Load reads config.json if present and applies environment overrides on top.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a conservative configuration suitable for paper trading.
func Default() *Config {
	return &Config{
		Venue: VenueConfig{
			BaseURL:      "https://api.example-venue.com",
			PaperTrading: true,
			TimeoutSecs:  15,
		},
		Strategy: StrategyConfig{
			Enabled:           true,
			CycleIntervalSecs: 300,
			Products: []ProductConfig{
				{Symbol: "BTC-PERP"},
				{Symbol: "ETH-PERP"},
				{Symbol: "SOL-PERP"},
				{Symbol: "GC-FUT", Commodity: true, ContractUnitUSD: 100},
				{Symbol: "SI-FUT", Commodity: true, ContractUnitUSD: 50},
			},
			StrongBullishThreshold:    45,
			BullishThreshold:          30,
			StrongBearishThreshold:    45,
			BearishThreshold:          30,
			NeutralZone:               15,
			CommodityBullishThreshold: 0.4,
			CommodityBearishThreshold: 0.4,
		},
		Risk: RiskConfig{
			MaxLeverage:              3,
			MaxPositionPercent:       25,
			MaxTotalExposurePercent:  80,
			MaxOpenPositions:         4,
			StopLossPercent:          -10,
			TakeProfitPercent:        20,
			LiquidationBufferPercent: 15,
			MaxFundingRateBps:        3,
			PositionCooldownMinutes:  60,
			BasePositionUSD:          50,
			MinPositionUSD:           10,
			MaxPositionUSD:           250,
		},
		Breaker: BreakerConfig{
			Enabled:              true,
			MaxLossPerHour:       50,
			MaxConsecutiveLosses: 5,
			CooldownMinutes:      30,
			MaxTradesPerMinute:   6,
			MaxDailyLoss:         100,
			MaxDailyTrades:       40,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8080,
			Host:           "0.0.0.0",
			AllowedOrigins: "*",
			ReadTimeout:    30,
			WriteTimeout:   30,
		},
		Vault: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "derivbot/venue",
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Sentiment: SentimentConfig{
			Enabled: true,
			BaseURL: "https://api.alternative.me",
		},
	}
}

// Validate checks the risk and strategy bounds. The engine trusts these values,
// so a config that passes here is never re-derived internally.
func (c *Config) Validate() error {
	r := c.Risk
	if r.MaxLeverage < 1 {
		return fmt.Errorf("risk: max_leverage must be >= 1, got %d", r.MaxLeverage)
	}
	if r.MaxPositionPercent <= 0 || r.MaxPositionPercent > 100 {
		return fmt.Errorf("risk: max_position_percent must be in (0,100], got %.2f", r.MaxPositionPercent)
	}
	if r.MaxTotalExposurePercent <= 0 {
		return fmt.Errorf("risk: max_total_exposure_percent must be > 0, got %.2f", r.MaxTotalExposurePercent)
	}
	if r.StopLossPercent >= 0 {
		return fmt.Errorf("risk: stop_loss_percent must be negative, got %.2f", r.StopLossPercent)
	}
	if r.TakeProfitPercent <= 0 {
		return fmt.Errorf("risk: take_profit_percent must be positive, got %.2f", r.TakeProfitPercent)
	}
	if r.LiquidationBufferPercent < 0 {
		return fmt.Errorf("risk: liquidation_buffer_percent must be >= 0, got %.2f", r.LiquidationBufferPercent)
	}
	if r.MaxOpenPositions < 1 {
		return fmt.Errorf("risk: max_open_positions must be >= 1, got %d", r.MaxOpenPositions)
	}
	if r.PositionCooldownMinutes < 0 {
		return fmt.Errorf("risk: position_cooldown_minutes must be >= 0, got %d", r.PositionCooldownMinutes)
	}
	if r.MinPositionUSD < 0 || r.MaxPositionUSD < r.MinPositionUSD {
		return fmt.Errorf("risk: position size bounds invalid (min=%.2f max=%.2f)", r.MinPositionUSD, r.MaxPositionUSD)
	}
	if r.BasePositionUSD < r.MinPositionUSD || r.BasePositionUSD > r.MaxPositionUSD {
		return fmt.Errorf("risk: base_position_usd %.2f outside [min, max]", r.BasePositionUSD)
	}

	s := c.Strategy
	if s.StrongBullishThreshold < s.BullishThreshold {
		return fmt.Errorf("strategy: strong_bullish_threshold %.1f below bullish_threshold %.1f", s.StrongBullishThreshold, s.BullishThreshold)
	}
	if s.StrongBearishThreshold < s.BearishThreshold {
		return fmt.Errorf("strategy: strong_bearish_threshold %.1f below bearish_threshold %.1f", s.StrongBearishThreshold, s.BearishThreshold)
	}
	if s.NeutralZone < 0 || s.NeutralZone > s.BullishThreshold {
		return fmt.Errorf("strategy: neutral_zone %.1f must be in [0, bullish_threshold]", s.NeutralZone)
	}
	for _, p := range s.Products {
		if p.Symbol == "" {
			return fmt.Errorf("strategy: product with empty symbol")
		}
		if p.Commodity && p.ContractUnitUSD <= 0 {
			return fmt.Errorf("strategy: commodity product %s needs contract_unit_usd > 0", p.Symbol)
		}
	}
	return nil
}

// Product returns the product config for a symbol, or nil if not configured.
func (c *Config) Product(symbol string) *ProductConfig {
	for i := range c.Strategy.Products {
		if c.Strategy.Products[i].Symbol == symbol {
			return &c.Strategy.Products[i]
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Venue credentials are preferably pulled from Vault; the env vars here are
// the fallback for local runs.
func applyEnvOverrides(cfg *Config) {
	cfg.Venue.BaseURL = getEnvOrDefault("VENUE_BASE_URL", cfg.Venue.BaseURL)
	cfg.Venue.APIKeyID = getEnvOrDefault("VENUE_API_KEY_ID", cfg.Venue.APIKeyID)
	cfg.Venue.APISecret = getEnvOrDefault("VENUE_API_SECRET", cfg.Venue.APISecret)
	if v := os.Getenv("VENUE_PAPER_TRADING"); v != "" {
		cfg.Venue.PaperTrading = v == "true"
	}
	cfg.Venue.TimeoutSecs = getEnvIntOrDefault("VENUE_TIMEOUT_SECS", cfg.Venue.TimeoutSecs)

	if v := os.Getenv("STRATEGY_ENABLED"); v != "" {
		cfg.Strategy.Enabled = v == "true"
	}
	cfg.Strategy.CycleIntervalSecs = getEnvIntOrDefault("STRATEGY_CYCLE_INTERVAL_SECS", cfg.Strategy.CycleIntervalSecs)

	cfg.Risk.MaxLeverage = getEnvIntOrDefault("RISK_MAX_LEVERAGE", cfg.Risk.MaxLeverage)
	cfg.Risk.MaxPositionPercent = getEnvFloatOrDefault("RISK_MAX_POSITION_PERCENT", cfg.Risk.MaxPositionPercent)
	cfg.Risk.MaxTotalExposurePercent = getEnvFloatOrDefault("RISK_MAX_TOTAL_EXPOSURE_PERCENT", cfg.Risk.MaxTotalExposurePercent)
	cfg.Risk.MaxOpenPositions = getEnvIntOrDefault("RISK_MAX_OPEN_POSITIONS", cfg.Risk.MaxOpenPositions)
	cfg.Risk.StopLossPercent = getEnvFloatOrDefault("RISK_STOP_LOSS_PERCENT", cfg.Risk.StopLossPercent)
	cfg.Risk.TakeProfitPercent = getEnvFloatOrDefault("RISK_TAKE_PROFIT_PERCENT", cfg.Risk.TakeProfitPercent)
	cfg.Risk.LiquidationBufferPercent = getEnvFloatOrDefault("RISK_LIQUIDATION_BUFFER_PERCENT", cfg.Risk.LiquidationBufferPercent)
	cfg.Risk.MaxFundingRateBps = getEnvFloatOrDefault("RISK_MAX_FUNDING_RATE_BPS", cfg.Risk.MaxFundingRateBps)
	cfg.Risk.PositionCooldownMinutes = getEnvIntOrDefault("RISK_POSITION_COOLDOWN_MINUTES", cfg.Risk.PositionCooldownMinutes)
	cfg.Risk.BasePositionUSD = getEnvFloatOrDefault("RISK_BASE_POSITION_USD", cfg.Risk.BasePositionUSD)
	cfg.Risk.MinPositionUSD = getEnvFloatOrDefault("RISK_MIN_POSITION_USD", cfg.Risk.MinPositionUSD)
	cfg.Risk.MaxPositionUSD = getEnvFloatOrDefault("RISK_MAX_POSITION_USD", cfg.Risk.MaxPositionUSD)

	if v := os.Getenv("CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.Breaker.Enabled = v == "true"
	}
	cfg.Breaker.MaxLossPerHour = getEnvFloatOrDefault("CIRCUIT_MAX_LOSS_PER_HOUR", cfg.Breaker.MaxLossPerHour)
	cfg.Breaker.MaxConsecutiveLosses = getEnvIntOrDefault("CIRCUIT_MAX_CONSECUTIVE_LOSSES", cfg.Breaker.MaxConsecutiveLosses)
	cfg.Breaker.CooldownMinutes = getEnvIntOrDefault("CIRCUIT_COOLDOWN_MINUTES", cfg.Breaker.CooldownMinutes)

	if v := os.Getenv("SERVER_ENABLED"); v != "" {
		cfg.Server.Enabled = v == "true"
	}
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.Vault.Enabled = v == "true"
	}
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true"
	}
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	if v := os.Getenv("DATABASE_ENABLED"); v != "" {
		cfg.Database.Enabled = v == "true"
	}
	cfg.Database.URL = getEnvOrDefault("DATABASE_URL", cfg.Database.URL)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.Logging.Pretty = v == "true"
	}

	if v := os.Getenv("SENTIMENT_ENABLED"); v != "" {
		cfg.Sentiment.Enabled = v == "true"
	}
	cfg.Sentiment.BaseURL = getEnvOrDefault("SENTIMENT_BASE_URL", cfg.Sentiment.BaseURL)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
