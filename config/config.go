package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trading-portfolio/internal/logger"
	"trading-portfolio/internal/markethours"
	"trading-portfolio/internal/portfolio"
)

// Order sources.
const (
	OrderSourceLocal   = "local"   // SQLite order store, paper execution
	OrderSourceBackend = "backend" // remote order service, read-only
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server
	ListenAddr string
	LogLevel   slog.Level

	// Storage
	SQLitePath    string
	SnapshotsKept int

	// Redis price cache; empty RedisAddr disables it
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Order service
	OrderSource       string
	BackendURL        string
	BackendToken      string
	BackendTOTPSecret string

	// Simulated prices
	PriceSeed   int64
	SimSymbols  string // SYMBOL:PRICE pairs, e.g. "AAPL:150,MSFT:300"
	SimInterval time.Duration
	SimEnabled  bool
	SimGated    bool // pause the simulator outside market hours

	// Trading session used for market status, simulator gating and the
	// daily risk reset
	Market *markethours.Session

	// Execution and valuation
	SlippageBps     int64
	AvgPolicy       portfolio.Policy
	RefreshInterval time.Duration
	Risk            portfolio.RiskLimits

	// Alerts
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads a .env file when present, then configuration from environment
// variables with sensible defaults. Every malformed value is reported.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		SQLitePath:    getEnv("SQLITE_PATH", "data/portfolio.db"),
		SnapshotsKept: p.int("SNAPSHOTS_KEPT", 1000),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       p.int("REDIS_DB", 0),

		OrderSource:       strings.ToLower(getEnv("ORDER_SOURCE", OrderSourceLocal)),
		BackendURL:        getEnv("BACKEND_URL", ""),
		BackendToken:      getEnv("BACKEND_TOKEN", ""),
		BackendTOTPSecret: getEnv("BACKEND_TOTP_SECRET", ""),

		PriceSeed:   p.int64("PRICE_SEED", time.Now().UnixNano()),
		SimSymbols:  getEnv("SIM_SYMBOLS", "AAPL:150,GOOGL:2800,MSFT:300,TSLA:200,AMZN:3200"),
		SimInterval: p.duration("SIM_INTERVAL", 2*time.Second),
		SimEnabled:  p.bool("SIM_ENABLED", true),
		SimGated:    p.bool("SIM_MARKET_HOURS", false),

		SlippageBps:     p.int64("SLIPPAGE_BPS", 5),
		RefreshInterval: p.duration("REFRESH_INTERVAL", 30*time.Second),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}

	var err error
	if cfg.LogLevel, err = logger.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		p.fail("LOG_LEVEL", err)
	}
	if cfg.Market, err = markethours.ByName(getEnv("MARKET", "nyse")); err != nil {
		p.fail("MARKET", err)
	}
	if cfg.AvgPolicy, err = portfolio.ParsePolicy(getEnv("AVG_POLICY", "reprice")); err != nil {
		p.fail("AVG_POLICY", err)
	}

	def := portfolio.DefaultRiskLimits()
	cfg.Risk = portfolio.RiskLimits{
		MaxPositionSize:     p.int64("RISK_MAX_POSITION", def.MaxPositionSize),
		MaxConcentrationPct: p.float("RISK_MAX_CONCENTRATION_PCT", def.MaxConcentrationPct),
		MaxVaRPct:           p.float("RISK_MAX_VAR_PCT", def.MaxVaRPct),
		MaxDrawdownPct:      p.float("RISK_MAX_DRAWDOWN_PCT", def.MaxDrawdownPct),
		MaxDailyOrders:      p.int("RISK_MAX_DAILY_ORDERS", def.MaxDailyOrders),
		RestrictedSymbols:   splitList(getEnv("RISK_RESTRICTED_SYMBOLS", "")),
	}

	if err := errors.Join(append(p.errs, cfg.Validate())...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required"))
	}
	switch c.OrderSource {
	case OrderSourceLocal:
	case OrderSourceBackend:
		if c.BackendURL == "" {
			errs = append(errs, errors.New("BACKEND_URL is required when ORDER_SOURCE=backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ORDER_SOURCE must be %q or %q, got %q", OrderSourceLocal, OrderSourceBackend, c.OrderSource))
	}
	if c.SlippageBps < 0 {
		errs = append(errs, errors.New("SLIPPAGE_BPS must not be negative"))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must not be negative"))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	return errors.Join(errs...)
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// BackendEnabled reports whether a backend URL is configured.
func (c *Config) BackendEnabled() bool { return c.BackendURL != "" }

// parser collects conversion errors so Load can report all of them.
type parser struct {
	errs []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *parser) int64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
