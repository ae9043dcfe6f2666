package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the portfolio service.
type Metrics struct {
	AggregationsTotal prometheus.Counter
	AggregationDur    prometheus.Histogram
	SkippedOrders     *prometheus.CounterVec // labels: reason

	// Per-account portfolio gauges
	OpenHoldings   *prometheus.GaugeVec // labels: account
	PortfolioValue *prometheus.GaugeVec // labels: account
	PortfolioPnL   *prometheus.GaugeVec // labels: account
	RiskScore      *prometheus.GaugeVec // labels: account

	PriceSourceErrors *prometheus.CounterVec // labels: source
	QuotesTotal       prometheus.Counter
	QuotesDropped     prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	FillsTotal   *prometheus.CounterVec // labels: side
	RejectsTotal *prometheus.CounterVec // labels: reason
	AlertsTotal  prometheus.Counter
	WSClients    prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		AggregationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_aggregations_total",
			Help: "Total portfolio aggregations computed",
		}),
		AggregationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portfolio_aggregation_duration_seconds",
			Help:    "Time spent folding orders into holdings",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		SkippedOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_skipped_records_total",
			Help: "Input records skipped or adjusted during aggregation (by reason)",
		}, []string{"reason"}),

		OpenHoldings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portfolio_open_holdings",
			Help: "Number of non-zero holdings",
		}, []string{"account"}),
		PortfolioValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portfolio_total_value",
			Help: "Total market value of open holdings",
		}, []string{"account"}),
		PortfolioPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portfolio_total_pnl",
			Help: "Total unrealized P&L of open holdings",
		}, []string{"account"}),
		RiskScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portfolio_risk_score",
			Help: "Composite risk score (1-10)",
		}, []string{"account"}),

		PriceSourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_price_source_errors_total",
			Help: "Price lookups that failed and fell back (by source)",
		}, []string{"source"}),
		QuotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_quotes_total",
			Help: "Quotes published by the price feed",
		}),
		QuotesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_quotes_dropped_total",
			Help: "Quotes dropped for a slow stream subscriber",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_fills_total",
			Help: "Paper fills executed (by side)",
		}, []string{"side"}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_order_rejects_total",
			Help: "Orders rejected before execution (by reason)",
		}, []string{"reason"}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_alerts_total",
			Help: "Risk alerts dispatched to notifiers",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.AggregationsTotal,
		m.AggregationDur,
		m.SkippedOrders,
		m.OpenHoldings,
		m.PortfolioValue,
		m.PortfolioPnL,
		m.RiskScore,
		m.PriceSourceErrors,
		m.QuotesTotal,
		m.QuotesDropped,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.FillsTotal,
		m.RejectsTotal,
		m.AlertsTotal,
		m.WSClients,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	BackendEnabled bool      `json:"backend_enabled"`
	LastRefresh    time.Time `json:"last_refresh"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBackendEnabled(v bool) {
	h.mu.Lock()
	h.BackendEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastRefresh(t time.Time) {
	h.mu.Lock()
	h.LastRefresh = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /health endpoint. Redis is optional: when it is
// enabled but unreachable the service is degraded, not down, because
// valuation falls back to last fill prices.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if h.RedisEnabled && !h.RedisConnected {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	refreshAge := ""
	if !h.LastRefresh.IsZero() {
		refreshAge = time.Since(h.LastRefresh).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		BackendEnabled  bool    `json:"backend_enabled"`
		RefreshAge      string  `json:"refresh_age"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		BackendEnabled:  h.BackendEnabled,
		RefreshAge:      refreshAge,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
