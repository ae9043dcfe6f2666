// cmd/portfoliod serves portfolio aggregation over HTTP and WebSocket.
//
// Orders come from the local SQLite store (with paper execution) or from a
// remote order service; prices from Redis, a random-walk simulator and the
// configured seed prices, in that order. Portfolios are recomputed on every
// fill and on a cron schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-portfolio/config"
	"trading-portfolio/internal/backend"
	"trading-portfolio/internal/bus"
	"trading-portfolio/internal/execution"
	"trading-portfolio/internal/gateway"
	"trading-portfolio/internal/logger"
	"trading-portfolio/internal/metrics"
	"trading-portfolio/internal/model"
	"trading-portfolio/internal/notification"
	"trading-portfolio/internal/portfolio"
	"trading-portfolio/internal/pricefeed"
	"trading-portfolio/internal/scheduler"
	"trading-portfolio/internal/service"
	"trading-portfolio/internal/store/redis"
	"trading-portfolio/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "portfoliod: config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init("portfoliod", cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("portfoliod failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()

	// Storage
	store, err := sqlite.Open(cfg.SQLitePath, log)
	if err != nil {
		return err
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	journal, err := execution.NewJournal(store.DB())
	if err != nil {
		return err
	}

	// Prices
	seed, err := pricefeed.ParseSymbols(cfg.SimSymbols)
	if err != nil {
		return fmt.Errorf("SIM_SYMBOLS: %w", err)
	}

	var (
		cache   *redis.PriceCache
		sources []pricefeed.Source
		sinks   []model.QuoteSink
	)
	if cfg.RedisEnabled() {
		cache, err = redis.New(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			return err
		}
		defer cache.Close()
		watchBreaker(cache.Breaker(), m)
		health.SetRedisEnabled(true)

		sources = append(sources, pricefeed.Source{Name: "redis", PriceSource: cache})
		sinks = append(sinks, cache)
	}

	// live quotes for WebSocket clients
	quoteIn := make(chan model.Quote, 1024)
	quotes := bus.New[model.Quote](256)
	quotes.OnDrop = func(int) { m.QuotesDropped.Inc() }

	var sim *pricefeed.Simulator
	if cfg.SimEnabled {
		sinks = append(sinks, pricefeed.ChanSink(quoteIn))
		simCfg := pricefeed.SimulatorConfig{
			Start:    seed,
			Seed:     cfg.PriceSeed,
			Interval: cfg.SimInterval,
		}
		if cfg.SimGated {
			simCfg.Gate = cfg.Market.IsOpen
		}
		sim = pricefeed.NewSimulator(simCfg, log, sinks...)
		sim.OnTick = func(n int) { m.QuotesTotal.Add(float64(n)) }
		sources = append(sources, pricefeed.Source{Name: "simulator", PriceSource: sim})
	}
	sources = append(sources, pricefeed.Source{Name: "seed", PriceSource: seed})

	prices := pricefeed.NewChain(log, sources...)
	prices.OnError = func(source string) { m.PriceSourceErrors.WithLabelValues(source).Inc() }

	// Portfolio service
	risk := portfolio.NewRiskManager(cfg.Risk, log)
	deps := service.Deps{
		Prices:    prices,
		Risk:      risk,
		Snapshots: store,
		Notifier:  buildNotifier(cfg, log),
		Metrics:   m,
		Policy:    cfg.AvgPolicy,
	}

	var messages model.MessageService
	var client *backend.Client
	if cfg.BackendEnabled() {
		client, err = backend.New(backend.Config{
			BaseURL:    cfg.BackendURL,
			Token:      cfg.BackendToken,
			TOTPSecret: cfg.BackendTOTPSecret,
		}, log)
		if err != nil {
			return err
		}
		messages = client
		health.SetBackendEnabled(true)
	}

	switch cfg.OrderSource {
	case config.OrderSourceBackend:
		deps.Orders = client
		log.Info("orders from backend, execution disabled", slog.String("url", cfg.BackendURL))
	default:
		deps.Orders = store
		deps.Executor = execution.NewPaperExecutor(prices, store, journal, cfg.SlippageBps, log)
		log.Info("orders from sqlite, paper execution enabled", slog.Int64("slippage_bps", cfg.SlippageBps))
	}

	svc, err := service.New(deps, log)
	if err != nil {
		return err
	}

	// Gateway
	hub := gateway.NewHub(svc, log)
	hub.Session = cfg.Market
	hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }

	var rdb *goredis.Client
	if cache != nil {
		// updates round-trip through Redis so every replica's hub sees them
		rdb = cache.Client()
		svc.Subscribe(gateway.NewRedisPublisher(cache))
		go gateway.NewPubSubRouter(hub, cache).Run(ctx)
	} else {
		svc.Subscribe(hub)
	}

	var quoteList model.QuoteLister
	switch {
	case cache != nil:
		quoteList = cache
	case sim != nil:
		quoteList = sim
	}

	limits := gateway.NewConfigStore(hub, risk, rdb)
	limits.Load(ctx)

	router := gateway.NewRouter(gateway.RouterConfig{
		Service:  svc,
		Hub:      hub,
		Health:   health,
		Fills:    journal,
		Quotes:   quoteList,
		Messages: messages,
		Limits:   limits,
		Start:    start,
		Logger:   log,
	})

	// Background work
	sched := scheduler.New(log)
	err = scheduler.Register(sched, scheduler.Config{
		RefreshEvery:  cfg.RefreshInterval,
		DailyResetAt:  cfg.Market.OpenSpec(),
		SnapshotsKept: cfg.SnapshotsKept,
	}, scheduler.Jobs{
		Service: svc,
		Health:  health,
		Risk:    risk,
		Store:   store,
	})
	if err != nil {
		return err
	}

	health.StartLivenessChecker(ctx, rdb, store.DB(), 10*time.Second)
	if sim != nil {
		go hub.StreamQuotes(ctx, quotes.Subscribe())
		go quotes.Run(ctx, quoteIn)
		go sim.Run(ctx)
	}
	go hub.StartMetricsBroadcast(ctx, start, 2*time.Second)
	sched.Start()
	go sched.RunNow(scheduler.NewRefreshJob(svc, health))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("serving", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down")
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watchBreaker mirrors breaker transitions into the Prometheus gauges.
func watchBreaker(cb *redis.CircuitBreaker, m *metrics.Metrics) {
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to redis.State) {
		if prev != nil {
			prev(from, to)
		}
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == redis.StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
	}
}

func buildNotifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL, log))
	}
	if cfg.TelegramBotToken != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log))
	}
	return n
}
