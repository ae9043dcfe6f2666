package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"trading-portfolio/internal/backend"
	"trading-portfolio/internal/execution"
	"trading-portfolio/internal/logger"
	"trading-portfolio/internal/model"
	"trading-portfolio/internal/portfolio"
	"trading-portfolio/internal/service"
)

const (
	defaultFillsLimit = 100
	maxBodyBytes      = 1 << 20
	traceHeader       = "X-Trace-ID"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// PortfolioService is the part of service.Service the API uses.
type PortfolioService interface {
	UpdateSource
	Refresh(ctx context.Context, account string) (service.Update, error)
	Orders(ctx context.Context, account string) ([]model.Order, error)
	PlaceOrder(ctx context.Context, order model.Order) (execution.Fill, error)
	Risk(ctx context.Context, account string) (portfolio.RiskReport, error)
}

// FillLister reads the fills journal.
type FillLister interface {
	GetTrades(ctx context.Context, account string, limit int) ([]execution.TradeRecord, error)
}

// RouterConfig wires the API. Service and Hub are required; nil optional
// collaborators make their endpoints answer 503.
type RouterConfig struct {
	Service  PortfolioService
	Hub      *Hub
	Health   http.Handler
	Gatherer prometheus.Gatherer // nil uses the default registry
	Fills    FillLister
	Quotes   model.QuoteLister
	Messages model.MessageService
	Limits   *ConfigStore
	Start    time.Time
	Logger   *slog.Logger
}

// OrderRequest is the body of POST /api/orders. A zero price places a
// market order.
type OrderRequest struct {
	Account  string          `json:"account"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// MessageRequest is the body of the XML message endpoints.
type MessageRequest struct {
	XMLContent  string `json:"xmlContent"`
	MessageType string `json:"messageType,omitempty"`
}

type api struct {
	cfg    RouterConfig
	logger *slog.Logger
}

// NewRouter builds the HTTP handler for the gateway.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	a := &api{cfg: cfg, logger: cfg.Logger.With(slog.String("component", "http"))}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.traceMiddleware)
	r.Use(a.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", traceHeader},
		ExposedHeaders: []string{traceHeader},
		MaxAge:         300,
	}))

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", a.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/system", a.handleSystem)
		r.Get("/portfolio", a.handlePortfolio)
		r.Get("/portfolio/latest", a.handleLatestAll)
		r.Get("/orders", a.handleListOrders)
		r.Post("/orders", a.handlePlaceOrder)
		r.Get("/risk", a.handleRisk)
		r.Get("/risk/limits", a.handleGetLimits)
		r.Put("/risk/limits", a.handleSetLimits)
		r.Get("/fills", a.handleFills)
		r.Get("/quotes", a.handleQuotes)
		r.Get("/missed", a.handleMissed)
		r.Post("/xml/parse", a.handleParseMessage)
		r.Post("/xml/validate", a.handleValidateMessage)
	})
	return r
}

// traceMiddleware propagates X-Trace-ID or assigns a new one.
func (a *api) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(traceHeader); id != "" {
			ctx = logger.WithTraceID(ctx, id)
		} else {
			ctx = logger.EnsureTraceID(ctx)
		}
		w.Header().Set(traceHeader, logger.TraceID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *api) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := append(logger.LogWithTrace(r.Context()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
		a.logger.Debug("http request", attrs...)
	})
}

func (a *api) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var lastSeq int64
	if s := q.Get("last_seq"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "last_seq must be a non-negative integer")
			return
		}
		lastSeq = n
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("ws upgrade failed", slog.Any("error", err))
		return
	}
	a.cfg.Hub.HandleWSRequest(conn, q.Get("account"), lastSeq)
}

func (a *api) handleSystem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg.Hub.systemMetrics(r.Context(), a.cfg.Start))
}

// handlePortfolio serves the account's latest update, recomputing it when
// none exists yet or when refresh=true.
func (a *api) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if r.URL.Query().Get("refresh") != "true" {
		if u, ok := a.cfg.Service.Latest(account); ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	u, err := a.cfg.Service.Refresh(r.Context(), account)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *api) handleLatestAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg.Hub.GetLatestAll())
}

func (a *api) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.cfg.Service.Orders(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (a *api) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fill, err := a.cfg.Service.PlaceOrder(r.Context(), model.Order{
		Account:  req.Account,
		Symbol:   req.Symbol,
		Side:     side,
		Quantity: req.Quantity,
		Price:    req.Price,
		Status:   model.StatusNew,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fill)
}

func (a *api) handleRisk(w http.ResponseWriter, r *http.Request) {
	report, err := a.cfg.Service.Risk(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Limits == nil {
		writeError(w, http.StatusServiceUnavailable, "risk limits are not configurable")
		return
	}
	writeJSON(w, http.StatusOK, a.cfg.Limits.Get())
}

func (a *api) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Limits == nil {
		writeError(w, http.StatusServiceUnavailable, "risk limits are not configurable")
		return
	}
	var limits portfolio.RiskLimits
	if !decodeBody(w, r, &limits) {
		return
	}
	if err := a.cfg.Limits.Set(r.Context(), limits); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (a *api) handleFills(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Fills == nil {
		writeError(w, http.StatusServiceUnavailable, "fills journal is not configured")
		return
	}
	limit := defaultFillsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	trades, err := a.cfg.Fills.GetTrades(r.Context(), r.URL.Query().Get("account"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (a *api) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Quotes == nil {
		writeError(w, http.StatusServiceUnavailable, "no quote source is configured")
		return
	}
	quotes, err := a.cfg.Quotes.Quotes(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

// handleMissed returns buffered envelopes of a channel in [from, to] for
// client gap backfill. to defaults to the channel's current sequence.
func (a *api) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	from, err := strconv.ParseInt(q.Get("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be an integer")
		return
	}
	cur := a.cfg.Hub.GetChannelSeq(channel)
	to := cur
	if s := q.Get("to"); s != "" {
		if to, err = strconv.ParseInt(s, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "to must be an integer")
			return
		}
	}

	raw := a.cfg.Hub.GetReplayRange(channel, from, to)
	envelopes := make([]json.RawMessage, len(raw))
	for i, e := range raw {
		envelopes[i] = e
	}
	resp := map[string]interface{}{
		"channel":     channel,
		"channel_seq": cur,
		"envelopes":   envelopes,
	}
	if oldest, ok := a.cfg.Hub.OldestSeq(channel); ok {
		resp["oldest_seq"] = oldest
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleParseMessage(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Messages == nil {
		writeError(w, http.StatusServiceUnavailable, "message backend is not configured")
		return
	}
	var req MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.XMLContent == "" {
		writeError(w, http.StatusBadRequest, "xmlContent is required")
		return
	}
	parsed, err := a.cfg.Messages.ParseMessage(r.Context(), req.XMLContent)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parsed)
}

func (a *api) handleValidateMessage(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Messages == nil {
		writeError(w, http.StatusServiceUnavailable, "message backend is not configured")
		return
	}
	var req MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.XMLContent == "" || req.MessageType == "" {
		writeError(w, http.StatusBadRequest, "xmlContent and messageType are required")
		return
	}
	res, err := a.cfg.Messages.ValidateMessage(r.Context(), req.XMLContent, req.MessageType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps err to a status code and writes it as {"error": "..."}.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		attrs := append(logger.LogWithTrace(r.Context()),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		a.logger.Error("request failed", attrs...)
	}
	writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	var apiErr *backend.APIError
	var limitsErr errInvalidLimits
	switch {
	case errors.Is(err, model.ErrEmptySymbol),
		errors.Is(err, model.ErrUnknownSide),
		errors.Is(err, model.ErrBadQuantity),
		errors.Is(err, model.ErrBadPrice),
		errors.Is(err, model.ErrUnknownStatus),
		errors.As(err, &limitsErr):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrRestrictedSymbol),
		errors.Is(err, portfolio.ErrPositionLimit),
		errors.Is(err, portfolio.ErrConcentrationLimit),
		errors.Is(err, portfolio.ErrDailyOrderLimit),
		errors.Is(err, execution.ErrNoPrice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrExecutionDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
