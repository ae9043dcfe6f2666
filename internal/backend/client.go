// Package backend is the HTTP client for the external trading backend.
// The backend owns order entry and FIX/XML message handling; this package
// only reads orders and forwards trade messages for parsing and validation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"trading-portfolio/internal/model"
)

// Config configures the backend client.
type Config struct {
	BaseURL    string        // e.g. "http://localhost:8080"
	Token      string        // bearer token, optional
	TOTPSecret string        // base32 secret; when set every request carries X-TOTP
	Timeout    time.Duration // default 7s
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %d %s", e.Status, e.Message)
}

// Client talks to the backend REST API.
type Client struct {
	baseURL    string
	token      string
	totpSecret string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

var _ model.MessageService = (*Client)(nil)
var _ model.OrderSource = (*Client)(nil)

// New creates a Client. BaseURL must be an absolute http(s) URL.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		totpSecret: cfg.TOTPSecret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "backend")),
		now:        time.Now,
	}, nil
}

func (c *Client) requestHeaders() (http.Header, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.totpSecret != "" {
		code, err := totp.GenerateCode(c.totpSecret, c.now())
		if err != nil {
			return nil, fmt.Errorf("backend totp: %w", err)
		}
		h.Set("X-TOTP", code)
	}
	return h, nil
}

// do sends in (if non-nil) as JSON and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("backend request %s: %w", path, err)
	}
	if req.Header, err = c.requestHeaders(); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("backend read %s: %w", path, err)
	}
	c.logger.Debug("backend call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backend decode %s: %w", path, err)
	}
	return nil
}

// errorMessage extracts {"message": ...} or {"error": ...}, else the raw body.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return fallback
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
