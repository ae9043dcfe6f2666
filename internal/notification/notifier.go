// Package notification delivers portfolio risk alerts to external channels.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Account string     `json:"account,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// LevelFor grades a risk alert line by its prefix.
func LevelFor(message string) AlertLevel {
	switch {
	case strings.HasPrefix(message, "HIGH RISK"), strings.HasPrefix(message, "DRAWDOWN"):
		return AlertCritical
	case strings.HasPrefix(message, "TRADING LIMIT"):
		return AlertInfo
	default:
		return AlertWarning
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, alert.Title,
		slog.String("account", alert.Account),
		slog.String("message", alert.Message),
	)
	return nil
}

// Multi fans an alert out to every notifier. Delivery continues past
// failures; the joined error is returned.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
