// Package notify provides notification functionality for the portfolio
// tracker, including big-mover alerts.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stockfolio/internal/models"
	"stockfolio/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Channel defines the interface for a single notification channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Symbol    models.Symbol
	Timestamp time.Time
}

// Type represents the type of notification.
type Type string

const (
	TypeBigMover Type = "big_mover"
	TypeRestore  Type = "restore"
	TypeError    Type = "error"
	TypeInfo     Type = "info"
)

// NewBigMoverNotification builds a notification for a quote whose session
// move crossed the configured threshold.
func NewBigMoverNotification(q models.Quote) Notification {
	verb := "up"
	if q.RegularDirection == models.DirectionDown {
		verb = "down"
	}
	return Notification{
		Type:   TypeBigMover,
		Title:  fmt.Sprintf("%s is moving", q.Symbol),
		Symbol: q.Symbol,
		Message: fmt.Sprintf("%s is %s %s (%s) at %s",
			q.Symbol, verb,
			utils.FormatCurrency(abs(q.RegularChangeAmount)),
			utils.FormatPercent(q.RegularChangePercent),
			utils.FormatCurrency(q.RegularPrice)),
		Timestamp: time.Now(),
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// MultiNotifier fans a notification out to all enabled channels. Channel
// failures are logged and do not affect other channels.
type MultiNotifier struct {
	channels []Channel
	logger   zerolog.Logger
}

// NewMultiNotifier creates a notifier over the given channels.
func NewMultiNotifier(logger zerolog.Logger, channels ...Channel) *MultiNotifier {
	return &MultiNotifier{
		channels: channels,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Send sends the notification to every enabled channel.
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var lastErr error
	for _, ch := range m.channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil {
			lastErr = err
			m.logger.Warn().Err(err).Str("channel", ch.Name()).Msg("Notification failed")
		}
	}
	return lastErr
}

var _ Notifier = (*MultiNotifier)(nil)

// NopNotifier discards all notifications.
type NopNotifier struct{}

// Send implements Notifier.
func (NopNotifier) Send(ctx context.Context, n Notification) error { return nil }
