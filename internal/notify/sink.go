// Package notify delivers corrective notifications to faction members.
// Delivery is best-effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/balance-engine/internal/metrics"
)

var (
	ErrDropped   = errors.New("notify: message dropped, buffer full")
	ErrThrottled = errors.New("notify: rate limit exceeded")
)

// Sink delivers a message to the members of one faction.
type Sink interface {
	NotifyFaction(ctx context.Context, factionID, message string) error
}

// Message is the wire form shared by the websocket and webhook sinks.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	FactionID string    `json:"faction_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// NewMessage stamps a faction notification with a fresh id.
func NewMessage(factionID, text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      "faction_notification",
		FactionID: factionID,
		Text:      text,
		SentAt:    time.Now().UTC(),
	}
}

// Discard drops every message.
type Discard struct{}

func (Discard) NotifyFaction(context.Context, string, string) error { return nil }

// Log writes notifications to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) NotifyFaction(ctx context.Context, factionID, message string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "faction notification", "faction", factionID, "message", message)
	return nil
}

// Multi fans a message out to every sink and joins their errors.
type Multi []Sink

func (m Multi) NotifyFaction(ctx context.Context, factionID, message string) error {
	var errs []error
	for _, s := range m {
		if err := s.NotifyFaction(ctx, factionID, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Counted records delivery results for the wrapped sink under name.
func Counted(name string, s Sink) Sink {
	return counted{name: name, next: s}
}

type counted struct {
	name string
	next Sink
}

func (c counted) NotifyFaction(ctx context.Context, factionID, message string) error {
	err := c.next.NotifyFaction(ctx, factionID, message)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.NotificationsTotal.WithLabelValues(c.name, result).Inc()
	return err
}
