// Package notify delivers fire-and-forget change events.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType names what changed.
type EventType string

const (
	SubscriptionCreated EventType = "subscription.created"
	SubscriptionUpdated EventType = "subscription.updated"
	SubscriptionDeleted EventType = "subscription.deleted"
	FolderCreated       EventType = "folder.created"
	FolderUpdated       EventType = "folder.updated"
	FolderDeleted       EventType = "folder.deleted"
	VideoCreated        EventType = "video.created"
	VideoUpdated        EventType = "video.updated"
)

// Event is one change notification.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	UserID  string    `json:"user_id,omitempty"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t EventType, userID string, payload any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		UserID:  userID,
		Payload: payload,
		At:      time.Now().UTC(),
	}
}

// Notifier accepts events without waiting for delivery.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Log writes events to a logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, e Event) {
	l.logger.Debug("event", "id", e.ID, "type", string(e.Type), "user_id", e.UserID)
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		n.Notify(ctx, e)
	}
}
