package interfaces

import (
	"context"
)

// EventType identifies a category of in-process event
type EventType string

const (
	EventScanQueued    EventType = "scan_queued"
	EventScanStarted   EventType = "scan_started"
	EventPageProgress  EventType = "page_progress"
	EventImageFound    EventType = "image_found"
	EventScanCompleted EventType = "scan_completed"
	EventScanFailed    EventType = "scan_failed"
	EventQueueChanged  EventType = "queue_changed"
	EventStatsUpdated  EventType = "stats_updated"
)

// Event is a single published occurrence
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event Event) error

// EventService is the in-process pub/sub bus between the queue, crawler and
// the WebSocket push layer
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	// PublishSync waits for all handlers before returning
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
