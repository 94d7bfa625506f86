// Package sse fans session views out to browsers as Server-Sent Events.
package sse

import "time"

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventConnected is the first event on every stream.
	EventConnected EventType = "connected"
	// EventViewUpdated carries a full session view after any change.
	EventViewUpdated EventType = "view.updated"
	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Type      EventType `json:"type"`
	// Version orders view.updated events of one owner. Zero for other types.
	Version uint64 `json:"version,omitempty"`
	// OwnerID restricts delivery to one owner's clients. Empty means everyone.
	OwnerID string `json:"-"`
}

// NewViewEvent wraps version of ownerID's session view.
func NewViewEvent(ownerID string, view any, version uint64) Event {
	return Event{
		Type:      EventViewUpdated,
		OwnerID:   ownerID,
		Version:   version,
		Data:      view,
		Timestamp: time.Now(),
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	return Event{
		Type:      EventHeartbeat,
		Timestamp: time.Now(),
	}
}
