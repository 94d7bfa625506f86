package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// InitialFunc returns the payload and version of the first view.updated
// event on a new stream.
type InitialFunc func(ownerID string) (view any, version uint64, err error)

// Handler streams an owner's events at GET /api/v1/events.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
	initial InitialFunc
}

// NewHandler creates a new SSE Handler. initial may be nil.
func NewHandler(manager *Manager, logger *slog.Logger, initial InitialFunc) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
		initial: initial,
	}
}

// Serve streams events for ownerID until the client goes away or the
// manager shuts down.
func (h *Handler) Serve(c echo.Context, ownerID string) error {
	ctx := c.Request().Context()
	if ctx.Err() != nil {
		return nil
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		return err
	}

	client := h.manager.Connect(ownerID)
	defer h.manager.Disconnect(client.ID)

	clientLogger := h.logger.With(slog.String("client_id", client.ID), slog.String("owner_id", ownerID))

	if err := h.sendEvent(w, rc, Event{
		Type:      EventConnected,
		Timestamp: time.Now(),
		Data:      map[string]string{"client_id": client.ID},
	}); err != nil {
		clientLogger.Warn("failed to send initial connection message", slog.String("error", err.Error()))
		return nil
	}

	// The client is connected before the initial view is read, so views
	// queued earlier may still arrive. Anything not newer is skipped.
	var sent uint64
	if h.initial != nil {
		view, version, err := h.initial(ownerID)
		if err != nil {
			clientLogger.Error("failed to load initial view", slog.String("error", err.Error()))
			return nil
		}
		if err := h.sendEvent(w, rc, NewViewEvent(ownerID, view, version)); err != nil {
			return nil
		}
		sent = version
	}

	for {
		select {
		case event, ok := <-client.EventChan:
			if !ok {
				clientLogger.Info("client closed by manager")
				return nil
			}
			if event.Type == EventViewUpdated {
				if event.Version <= sent {
					clientLogger.Debug("skipping stale view", slog.Uint64("version", event.Version))
					continue
				}
				sent = event.Version
			}
			if err := h.sendEvent(w, rc, event); err != nil {
				// Client disconnect is normal, not an error condition.
				clientLogger.Info("client disconnected during send")
				return nil
			}

		case <-client.Done:
			clientLogger.Info("client closed by manager")
			return nil

		case <-ctx.Done():
			clientLogger.Debug("client context canceled")
			return nil
		}
	}
}

// sendEvent writes one event in SSE framing and flushes it.
func (h *Handler) sendEvent(w http.ResponseWriter, rc *http.ResponseController, event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, jsonData); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}

	// SetWriteDeadline is not supported by every ResponseWriter.
	if err := rc.SetWriteDeadline(time.Now().Add(2 * h.manager.heartbeatInterval)); err != nil {
		h.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}
	return nil
}
