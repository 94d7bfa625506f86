package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	domainerrors "github.com/ytakahashi/line-todo-sync/internal/errors"
	"github.com/ytakahashi/line-todo-sync/internal/livesync"
	"github.com/ytakahashi/line-todo-sync/internal/models"
	"github.com/ytakahashi/line-todo-sync/internal/sse"
	"github.com/ytakahashi/line-todo-sync/internal/validation"
)

// OwnerHeader carries the authenticated owner id, set by the upstream auth proxy.
const OwnerHeader = "X-Owner-ID"

// selectTimeout bounds how long PUT /selection waits for a new list to sync.
const selectTimeout = 5 * time.Second

// NameRequest is the body of every create or rename call.
type NameRequest struct {
	Name string `json:"name" validate:"required,notblank,max=200"`
}

// SelectRequest is the body of PUT /selection.
type SelectRequest struct {
	ListID string `json:"listId" validate:"required,notblank"`
}

// CreatedResponse is returned by create calls.
type CreatedResponse struct {
	ID string `json:"id"`
}

// ToggleResponse is returned by the toggle call.
type ToggleResponse struct {
	Status models.Status `json:"status"`
}

// APIHandler serves the JSON API over the per-owner sessions of a hub.
type APIHandler struct {
	hub       *livesync.Hub
	events    *sse.Handler
	validator *validation.Validator
	logger    *slog.Logger
}

// NewAPIHandler creates the JSON API handler. events may be nil.
func NewAPIHandler(hub *livesync.Hub, events *sse.Handler, v *validation.Validator, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		hub:       hub,
		events:    events,
		validator: v,
		logger:    logger,
	}
}

// Register mounts the API routes on g (usually /api/v1).
func (h *APIHandler) Register(g *echo.Group) {
	g.GET("/view", h.GetView)
	g.POST("/resync", h.Resync)
	g.POST("/lists", h.CreateList)
	g.PATCH("/lists/:listId", h.RenameList)
	g.DELETE("/lists/:listId", h.DeleteList)
	g.PUT("/selection", h.Select)
	g.DELETE("/selection", h.ClearSelection)
	g.POST("/lists/:listId/items", h.CreateItem)
	g.PATCH("/lists/:listId/items/:itemId", h.RenameItem)
	g.DELETE("/lists/:listId/items/:itemId", h.DeleteItem)
	g.POST("/lists/:listId/items/:itemId/toggle", h.ToggleItem)
	if h.events != nil {
		g.GET("/events", h.Events)
	}
}

func (h *APIHandler) session(c echo.Context) (*livesync.Session, error) {
	return h.hub.Session(c.Request().Header.Get(OwnerHeader))
}

func (h *APIHandler) bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return domainerrors.Validation("invalid request body")
	}
	return h.validator.Validate(req)
}

// GetView returns the caller's current view.
func (h *APIHandler) GetView(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.View())
}

// Resync reopens a failed list subscription and returns the fresh view.
func (h *APIHandler) Resync(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	if err := sess.Resync(); err != nil {
		return domainerrors.Store(err, "failed to resync")
	}
	return c.JSON(http.StatusOK, sess.View())
}

func (h *APIHandler) CreateList(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req NameRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	listID, err := sess.CreateList(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, CreatedResponse{ID: listID})
}

func (h *APIHandler) RenameList(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req NameRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	if err := sess.RenameList(c.Request().Context(), c.Param("listId"), req.Name); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteList deletes a list with all of its items.
func (h *APIHandler) DeleteList(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	if err := sess.DeleteList(c.Request().Context(), c.Param("listId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Select opens a list. It waits up to selectTimeout for a just-created
// list to reach the caller's view.
func (h *APIHandler) Select(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req SelectRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), selectTimeout)
	defer cancel()
	if err := sess.Select(ctx, req.ListID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *APIHandler) ClearSelection(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	sess.ClearSelection()
	return c.NoContent(http.StatusNoContent)
}

func (h *APIHandler) CreateItem(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req NameRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	itemID, err := sess.CreateItem(c.Request().Context(), c.Param("listId"), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, CreatedResponse{ID: itemID})
}

func (h *APIHandler) RenameItem(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req NameRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	if err := sess.RenameItem(c.Request().Context(), c.Param("listId"), c.Param("itemId"), req.Name); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *APIHandler) DeleteItem(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	if err := sess.DeleteItem(c.Request().Context(), c.Param("listId"), c.Param("itemId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *APIHandler) ToggleItem(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	status, err := sess.ToggleItem(c.Request().Context(), c.Param("listId"), c.Param("itemId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ToggleResponse{Status: status})
}

// Events streams the caller's views as server-sent events.
func (h *APIHandler) Events(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return h.events.Serve(c, sess.View().OwnerID)
}
