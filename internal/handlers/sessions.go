package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/onebot/internal/store"
)

const maxListLimit = 500

// SessionReader reads recorded inbound sessions.
type SessionReader interface {
	ListSessions(ctx context.Context, limit int) ([]store.SessionSummary, error)
	ListInbound(ctx context.Context, sessionKey string, limit int) ([]store.InboundRecord, error)
}

type SessionsHandler struct {
	sessions SessionReader
}

func NewSessionsHandler(sessions SessionReader) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

func (h *SessionsHandler) Register(e *echo.Echo) {
	group := e.Group("/sessions")
	group.GET("", h.ListSessions)
	group.GET("/:session_key/messages", h.ListMessages)
}

func (h *SessionsHandler) ListSessions(c echo.Context) error {
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	items, err := h.sessions.ListSessions(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.SessionSummary{}
	}
	return c.JSON(http.StatusOK, items)
}

// ListMessages returns the newest records of one session first.
func (h *SessionsHandler) ListMessages(c echo.Context) error {
	key := strings.TrimSpace(c.Param("session_key"))
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session key is required")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	items, err := h.sessions.ListInbound(c.Request().Context(), key, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.InboundRecord{}
	}
	return c.JSON(http.StatusOK, items)
}

// parseLimit returns 0 (store default) for an empty value.
func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	return min(n, maxListLimit), nil
}
