package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingHandler struct {
	logger *slog.Logger
	store  Pinger
}

func NewPingHandler(log *slog.Logger, store Pinger) *PingHandler {
	return &PingHandler{logger: log.With(slog.String("handler", "ping")), store: store}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// PingHead reports 503 when the store is unreachable.
func (h *PingHandler) PingHead(c echo.Context) error {
	if h.store != nil {
		if err := h.store.Ping(c.Request().Context()); err != nil {
			h.logger.Warn("health check failed", slog.Any("error", err))
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}
