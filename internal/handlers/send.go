package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/onebot/internal/channel"
	"github.com/memohai/onebot/internal/channel/adapters/onebot"
)

// MessageSender delivers an outbound message through a configured account.
type MessageSender interface {
	Send(ctx context.Context, configID string, channelType channel.ChannelType, req channel.SendRequest) error
}

type SendHandler struct {
	sender MessageSender
}

func NewSendHandler(sender MessageSender) *SendHandler {
	return &SendHandler{sender: sender}
}

func (h *SendHandler) Register(e *echo.Echo) {
	e.POST("/accounts/:account_id/messages", h.Send)
}

// Send posts a direct message from the account to req.Target.
func (h *SendHandler) Send(c echo.Context) error {
	var req channel.SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Target) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target is required")
	}
	if req.Message.IsEmpty() {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if err := h.sender.Send(c.Request().Context(), c.Param("account_id"), onebot.Type, req); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}
