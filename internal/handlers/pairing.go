package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/onebot/internal/auth"
	"github.com/memohai/onebot/internal/channel/adapters/onebot"
	"github.com/memohai/onebot/internal/store"
)

// PairingService is the persistence behind pairing approval and the
// persisted allow-list.
type PairingService interface {
	ListPairingRequests(ctx context.Context, channel, accountID string) ([]store.PairingRequest, error)
	ApprovePairingCode(ctx context.Context, channel, code string) (store.PairingRequest, error)
	ReadAllowFrom(ctx context.Context, channel, accountID string) ([]string, error)
	AddAllowFrom(ctx context.Context, channel, accountID, senderID string) error
	RemoveAllowFrom(ctx context.Context, channel, accountID, senderID string) (bool, error)
}

type PairingHandler struct {
	service PairingService
	logger  *slog.Logger
}

func NewPairingHandler(log *slog.Logger, service PairingService) *PairingHandler {
	return &PairingHandler{service: service, logger: log.With(slog.String("handler", "pairing"))}
}

func (h *PairingHandler) Register(e *echo.Echo) {
	group := e.Group("/pairing")
	group.GET("", h.ListRequests)
	group.POST("/:code/approve", h.Approve)

	allow := e.Group("/accounts/:account_id/allow_from")
	allow.GET("", h.ListAllowFrom)
	allow.POST("", h.AddAllowFrom)
	allow.DELETE("/:sender_id", h.RemoveAllowFrom)
}

// ListRequests returns pending pairing requests, optionally for one account.
func (h *PairingHandler) ListRequests(c echo.Context) error {
	items, err := h.service.ListPairingRequests(c.Request().Context(), onebot.Type.String(), strings.TrimSpace(c.QueryParam("account_id")))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.PairingRequest{}
	}
	return c.JSON(http.StatusOK, items)
}

// Approve moves the sender behind code into the allow-list.
func (h *PairingHandler) Approve(c echo.Context) error {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	req, err := h.service.ApprovePairingCode(c.Request().Context(), onebot.Type.String(), code)
	if err != nil {
		if errors.Is(err, store.ErrPairingNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	attrs := []any{
		slog.String("account_id", req.AccountID),
		slog.String("sender_id", req.SenderID),
	}
	if approver, err := auth.SubjectFromContext(c); err == nil {
		attrs = append(attrs, slog.String("approved_by", approver))
	}
	h.logger.Info("pairing approved", attrs...)
	return c.JSON(http.StatusOK, req)
}

type allowFromResponse struct {
	AccountID string   `json:"account_id"`
	AllowFrom []string `json:"allow_from"`
}

type allowFromRequest struct {
	SenderID string `json:"sender_id"`
}

func (h *PairingHandler) ListAllowFrom(c echo.Context) error {
	accountID := c.Param("account_id")
	items, err := h.service.ReadAllowFrom(c.Request().Context(), onebot.Type.String(), accountID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []string{}
	}
	return c.JSON(http.StatusOK, allowFromResponse{AccountID: accountID, AllowFrom: items})
}

func (h *PairingHandler) AddAllowFrom(c echo.Context) error {
	var req allowFromRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sender := onebot.NormalizeSender(req.SenderID)
	if sender == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sender_id is required")
	}
	if err := h.service.AddAllowFrom(c.Request().Context(), onebot.Type.String(), c.Param("account_id"), sender); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PairingHandler) RemoveAllowFrom(c echo.Context) error {
	sender := onebot.NormalizeSender(c.Param("sender_id"))
	removed, err := h.service.RemoveAllowFrom(c.Request().Context(), onebot.Type.String(), c.Param("account_id"), sender)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, "sender not in allow-list")
	}
	return c.NoContent(http.StatusNoContent)
}
