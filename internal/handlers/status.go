package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/onebot/internal/channel"
	"github.com/memohai/onebot/internal/channel/adapters/onebot"
)

// StatusReader exposes the observed connection statuses.
type StatusReader interface {
	ConnectionStatus(configID string) (channel.ConnectionStatus, bool)
}

// AccountLister lists the resolved OneBot accounts.
type AccountLister interface {
	Accounts() []onebot.ResolvedAccount
}

type StatusHandler struct {
	statuses StatusReader
	accounts AccountLister
}

func NewStatusHandler(statuses StatusReader, accounts AccountLister) *StatusHandler {
	return &StatusHandler{statuses: statuses, accounts: accounts}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/status", h.ListStatus)
	e.GET("/status/:account_id", h.GetStatus)
}

// AccountStatus is one account's effective settings and live connection state.
// The access token is never included.
type AccountStatus struct {
	AccountID  string                    `json:"account_id"`
	Name       string                    `json:"name,omitempty"`
	Enabled    bool                      `json:"enabled"`
	Configured bool                      `json:"configured"`
	WSURL      string                    `json:"ws_url,omitempty"`
	HTTPURL    string                    `json:"http_url,omitempty"`
	DMPolicy   onebot.DMPolicy           `json:"dm_policy"`
	AllowFrom  []string                  `json:"allow_from,omitempty"`
	Connection *channel.ConnectionStatus `json:"connection,omitempty"`
}

// ListStatus returns every configured account with its connection state.
func (h *StatusHandler) ListStatus(c echo.Context) error {
	accounts := h.accounts.Accounts()
	items := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		items = append(items, h.statusFor(account))
	}
	return c.JSON(http.StatusOK, items)
}

func (h *StatusHandler) GetStatus(c echo.Context) error {
	accountID := c.Param("account_id")
	for _, account := range h.accounts.Accounts() {
		if account.AccountID == accountID {
			return c.JSON(http.StatusOK, h.statusFor(account))
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "account not found: "+accountID)
}

func (h *StatusHandler) statusFor(account onebot.ResolvedAccount) AccountStatus {
	item := AccountStatus{
		AccountID:  account.AccountID,
		Name:       account.Name,
		Enabled:    account.Enabled,
		Configured: account.Configured,
		WSURL:      account.WSURL,
		HTTPURL:    account.HTTPURL,
		DMPolicy:   account.DMPolicy,
		AllowFrom:  account.AllowFrom,
	}
	if status, ok := h.statuses.ConnectionStatus(account.AccountID); ok {
		item.Connection = &status
	}
	return item
}
