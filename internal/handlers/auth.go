package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/onebot/internal/auth"
)

type AuthHandler struct {
	secret    string
	expiresIn time.Duration
}

func NewAuthHandler(secret string, expiresIn time.Duration) *AuthHandler {
	return &AuthHandler{secret: secret, expiresIn: expiresIn}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/refresh", h.Refresh)
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Refresh exchanges the caller's token for a fresh one with the same lifetime.
func (h *AuthHandler) Refresh(c echo.Context) error {
	if strings.TrimSpace(h.secret) == "" {
		return echo.NewHTTPError(http.StatusNotFound, "authentication is disabled")
	}
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.secret, h.expiresIn)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	})
}
