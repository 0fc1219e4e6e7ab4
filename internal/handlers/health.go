package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/onebot/internal/healthcheck"
)

type HealthHandler struct {
	checker healthcheck.Checker
}

func NewHealthHandler(checker healthcheck.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health/checks", h.ListChecks)
}

type HealthResponse struct {
	Status string                    `json:"status"`
	Checks []healthcheck.CheckResult `json:"checks"`
}

// ListChecks runs every checker. An error anywhere turns the response into a 503.
func (h *HealthHandler) ListChecks(c echo.Context) error {
	checks := h.checker.ListChecks(c.Request().Context())
	resp := HealthResponse{Status: healthcheck.Overall(checks), Checks: checks}
	code := http.StatusOK
	if resp.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
