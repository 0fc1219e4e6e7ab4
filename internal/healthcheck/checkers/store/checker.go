package storechecker

import (
	"context"
	"time"

	"github.com/memohai/onebot/internal/healthcheck"
)

const (
	checkTypeStore = "store.sqlite"
	pingTimeout    = 3 * time.Second
)

// Pinger is the store's liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker reports whether the local store answers.
type Checker struct {
	store Pinger
}

func NewChecker(store Pinger) *Checker {
	return &Checker{store: store}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:      checkTypeStore,
		Type:    checkTypeStore,
		Status:  healthcheck.StatusOK,
		Summary: "Store is reachable.",
	}
	if c.store == nil {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Store is not configured."
		return []healthcheck.CheckResult{item}
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.store.Ping(pingCtx); err != nil {
		item.Status = healthcheck.StatusError
		item.Summary = "Store is unreachable."
		item.Detail = err.Error()
	}
	return []healthcheck.CheckResult{item}
}
