package healthcheck

import "context"

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
	// StatusUnknown indicates check result is not yet known.
	StatusUnknown = "unknown"
)

// CheckResult is one runtime check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Subtitle string         `json:"subtitle,omitempty"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more runtime checks.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

// Set runs its checkers in order and concatenates their results.
type Set []Checker

// ListChecks implements Checker.
func (s Set) ListChecks(ctx context.Context) []CheckResult {
	items := []CheckResult{}
	for _, checker := range s {
		if checker == nil {
			continue
		}
		items = append(items, checker.ListChecks(ctx)...)
	}
	return items
}

// Overall folds results into one status: any error wins, then any warning.
// No results is unknown.
func Overall(items []CheckResult) string {
	if len(items) == 0 {
		return StatusUnknown
	}
	status := StatusOK
	for _, item := range items {
		switch item.Status {
		case StatusError:
			return StatusError
		case StatusWarn, StatusUnknown:
			status = StatusWarn
		}
	}
	return status
}
