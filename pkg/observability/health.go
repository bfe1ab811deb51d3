package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status summarizes service health.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is a single named health probe. Critical checks take the whole
// service unhealthy on failure; non-critical ones only degrade it.
type Check struct {
	Name     string
	Run      func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health endpoint body.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// HealthChecker runs registered probes with per-check timeouts.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []Check
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// Register adds a probe. A zero timeout defaults to 5 seconds.
func (hc *HealthChecker) Register(check Check) {
	if check.Timeout <= 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// Check runs all probes and aggregates the overall status.
func (hc *HealthChecker) Check(ctx context.Context) Response {
	hc.mu.RLock()
	checks := make([]Check, len(hc.checks))
	copy(checks, hc.checks)
	hc.mu.RUnlock()

	resp := Response{Status: StatusOK, Checks: make(map[string]CheckResult, len(checks))}

	for _, check := range checks {
		result := runCheck(ctx, check)
		resp.Checks[check.Name] = result

		if result.Status == StatusUnhealthy {
			resp.Status = StatusUnhealthy
		} else if result.Status == StatusDegraded && resp.Status == StatusOK {
			resp.Status = StatusDegraded
		}
	}
	return resp
}

func runCheck(ctx context.Context, check Check) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- check.Run(checkCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	if err == nil {
		return CheckResult{Status: StatusOK}
	}
	if check.Critical {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusDegraded, Message: err.Error()}
}

// Handler serves the health endpoint: 200 while ok/degraded, 503 when
// unhealthy.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
