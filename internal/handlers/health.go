package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/tomoya0318/PrefTrend/internal/domain"
	"github.com/tomoya0318/PrefTrend/internal/platform/httpx"
	"github.com/tomoya0318/PrefTrend/internal/platform/requestctx"
	"github.com/tomoya0318/PrefTrend/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock injects a clock primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthSystemService wires the readiness report source.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type checkPayload struct {
	Status    string  `json:"status"`
	Detail    string  `json:"detail,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latencyMs"`
	CheckedAt string  `json:"checkedAt,omitempty"`
}

type readyzResponse struct {
	Status      string                  `json:"status"`
	Version     string                  `json:"version,omitempty"`
	CommitSHA   string                  `json:"commitSha,omitempty"`
	Environment string                  `json:"environment,omitempty"`
	Uptime      string                  `json:"uptime,omitempty"`
	GeneratedAt string                  `json:"generatedAt"`
	Checks      map[string]checkPayload `json:"checks"`
	Details     []string                `json:"details,omitempty"`
}

// Healthz reports process liveness with build metadata.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(r.Context(), w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz reports dependency health. Anything other than ok answers 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.clock().UTC()
	if h.system == nil {
		httpx.WriteJSON(ctx, w, http.StatusOK, readyzResponse{
			Status:      domain.HealthStatusOK,
			GeneratedAt: now.Format(time.RFC3339),
			Checks:      map[string]checkPayload{},
		})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("readiness report failed", zap.Error(err))
		httpx.WriteJSON(ctx, w, http.StatusServiceUnavailable, readyzResponse{
			Status:      domain.HealthStatusError,
			GeneratedAt: now.Format(time.RFC3339),
			Checks:      map[string]checkPayload{},
			Details:     []string{err.Error()},
		})
		return
	}

	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = now
	}
	resp := readyzResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		GeneratedAt: generated.UTC().Format(time.RFC3339),
		Checks:      make(map[string]checkPayload, len(report.Checks)),
	}
	if report.Uptime > 0 {
		resp.Uptime = report.Uptime.String()
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		payload := checkPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: float64(check.Latency) / float64(time.Millisecond),
		}
		if !check.CheckedAt.IsZero() {
			payload.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
		}
		resp.Checks[name] = payload
		if check.Status != domain.HealthStatusOK {
			reason := strings.TrimSpace(check.Error)
			if reason == "" {
				reason = strings.TrimSpace(check.Detail)
			}
			resp.Details = append(resp.Details, name+": "+reason)
		}
	}

	status := http.StatusOK
	if resp.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(ctx, w, status, resp)
}
