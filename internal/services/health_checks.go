package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/tomoya0318/PrefTrend/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck describes a probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthCollector runs dependency probes and folds them into a report.
type HealthCollector struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

// HealthCollectorOption customises a HealthCollector.
type HealthCollectorOption func(*HealthCollector)

// WithDependencyTimeout overrides the timeout applied when a check omits its own.
func WithDependencyTimeout(timeout time.Duration) HealthCollectorOption {
	return func(c *HealthCollector) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock primarily for tests.
func WithDependencyClock(clock func() time.Time) HealthCollectorOption {
	return func(c *HealthCollector) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewHealthCollector validates checks and returns a collector for them.
func NewHealthCollector(checks []DependencyCheck, opts ...HealthCollectorOption) (*HealthCollector, error) {
	if len(checks) == 0 {
		return nil, errors.New("health collector: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health collector: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health collector: dependency %s missing check function", check.Name)
		}
	}
	c := &HealthCollector{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// UpstreamCheck probes the statistics API through the prefecture list.
func UpstreamCheck(prefectures PrefectureService) DependencyCheck {
	return DependencyCheck{
		Name: "statsapi",
		Check: func(ctx context.Context) error {
			_, err := prefectures.List(ctx)
			return err
		},
	}
}

// Collect runs every probe concurrently. Probe failures are reported in the
// result, never as an error.
func (c *HealthCollector) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health collector: context is required")
	}

	var (
		mu      sync.Mutex
		results = make(map[string]domain.SystemHealthCheck, len(c.checks))
		g       errgroup.Group
	)
	for _, check := range c.checks {
		check := check
		g.Go(func() error {
			result := c.run(ctx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return domain.SystemHealthReport{
		Status:      deriveStatus(results),
		Checks:      results,
		GeneratedAt: c.now(),
	}, nil
}

func (c *HealthCollector) run(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.now()
	err := check.Check(checkCtx)
	end := c.now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
		result.Error = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
		result.Error = err.Error()
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = err.Error()
		result.Error = err.Error()
	}
	return result
}
