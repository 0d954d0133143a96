// Package querycache is a process-wide result cache keyed by query fingerprint.
// Concurrent requests for one key share a single in-flight load, successful
// results never expire, and failures are kept only until the next request for
// the key starts a fresh load.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const metricNamespace = "github.com/tomoya0318/PrefTrend/internal/platform/querycache"

// ErrTypeMismatch is returned when a key is read as a different type than it was loaded with.
var ErrTypeMismatch = errors.New("querycache: cached value has unexpected type")

// Key fingerprints a query.
type Key struct {
	Kind string
	ID   int
}

func (k Key) String() string { return fmt.Sprintf("%s:%d", k.Kind, k.ID) }

// Status is the lifecycle stage of an entry.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// LoadFunc produces the value for a key.
type LoadFunc func(ctx context.Context) (any, error)

// Snapshot is a point-in-time view of one entry.
type Snapshot struct {
	Status Status
	Value  any
	Err    error
}

type entry struct {
	status Status
	value  any
	err    error
	done   chan struct{}
}

// Cache stores query results keyed by fingerprint.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry

	logger *zap.Logger
	wg     sync.WaitGroup

	hits      metric.Int64Counter
	coalesced metric.Int64Counter
	loads     metric.Int64Counter
	latency   metric.Float64Histogram
}

type cacheConfig struct {
	logger *zap.Logger
	meter  metric.Meter
}

// Option customises a Cache.
type Option func(*cacheConfig)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *cacheConfig) {
		cfg.logger = logger
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *cacheConfig) {
		cfg.meter = m
	}
}

// New constructs an empty cache.
func New(opts ...Option) (*Cache, error) {
	cfg := cacheConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	hits, err := meter.Int64Counter("querycache.hits", metric.WithDescription("Requests served from a settled success entry"))
	if err != nil {
		return nil, fmt.Errorf("querycache: register hits metric: %w", err)
	}
	coalesced, err := meter.Int64Counter("querycache.coalesced", metric.WithDescription("Requests that joined an in-flight load"))
	if err != nil {
		return nil, fmt.Errorf("querycache: register coalesced metric: %w", err)
	}
	loads, err := meter.Int64Counter("querycache.loads", metric.WithDescription("Loads started"))
	if err != nil {
		return nil, fmt.Errorf("querycache: register loads metric: %w", err)
	}
	latency, err := meter.Float64Histogram("querycache.load.latency", metric.WithUnit("ms"), metric.WithDescription("Load latency in milliseconds"))
	if err != nil {
		return nil, fmt.Errorf("querycache: register latency metric: %w", err)
	}

	return &Cache{
		entries:   make(map[Key]*entry),
		logger:    cfg.logger,
		hits:      hits,
		coalesced: coalesced,
		loads:     loads,
		latency:   latency,
	}, nil
}

// Fetch returns the value for key, starting a load when none is cached or in
// flight. The load runs detached from ctx so that a caller giving up does not
// cancel it for others; ctx only bounds how long this call waits.
func (c *Cache) Fetch(ctx context.Context, key Key, load LoadFunc) (any, error) {
	e := c.start(ctx, key, load)
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.value, e.err
}

// Prefetch ensures a load for key is running or settled without waiting.
// When it returns, a fresh entry is already marked pending.
func (c *Cache) Prefetch(ctx context.Context, key Key, load LoadFunc) <-chan struct{} {
	return c.start(ctx, key, load).done
}

// Peek reports the current state of key without triggering a load.
func (c *Cache) Peek(key Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{Status: StatusIdle}
	}
	return Snapshot{Status: e.status, Value: e.value, Err: e.err}
}

// Len reports how many keys have entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wait blocks until every load started so far has settled or ctx is done.
func (c *Cache) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) start(ctx context.Context, key Key, load LoadFunc) *entry {
	attrs := metric.WithAttributes(attribute.String("kind", key.Kind))

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		switch e.status {
		case StatusSuccess:
			c.mu.Unlock()
			c.hits.Add(ctx, 1, attrs)
			return e
		case StatusPending:
			c.mu.Unlock()
			c.coalesced.Add(ctx, 1, attrs)
			return e
		}
	}
	e = &entry{status: StatusPending, done: make(chan struct{})}
	c.entries[key] = e
	c.wg.Add(1)
	c.mu.Unlock()

	c.loads.Add(ctx, 1, attrs)
	go c.run(context.WithoutCancel(ctx), key, e, load)
	return e
}

func (c *Cache) run(ctx context.Context, key Key, e *entry, load LoadFunc) {
	defer c.wg.Done()
	start := time.Now()

	value, err := safeLoad(ctx, load)

	c.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("kind", key.Kind), attribute.Bool("error", err != nil)))

	c.mu.Lock()
	if err != nil {
		e.status = StatusError
		e.err = err
	} else {
		e.status = StatusSuccess
		e.value = value
	}
	close(e.done)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("querycache: load failed", zap.String("key", key.String()), zap.Error(err))
		return
	}
	c.logger.Debug("querycache: loaded", zap.String("key", key.String()), zap.Duration("latency", time.Since(start)))
}

func safeLoad(ctx context.Context, load LoadFunc) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("querycache: load panicked: %v", rec)
		}
	}()
	return load(ctx)
}

// Fetch is the typed form of Cache.Fetch.
func Fetch[V any](ctx context.Context, c *Cache, key Key, load func(context.Context) (V, error)) (V, error) {
	var zero V
	raw, err := c.Fetch(ctx, key, wrap(load))
	if err != nil {
		return zero, err
	}
	value, ok := raw.(V)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrTypeMismatch, key)
	}
	return value, nil
}

// Prefetch is the typed form of Cache.Prefetch.
func Prefetch[V any](ctx context.Context, c *Cache, key Key, load func(context.Context) (V, error)) <-chan struct{} {
	return c.Prefetch(ctx, key, wrap(load))
}

// Lookup returns the settled value for key when it loaded successfully.
func Lookup[V any](c *Cache, key Key) (V, bool) {
	var zero V
	snap := c.Peek(key)
	if snap.Status != StatusSuccess {
		return zero, false
	}
	value, ok := snap.Value.(V)
	return value, ok
}

func wrap[V any](load func(context.Context) (V, error)) LoadFunc {
	return func(ctx context.Context) (any, error) {
		return load(ctx)
	}
}
