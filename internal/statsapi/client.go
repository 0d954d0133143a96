// Package statsapi is the client for the prefecture population statistics API.
package statsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/tomoya0318/PrefTrend/internal/domain"
	"github.com/tomoya0318/PrefTrend/internal/platform/observability"
)

const (
	apiKeyHeader       = "X-API-KEY"
	requestIDHeader    = "X-Request-ID"
	maxErrorBodyBytes  = 1 << 16
	defaultRetries     = 1
	defaultRetryDelay  = 250 * time.Millisecond
	defaultHTTPTimeout = 8 * time.Second
)

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client fetches reference and population data from the statistics API.
type Client struct {
	base       *url.URL
	client     HTTPClient
	apiKey     string
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAPIKey sets the key sent in the X-API-KEY header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithRetries sets how many extra attempts follow a transport failure or 5xx.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithRetryDelay sets the base delay between attempts. It grows linearly per attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a Client rooted at baseURL, e.g. https://opendata.resas-portal.go.jp/api/v1.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("statsapi: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("statsapi: parse base URL: %w", err)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	c := &Client{
		base:       parsed,
		client:     &http.Client{Timeout: defaultHTTPTimeout},
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type envelope[T any] struct {
	Message *string `json:"message"`
	Result  T       `json:"result"`
}

// Prefectures returns the reference list of prefectures.
func (c *Client) Prefectures(ctx context.Context) ([]domain.Prefecture, error) {
	var payload envelope[[]domain.Prefecture]
	if err := c.get(ctx, "prefectures", nil, &payload); err != nil {
		return nil, err
	}
	if payload.Result == nil {
		return []domain.Prefecture{}, nil
	}
	return payload.Result, nil
}

// PopulationComposition returns the composition-per-year series for one prefecture.
func (c *Client) PopulationComposition(ctx context.Context, prefCode int) (*domain.PopulationSeries, error) {
	query := url.Values{}
	query.Set("prefCode", strconv.Itoa(prefCode))

	var payload envelope[*domain.PopulationSeries]
	if err := c.get(ctx, "population/composition/perYear", query, &payload); err != nil {
		return nil, err
	}
	if payload.Result == nil {
		return &domain.PopulationSeries{}, nil
	}
	return payload.Result, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	target := c.resolve(endpoint, query)
	ctx, span := observability.StartClientSpan(ctx, "statsapi GET "+endpoint,
		attribute.String("http.request.method", http.MethodGet),
		attribute.String("url.path", c.base.Path+endpoint),
	)
	defer span.End()

	var lastErr *APIError
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*c.retryDelay); err != nil {
				break
			}
		}
		body, err := c.attempt(ctx, target)
		if err == nil {
			if decodeErr := decode(body, out); decodeErr != nil {
				lastErr = decodeErr
				break
			}
			span.SetAttributes(attribute.Int("statsapi.attempts", attempt+1))
			span.SetStatus(codes.Ok, "")
			return nil
		}
		lastErr = err
		if !err.Retryable() || ctx.Err() != nil {
			break
		}
		c.logger.Warn("statsapi: retrying request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Int("status", err.Status),
			zap.Error(err),
		)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", lastErr.Status), attribute.String("statsapi.kind", string(lastErr.Kind)))
	span.SetStatus(codes.Error, string(lastErr.Kind))
	return lastErr
}

func (c *Client) attempt(ctx context.Context, target string) ([]byte, *APIError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, Classify(0, nil, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, ulid.Make().String())
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, Classify(0, nil, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, Classify(resp.StatusCode, body, fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(0, nil, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

// decode unwraps the envelope. Some deployments answer errors with HTTP 200 and a
// statusCode field in the body; those are classified by that code.
func decode(body []byte, out any) *APIError {
	var probe struct {
		StatusCode json.RawMessage `json:"statusCode"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && len(probe.StatusCode) > 0 {
		code, convErr := strconv.Atoi(strings.Trim(string(probe.StatusCode), `"`))
		if convErr == nil && (code < 200 || code > 299) {
			return Classify(code, body, fmt.Errorf("upstream reported status %d", code))
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Classify(0, nil, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) resolve(endpoint string, query url.Values) string {
	ref := &url.URL{Path: strings.TrimPrefix(endpoint, "/")}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
