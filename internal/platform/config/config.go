package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultStatsTimeout        = 8 * time.Second
	defaultStatsRetries        = 1
	defaultSelectionParam      = "prefCode"
	defaultLabel               = "総人口"
	defaultSettleTimeout       = 5 * time.Second
	defaultMaxConcurrency      = 8
	defaultChartWidth          = 960
	defaultChartHeight         = 540
	defaultRateLimitDefault    = 120
	defaultSecurityEnvironment = "local"
	defaultSecretsFallbackFile = ".secrets.local"
)

var defaultLabels = []string{"総人口", "年少人口", "生産年齢人口", "老年人口"}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Stats      StatsConfig
	Dashboard  DashboardConfig
	Chart      ChartConfig
	RateLimits RateLimitConfig
	Security   SecurityConfig
	Secrets    SecretsConfig
	Trace      TraceConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StatsConfig points at the upstream statistics API.
type StatsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int
	// Mock serves the built-in fixture catalogue instead of calling BaseURL.
	Mock bool
}

// DashboardConfig controls selection parsing and population aggregation.
type DashboardConfig struct {
	SelectionParam string
	DefaultLabel   string
	Labels         []string
	SettleTimeout  time.Duration
	MaxConcurrency int
}

// ChartConfig sizes rendered charts.
type ChartConfig struct {
	Width  int
	Height int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute int
}

// SecurityConfig groups deployment posture settings.
type SecurityConfig struct {
	Environment string
}

// SecretsConfig configures Secret Manager access.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// TraceConfig configures trace header propagation.
type TraceConfig struct {
	ProjectID string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies, such as the secret fetcher, before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)
	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			system[strings.TrimSpace(key)] = value
		}
		merge(system)
	}
	merge(options.envMap)

	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader (e.g. "Stats.APIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Stats: StatsConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "API_STATS_BASE_URL", ""), "/"),
			APIKey:  stringWithDefault(lookup, "API_STATS_API_KEY", ""),
			Timeout: durationWithDefault(lookup, "API_STATS_TIMEOUT", defaultStatsTimeout),
			Retries: intWithDefault(lookup, "API_STATS_RETRIES", defaultStatsRetries),
			Mock:    boolWithDefault(lookup, "API_STATS_MOCK", false),
		},
		Dashboard: DashboardConfig{
			SelectionParam: stringWithDefault(lookup, "API_DASHBOARD_SELECTION_PARAM", defaultSelectionParam),
			DefaultLabel:   stringWithDefault(lookup, "API_DASHBOARD_DEFAULT_LABEL", defaultLabel),
			Labels:         csvWithDefault(lookup, "API_DASHBOARD_LABELS", defaultLabels),
			SettleTimeout:  durationWithDefault(lookup, "API_DASHBOARD_SETTLE_TIMEOUT", defaultSettleTimeout),
			MaxConcurrency: intWithDefault(lookup, "API_DASHBOARD_MAX_CONCURRENCY", defaultMaxConcurrency),
		},
		Chart: ChartConfig{
			Width:  intWithDefault(lookup, "API_CHART_WIDTH", defaultChartWidth),
			Height: intWithDefault(lookup, "API_CHART_HEIGHT", defaultChartHeight),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute: intWithDefault(lookup, "API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
		Trace: TraceConfig{
			ProjectID: stringWithDefault(lookup, "API_TRACE_PROJECT_ID", ""),
		},
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Stats.APIKey", &cfg.Stats.APIKey},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	// The label catalogue always offers the default label.
	if !containsString(cfg.Dashboard.Labels, cfg.Dashboard.DefaultLabel) {
		cfg.Dashboard.Labels = append([]string{cfg.Dashboard.DefaultLabel}, cfg.Dashboard.Labels...)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if !cfg.Stats.Mock {
		if cfg.Stats.BaseURL == "" {
			missing = append(missing, "Stats.BaseURL")
		} else if parsed, err := url.Parse(cfg.Stats.BaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			missing = append(missing, "Stats.BaseURL")
		}
	}
	if cfg.Stats.Timeout <= 0 {
		missing = append(missing, "Stats.Timeout")
	}
	if cfg.Stats.Retries < 0 {
		missing = append(missing, "Stats.Retries")
	}
	if strings.TrimSpace(cfg.Dashboard.SelectionParam) == "" {
		missing = append(missing, "Dashboard.SelectionParam")
	}
	if cfg.Dashboard.SettleTimeout <= 0 {
		missing = append(missing, "Dashboard.SettleTimeout")
	}
	if cfg.Dashboard.MaxConcurrency <= 0 {
		missing = append(missing, "Dashboard.MaxConcurrency")
	}
	if cfg.Chart.Width <= 0 {
		missing = append(missing, "Chart.Width")
	}
	if cfg.Chart.Height <= 0 {
		missing = append(missing, "Chart.Height")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		out := make([]string, len(fallback))
		copy(out, fallback)
		return out
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
