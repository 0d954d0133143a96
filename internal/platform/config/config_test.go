package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_STATS_BASE_URL": "https://stats.example.com/api/v1/",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Stats.BaseURL != "https://stats.example.com/api/v1" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Stats.BaseURL)
	}
	if cfg.Stats.Retries != 1 {
		t.Errorf("expected one retry by default, got %d", cfg.Stats.Retries)
	}
	if cfg.Dashboard.SelectionParam != "prefCode" {
		t.Errorf("expected default selection param prefCode, got %s", cfg.Dashboard.SelectionParam)
	}
	if cfg.Dashboard.DefaultLabel != "総人口" {
		t.Errorf("unexpected default label %s", cfg.Dashboard.DefaultLabel)
	}
	if len(cfg.Dashboard.Labels) != 4 {
		t.Errorf("expected four default labels, got %v", cfg.Dashboard.Labels)
	}
	if cfg.Dashboard.MaxConcurrency != 8 {
		t.Errorf("unexpected max concurrency %d", cfg.Dashboard.MaxConcurrency)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Secrets.FallbackFile != ".secrets.local" {
		t.Errorf("unexpected fallback file %s", cfg.Secrets.FallbackFile)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_SERVER_IDLE_TIMEOUT":       "2m",
		"API_STATS_BASE_URL":            "https://opendata.example.jp/api/v1",
		"API_STATS_API_KEY":             "secret://stats/api-key",
		"API_STATS_TIMEOUT":             "3s",
		"API_STATS_RETRIES":             "0",
		"API_DASHBOARD_SELECTION_PARAM": "sel",
		"API_DASHBOARD_DEFAULT_LABEL":   "老年人口",
		"API_DASHBOARD_LABELS":          "総人口, 老年人口",
		"API_DASHBOARD_SETTLE_TIMEOUT":  "750ms",
		"API_CHART_WIDTH":               "640",
		"API_RATELIMIT_DEFAULT_PER_MIN": "150",
		"API_SECURITY_ENVIRONMENT":      "PROD",
	}

	secrets := map[string]string{
		"secret://stats/api-key": "resas-key",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Stats.APIKey != "resas-key" {
		t.Errorf("expected resolved api key, got %s", cfg.Stats.APIKey)
	}
	if cfg.Stats.Timeout != 3*time.Second {
		t.Errorf("unexpected stats timeout %s", cfg.Stats.Timeout)
	}
	if cfg.Stats.Retries != 0 {
		t.Errorf("expected retries disabled, got %d", cfg.Stats.Retries)
	}
	if cfg.Dashboard.SelectionParam != "sel" {
		t.Errorf("unexpected selection param %s", cfg.Dashboard.SelectionParam)
	}
	if len(cfg.Dashboard.Labels) != 2 || cfg.Dashboard.Labels[1] != "老年人口" {
		t.Errorf("unexpected labels %v", cfg.Dashboard.Labels)
	}
	if cfg.Dashboard.SettleTimeout != 750*time.Millisecond {
		t.Errorf("unexpected settle timeout %s", cfg.Dashboard.SettleTimeout)
	}
	if cfg.Chart.Width != 640 || cfg.Chart.Height != 540 {
		t.Errorf("unexpected chart size %dx%d", cfg.Chart.Width, cfg.Chart.Height)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
}

func TestLoadDefaultLabelAddedToCatalogue(t *testing.T) {
	env := map[string]string{
		"API_STATS_MOCK":              "true",
		"API_DASHBOARD_DEFAULT_LABEL": "総人口",
		"API_DASHBOARD_LABELS":        "年少人口",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Dashboard.Labels) != 2 || cfg.Dashboard.Labels[0] != "総人口" {
		t.Fatalf("expected default label prepended, got %v", cfg.Dashboard.Labels)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_STATS_BASE_URL=\"https://dot.example.com\"\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Stats.BaseURL != "https://dot.example.com" {
		t.Errorf("expected base url from dotenv, got %s", cfg.Stats.BaseURL)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if fields := validation.Fields(); len(fields) != 1 || fields[0] != "Stats.BaseURL" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadRejectsRelativeBaseURL(t *testing.T) {
	env := map[string]string{
		"API_STATS_BASE_URL":            "stats.example.com",
		"API_DASHBOARD_MAX_CONCURRENCY": "0",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fields := validation.Fields(); len(fields) != 2 {
		t.Fatalf("expected base url and concurrency fields, got %v", fields)
	}
}

func TestLoadMockSkipsBaseURL(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{"API_STATS_MOCK": "yes"}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Stats.Mock {
		t.Fatal("expected mock mode enabled")
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_STATS_BASE_URL": "https://stats.example.com",
		"API_STATS_API_KEY":  "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_STATS_BASE_URL=https://dot.example.com\nAPI_SECRETS_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_STATS_BASE_URL", "https://os.example.com")
	t.Setenv("API_SECRETS_PROJECT_ID", "project-prod")

	overrides := map[string]string{
		"API_STATS_BASE_URL": "https://override.example.com",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_STATS_BASE_URL"]; got != "https://override.example.com" {
		t.Fatalf("expected override base url, got %s", got)
	}
	if got := values["API_SECRETS_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRETS_PROJECT_ID"]; got != "project-prod" {
		t.Fatalf("expected system env project, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_STATS_BASE_URL": "https://stats.example.com",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stats.APIKey"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Stats.APIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "Stats.APIKey" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_STATS_BASE_URL": "https://stats.example.com",
		"API_STATS_API_KEY":  "sm://stats/api-key",
	}

	secrets := map[string]string{
		"secret://stats/api-key": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Stats.APIKey != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Stats.APIKey)
	}
}
