package statsapi

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tomoya0318/PrefTrend/internal/domain"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixtures is the data served by MockHandler.
type Fixtures struct {
	Prefectures      []FixturePrefecture   `yaml:"prefectures"`
	Population       map[int]FixtureSeries `yaml:"population"`
	MissingParameter []ValidationIssue     `yaml:"missingParameter"`
}

// FixturePrefecture mirrors domain.Prefecture with YAML keys.
type FixturePrefecture struct {
	ID   int    `yaml:"prefCode"`
	Name string `yaml:"prefName"`
}

// FixtureSeries mirrors domain.PopulationSeries with YAML keys.
type FixtureSeries struct {
	BoundaryYear int `yaml:"boundaryYear"`
	Data         []struct {
		Label string `yaml:"label"`
		Data  []struct {
			Year  int      `yaml:"year"`
			Value float64  `yaml:"value"`
			Rate  *float64 `yaml:"rate"`
		} `yaml:"data"`
	} `yaml:"data"`
}

// DefaultFixtures parses the embedded catalogue.
func DefaultFixtures() (Fixtures, error) {
	return ParseFixtures(defaultFixtures)
}

// ParseFixtures decodes a YAML catalogue.
func ParseFixtures(raw []byte) (Fixtures, error) {
	var fixtures Fixtures
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		return Fixtures{}, fmt.Errorf("statsapi: parse fixtures: %w", err)
	}
	return fixtures, nil
}

func (f FixtureSeries) toDomain() *domain.PopulationSeries {
	series := &domain.PopulationSeries{BoundaryYear: f.BoundaryYear}
	for _, category := range f.Data {
		points := make([]domain.PopulationPoint, 0, len(category.Data))
		for _, p := range category.Data {
			points = append(points, domain.PopulationPoint{Year: p.Year, Value: p.Value, Rate: p.Rate})
		}
		series.Categories = append(series.Categories, domain.PopulationCategory{Label: category.Label, Points: points})
	}
	return series
}

// MockHandler serves the statistics API endpoints from fixtures. Per-prefecture
// failures can be injected with FailWith.
type MockHandler struct {
	fixtures Fixtures
	apiKey   string

	mu       sync.Mutex
	failures map[int]int
	calls    map[string]int
}

// NewMockHandler builds a handler over fixtures. When apiKey is non-empty,
// requests must carry it in X-API-KEY.
func NewMockHandler(fixtures Fixtures, apiKey string) *MockHandler {
	return &MockHandler{
		fixtures: fixtures,
		apiKey:   apiKey,
		failures: map[int]int{},
		calls:    map[string]int{},
	}
}

// FailWith makes population requests for prefCode answer with status.
func (h *MockHandler) FailWith(prefCode, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[prefCode] = status
}

// Calls reports how many requests reached endpoint, keyed as "prefectures" or "population:<code>".
func (h *MockHandler) Calls(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[key]
}

// TotalCalls reports every request received.
func (h *MockHandler) TotalCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, n := range h.calls {
		total += n
	}
	return total
}

func (h *MockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.apiKey != "" && r.Header.Get(apiKeyHeader) != h.apiKey {
		h.record("forbidden")
		writeMockJSON(w, http.StatusForbidden, map[string]any{"message": "Forbidden"})
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/prefectures"):
		h.record("prefectures")
		prefectures := make([]domain.Prefecture, 0, len(h.fixtures.Prefectures))
		for _, p := range h.fixtures.Prefectures {
			prefectures = append(prefectures, domain.Prefecture{ID: p.ID, Name: p.Name})
		}
		writeMockJSON(w, http.StatusOK, map[string]any{"message": nil, "result": prefectures})
	case strings.HasSuffix(r.URL.Path, "/population/composition/perYear"):
		h.servePopulation(w, r)
	default:
		h.record("unknown")
		writeMockJSON(w, http.StatusNotFound, "Not Found")
	}
}

func (h *MockHandler) servePopulation(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("prefCode")
	if raw == "" {
		h.record("population:")
		payload := ValidationPayload{}
		payload.Error.Issues = h.fixtures.MissingParameter
		payload.Error.Name = "ZodError"
		writeMockJSON(w, http.StatusBadRequest, payload)
		return
	}
	h.record("population:" + raw)

	code, err := strconv.Atoi(raw)
	if err != nil {
		writeMockJSON(w, http.StatusNotFound, "Not Found")
		return
	}

	h.mu.Lock()
	status, failing := h.failures[code]
	h.mu.Unlock()
	if failing {
		writeMockJSON(w, status, map[string]any{"message": http.StatusText(status)})
		return
	}

	series, ok := h.fixtures.Population[code]
	if !ok {
		writeMockJSON(w, http.StatusNotFound, "Not Found")
		return
	}
	writeMockJSON(w, http.StatusOK, map[string]any{"message": nil, "result": series.toDomain()})
}

func (h *MockHandler) record(key string) {
	h.mu.Lock()
	h.calls[key]++
	h.mu.Unlock()
}

func writeMockJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
