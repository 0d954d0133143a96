package services

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/text/language"

	domain "github.com/tomoya0318/PrefTrend/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Prefecture         = domain.Prefecture
	PopulationSeries   = domain.PopulationSeries
	PopulationResult   = domain.PopulationResult
	YearTable          = domain.YearTable
	SystemHealthReport = domain.SystemHealthReport
)

// StatsSource is the upstream statistics API.
type StatsSource interface {
	Prefectures(ctx context.Context) ([]domain.Prefecture, error)
	PopulationComposition(ctx context.Context, prefCode int) (*domain.PopulationSeries, error)
}

// PrefectureService serves the reference prefecture list, loaded once per process.
type PrefectureService interface {
	List(ctx context.Context) ([]Prefecture, error)
}

// CollectOptions controls one aggregation pass.
type CollectOptions struct {
	// Wait blocks until every id settles or Timeout elapses. When false the
	// current state is returned right after dispatch.
	Wait    bool
	Timeout time.Duration
}

// Collection is the per-id fetch state for one selection, in input order.
type Collection struct {
	Results   []PopulationResult
	IsLoading bool
	HasError  bool
}

// PopulationService fans out one population fetch per selected prefecture.
type PopulationService interface {
	Collect(ctx context.Context, ids []int, opts CollectOptions) (Collection, error)
}

// PopulationTable is a collection reshaped for one category.
type PopulationTable struct {
	Collection
	Label string
	Rows  YearTable
}

// DashboardQuery is the request state the dashboard is composed from.
type DashboardQuery struct {
	Query  url.Values
	Label  string
	Wait   bool
	Locale language.Tag
}

// DashboardService composes the dashboard view from selection, fetch state, and reshaped series.
type DashboardService interface {
	Table(ctx context.Context, query DashboardQuery) (PopulationTable, error)
	Compose(ctx context.Context, query DashboardQuery) (DashboardView, error)
}

// SystemService aggregates health and readiness reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
