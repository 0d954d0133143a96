package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	domain "github.com/tomoya0318/PrefTrend/internal/domain"
	"github.com/tomoya0318/PrefTrend/internal/platform/querycache"
)

const (
	populationKind        = "population"
	defaultSettleTimeout  = 10 * time.Second
	defaultMaxConcurrency = 8
)

func populationKey(id int) querycache.Key {
	return querycache.Key{Kind: populationKind, ID: id}
}

// PopulationServiceDeps bundles collaborators required to construct a population service.
type PopulationServiceDeps struct {
	Source         StatsSource
	Cache          *querycache.Cache
	Logger         *zap.Logger
	SettleTimeout  time.Duration
	MaxConcurrency int
}

type populationService struct {
	source         StatsSource
	cache          *querycache.Cache
	logger         *zap.Logger
	settleTimeout  time.Duration
	maxConcurrency int
}

var _ PopulationService = (*populationService)(nil)

// NewPopulationService constructs the per-prefecture fetch aggregator.
func NewPopulationService(deps PopulationServiceDeps) (PopulationService, error) {
	if deps.Source == nil {
		return nil, errors.New("population service: stats source is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("population service: cache is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	settle := deps.SettleTimeout
	if settle <= 0 {
		settle = defaultSettleTimeout
	}
	limit := deps.MaxConcurrency
	if limit <= 0 {
		limit = defaultMaxConcurrency
	}
	return &populationService{
		source:         deps.Source,
		cache:          deps.Cache,
		logger:         logger.Named("population"),
		settleTimeout:  settle,
		maxConcurrency: limit,
	}, nil
}

// Collect dispatches one cached fetch per id and reports their state in input order.
// A failing id never affects its siblings, and nothing is cancelled when the
// caller goes away: loads keep running and land in the shared cache.
func (s *populationService) Collect(ctx context.Context, ids []int, opts CollectOptions) (Collection, error) {
	if ctx == nil {
		return Collection{}, errors.New("population service: context is required")
	}
	if len(ids) == 0 {
		return Collection{Results: []PopulationResult{}}, nil
	}

	if opts.Wait {
		s.dispatchAndWait(ctx, ids, opts.Timeout)
	} else {
		for _, id := range ids {
			s.prefetch(ctx, id)
		}
	}

	collection := Collection{Results: make([]PopulationResult, 0, len(ids))}
	for _, id := range ids {
		result := s.snapshot(id)
		collection.IsLoading = collection.IsLoading || result.IsLoading
		collection.HasError = collection.HasError || result.Err != nil
		collection.Results = append(collection.Results, result)
	}

	if collection.HasError {
		s.logger.Debug("population collection has failures", zap.Ints("ids", ids))
	}
	return collection, nil
}

func (s *populationService) dispatchAndWait(ctx context.Context, ids []int, timeout time.Duration) {
	if timeout <= 0 {
		timeout = s.settleTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			select {
			case <-s.prefetch(ctx, id):
			case <-waitCtx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *populationService) prefetch(ctx context.Context, id int) <-chan struct{} {
	return querycache.Prefetch(ctx, s.cache, populationKey(id), func(ctx context.Context) (*domain.PopulationSeries, error) {
		return s.source.PopulationComposition(ctx, id)
	})
}

func (s *populationService) snapshot(id int) PopulationResult {
	snap := s.cache.Peek(populationKey(id))
	result := PopulationResult{ID: id}
	switch snap.Status {
	case querycache.StatusSuccess:
		series, ok := snap.Value.(*domain.PopulationSeries)
		if !ok || series == nil {
			result.Err = querycache.ErrTypeMismatch
			break
		}
		result.Data = series
	case querycache.StatusError:
		result.Err = snap.Err
	default:
		result.IsLoading = true
	}
	return result
}
