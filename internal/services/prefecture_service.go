package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	domain "github.com/tomoya0318/PrefTrend/internal/domain"
	"github.com/tomoya0318/PrefTrend/internal/platform/querycache"
)

// prefecturesKey is the single cache slot holding the reference list.
var prefecturesKey = querycache.Key{Kind: "prefectures"}

// PrefectureServiceDeps bundles collaborators required to construct a prefecture service.
type PrefectureServiceDeps struct {
	Source StatsSource
	Cache  *querycache.Cache
	Logger *zap.Logger
}

type prefectureService struct {
	source StatsSource
	cache  *querycache.Cache
	logger *zap.Logger
}

var _ PrefectureService = (*prefectureService)(nil)

// NewPrefectureService constructs the reference list service.
func NewPrefectureService(deps PrefectureServiceDeps) (PrefectureService, error) {
	if deps.Source == nil {
		return nil, errors.New("prefecture service: stats source is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("prefecture service: cache is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &prefectureService{source: deps.Source, cache: deps.Cache, logger: logger.Named("prefectures")}, nil
}

func (s *prefectureService) List(ctx context.Context) ([]Prefecture, error) {
	if ctx == nil {
		return nil, errors.New("prefecture service: context is required")
	}
	prefectures, err := querycache.Fetch(ctx, s.cache, prefecturesKey, s.source.Prefectures)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Prefecture, len(prefectures))
	copy(out, prefectures)
	s.logger.Debug("prefecture list served", zap.Int("count", len(out)))
	return out, nil
}
