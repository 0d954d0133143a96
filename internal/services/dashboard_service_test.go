package services

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	domain "github.com/tomoya0318/PrefTrend/internal/domain"
	"github.com/tomoya0318/PrefTrend/internal/selection"
	"github.com/tomoya0318/PrefTrend/internal/statsapi"
)

func newDashboard(t *testing.T, source StatsSource) DashboardService {
	t.Helper()
	cache := newTestCache(t)
	prefectures, err := NewPrefectureService(PrefectureServiceDeps{Source: source, Cache: cache})
	require.NoError(t, err)
	population := newPopulation(t, source, cache)
	svc, err := NewDashboardService(DashboardServiceDeps{
		Prefectures: prefectures,
		Population:  population,
		Selection:   selection.NewManager(selection.DefaultParam),
	})
	require.NoError(t, err)
	return svc
}

func query(raw string) url.Values {
	q, _ := url.ParseQuery(raw)
	return q
}

func TestDashboardComposeEmptySelection(t *testing.T) {
	source := newStubSource()
	svc := newDashboard(t, source)

	view, err := svc.Compose(context.Background(), DashboardQuery{Query: query(""), Wait: true})
	require.NoError(t, err)

	require.Equal(t, DashboardTitle, view.Title)
	require.Empty(t, view.Selection)
	require.Equal(t, PrefectureSectionTitle, view.Prefectures.Title)
	require.Len(t, view.Prefectures.Items, 2)
	require.False(t, view.Prefectures.Items[0].Checked)
	require.Equal(t, "prefCode=1", view.Prefectures.Items[0].ToggleQuery)

	require.Equal(t, ChartStateEmpty, view.Population.State)
	require.Equal(t, EmptySelectionMessage, view.Population.Message)
	require.Empty(t, view.Population.Rows)
	require.Empty(t, view.Population.ChartURL)
	require.Zero(t, source.callCount(1)+source.callCount(13))
}

func TestDashboardComposeReady(t *testing.T) {
	source := newStubSource()
	svc := newDashboard(t, source)

	view, err := svc.Compose(context.Background(), DashboardQuery{Query: query("prefCode=1,13&tab=chart"), Wait: true, Locale: language.Japanese})
	require.NoError(t, err)

	require.Equal(t, []int{1, 13}, view.Selection)
	require.True(t, view.Prefectures.Items[0].Checked)
	require.Equal(t, "prefCode=13&tab=chart", view.Prefectures.Items[0].ToggleQuery)

	pop := view.Population
	require.Equal(t, ChartStateReady, pop.State)
	require.Equal(t, domain.LabelTotal, pop.Label)
	require.Equal(t, []string{"北海道", "東京都"}, pop.Series)
	raw, err := json.Marshal(pop.Rows)
	require.NoError(t, err)
	require.JSONEq(t, `[{"year":1980,"北海道":5575989,"東京都":11618281},{"year":2020,"北海道":5224614,"東京都":14047594}]`, string(raw))
	require.Equal(t, "/api/v1/population/chart.svg?label=%E7%B7%8F%E4%BA%BA%E5%8F%A3&prefCode=1%2C13&tab=chart", pop.ChartURL)
	require.Contains(t, pop.Exports, "xlsx")

	require.Len(t, pop.Tooltips, 2)
	require.Equal(t, "1980年", pop.Tooltips[0].Label)
	require.Equal(t, TooltipEntry{Name: "北海道", Value: "5,575,989人"}, pop.Tooltips[0].Entries[0])

	require.Len(t, pop.Labels, len(domain.DefaultLabels))
	require.True(t, pop.Labels[0].Selected)
	require.Equal(t, "prefCode=1%2C13&tab=chart", pop.Labels[0].Query)
	require.Equal(t, "label=%E5%B9%B4%E5%B0%91%E4%BA%BA%E5%8F%A3&prefCode=1%2C13&tab=chart", pop.Labels[1].Query)

	for _, result := range pop.Results {
		require.Equal(t, ResultStatusSuccess, result.Status)
	}
}

func TestDashboardComposeErrorBlock(t *testing.T) {
	source := newStubSource()
	source.failures[13] = []error{&statsapi.APIError{Status: 500, Kind: statsapi.KindServer, Message: statsapi.MessageServer}}
	svc := newDashboard(t, source)

	view, err := svc.Compose(context.Background(), DashboardQuery{Query: query("prefCode=1,13"), Wait: true})
	require.NoError(t, err)

	pop := view.Population
	require.Equal(t, ChartStateError, pop.State)
	require.True(t, pop.HasError)
	require.Equal(t, &ErrorBlock{
		Title:      ErrorTitle,
		Message:    PopulationErrorMessage,
		RetryLabel: RetryLabel,
		RetryURL:   "/api/v1/dashboard?prefCode=1%2C13",
	}, pop.Error)
	require.Equal(t, ResultStatusSuccess, pop.Results[0].Status)
	require.Equal(t, ResultStatusError, pop.Results[1].Status)
	require.Equal(t, statsapi.KindServer, pop.Results[1].Kind)
	require.Equal(t, statsapi.MessageServer, pop.Results[1].Message)
	require.Len(t, pop.Rows, 2, "successful prefectures still reshape")

	retried, err := svc.Compose(context.Background(), DashboardQuery{Query: query("prefCode=1,13"), Wait: true})
	require.NoError(t, err)
	require.Equal(t, ChartStateReady, retried.Population.State)
}

func TestDashboardComposePrefectureListFailure(t *testing.T) {
	source := newStubSource()
	source.prefErr = &statsapi.APIError{Status: 403, Kind: statsapi.KindForbidden, Message: statsapi.MessageForbidden}
	svc := newDashboard(t, source)

	view, err := svc.Compose(context.Background(), DashboardQuery{Query: query("prefCode=1"), Wait: true})
	require.NoError(t, err)
	require.NotNil(t, view.Prefectures.Error)
	require.Equal(t, statsapi.MessageForbidden, view.Prefectures.Error.Message)
	require.Empty(t, view.Prefectures.Items)
	require.Equal(t, []string{domain.UnknownPrefectureName}, view.Population.Series)
}

func TestDashboardTableCategoryMissingForOnePrefecture(t *testing.T) {
	source := newStubSource()
	source.series[1].Categories = append(source.series[1].Categories, domain.PopulationCategory{
		Label:  domain.LabelYouth,
		Points: []domain.PopulationPoint{{Year: 1980, Value: 1298324}},
	})
	svc := newDashboard(t, source)

	table, err := svc.Table(context.Background(), DashboardQuery{Query: query("prefCode=1,13"), Label: domain.LabelYouth, Wait: true})
	require.NoError(t, err)
	require.Equal(t, domain.LabelYouth, table.Label)
	require.Equal(t, []string{"北海道"}, table.Rows.Series())
	require.Len(t, table.Results, 2)
}

func TestDashboardTableEmptySelectionSkipsUpstream(t *testing.T) {
	source := newStubSource()
	svc := newDashboard(t, source)

	table, err := svc.Table(context.Background(), DashboardQuery{Query: query("prefCode=abc")})
	require.NoError(t, err)
	require.Empty(t, table.Rows)
	require.Zero(t, source.prefCalls)
}

func TestNewDashboardServiceRequiresServices(t *testing.T) {
	_, err := NewDashboardService(DashboardServiceDeps{})
	require.Error(t, err)
}
