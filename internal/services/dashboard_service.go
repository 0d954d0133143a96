package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	domain "github.com/tomoya0318/PrefTrend/internal/domain"
	"github.com/tomoya0318/PrefTrend/internal/format"
	"github.com/tomoya0318/PrefTrend/internal/selection"
	"github.com/tomoya0318/PrefTrend/internal/series"
	"github.com/tomoya0318/PrefTrend/internal/statsapi"
)

// Dashboard copy shown to the user.
const (
	DashboardTitle          = "都道府県別人口推移"
	PrefectureSectionTitle  = "都道府県"
	PopulationSectionTitle  = "人口推移"
	EmptySelectionMessage   = "都道府県を選択すると人口推移グラフが表示されます"
	PopulationErrorMessage  = "人口構成データの取得中にエラーが発生しました"
	ErrorTitle              = "エラーが発生しました"
	RetryLabel              = "再読み込み"
	XAxisLabel              = "年"
	YAxisLabel              = "人口数"
	defaultDashboardBaseURL = "/api/v1"
)

// ChartState is what the population section should display.
type ChartState string

const (
	ChartStateError   ChartState = "error"
	ChartStateLoading ChartState = "loading"
	ChartStateEmpty   ChartState = "empty"
	ChartStateReady   ChartState = "ready"
)

// Per-id fetch status reported in the view.
const (
	ResultStatusLoading = "loading"
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)

// DashboardView is the composed dashboard: a prefecture checklist beside a population chart.
type DashboardView struct {
	Title       string            `json:"title"`
	Query       string            `json:"query"`
	Selection   []int             `json:"selection"`
	Prefectures PrefectureSection `json:"prefectures"`
	Population  PopulationSection `json:"population"`
}

// PrefectureSection is the checklist half of the dashboard.
type PrefectureSection struct {
	Title string          `json:"title"`
	Items []ChecklistItem `json:"items"`
	Error *ErrorBlock     `json:"error,omitempty"`
}

// ChecklistItem is one checkbox. ToggleQuery is the query string after flipping it.
type ChecklistItem struct {
	ID          int    `json:"prefCode"`
	Name        string `json:"prefName"`
	Checked     bool   `json:"checked"`
	ToggleQuery string `json:"toggleQuery"`
}

// LabelOption is one selectable population category.
type LabelOption struct {
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
	Query    string `json:"query"`
}

// ResultStatus is the per-prefecture fetch state.
type ResultStatus struct {
	ID      int           `json:"prefCode"`
	Name    string        `json:"prefName"`
	Status  string        `json:"status"`
	Kind    statsapi.Kind `json:"kind,omitempty"`
	Message string        `json:"message,omitempty"`
}

// TooltipRow carries the formatted values for one year.
type TooltipRow struct {
	Label   string         `json:"label"`
	Entries []TooltipEntry `json:"entries"`
}

// TooltipEntry is one formatted value.
type TooltipEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PopulationSection is the chart half of the dashboard.
type PopulationSection struct {
	Title      string            `json:"title"`
	State      ChartState        `json:"state"`
	Label      string            `json:"label"`
	Labels     []LabelOption     `json:"labels"`
	XAxisLabel string            `json:"xAxisLabel"`
	YAxisLabel string            `json:"yAxisLabel"`
	Series     []string          `json:"series"`
	Rows       YearTable         `json:"rows"`
	Tooltips   []TooltipRow      `json:"tooltips"`
	Results    []ResultStatus    `json:"results"`
	IsLoading  bool              `json:"isLoading"`
	HasError   bool              `json:"hasError"`
	Message    string            `json:"message,omitempty"`
	Error      *ErrorBlock       `json:"error,omitempty"`
	ChartURL   string            `json:"chartUrl,omitempty"`
	Exports    map[string]string `json:"exports,omitempty"`
}

// ErrorBlock is a user-facing failure with a retry link.
type ErrorBlock struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	RetryLabel string `json:"retryLabel"`
	RetryURL   string `json:"retryUrl"`
}

// DashboardServiceDeps bundles collaborators required to construct a dashboard service.
type DashboardServiceDeps struct {
	Prefectures  PrefectureService
	Population   PopulationService
	Selection    selection.Manager
	Labels       []string
	DefaultLabel string
	BaseURL      string
	Logger       *zap.Logger
}

type dashboardService struct {
	prefectures  PrefectureService
	population   PopulationService
	selection    selection.Manager
	labels       []string
	defaultLabel string
	baseURL      string
	logger       *zap.Logger
}

var _ DashboardService = (*dashboardService)(nil)

// NewDashboardService assembles the presentation composition service.
func NewDashboardService(deps DashboardServiceDeps) (DashboardService, error) {
	if deps.Prefectures == nil {
		return nil, errors.New("dashboard service: prefecture service is required")
	}
	if deps.Population == nil {
		return nil, errors.New("dashboard service: population service is required")
	}
	defaultLabel := strings.TrimSpace(deps.DefaultLabel)
	if defaultLabel == "" {
		defaultLabel = domain.LabelTotal
	}
	labels := deps.Labels
	if len(labels) == 0 {
		labels = domain.DefaultLabels
	}
	labels = append([]string(nil), labels...)
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultDashboardBaseURL
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dashboardService{
		prefectures:  deps.Prefectures,
		population:   deps.Population,
		selection:    selection.NewManager(deps.Selection.Param),
		labels:       labels,
		defaultLabel: defaultLabel,
		baseURL:      baseURL,
		logger:       logger.Named("dashboard"),
	}, nil
}

// Table collects the selected prefectures and reshapes them for the requested category.
// An empty selection makes no upstream call at all.
func (s *dashboardService) Table(ctx context.Context, q DashboardQuery) (PopulationTable, error) {
	if ctx == nil {
		return PopulationTable{}, errors.New("dashboard service: context is required")
	}
	ids := s.selection.Selected(selection.QueryStore(q.Query))
	if len(ids) == 0 {
		return s.collect(ctx, q, ids, nil)
	}
	prefectures, err := s.prefectures.List(ctx)
	if err != nil {
		// names fall back to the unknown placeholder
		s.logger.Warn("prefecture list unavailable", zap.Error(err))
	}
	return s.collect(ctx, q, ids, prefectures)
}

func (s *dashboardService) collect(ctx context.Context, q DashboardQuery, ids []int, prefectures []Prefecture) (PopulationTable, error) {
	label := s.label(q.Label)
	if len(ids) == 0 {
		return PopulationTable{Collection: Collection{Results: []PopulationResult{}}, Label: label, Rows: YearTable{}}, nil
	}
	collection, err := s.population.Collect(ctx, ids, CollectOptions{Wait: q.Wait})
	if err != nil {
		return PopulationTable{}, err
	}
	return PopulationTable{
		Collection: collection,
		Label:      label,
		Rows:       series.Reshape(collection.Results, prefectures, label),
	}, nil
}

func (s *dashboardService) Compose(ctx context.Context, q DashboardQuery) (DashboardView, error) {
	if ctx == nil {
		return DashboardView{}, errors.New("dashboard service: context is required")
	}
	query := cloneQuery(q.Query)
	store := selection.QueryStore(query)
	ids := s.selection.Selected(store)
	tag := q.Locale
	if tag == language.Und {
		tag = language.Japanese
	}

	view := DashboardView{
		Title:     DashboardTitle,
		Query:     query.Encode(),
		Selection: ids,
		Prefectures: PrefectureSection{
			Title: PrefectureSectionTitle,
			Items: []ChecklistItem{},
		},
	}

	prefectures, prefErr := s.prefectures.List(ctx)
	if prefErr != nil {
		view.Prefectures.Error = s.errorBlock(statsapi.AsAPIError(prefErr).Message, query)
	}
	for _, pref := range prefectures {
		checked := s.selection.Contains(store, pref.ID)
		toggled := cloneQuery(query)
		s.selection.Toggle(selection.QueryStore(toggled), pref.ID, !checked)
		view.Prefectures.Items = append(view.Prefectures.Items, ChecklistItem{
			ID:          pref.ID,
			Name:        pref.Name,
			Checked:     checked,
			ToggleQuery: toggled.Encode(),
		})
	}

	table, err := s.collect(ctx, q, ids, prefectures)
	if err != nil {
		return DashboardView{}, err
	}
	view.Population = s.populationSection(query, table, prefectures, tag)
	return view, nil
}

func (s *dashboardService) populationSection(query url.Values, table PopulationTable, prefectures []Prefecture, tag language.Tag) PopulationSection {
	names := domain.PrefectureNames(prefectures)
	section := PopulationSection{
		Title:      PopulationSectionTitle,
		Label:      table.Label,
		Labels:     s.labelOptions(query, table.Label),
		XAxisLabel: XAxisLabel,
		YAxisLabel: YAxisLabel,
		Series:     table.Rows.Series(),
		Rows:       table.Rows,
		Tooltips:   tooltips(table.Rows, tag),
		Results:    make([]ResultStatus, 0, len(table.Results)),
		IsLoading:  table.IsLoading,
		HasError:   table.HasError,
	}
	if section.Series == nil {
		section.Series = []string{}
	}

	for _, result := range table.Results {
		name, ok := names[result.ID]
		if !ok {
			name = domain.UnknownPrefectureName
		}
		status := ResultStatus{ID: result.ID, Name: name, Status: ResultStatusSuccess}
		switch {
		case result.Err != nil:
			apiErr := statsapi.AsAPIError(result.Err)
			status.Status = ResultStatusError
			status.Kind = apiErr.Kind
			status.Message = apiErr.Message
		case result.IsLoading:
			status.Status = ResultStatusLoading
		}
		section.Results = append(section.Results, status)
	}

	withLabel := cloneQuery(query)
	withLabel.Set("label", table.Label)
	switch {
	case table.HasError:
		section.State = ChartStateError
		section.Error = s.errorBlock(PopulationErrorMessage, query)
	case table.IsLoading:
		section.State = ChartStateLoading
	case len(table.Rows) == 0:
		section.State = ChartStateEmpty
		section.Message = EmptySelectionMessage
	default:
		section.State = ChartStateReady
		encoded := withLabel.Encode()
		section.ChartURL = s.baseURL + "/population/chart.svg?" + encoded
		section.Exports = map[string]string{
			"csv":  s.baseURL + "/population/export.csv?" + encoded,
			"xlsx": s.baseURL + "/population/export.xlsx?" + encoded,
		}
	}
	return section
}

func (s *dashboardService) labelOptions(query url.Values, current string) []LabelOption {
	options := make([]LabelOption, 0, len(s.labels))
	for _, label := range s.labels {
		q := cloneQuery(query)
		if label == s.defaultLabel {
			q.Del("label")
		} else {
			q.Set("label", label)
		}
		options = append(options, LabelOption{Label: label, Selected: label == current, Query: q.Encode()})
	}
	return options
}

func (s *dashboardService) errorBlock(message string, query url.Values) *ErrorBlock {
	retry := s.baseURL + "/dashboard"
	if encoded := query.Encode(); encoded != "" {
		retry += "?" + encoded
	}
	return &ErrorBlock{Title: ErrorTitle, Message: message, RetryLabel: RetryLabel, RetryURL: retry}
}

func (s *dashboardService) label(raw string) string {
	label := strings.TrimSpace(raw)
	if label == "" {
		return s.defaultLabel
	}
	return label
}

func tooltips(rows YearTable, tag language.Tag) []TooltipRow {
	out := make([]TooltipRow, 0, len(rows))
	for _, row := range rows {
		entry := TooltipRow{Label: format.Year(row.Year), Entries: make([]TooltipEntry, 0, row.Len())}
		for _, name := range row.Names() {
			v, _ := row.Value(name)
			entry.Entries = append(entry.Entries, TooltipEntry{Name: name, Value: format.Tooltip(tag, v)})
		}
		out = append(out, entry)
	}
	return out
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for key, values := range q {
		out[key] = append([]string(nil), values...)
	}
	return out
}
