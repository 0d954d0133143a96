package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/tomoya0318/PrefTrend/internal/chart"
	"github.com/tomoya0318/PrefTrend/internal/domain"
	"github.com/tomoya0318/PrefTrend/internal/export"
	"github.com/tomoya0318/PrefTrend/internal/platform/httpx"
	"github.com/tomoya0318/PrefTrend/internal/platform/requestctx"
	"github.com/tomoya0318/PrefTrend/internal/selection"
	"github.com/tomoya0318/PrefTrend/internal/services"
	"github.com/tomoya0318/PrefTrend/internal/statsapi"
)

// DashboardHandlerDeps bundles the services behind the dashboard API.
type DashboardHandlerDeps struct {
	Prefectures services.PrefectureService
	Dashboard   services.DashboardService
	Selection   selection.Manager
	Renderer    *chart.Renderer
	BasePath    string
}

// DashboardHandlers exposes prefectures, selection, population, chart, export, and dashboard endpoints.
type DashboardHandlers struct {
	prefectures services.PrefectureService
	dashboard   services.DashboardService
	selection   selection.Manager
	renderer    *chart.Renderer
	basePath    string
	policy      *bluemonday.Policy
}

// NewDashboardHandlers constructs the dashboard handler set.
func NewDashboardHandlers(deps DashboardHandlerDeps) *DashboardHandlers {
	renderer := deps.Renderer
	if renderer == nil {
		renderer = chart.NewRenderer(0, 0)
	}
	basePath := strings.TrimRight(deps.BasePath, "/")
	if basePath == "" {
		basePath = defaultAPIPrefix
	}
	return &DashboardHandlers{
		prefectures: deps.Prefectures,
		dashboard:   deps.Dashboard,
		selection:   selection.NewManager(deps.Selection.Param),
		renderer:    renderer,
		basePath:    basePath,
		policy:      bluemonday.StrictPolicy(),
	}
}

// Routes registers the dashboard endpoints on the API group.
func (h *DashboardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/prefectures", h.listPrefectures)
	r.Get("/selection", h.getSelection)
	r.Post("/selection:toggle", h.toggleSelection)
	r.Get("/population", h.getPopulation)
	r.Get("/population/chart.svg", h.renderChart(chart.FormatSVG))
	r.Get("/population/chart.png", h.renderChart(chart.FormatPNG))
	r.Get("/population/export.csv", h.exportTable(export.FormatCSV))
	r.Get("/population/export.xlsx", h.exportTable(export.FormatXLSX))
	r.Get("/dashboard", h.getDashboard)
}

type prefectureListResponse struct {
	Prefectures []domain.Prefecture `json:"prefectures"`
}

func (h *DashboardHandlers) listPrefectures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.prefectures == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "prefecture service not available", http.StatusServiceUnavailable))
		return
	}
	prefectures, err := h.prefectures.List(ctx)
	if err != nil {
		writeUpstreamError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, prefectureListResponse{Prefectures: prefectures})
}

type selectionResponse struct {
	Param     string `json:"param"`
	Selection []int  `json:"selection"`
	Query     string `json:"query"`
	Location  string `json:"location,omitempty"`
}

func (h *DashboardHandlers) getSelection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	httpx.WriteJSON(r.Context(), w, http.StatusOK, selectionResponse{
		Param:     h.selection.Param,
		Selection: nonNilInts(h.selection.Selected(selection.QueryStore(query))),
		Query:     query.Encode(),
	})
}

type toggleRequest struct {
	Query    string `json:"query"`
	PrefCode *int   `json:"prefCode"`
	Checked  *bool  `json:"checked"`
}

func (h *DashboardHandlers) toggleSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req toggleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.PrefCode == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "prefCode is required", http.StatusBadRequest))
		return
	}
	if req.Checked == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checked is required", http.StatusBadRequest))
		return
	}

	query, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(req.Query), "?"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "query is not a valid query string", http.StatusBadRequest))
		return
	}

	next := h.selection.Toggle(selection.QueryStore(query), *req.PrefCode, *req.Checked)
	encoded := query.Encode()
	location := h.basePath + "/dashboard"
	if encoded != "" {
		location += "?" + encoded
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, selectionResponse{
		Param:     h.selection.Param,
		Selection: nonNilInts(next),
		Query:     encoded,
		Location:  location,
	})
}

type resultPayload struct {
	ID      int                      `json:"prefCode"`
	Status  string                   `json:"status"`
	Data    *domain.PopulationSeries `json:"data,omitempty"`
	Kind    statsapi.Kind            `json:"kind,omitempty"`
	Message string                   `json:"message,omitempty"`
}

type populationResponse struct {
	Label     string           `json:"label"`
	Selection []int            `json:"selection"`
	IsLoading bool             `json:"isLoading"`
	HasError  bool             `json:"hasError"`
	Results   []resultPayload  `json:"results"`
	Series    []string         `json:"series"`
	Rows      domain.YearTable `json:"rows"`
}

func (h *DashboardHandlers) getPopulation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, ok := h.dashboardQuery(w, r)
	if !ok {
		return
	}
	table, err := h.dashboard.Table(ctx, q)
	if err != nil {
		writeUpstreamError(ctx, w, err)
		return
	}

	resp := populationResponse{
		Label:     table.Label,
		Selection: make([]int, 0, len(table.Results)),
		IsLoading: table.IsLoading,
		HasError:  table.HasError,
		Results:   make([]resultPayload, 0, len(table.Results)),
		Series:    nonNilStrings(table.Rows.Series()),
		Rows:      table.Rows,
	}
	for _, result := range table.Results {
		resp.Selection = append(resp.Selection, result.ID)
		payload := resultPayload{ID: result.ID, Status: services.ResultStatusSuccess, Data: result.Data}
		switch {
		case result.Err != nil:
			apiErr := statsapi.AsAPIError(result.Err)
			payload.Status = services.ResultStatusError
			payload.Kind = apiErr.Kind
			payload.Message = apiErr.Message
		case result.IsLoading:
			payload.Status = services.ResultStatusLoading
		}
		resp.Results = append(resp.Results, payload)
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, resp)
}

// settledTable collects a waited table and answers the request itself when the
// table cannot be rendered.
func (h *DashboardHandlers) settledTable(w http.ResponseWriter, r *http.Request) (services.PopulationTable, bool) {
	ctx := r.Context()
	q, ok := h.dashboardQuery(w, r)
	if !ok {
		return services.PopulationTable{}, false
	}
	q.Wait = true
	table, err := h.dashboard.Table(ctx, q)
	if err != nil {
		writeUpstreamError(ctx, w, err)
		return services.PopulationTable{}, false
	}
	if table.HasError {
		for _, result := range table.Results {
			if result.Err != nil {
				writeUpstreamError(ctx, w, result.Err)
				return services.PopulationTable{}, false
			}
		}
	}
	if table.IsLoading {
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(ctx, w, httpx.NewError("population_pending", "population data is still loading", http.StatusServiceUnavailable))
		return services.PopulationTable{}, false
	}
	if len(table.Rows) == 0 || len(table.Rows.Series()) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("no_series", chart.EmptyMessage, http.StatusNotFound))
		return services.PopulationTable{}, false
	}
	return table, true
}

func (h *DashboardHandlers) renderChart(format chart.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		table, ok := h.settledTable(w, r)
		if !ok {
			return
		}
		title := strings.TrimSpace(r.URL.Query().Get("title"))
		if title == "" {
			title = table.Label
		}

		var buf bytes.Buffer
		if err := h.renderer.Render(&buf, table.Rows, chart.Options{Title: title, Format: format}); err != nil {
			if errors.Is(err, chart.ErrNoSeries) {
				httpx.WriteError(ctx, w, httpx.NewError("no_series", chart.EmptyMessage, http.StatusNotFound))
				return
			}
			requestctx.Logger(ctx).Error("chart render failed", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("render_failed", "chart could not be rendered", http.StatusInternalServerError))
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}

func (h *DashboardHandlers) exportTable(format export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		table, ok := h.settledTable(w, r)
		if !ok {
			return
		}

		var buf bytes.Buffer
		if err := export.Write(&buf, table.Rows, format); err != nil {
			requestctx.Logger(ctx).Error("export failed", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("export_failed", "table could not be exported", http.StatusInternalServerError))
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": format.Filename(table.Label)}))
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}

func (h *DashboardHandlers) getDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, ok := h.dashboardQuery(w, r)
	if !ok {
		return
	}
	view, err := h.dashboard.Compose(ctx, q)
	if err != nil {
		writeUpstreamError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, view)
}

func (h *DashboardHandlers) dashboardQuery(w http.ResponseWriter, r *http.Request) (services.DashboardQuery, bool) {
	ctx := r.Context()
	if h.dashboard == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "dashboard service not available", http.StatusServiceUnavailable))
		return services.DashboardQuery{}, false
	}
	wait, err := parseWait(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("wait must be a boolean: %q", h.policy.Sanitize(r.URL.Query().Get("wait"))), http.StatusBadRequest))
		return services.DashboardQuery{}, false
	}
	query := r.URL.Query()
	label := strings.TrimSpace(query.Get("label"))
	return services.DashboardQuery{
		Query:  query,
		Label:  label,
		Wait:   wait,
		Locale: requestctx.Locale(ctx),
	}, true
}

func nonNilInts(values []int) []int {
	if values == nil {
		return []int{}
	}
	return values
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
