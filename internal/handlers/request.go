package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tomoya0318/PrefTrend/internal/platform/httpx"
	"github.com/tomoya0318/PrefTrend/internal/platform/requestctx"
	"github.com/tomoya0318/PrefTrend/internal/statsapi"
)

const maxRequestBody = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// parseWait reads the wait flag; absent means true.
func parseWait(r *http.Request) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("wait"))
	if raw == "" {
		return true, nil
	}
	return strconv.ParseBool(raw)
}

// writeUpstreamError answers a failed statistics call with 502 and the classified message.
func writeUpstreamError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		httpx.WriteError(ctx, w, httpx.NewError("upstream_timeout", "statistics API did not answer in time", http.StatusGatewayTimeout))
		return
	}
	apiErr := statsapi.AsAPIError(err)
	requestctx.Logger(ctx).Warn("statistics API call failed",
		zap.String("kind", string(apiErr.Kind)),
		zap.Int("upstream_status", apiErr.Status),
		zap.Error(err),
	)
	details := map[string]any{
		"kind":            string(apiErr.Kind),
		"upstream_status": apiErr.Status,
	}
	if statsapi.IsValidationError(err) {
		details["issues"] = apiErr.Validation.Error.Issues
	}
	httpx.WriteError(ctx, w, httpx.NewError("upstream_"+string(apiErr.Kind), apiErr.Message, http.StatusBadGateway).WithDetails(details))
}
