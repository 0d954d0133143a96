package observability

import (
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tomoya0318/PrefTrend/internal/platform/requestctx"
)

const (
	methodLimit    = 10
	pathLimit      = 180
	selectionLimit = 128
	addrLimit      = 64
)

// InjectLoggerMiddleware makes logger the request-scoped logger for downstream handlers.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware logs one line when a request starts and one when it completes.
// Every line carries the raw selection and its id count when selectionParam is set.
// The completion line is logged at warn for 4xx and error for 5xx or a panic.
func RequestLoggerMiddleware(selectionParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := requestctx.Logger(r.Context()).With(requestFields(r, selectionParam)...)
			r = r.WithContext(requestctx.WithLogger(r.Context(), logger))

			sw := newStatusWriter(w)
			start := time.Now()
			logger.Info("request started")

			completed := false
			defer func() {
				status := sw.Status()
				if !completed && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				logger.Check(completionLevel(status), "request completed").Write(
					zap.String("route", clean(routePattern(r), pathLimit)),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int64("bytes", sw.written),
				)
			}()

			next.ServeHTTP(sw, r)
			completed = true
		})
	}
}

func requestFields(r *http.Request, selectionParam string) []zap.Field {
	info, _ := requestctx.Trace(r.Context())
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", clean(r.Method, methodLimit)),
		zap.String("path", cleanPath(r.URL.Path)),
		zap.String("trace_id", info.TraceID),
	}
	if selectionParam != "" {
		raw := r.URL.Query().Get(selectionParam)
		fields = append(fields,
			zap.String("selection", clean(raw, selectionLimit)),
			zap.Int("selection_size", selectionSize(raw)),
		)
	}
	if info.ProjectID != "" && info.TraceID != "" {
		fields = append(fields, zap.String("logging.googleapis.com/trace", "projects/"+info.ProjectID+"/traces/"+info.TraceID))
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		fields = append(fields, zap.String("remote_ip", clean(host, addrLimit)))
	}
	return fields
}

func completionLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// routePattern returns the matched chi pattern, or the raw path before routing.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// clean drops control characters so user input cannot forge log lines, then caps the rune count.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(value); len(runes) > limit {
		return string(runes[:limit])
	}
	return value
}

func cleanPath(path string) string {
	if path == "" {
		return "/"
	}
	return clean(path, pathLimit)
}

// statusWriter remembers the response status and body size.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w}
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Status reports the written status, 200 when the handler never wrote one.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
