package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomoya0318/PrefTrend/internal/platform/requestctx"
)

const (
	cloudTraceHeader  = "X-Cloud-Trace-Context"
	traceparentHeader = "traceparent"

	selectionSizeAttr = "preftrend.selection.size"
)

var tracer = otel.Tracer("github.com/tomoya0318/PrefTrend/internal/platform/observability")

// TraceMiddleware opens a server span per request and stores its ids on the context.
// A W3C traceparent or Cloud Trace header, in that order, becomes the remote parent.
// Once the handler returns the span is renamed after the matched route and carries
// the response status. selectionParam names the query parameter whose id count is
// recorded on the span.
func TraceMiddleware(projectID, selectionParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if parent, ok := remoteParent(r.Header); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+cleanPath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r, selectionParam)...),
			)
			defer span.End()

			sc := span.SpanContext()
			ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			})
			if header := formatCloudTrace(sc); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}

			sw := newStatusWriter(w)
			status := http.StatusInternalServerError
			defer func() {
				route := cleanPath(routePattern(r))
				span.SetName(r.Method + " " + route)
				span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(status))
				} else {
					span.SetStatus(codes.Ok, "")
				}
			}()

			next.ServeHTTP(sw, r.WithContext(ctx))
			status = sw.Status()
		})
	}
}

// remoteParent reads the caller's span context from the request headers.
func remoteParent(h http.Header) (trace.SpanContext, bool) {
	if sc, ok := parseTraceparent(h.Get(traceparentHeader)); ok {
		return sc, true
	}
	return parseCloudTrace(h.Get(cloudTraceHeader))
}

// parseTraceparent accepts "00-<trace id>-<span id>-<flags>".
func parseTraceparent(header string) (trace.SpanContext, bool) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) != 4 || parts[0] != "00" || len(parts[3]) != 2 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return trace.SpanContext{}, false
	}
	flags, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return trace.SpanContext{}, false
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.TraceFlags(flags) & trace.FlagsSampled,
		Remote:     true,
	}), true
}

// parseCloudTrace accepts "<trace id>/<decimal span id>;o=<0|1>".
func parseCloudTrace(header string) (trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanNum, err := strconv.ParseUint(strings.TrimSpace(spanPart), 10, 64)
	if err != nil || spanNum == 0 {
		return trace.SpanContext{}, false
	}
	var spanID trace.SpanID
	for i := 7; i >= 0; i-- {
		spanID[i] = byte(spanNum)
		spanNum >>= 8
	}

	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

// formatCloudTrace renders sc in the Cloud Trace header format with a decimal span id.
func formatCloudTrace(sc trace.SpanContext) string {
	if !sc.IsValid() {
		return ""
	}
	spanID := sc.SpanID()
	var spanNum uint64
	for _, b := range spanID {
		spanNum = spanNum<<8 | uint64(b)
	}
	option := "0"
	if sc.IsSampled() {
		option = "1"
	}
	return sc.TraceID().String() + "/" + strconv.FormatUint(spanNum, 10) + ";o=" + option
}

func requestAttributes(r *http.Request, selectionParam string) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(clean(r.Method, methodLimit)),
		semconv.URLScheme(scheme),
		semconv.URLPath(cleanPath(r.URL.Path)),
	}
	if r.Host != "" {
		attrs = append(attrs, semconv.ServerAddress(r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(clean(ua, 256)))
	}
	if selectionParam != "" {
		attrs = append(attrs, attribute.Int(selectionSizeAttr, selectionSize(r.URL.Query().Get(selectionParam))))
	}
	return attrs
}

// selectionSize counts the non-empty comma separated tokens of a selection parameter.
func selectionSize(raw string) int {
	n := 0
	for _, token := range strings.Split(raw, ",") {
		if strings.TrimSpace(token) != "" {
			n++
		}
	}
	return n
}

// StartClientSpan opens a client span for an outbound call. The caller must end the span.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
