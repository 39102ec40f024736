// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMiddleware counts and times inbound requests by route pattern.
type HTTPMiddleware struct {
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMiddleware creates the request instruments on meterProvider.
func NewHTTPMiddleware(meterProvider metric.MeterProvider) *HTTPMiddleware {
	meter := meterProvider.Meter(instrumentationName)

	requestCounter, _ := meter.Int64Counter(
		"otus_mcp_http_requests",
		metric.WithDescription("Total number of HTTP requests"),
	)
	requestDuration, _ := meter.Float64Histogram(
		"otus_mcp_http_request_duration",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
	)
	activeRequests, _ := meter.Int64UpDownCounter(
		"otus_mcp_http_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
	)

	return &HTTPMiddleware{
		requestCounter:  requestCounter,
		requestDuration: requestDuration,
		activeRequests:  activeRequests,
	}
}

// Handler wraps next. Route patterns rather than raw paths label the
// measurements, keeping label cardinality bounded.
func (m *HTTPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		m.activeRequests.Add(ctx, 1)
		defer m.activeRequests.Add(ctx, -1)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		attrs := metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.status_code", strconv.Itoa(status)),
		)
		m.requestCounter.Add(ctx, 1, attrs)
		m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	})
}
