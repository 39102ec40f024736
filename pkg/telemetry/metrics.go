// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// instrumentationName is the name of this instrumentation package
	instrumentationName = "github.com/tecrolabs/otus-mcp/pkg/telemetry"
)

// UpstreamDurationBuckets are histogram boundaries in seconds for calls to
// the broker and the downstream API.
var UpstreamDurationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics records the domain measurements. It satisfies the recorder
// interfaces of the auth, transaction, ares and otus packages.
type Metrics struct {
	verifications    metric.Int64Counter
	keySetRefreshes  metric.Int64Counter
	transactionOps   metric.Int64Counter
	upstreamDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meterProvider.
func NewMetrics(meterProvider metric.MeterProvider) *Metrics {
	meter := meterProvider.Meter(instrumentationName)

	// The exporter adds the _total and _seconds suffixes.
	verifications, _ := meter.Int64Counter(
		"otus_mcp_token_verifications",
		metric.WithDescription("Bearer token verifications by outcome"),
	)
	keySetRefreshes, _ := meter.Int64Counter(
		"otus_mcp_jwks_refreshes",
		metric.WithDescription("Signing key set fetches by outcome"),
	)
	transactionOps, _ := meter.Int64Counter(
		"otus_mcp_transaction_operations",
		metric.WithDescription("Transaction store operations by store, operation and outcome"),
	)
	upstreamDuration, _ := meter.Float64Histogram(
		"otus_mcp_upstream_request_duration",
		metric.WithDescription("Duration of calls to upstream services"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(UpstreamDurationBuckets...),
	)

	return &Metrics{
		verifications:    verifications,
		keySetRefreshes:  keySetRefreshes,
		transactionOps:   transactionOps,
		upstreamDuration: upstreamDuration,
	}
}

// RecordVerification counts a token verification.
func (m *Metrics) RecordVerification(ctx context.Context, outcome string) {
	m.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordKeySetRefresh counts a key set fetch.
func (m *Metrics) RecordKeySetRefresh(ctx context.Context, outcome string) {
	m.keySetRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTransactionOp counts a transaction store operation.
func (m *Metrics) RecordTransactionOp(ctx context.Context, store, op, outcome string) {
	m.transactionOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

// RecordUpstream records the duration of a call to an upstream service.
func (m *Metrics) RecordUpstream(ctx context.Context, upstream, operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.upstreamDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("upstream", upstream),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
