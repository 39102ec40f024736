// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry metrics for otus-mcp, exported
// through a Prometheus /metrics endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/tecrolabs/otus-mcp/pkg/logger"
)

// Config holds the configuration for metrics.
type Config struct {
	// Enabled exposes Prometheus metrics at /metrics.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// ServiceName is the service name for telemetry
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`

	// ServiceVersion is the service version for telemetry
	ServiceVersion string `json:"service_version" yaml:"service_version" mapstructure:"service_version"`

	// IncludeRuntimeMetrics adds the Go runtime and process collectors.
	IncludeRuntimeMetrics bool `json:"include_runtime_metrics" yaml:"include_runtime_metrics" mapstructure:"include_runtime_metrics"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		ServiceName:           "otus-mcp",
		IncludeRuntimeMetrics: true,
	}
}

// Provider owns the meter provider and the Prometheus handler serving it.
type Provider struct {
	meterProvider metric.MeterProvider
	handler       http.Handler
	shutdown      func(context.Context) error
}

// NewProvider creates a Provider. When metrics are disabled it returns a
// no-op provider with a nil handler.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			meterProvider: noop.NewMeterProvider(),
			shutdown:      func(context.Context) error { return nil },
		}, nil
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("service name is required")
	}

	registry := prometheus.NewRegistry()
	if cfg.IncludeRuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(attrs...)),
		sdkmetric.WithReader(exporter),
	)

	// Internal OpenTelemetry errors go to the process logger.
	otel.SetLogger(logger.NewLogr())
	otel.SetMeterProvider(mp)

	return &Provider{
		meterProvider: mp,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		shutdown:      mp.Shutdown,
	}, nil
}

// MeterProvider returns the meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// Handler serves the Prometheus exposition format, or nil when disabled.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
