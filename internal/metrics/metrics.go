// Package metrics provides Prometheus metrics instrumentation for the controller.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
//
//nolint:interfacebloat // All methods are needed for comprehensive metrics coverage
type Collector interface {
	// Reconciliation metrics
	RecordReconcile(ctx context.Context, event, outcome string)
	RecordManagedServices(ctx context.Context, count int)

	// DNS metrics
	RecordDNSChange(ctx context.Context, operation string, count int)

	// Cloudflare API metrics
	RecordAPICall(ctx context.Context, method, resource, status string, duration time.Duration)
	RecordAPIError(ctx context.Context, method, errorType string)

	// Ingress metrics
	RecordIngressOperation(ctx context.Context, operation, status string)

	// Watch loop metrics
	RecordResync(ctx context.Context, status string, services int, duration time.Duration)
	RecordWatchRestart(ctx context.Context, reason string)

	// Startup probe
	RecordPrerequisite(ctx context.Context, name string, present bool)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Reconciliation metrics
	reconcileTotal  *prometheus.CounterVec
	managedServices prometheus.Gauge

	// DNS metrics
	dnsChangesTotal *prometheus.CounterVec

	// Cloudflare API metrics
	apiDuration    *prometheus.HistogramVec
	apiCallsTotal  *prometheus.CounterVec
	apiErrorsTotal *prometheus.CounterVec

	// Ingress metrics
	ingressOpsTotal *prometheus.CounterVec

	// Watch loop metrics
	resyncDuration      *prometheus.HistogramVec
	resyncServices      prometheus.Gauge
	watchRestartsTotal  *prometheus.CounterVec
	prerequisitePresent *prometheus.GaugeVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initReconcileMetrics()
	c.initAPIMetrics()
	c.initLoopMetrics()
	c.register(reg)

	return c
}

// RecordReconcile counts a processed Service event by event type and outcome.
func (c *prometheusCollector) RecordReconcile(_ context.Context, event, outcome string) {
	c.reconcileTotal.WithLabelValues(event, outcome).Inc()
}

// RecordManagedServices records the number of Services with live side effects.
func (c *prometheusCollector) RecordManagedServices(_ context.Context, count int) {
	c.managedServices.Set(float64(count))
}

// RecordDNSChange counts DNS record mutations.
func (c *prometheusCollector) RecordDNSChange(_ context.Context, operation string, count int) {
	c.dnsChangesTotal.WithLabelValues(operation).Add(float64(count))
}

// RecordAPICall records a Cloudflare API call.
func (c *prometheusCollector) RecordAPICall(
	_ context.Context,
	method, resource, status string,
	duration time.Duration,
) {
	c.apiDuration.WithLabelValues(method, resource).Observe(duration.Seconds())
	c.apiCallsTotal.WithLabelValues(method, resource, status).Inc()
}

// RecordAPIError records a Cloudflare API error.
func (c *prometheusCollector) RecordAPIError(_ context.Context, method, errorType string) {
	c.apiErrorsTotal.WithLabelValues(method, errorType).Inc()
}

// RecordIngressOperation counts Ingress create/replace/delete calls.
func (c *prometheusCollector) RecordIngressOperation(_ context.Context, operation, status string) {
	c.ingressOpsTotal.WithLabelValues(operation, status).Inc()
}

// RecordResync records a full resync pass.
func (c *prometheusCollector) RecordResync(_ context.Context, status string, services int, duration time.Duration) {
	c.resyncDuration.WithLabelValues(status).Observe(duration.Seconds())
	c.resyncServices.Set(float64(services))
}

// RecordWatchRestart counts restarts of the list/watch cycle by reason.
func (c *prometheusCollector) RecordWatchRestart(_ context.Context, reason string) {
	c.watchRestartsTotal.WithLabelValues(reason).Inc()
}

// RecordPrerequisite records whether a startup prerequisite was found.
func (c *prometheusCollector) RecordPrerequisite(_ context.Context, name string, present bool) {
	value := 0.0
	if present {
		value = 1
	}

	c.prerequisitePresent.WithLabelValues(name).Set(value)
}

func (c *prometheusCollector) initReconcileMetrics() {
	c.reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "internet_gateway_reconcile_total",
			Help: "Processed Service events by event type and outcome",
		},
		[]string{"event", "outcome"},
	)
	c.managedServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "internet_gateway_managed_services",
			Help: "Number of Services with applied external effects",
		},
	)
	c.dnsChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "internet_gateway_dns_record_changes_total",
			Help: "DNS record mutations by operation",
		},
		[]string{"operation"},
	)
	c.ingressOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "internet_gateway_ingress_operations_total",
			Help: "Ingress operations by type and status",
		},
		[]string{"operation", "status"},
	)
}

func (c *prometheusCollector) initAPIMetrics() {
	c.apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "internet_gateway_cloudflare_api_duration_seconds",
			Help:    "Duration of Cloudflare API calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "resource"},
	)
	c.apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "internet_gateway_cloudflare_api_calls_total",
			Help: "Total Cloudflare API calls",
		},
		[]string{"method", "resource", "status"},
	)
	c.apiErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "internet_gateway_cloudflare_api_errors_total",
			Help: "Total Cloudflare API errors by type",
		},
		[]string{"method", "error_type"},
	)
}

func (c *prometheusCollector) initLoopMetrics() {
	c.resyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "internet_gateway_resync_duration_seconds",
			Help:    "Duration of full Service resync passes",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)
	c.resyncServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "internet_gateway_resync_services",
			Help: "Number of Services seen by the last resync",
		},
	)
	c.watchRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "internet_gateway_watch_restarts_total",
			Help: "Restarts of the list/watch cycle by reason",
		},
		[]string{"reason"},
	)
	c.prerequisitePresent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "internet_gateway_prerequisite_present",
			Help: "Whether a startup prerequisite was detected (1) or not (0)",
		},
		[]string{"name"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.reconcileTotal,
		c.managedServices,
		c.dnsChangesTotal,
		c.apiDuration,
		c.apiCallsTotal,
		c.apiErrorsTotal,
		c.ingressOpsTotal,
		c.resyncDuration,
		c.resyncServices,
		c.watchRestartsTotal,
		c.prerequisitePresent,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordReconcile is a no-op.
func (c *NoopCollector) RecordReconcile(_ context.Context, _, _ string) {}

// RecordManagedServices is a no-op.
func (c *NoopCollector) RecordManagedServices(_ context.Context, _ int) {}

// RecordDNSChange is a no-op.
func (c *NoopCollector) RecordDNSChange(_ context.Context, _ string, _ int) {}

// RecordAPICall is a no-op.
func (c *NoopCollector) RecordAPICall(_ context.Context, _, _, _ string, _ time.Duration) {}

// RecordAPIError is a no-op.
func (c *NoopCollector) RecordAPIError(_ context.Context, _, _ string) {}

// RecordIngressOperation is a no-op.
func (c *NoopCollector) RecordIngressOperation(_ context.Context, _, _ string) {}

// RecordResync is a no-op.
func (c *NoopCollector) RecordResync(_ context.Context, _ string, _ int, _ time.Duration) {}

// RecordWatchRestart is a no-op.
func (c *NoopCollector) RecordWatchRestart(_ context.Context, _ string) {}

// RecordPrerequisite is a no-op.
func (c *NoopCollector) RecordPrerequisite(_ context.Context, _ string, _ bool) {}
