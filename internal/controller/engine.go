package controller

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/lexfrei/internet-gateway/internal/annotation"
	"github.com/lexfrei/internet-gateway/internal/dns"
	"github.com/lexfrei/internet-gateway/internal/metrics"
)

// Reconcile outcomes recorded per event.
const (
	outcomeApplied = "applied"
	outcomeRemoved = "removed"
	outcomeIgnored = "ignored"
	outcomeFailed  = "failed"
)

// eventPruned labels removals of Services missing from a full list.
const eventPruned = "Pruned"

// AddressResolver finds the node addresses serving a Service.
type AddressResolver interface {
	Refresh(ctx context.Context) error
	PodNodeAddresses(ctx context.Context, namespace string, selector map[string]string) []string
	ControllerAddresses(ctx context.Context) []string
}

// DNSReconciler converges the A records of a host.
type DNSReconciler interface {
	Upsert(ctx context.Context, host string, ips []string) error
	Delete(ctx context.Context, host string) error
}

// IngressReconciler manages the Ingress generated for a Service.
type IngressReconciler interface {
	Upsert(ctx context.Context, cfg *annotation.DesiredConfig) error
	Delete(ctx context.Context, name, namespace string) error
}

// Engine applies Service events to DNS and Ingress and remembers what it
// applied. It holds the only copy of ManagedState and must be driven from a
// single goroutine.
type Engine struct {
	resolver   AddressResolver
	dns        DNSReconciler
	ingress    IngressReconciler
	httpsReady bool
	metrics    metrics.Collector
	logger     *slog.Logger

	managed map[string]annotation.DesiredConfig
}

// NewEngine creates an Engine. httpsReady is the result of the startup
// prerequisite probe; when false no Ingress is ever created.
func NewEngine(
	resolver AddressResolver,
	dnsReconciler DNSReconciler,
	ingressReconciler IngressReconciler,
	httpsReady bool,
	collector metrics.Collector,
) *Engine {
	return &Engine{
		resolver:   resolver,
		dns:        dnsReconciler,
		ingress:    ingressReconciler,
		httpsReady: httpsReady,
		metrics:    collector,
		logger:     slog.Default().With("component", "engine"),
		managed:    map[string]annotation.DesiredConfig{},
	}
}

// Managed returns a copy of the managed-state table keyed by namespace/name.
func (e *Engine) Managed() map[string]annotation.DesiredConfig {
	out := make(map[string]annotation.DesiredConfig, len(e.managed))
	for key, cfg := range e.managed {
		out[key] = cfg
	}

	return out
}

// Len returns the number of managed Services.
func (e *Engine) Len() int {
	return len(e.managed)
}

// Handle reconciles a single Service event.
func (e *Engine) Handle(ctx context.Context, eventType watch.EventType, svc *corev1.Service) {
	key := annotation.Key(svc.Namespace, svc.Name)
	logger := e.logger.With("service", key, "event", string(eventType))

	outcome := e.handle(ctx, logger, key, eventType, svc)

	e.metrics.RecordReconcile(ctx, string(eventType), outcome)
	e.metrics.RecordManagedServices(ctx, len(e.managed))
}

// Prune cleans up every managed Service whose key is not in live. It is
// called after a complete list so that deletions missed while the watch was
// down do not leave records behind.
func (e *Engine) Prune(ctx context.Context, live sets.Set[string]) {
	stale := sets.KeySet(e.managed).Difference(live)

	for _, key := range sets.List(stale) {
		previous := e.managed[key]
		logger := e.logger.With("service", key, "event", eventPruned)

		logger.Info("service no longer listed, cleaning up")
		e.remove(ctx, logger, key, &previous)

		e.metrics.RecordReconcile(ctx, eventPruned, outcomeRemoved)
	}

	e.metrics.RecordManagedServices(ctx, len(e.managed))
}

func (e *Engine) handle(
	ctx context.Context,
	logger *slog.Logger,
	key string,
	eventType watch.EventType,
	svc *corev1.Service,
) string {
	previous, wasManaged := e.managed[key]

	if eventType == watch.Deleted {
		if !wasManaged {
			return outcomeIgnored
		}

		logger.Info("service deleted, cleaning up")
		e.remove(ctx, logger, key, &previous)

		return outcomeRemoved
	}

	cfg, managed := annotation.Decode(svc, e.addresses(ctx, svc))
	if !managed {
		if !wasManaged {
			return outcomeIgnored
		}

		logger.Info("service annotations removed, cleaning up")
		e.remove(ctx, logger, key, &previous)

		return outcomeRemoved
	}

	var err error

	if wasManaged {
		err = e.retract(ctx, logger, &previous, &cfg)
	}

	err = errors.CombineErrors(err, e.apply(ctx, logger, &cfg))

	// Recorded even on failure: some effects may be live and a later delete
	// must find them.
	e.managed[key] = cfg

	if err != nil {
		logger.Error("failed to reconcile service", "host", cfg.Host, "error", err)

		return outcomeFailed
	}

	logger.Info("processed service",
		"host", cfg.Host,
		"ips", cfg.ExternalIPs,
		"dns", cfg.AutoDNS,
		"https", cfg.AutoHTTPS,
		"ipMode", cfg.IPMode.String(),
	)

	return outcomeApplied
}

// addresses picks the address source for svc: ingress controller nodes for
// HTTPS, pod nodes for node-port mode, load balancer status otherwise.
func (e *Engine) addresses(ctx context.Context, svc *corev1.Service) []string {
	if svc.GetAnnotations()[annotation.Host] == "" {
		return nil
	}

	switch {
	case annotation.WantsHTTPS(svc):
		return e.resolver.ControllerAddresses(ctx)
	case annotation.WantsNodePort(svc):
		return e.resolver.PodNodeAddresses(ctx, svc.Namespace, svc.Spec.Selector)
	default:
		return annotation.LoadBalancerIPs(svc)
	}
}

func (e *Engine) apply(ctx context.Context, logger *slog.Logger, cfg *annotation.DesiredConfig) error {
	var result error

	if cfg.AutoDNS {
		if len(cfg.ExternalIPs) == 0 {
			logger.Warn("auto-dns requested but no IPs resolved, check ip-mode or LoadBalancer status",
				"host", cfg.Host)
		} else {
			result = errors.CombineErrors(result, e.dnsCall(logger, e.dns.Upsert(ctx, cfg.Host, cfg.ExternalIPs)))
		}
	}

	if cfg.AutoHTTPS {
		if e.httpsReady {
			result = errors.CombineErrors(result, e.ingress.Upsert(ctx, cfg))
		} else {
			logger.Warn("auto-https requested but prerequisites missing, skipping Ingress", "host", cfg.Host)
		}
	}

	return result
}

// retract removes effects that the previous configuration applied and the
// new one no longer asks for.
func (e *Engine) retract(
	ctx context.Context,
	logger *slog.Logger,
	previous, current *annotation.DesiredConfig,
) error {
	var result error

	if previous.AutoDNS && (!current.AutoDNS || previous.Host != current.Host) {
		logger.Info("retracting DNS records", "host", previous.Host)
		result = errors.CombineErrors(result, e.dnsCall(logger, e.dns.Delete(ctx, previous.Host)))
	}

	if previous.AutoHTTPS && !current.AutoHTTPS {
		logger.Info("retracting ingress", "host", previous.Host)
		result = errors.CombineErrors(result, e.ingress.Delete(ctx, previous.Name, previous.Namespace))
	}

	return result
}

// remove drops key from ManagedState and deletes the effects recorded in
// previous. Cleanup failures are logged only.
func (e *Engine) remove(ctx context.Context, logger *slog.Logger, key string, previous *annotation.DesiredConfig) {
	delete(e.managed, key)

	if previous.AutoDNS {
		err := e.dnsCall(logger, e.dns.Delete(ctx, previous.Host))
		if err != nil {
			logger.Error("failed to delete DNS records", "host", previous.Host, "error", err)
		}
	}

	if previous.AutoHTTPS {
		err := e.ingress.Delete(ctx, previous.Name, previous.Namespace)
		if err != nil {
			logger.Error("failed to delete ingress", "error", err)
		}
	}
}

// dnsCall downgrades ErrDisabled to a debug log.
func (e *Engine) dnsCall(logger *slog.Logger, err error) error {
	if errors.Is(err, dns.ErrDisabled) {
		logger.Debug("DNS reconciliation disabled, skipping")

		return nil
	}

	return err
}
