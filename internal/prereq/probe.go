// Package prereq checks once at startup that the controllers HTTPS
// reconciliation depends on are installed.
package prereq

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/internet-gateway/internal/metrics"
	"github.com/lexfrei/internet-gateway/internal/topology"
)

// Prerequisite names used in logs and metrics.
const (
	CertManager       = "cert-manager"
	IngressController = "ingress-controller"
)

// ClusterIssuerListGVK identifies the cert-manager ClusterIssuer list.
//
//nolint:gochecknoglobals // immutable GVK
var ClusterIssuerListGVK = schema.GroupVersionKind{
	Group:   "cert-manager.io",
	Version: "v1",
	Kind:    "ClusterIssuerList",
}

// Result reports which prerequisites were found.
type Result struct {
	CertManager       bool
	IngressController bool
}

// Ready reports whether HTTPS reconciliation may run.
func (r Result) Ready() bool {
	return r.CertManager && r.IngressController
}

// Probe looks for a ClusterIssuer and a running ingress controller pod.
type Probe struct {
	client              client.Reader
	controllerNamespace string
	controllerSelector  labels.Selector
	metrics             metrics.Collector
	logger              *slog.Logger
}

// NewProbe creates a Probe for the ingress controller identified by
// controllerNamespace and controllerSelector.
func NewProbe(c client.Reader, controllerNamespace string, controllerSelector labels.Selector, collector metrics.Collector) *Probe {
	return &Probe{
		client:              c,
		controllerNamespace: controllerNamespace,
		controllerSelector:  controllerSelector,
		metrics:             collector,
		logger:              slog.Default().With("component", "prereq"),
	}
}

// Check runs both probes. Failures are logged and reported as absent.
func (p *Probe) Check(ctx context.Context) Result {
	result := Result{
		CertManager:       p.hasClusterIssuer(ctx),
		IngressController: p.hasIngressController(ctx),
	}

	p.metrics.RecordPrerequisite(ctx, CertManager, result.CertManager)
	p.metrics.RecordPrerequisite(ctx, IngressController, result.IngressController)

	if result.Ready() {
		p.logger.Info("all prerequisites satisfied")
	} else {
		p.logger.Warn("prerequisites missing, HTTPS reconciliation disabled until restart",
			CertManager, result.CertManager,
			IngressController, result.IngressController,
		)
	}

	return result
}

func (p *Probe) hasClusterIssuer(ctx context.Context) bool {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(ClusterIssuerListGVK)

	err := p.client.List(ctx, list)

	switch {
	case err == nil && len(list.Items) > 0:
		p.logger.Info("cert-manager found", "clusterIssuers", len(list.Items))

		return true
	case err == nil:
		p.logger.Warn("cert-manager is installed but no ClusterIssuer exists")

		return false
	case apierrors.IsNotFound(err) || meta.IsNoMatchError(err):
		p.logger.Warn("cert-manager not found, install with: " +
			"helm install cert-manager jetstack/cert-manager --namespace cert-manager --create-namespace --set crds.enabled=true")

		return false
	default:
		p.logger.Error("failed to check cert-manager", "error", errors.Wrap(err, "failed to list ClusterIssuers"))

		return false
	}
}

func (p *Probe) hasIngressController(ctx context.Context) bool {
	pods, err := topology.RunningPods(ctx, p.client, p.controllerNamespace, p.controllerSelector)
	if err != nil {
		p.logger.Error("failed to check ingress controller", "namespace", p.controllerNamespace, "error", err)

		return false
	}

	if len(pods) == 0 {
		p.logger.Warn("ingress controller not found, install with: "+
			"helm install ingress-nginx ingress-nginx/ingress-nginx --namespace ingress-nginx --create-namespace",
			"namespace", p.controllerNamespace,
			"selector", p.controllerSelector.String(),
		)

		return false
	}

	p.logger.Info("ingress controller found", "pods", len(pods))

	return true
}
