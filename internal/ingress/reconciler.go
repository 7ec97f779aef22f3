package ingress

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/internet-gateway/internal/annotation"
	"github.com/lexfrei/internet-gateway/internal/metrics"
)

// Object metadata written on every generated Ingress.
const (
	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedByValue = "internet-gateway"

	ClusterIssuerAnnotation = "cert-manager.io/cluster-issuer"
	SSLRedirectAnnotation   = "nginx.ingress.kubernetes.io/ssl-redirect"
)

const (
	nameSuffix   = "-gateway"
	secretSuffix = "-tls"
	rootPath     = "/"
)

// Name returns the name of the Ingress generated for a Service.
func Name(serviceName string) string {
	return serviceName + nameSuffix
}

// SecretName returns the TLS secret name cert-manager populates for host.
func SecretName(host string) string {
	return strings.ReplaceAll(host, ".", "-") + secretSuffix
}

// Reconciler creates, replaces and deletes the Ingress of a managed Service.
type Reconciler struct {
	client           client.Client
	clusterIssuer    string
	ingressClassName string
	metrics          metrics.Collector
	logger           *slog.Logger
}

// NewReconciler creates a Reconciler. clusterIssuer names the cert-manager
// ClusterIssuer referenced by every generated Ingress.
func NewReconciler(c client.Client, clusterIssuer, ingressClassName string, collector metrics.Collector) *Reconciler {
	return &Reconciler{
		client:           c,
		clusterIssuer:    clusterIssuer,
		ingressClassName: ingressClassName,
		metrics:          collector,
		logger:           slog.Default().With("component", "ingress"),
	}
}

// Build returns the Ingress fully determined by cfg.
func (r *Reconciler) Build(cfg *annotation.DesiredConfig) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix

	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      Name(cfg.Name),
			Namespace: cfg.Namespace,
			Labels: map[string]string{
				ManagedByLabel: ManagedByValue,
			},
			Annotations: map[string]string{
				ClusterIssuerAnnotation: r.clusterIssuer,
				SSLRedirectAnnotation:   "true",
			},
		},
		Spec: networkingv1.IngressSpec{
			TLS: []networkingv1.IngressTLS{{
				Hosts:      []string{cfg.Host},
				SecretName: SecretName(cfg.Host),
			}},
			Rules: []networkingv1.IngressRule{{
				Host: cfg.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     rootPath,
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: cfg.Name,
									Port: networkingv1.ServiceBackendPort{Number: cfg.Port},
								},
							},
						}},
					},
				},
			}},
		},
	}

	if r.ingressClassName != "" {
		className := r.ingressClassName
		ing.Spec.IngressClassName = &className
	}

	return ing
}

// Upsert creates the Ingress for cfg, or replaces an existing one of the
// same name. Labels, annotations and spec are overwritten in full.
func (r *Reconciler) Upsert(ctx context.Context, cfg *annotation.DesiredConfig) error {
	desired := r.Build(cfg)
	key := types.NamespacedName{Namespace: desired.Namespace, Name: desired.Name}

	var existing networkingv1.Ingress

	err := r.client.Get(ctx, key, &existing)

	switch {
	case err == nil:
		desired.ResourceVersion = existing.ResourceVersion

		err = r.client.Update(ctx, desired)
		r.record(ctx, "replace", err)

		if err != nil {
			return errors.Wrapf(err, "failed to replace ingress %s", key)
		}

		r.logger.Info("replaced ingress", "ingress", key.String(), "host", cfg.Host)

		return nil
	case apierrors.IsNotFound(err):
		err = r.client.Create(ctx, desired)
		r.record(ctx, "create", err)

		if err != nil {
			return errors.Wrapf(err, "failed to create ingress %s", key)
		}

		r.logger.Info("created ingress", "ingress", key.String(), "host", cfg.Host)

		return nil
	default:
		r.record(ctx, "get", err)

		return errors.Wrapf(err, "failed to get ingress %s", key)
	}
}

// Delete removes the Ingress generated for the Service name in namespace.
// An absent Ingress is not an error.
func (r *Reconciler) Delete(ctx context.Context, name, namespace string) error {
	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{Name: Name(name), Namespace: namespace},
	}

	err := r.client.Delete(ctx, ing)
	if apierrors.IsNotFound(err) {
		r.logger.Debug("ingress already absent", "namespace", namespace, "name", ing.Name)

		return nil
	}

	r.record(ctx, "delete", err)

	if err != nil {
		return errors.Wrapf(err, "failed to delete ingress %s/%s", namespace, ing.Name)
	}

	r.logger.Info("deleted ingress", "namespace", namespace, "name", ing.Name)

	return nil
}

func (r *Reconciler) record(ctx context.Context, operation string, err error) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}

	r.metrics.RecordIngressOperation(ctx, operation, status)
}
