// Package config holds controller options and resolves the Cloudflare credential.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
)

// Defaults for Options.
const (
	DefaultClusterIssuer              = "letsencrypt-prod"
	DefaultIngressClassName           = "nginx"
	DefaultIngressControllerNamespace = "ingress-nginx"
	DefaultIngressControllerSelector  = "app.kubernetes.io/component=controller"
	DefaultCloudflareSecretKey        = "api-token"
	DefaultWatchTimeout               = 300 * time.Second
	DefaultBackoff                    = 5 * time.Second
)

// validator.Validate is safe for concurrent use and caches struct metadata.
//
//nolint:gochecknoglobals // shared validator instance
var optionsValidator = validator.New()

// Options holds all configuration options for the controller.
// Values are typically populated from CLI flags or environment variables.
type Options struct {
	// CloudflareAPIKey is the Cloudflare API token. Empty disables DNS
	// reconciliation unless CloudflareSecret resolves a token.
	CloudflareAPIKey string

	// CloudflareSecret optionally references a Secret holding the token,
	// as "namespace/name" or "name" (resolved in DefaultNamespace).
	CloudflareSecret string

	// CloudflareSecretKey is the data key inside CloudflareSecret.
	CloudflareSecretKey string `validate:"required"`

	// DefaultNamespace is used for CloudflareSecret references without a namespace.
	DefaultNamespace string

	// ClusterIssuer is the cert-manager ClusterIssuer referenced by generated Ingresses.
	ClusterIssuer string `validate:"required"`

	// IngressClassName is set on generated Ingresses.
	IngressClassName string `validate:"required"`

	// IngressControllerNamespace and IngressControllerSelector identify the
	// ingress controller pods whose nodes receive HTTPS traffic.
	IngressControllerNamespace string `validate:"required"`
	IngressControllerSelector  string `validate:"required"`

	// WatchTimeout bounds a single watch stream.
	WatchTimeout time.Duration `validate:"gt=0"`

	// Backoff is the delay before restarting the cycle after an error.
	Backoff time.Duration `validate:"gt=0"`

	// MetricsAddr is the address for the Prometheus metrics endpoint. Empty disables it.
	MetricsAddr string

	// HealthAddr is the address for health and readiness probe endpoints. Empty disables it.
	HealthAddr string
}

// DefaultOptions returns Options populated with defaults.
func DefaultOptions() Options {
	return Options{
		CloudflareSecretKey:        DefaultCloudflareSecretKey,
		DefaultNamespace:           "default",
		ClusterIssuer:              DefaultClusterIssuer,
		IngressClassName:           DefaultIngressClassName,
		IngressControllerNamespace: DefaultIngressControllerNamespace,
		IngressControllerSelector:  DefaultIngressControllerSelector,
		WatchTimeout:               DefaultWatchTimeout,
		Backoff:                    DefaultBackoff,
	}
}

// Validate checks required fields and parses the selector and secret reference.
func (o *Options) Validate() error {
	err := optionsValidator.Struct(o)
	if err != nil {
		return errors.Wrap(err, "invalid options")
	}

	_, err = o.ControllerSelector()
	if err != nil {
		return err
	}

	if o.CloudflareSecret != "" {
		_, err = o.CloudflareSecretRef()
		if err != nil {
			return err
		}
	}

	return nil
}

// ControllerSelector parses IngressControllerSelector.
func (o *Options) ControllerSelector() (labels.Selector, error) {
	selector, err := labels.Parse(o.IngressControllerSelector)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ingress controller selector %q", o.IngressControllerSelector)
	}

	return selector, nil
}

// CloudflareSecretRef parses CloudflareSecret into a namespaced name.
//
//nolint:wrapcheck // errors.Newf creates new errors
func (o *Options) CloudflareSecretRef() (types.NamespacedName, error) {
	parts := strings.Split(o.CloudflareSecret, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		return types.NamespacedName{Namespace: o.DefaultNamespace, Name: parts[0]}, nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return types.NamespacedName{Namespace: parts[0], Name: parts[1]}, nil
	default:
		return types.NamespacedName{}, errors.Newf("invalid secret reference %q (expected namespace/name)", o.CloudflareSecret)
	}
}
