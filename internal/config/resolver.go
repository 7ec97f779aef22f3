package config

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Resolver resolves the Cloudflare API token from Options and, if configured,
// from a Kubernetes Secret.
type Resolver struct {
	client client.Reader
	logger *slog.Logger
}

// NewResolver creates a new credential Resolver.
func NewResolver(c client.Reader) *Resolver {
	return &Resolver{
		client: c,
		logger: slog.Default().With("component", "config-resolver"),
	}
}

// ResolveAPIToken returns the Cloudflare API token. Priority: explicit value
// (flag or CLOUDFLARE_API_KEY) > Secret reference. An empty token with a nil
// error means no credential is configured and DNS updates stay disabled.
//
//nolint:wrapcheck // errors.Newf creates new errors
func (r *Resolver) ResolveAPIToken(ctx context.Context, opts *Options) (string, error) {
	if opts.CloudflareAPIKey != "" {
		return opts.CloudflareAPIKey, nil
	}

	if opts.CloudflareSecret == "" {
		r.logger.Warn("CLOUDFLARE_API_KEY not set, DNS updates disabled")

		return "", nil
	}

	ref, err := opts.CloudflareSecretRef()
	if err != nil {
		return "", err
	}

	secret, err := r.getSecret(ctx, ref.Name, ref.Namespace)
	if err != nil {
		return "", errors.Wrap(err, "failed to get Cloudflare credentials secret")
	}

	token, ok := secret.Data[opts.CloudflareSecretKey]
	if !ok || len(token) == 0 {
		return "", errors.Newf("secret %s/%s does not contain key %s",
			secret.Namespace, secret.Name, opts.CloudflareSecretKey)
	}

	r.logger.Info("loaded Cloudflare token from secret", "secret", ref.String())

	return string(token), nil
}

//nolint:funcorder // private helper
func (r *Resolver) getSecret(ctx context.Context, name, namespace string) (*corev1.Secret, error) {
	secret := &corev1.Secret{}

	err := r.client.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, secret)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get secret %s/%s", namespace, name)
	}

	return secret, nil
}
