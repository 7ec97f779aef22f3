package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/lexfrei/internet-gateway/internal/config"
)

func TestDefaultOptions_Valid(t *testing.T) {
	t.Parallel()

	opts := config.DefaultOptions()
	require.NoError(t, opts.Validate())

	selector, err := opts.ControllerSelector()
	require.NoError(t, err)
	assert.Equal(t, "app.kubernetes.io/component=controller", selector.String())
	assert.Equal(t, "letsencrypt-prod", opts.ClusterIssuer)
	assert.Equal(t, 300*time.Second, opts.WatchTimeout)
	assert.Equal(t, 5*time.Second, opts.Backoff)
}

func TestOptionsValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Options)
	}{
		{name: "missing cluster issuer", mutate: func(o *config.Options) { o.ClusterIssuer = "" }},
		{name: "missing ingress class", mutate: func(o *config.Options) { o.IngressClassName = "" }},
		{name: "missing controller namespace", mutate: func(o *config.Options) { o.IngressControllerNamespace = "" }},
		{name: "zero watch timeout", mutate: func(o *config.Options) { o.WatchTimeout = 0 }},
		{name: "zero backoff", mutate: func(o *config.Options) { o.Backoff = 0 }},
		{name: "bad selector", mutate: func(o *config.Options) { o.IngressControllerSelector = "app in (" }},
		{name: "bad secret ref", mutate: func(o *config.Options) { o.CloudflareSecret = "a/b/c" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := config.DefaultOptions()
			tt.mutate(&opts)

			assert.Error(t, opts.Validate())
		})
	}
}

func TestCloudflareSecretRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ref      string
		expected types.NamespacedName
		wantErr  bool
	}{
		{name: "name only", ref: "cf", expected: types.NamespacedName{Namespace: "gateway", Name: "cf"}},
		{name: "namespace and name", ref: "infra/cf", expected: types.NamespacedName{Namespace: "infra", Name: "cf"}},
		{name: "empty name", ref: "infra/", wantErr: true},
		{name: "too many parts", ref: "a/b/c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := config.DefaultOptions()
			opts.DefaultNamespace = "gateway"
			opts.CloudflareSecret = tt.ref

			ref, err := opts.CloudflareSecretRef()
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, ref)
		})
	}
}

func TestResolveAPIToken_ExplicitWins(t *testing.T) {
	t.Parallel()

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "cf", Namespace: "infra"},
		Data:       map[string][]byte{"api-token": []byte("from-secret")},
	}

	resolver := config.NewResolver(fake.NewClientBuilder().WithObjects(secret).Build())

	opts := config.DefaultOptions()
	opts.CloudflareAPIKey = "from-env"
	opts.CloudflareSecret = "infra/cf"

	token, err := resolver.ResolveAPIToken(context.Background(), &opts)
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)
}

func TestResolveAPIToken_FromSecret(t *testing.T) {
	t.Parallel()

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "cf", Namespace: "infra"},
		Data:       map[string][]byte{"token": []byte("from-secret")},
	}

	resolver := config.NewResolver(fake.NewClientBuilder().WithObjects(secret).Build())

	opts := config.DefaultOptions()
	opts.CloudflareSecret = "infra/cf"
	opts.CloudflareSecretKey = "token"

	token, err := resolver.ResolveAPIToken(context.Background(), &opts)
	require.NoError(t, err)
	assert.Equal(t, "from-secret", token)
}

func TestResolveAPIToken_NothingConfigured(t *testing.T) {
	t.Parallel()

	resolver := config.NewResolver(fake.NewClientBuilder().Build())
	opts := config.DefaultOptions()

	token, err := resolver.ResolveAPIToken(context.Background(), &opts)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestResolveAPIToken_SecretErrors(t *testing.T) {
	t.Parallel()

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "cf", Namespace: "infra"},
		Data:       map[string][]byte{"other": []byte("x")},
	}

	resolver := config.NewResolver(fake.NewClientBuilder().WithObjects(secret).Build())

	t.Run("missing secret", func(t *testing.T) {
		t.Parallel()

		opts := config.DefaultOptions()
		opts.CloudflareSecret = "infra/absent"

		_, err := resolver.ResolveAPIToken(context.Background(), &opts)
		require.Error(t, err)
		assert.True(t, apierrors.IsNotFound(err))
	})

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()

		opts := config.DefaultOptions()
		opts.CloudflareSecret = "infra/cf"

		_, err := resolver.ResolveAPIToken(context.Background(), &opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not contain key api-token")
	})
}
