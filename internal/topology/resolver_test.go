package topology_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/lexfrei/internet-gateway/internal/topology"
)

var errListFailed = errors.New("list failed")

func node(name string, addresses ...corev1.NodeAddress) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status:     corev1.NodeStatus{Addresses: addresses},
	}
}

func pod(namespace, name, nodeName string, phase corev1.PodPhase, podLabels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: podLabels},
		Spec:       corev1.PodSpec{NodeName: nodeName},
		Status:     corev1.PodStatus{Phase: phase},
	}
}

func external(ip string) corev1.NodeAddress {
	return corev1.NodeAddress{Type: corev1.NodeExternalIP, Address: ip}
}

func internal(ip string) corev1.NodeAddress {
	return corev1.NodeAddress{Type: corev1.NodeInternalIP, Address: ip}
}

func controllerSelector() labels.Selector {
	return labels.SelectorFromSet(labels.Set{"app.kubernetes.io/component": "controller"})
}

func TestNodeAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		node     *corev1.Node
		expected string
		found    bool
	}{
		{
			name:     "external preferred over internal",
			node:     node("n1", internal("10.0.0.1"), external("203.0.113.1")),
			expected: "203.0.113.1",
			found:    true,
		},
		{
			name:     "internal only",
			node:     node("n2", internal("10.0.0.2")),
			expected: "10.0.0.2",
			found:    true,
		},
		{
			name: "hostname only",
			node: node("n3", corev1.NodeAddress{Type: corev1.NodeHostName, Address: "n3"}),
		},
		{
			name: "no addresses",
			node: node("n4"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			addr, found := topology.NodeAddress(tt.node)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.expected, addr)
		})
	}
}

func TestRefresh_ReplacesTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	first := fake.NewClientBuilder().WithObjects(
		node("a", external("203.0.113.1")),
		node("b", internal("10.0.0.2")),
	).Build()

	resolver := topology.NewResolver(first, "ingress-nginx", controllerSelector())
	require.NoError(t, resolver.Refresh(ctx))
	assert.Equal(t, topology.NodeAddressTable{"a": "203.0.113.1", "b": "10.0.0.2"}, resolver.Nodes())
}

func TestRefresh_KeepsTableOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fail := false

	c := fake.NewClientBuilder().
		WithObjects(node("a", external("203.0.113.1"))).
		WithInterceptorFuncs(interceptor.Funcs{
			List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
				if fail {
					return errListFailed
				}

				return c.List(ctx, list, opts...)
			},
		}).
		Build()

	resolver := topology.NewResolver(c, "ingress-nginx", controllerSelector())
	require.NoError(t, resolver.Refresh(ctx))

	fail = true

	require.Error(t, resolver.Refresh(ctx))
	assert.Equal(t, topology.NodeAddressTable{"a": "203.0.113.1"}, resolver.Nodes())
}

func TestPodNodeAddresses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	appLabels := map[string]string{"app": "web"}

	c := fake.NewClientBuilder().WithObjects(
		node("a", external("203.0.113.1")),
		node("b", internal("10.0.0.2")),
		node("c", external("203.0.113.3")),
		pod("default", "web-1", "a", corev1.PodRunning, appLabels),
		pod("default", "web-2", "a", corev1.PodRunning, appLabels),
		pod("default", "web-3", "b", corev1.PodRunning, appLabels),
		pod("default", "web-4", "c", corev1.PodPending, appLabels),
		pod("default", "web-5", "", corev1.PodRunning, appLabels),
		pod("default", "web-6", "unknown", corev1.PodRunning, appLabels),
		pod("other", "web-7", "c", corev1.PodRunning, appLabels),
		pod("default", "api-1", "c", corev1.PodRunning, map[string]string{"app": "api"}),
	).Build()

	resolver := topology.NewResolver(c, "ingress-nginx", controllerSelector())
	require.NoError(t, resolver.Refresh(ctx))

	assert.Equal(t, []string{"10.0.0.2", "203.0.113.1"}, resolver.PodNodeAddresses(ctx, "default", appLabels))
	assert.Empty(t, resolver.PodNodeAddresses(ctx, "default", nil))
	assert.Empty(t, resolver.PodNodeAddresses(ctx, "default", map[string]string{"app": "none"}))
}

func TestControllerAddresses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	controllerLabels := map[string]string{"app.kubernetes.io/component": "controller"}

	c := fake.NewClientBuilder().WithObjects(
		node("a", external("203.0.113.1")),
		node("b", external("203.0.113.2")),
		pod("ingress-nginx", "controller-1", "a", corev1.PodRunning, controllerLabels),
		pod("ingress-nginx", "controller-2", "b", corev1.PodFailed, controllerLabels),
		pod("default", "impostor", "b", corev1.PodRunning, controllerLabels),
	).Build()

	resolver := topology.NewResolver(c, "ingress-nginx", controllerSelector())
	require.NoError(t, resolver.Refresh(ctx))

	assert.Equal(t, []string{"203.0.113.1"}, resolver.ControllerAddresses(ctx))
}

func TestLookups_ListErrorYieldsEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	c := fake.NewClientBuilder().
		WithObjects(node("a", external("203.0.113.1"))).
		WithInterceptorFuncs(interceptor.Funcs{
			List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
				if _, ok := list.(*corev1.PodList); ok {
					return errListFailed
				}

				return c.List(ctx, list, opts...)
			},
		}).
		Build()

	resolver := topology.NewResolver(c, "ingress-nginx", controllerSelector())
	require.NoError(t, resolver.Refresh(ctx))

	assert.Empty(t, resolver.ControllerAddresses(ctx))
	assert.Empty(t, resolver.PodNodeAddresses(ctx, "default", map[string]string{"app": "web"}))
}
