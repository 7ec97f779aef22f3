// Package topology resolves the external node addresses that serve a Service.
package topology

import (
	"context"
	"log/slog"
	"sort"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// NodeAddressTable maps node names to the single address chosen for each node.
type NodeAddressTable map[string]string

// NodeAddress picks the externally reachable address of node: the first
// ExternalIP if present, otherwise the first InternalIP.
func NodeAddress(node *corev1.Node) (string, bool) {
	for _, addressType := range []corev1.NodeAddressType{corev1.NodeExternalIP, corev1.NodeInternalIP} {
		for _, addr := range node.Status.Addresses {
			if addr.Type == addressType && addr.Address != "" {
				return addr.Address, true
			}
		}
	}

	return "", false
}

// Resolver maps pod selectors to node addresses through a NodeAddressTable.
// It is not safe for concurrent use.
type Resolver struct {
	client              client.Reader
	controllerNamespace string
	controllerSelector  labels.Selector
	nodes               NodeAddressTable
	logger              *slog.Logger
}

// NewResolver creates a Resolver. controllerNamespace and controllerSelector
// identify the ingress controller pods.
func NewResolver(c client.Reader, controllerNamespace string, controllerSelector labels.Selector) *Resolver {
	return &Resolver{
		client:              c,
		controllerNamespace: controllerNamespace,
		controllerSelector:  controllerSelector,
		nodes:               NodeAddressTable{},
		logger:              slog.Default().With("component", "topology"),
	}
}

// Refresh rebuilds the node address table from scratch. On error the previous
// table is kept.
func (r *Resolver) Refresh(ctx context.Context) error {
	var nodeList corev1.NodeList

	err := r.client.List(ctx, &nodeList)
	if err != nil {
		r.logger.Error("failed to fetch node IPs", "error", err)

		return errors.Wrap(err, "failed to list nodes")
	}

	table := make(NodeAddressTable, len(nodeList.Items))

	for i := range nodeList.Items {
		node := &nodeList.Items[i]
		if addr, ok := NodeAddress(node); ok {
			table[node.Name] = addr
		}
	}

	r.nodes = table

	r.logger.Info("refreshed node IPs", "nodes", len(table))
	r.logger.Debug("node address table", "table", map[string]string(table))

	return nil
}

// Nodes returns a copy of the current node address table.
func (r *Resolver) Nodes() NodeAddressTable {
	out := make(NodeAddressTable, len(r.nodes))
	for name, addr := range r.nodes {
		out[name] = addr
	}

	return out
}

// PodNodeAddresses returns the addresses of nodes running pods that match
// selector in namespace. An empty selector yields no addresses.
func (r *Resolver) PodNodeAddresses(ctx context.Context, namespace string, selector map[string]string) []string {
	if len(selector) == 0 {
		return nil
	}

	addrs, err := r.nodeAddressesFor(ctx, namespace, labels.SelectorFromSet(selector))
	if err != nil {
		r.logger.Error("failed to get pods for service",
			"namespace", namespace,
			"selector", labels.Set(selector).String(),
			"error", err,
		)

		return nil
	}

	return addrs
}

// ControllerAddresses returns the addresses of nodes running the ingress controller.
func (r *Resolver) ControllerAddresses(ctx context.Context) []string {
	addrs, err := r.nodeAddressesFor(ctx, r.controllerNamespace, r.controllerSelector)
	if err != nil {
		r.logger.Warn("failed to get ingress controller pods",
			"namespace", r.controllerNamespace,
			"error", err,
		)

		return nil
	}

	return addrs
}

func (r *Resolver) nodeAddressesFor(ctx context.Context, namespace string, selector labels.Selector) ([]string, error) {
	pods, err := RunningPods(ctx, r.client, namespace, selector)
	if err != nil {
		return nil, err
	}

	addrs := sets.New[string]()

	for i := range pods {
		if addr, ok := r.nodes[pods[i].Spec.NodeName]; ok {
			addrs.Insert(addr)
		}
	}

	result := addrs.UnsortedList()
	sort.Strings(result)

	return result, nil
}

// RunningPods lists pods in namespace matching selector that are Running and
// scheduled onto a node.
func RunningPods(ctx context.Context, c client.Reader, namespace string, selector labels.Selector) ([]corev1.Pod, error) {
	var podList corev1.PodList

	err := c.List(ctx, &podList,
		client.InNamespace(namespace),
		client.MatchingLabelsSelector{Selector: selector},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list pods in %s", namespace)
	}

	running := make([]corev1.Pod, 0, len(podList.Items))

	for i := range podList.Items {
		pod := &podList.Items[i]
		if pod.Status.Phase == corev1.PodRunning && pod.Spec.NodeName != "" {
			running = append(running, *pod)
		}
	}

	return running, nil
}
