// Package annotation decodes internet-gateway annotations on a Service into
// the desired external state for that Service.
package annotation

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// Annotation keys read from Service objects.
const (
	Host      = "internet-gateway/host"
	AutoDNS   = "internet-gateway/auto-dns"
	AutoHTTPS = "internet-gateway/auto-https"
	IPMode    = "internet-gateway/ip-mode"
)

// ipModeNodePort is the only recognised value of the ip-mode annotation.
const ipModeNodePort = "node-port"

// defaultPort is used when a Service declares no ports.
const defaultPort int32 = 80

// AddressMode selects how external addresses of a Service are discovered.
type AddressMode int

const (
	// AddressModeNone relies on the Service status (LoadBalancer) for addresses.
	AddressModeNone AddressMode = iota
	// AddressModeNodePort targets the nodes running the Service's pods.
	AddressModeNodePort
)

// String implements fmt.Stringer.
func (m AddressMode) String() string {
	if m == AddressModeNodePort {
		return ipModeNodePort
	}

	return "none"
}

// DesiredConfig is the external state requested by a managed Service.
type DesiredConfig struct {
	Name        string
	Namespace   string
	Host        string
	AutoDNS     bool
	AutoHTTPS   bool
	IPMode      AddressMode
	ExternalIPs []string
	Port        int32
}

// Key returns the namespace/name key of the config.
func (c *DesiredConfig) Key() string {
	return Key(c.Namespace, c.Name)
}

// Key builds the namespace/name key used to track Services.
func Key(namespace, name string) string {
	return namespace + "/" + name
}

// Decode derives the desired configuration of svc. The second return value is
// false when the Service carries no host annotation and is therefore unmanaged.
//
// externalIPs is supplied by the caller and copied verbatim; Decode does no
// address discovery of its own.
func Decode(svc *corev1.Service, externalIPs []string) (DesiredConfig, bool) {
	annotations := svc.GetAnnotations()

	host := annotations[Host]
	if host == "" {
		return DesiredConfig{}, false
	}

	mode := AddressModeNone
	if WantsNodePort(svc) {
		mode = AddressModeNodePort
	}

	ips := make([]string, len(externalIPs))
	copy(ips, externalIPs)

	return DesiredConfig{
		Name:        svc.Name,
		Namespace:   svc.Namespace,
		Host:        host,
		AutoDNS:     isTrue(annotations[AutoDNS]),
		AutoHTTPS:   isTrue(annotations[AutoHTTPS]),
		IPMode:      mode,
		ExternalIPs: ips,
		Port:        servicePort(svc, mode),
	}, true
}

// WantsHTTPS reports whether svc asks for an HTTPS Ingress.
func WantsHTTPS(svc *corev1.Service) bool {
	return isTrue(svc.GetAnnotations()[AutoHTTPS])
}

// WantsNodePort reports whether svc asks for node-port address discovery.
func WantsNodePort(svc *corev1.Service) bool {
	return svc.GetAnnotations()[IPMode] == ipModeNodePort
}

// LoadBalancerIPs returns the IP addresses published in the Service's
// load balancer status. Hostname-only entries are skipped.
func LoadBalancerIPs(svc *corev1.Service) []string {
	var ips []string

	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		if ingress.IP != "" {
			ips = append(ips, ingress.IP)
		}
	}

	return ips
}

func servicePort(svc *corev1.Service, mode AddressMode) int32 {
	if len(svc.Spec.Ports) == 0 {
		return defaultPort
	}

	first := svc.Spec.Ports[0]
	if mode == AddressModeNodePort && first.NodePort != 0 {
		return first.NodePort
	}

	return first.Port
}

func isTrue(value string) bool {
	return strings.EqualFold(value, "true")
}
