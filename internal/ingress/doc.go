// Package ingress manages the HTTPS Ingress generated for a managed Service.
//
// # Generated object
//
// For a Service named <svc> the Reconciler owns an Ingress named <svc>-gateway
// in the same namespace:
//
//   - one TLS entry for the requested host, with secret <host-with-hyphens>-tls
//   - one rule routing the "/" prefix of the host to the Service port
//   - a cert-manager.io/cluster-issuer annotation, so cert-manager issues the
//     certificate into that secret
//   - nginx.ingress.kubernetes.io/ssl-redirect set to "true"
//   - the app.kubernetes.io/managed-by=internet-gateway label
//
// # Update semantics
//
// The object is fully determined by the Service configuration. Upsert reads
// the current object and replaces it wholesale, so manual edits are reverted on
// the next reconciliation. A not-found read falls through to Create, and a
// not-found Delete counts as success.
package ingress
