// Package controller reconciles annotated Services into Cloudflare DNS
// records and cert-manager secured Ingresses.
//
// The package has two parts:
//
//   - Engine: consumes one Service event at a time, derives the desired
//     configuration, calls the DNS and Ingress reconcilers and keeps the
//     managed-state table used to clean up when a Service is deleted or
//     loses its annotations.
//
//   - Loop: lists every Service, replays it through the Engine, then
//     watches from the list's resource version. An expired watch restarts
//     the cycle at once; any other failure restarts it after a backoff.
//
// # Architecture
//
//	┌──────────────┐  list/watch  ┌──────────┐  events  ┌──────────┐
//	│ Service API  │─────────────>│   Loop   │─────────>│  Engine  │
//	└──────────────┘              └──────────┘          └────┬─────┘
//	                                                         │
//	                          ┌──────────────────────────────┼──────────────┐
//	                          ▼                              ▼              ▼
//	                   ┌─────────────┐               ┌─────────────┐ ┌─────────────┐
//	                   │  topology   │               │     dns     │ │   ingress   │
//	                   │ node IPs    │               │ Cloudflare  │ │ Ingress API │
//	                   └─────────────┘               └─────────────┘ └─────────────┘
//
// # Concurrency
//
// Loop and Engine run on one goroutine. Events are reconciled strictly in
// arrival order and no state is shared with other goroutines except the
// Loop's synced flag read by the readiness probe.
package controller
