// Package api hosts the HTTP server, middleware, and REST handlers for
// document acquisition. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/acquisitions runs one acquisition synchronously; GET
//     /v1/acquisitions/{id} reads the stored record back.
//   - POST /v1/batches queues notices for background acquisition; GET
//     /v1/batches/{id} and /v1/batches/{id}/records report progress.
package api
