// Package server provides a local HTTP status server for a running
// measurement.
//
// The server lets a dashboard, a browser tab or a Prometheus scraper follow a
// measurement while `ppgcam measure` runs. It binds to localhost by default
// and is read-only.
//
// # Endpoints
//
//   - GET /state - JSON snapshot of the session state
//   - GET /samples - JSON array of the retained channel samples, oldest first
//   - GET /events - Server-Sent Events stream; one "state" event per change
//   - GET /metrics - Prometheus metrics for the capture and stream pipeline
//   - GET /healthz - liveness probe
package server
