// Package api exposes the hive's HTTP observability surface: liveness
// and readiness probes, a status snapshot and the Prometheus metrics
// endpoint.
package api
