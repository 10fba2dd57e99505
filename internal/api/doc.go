// Package api provides the HTTP surface: run triggering and status,
// enrichment queue stats, health probes, and Prometheus metrics.
package api
