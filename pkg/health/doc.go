// Package health tracks per-component health for the coordinator. The
// aggregate is healthy unless any component reports otherwise; the usual
// degradation is the store falling back to its in-memory mode.
package health
