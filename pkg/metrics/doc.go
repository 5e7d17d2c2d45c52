/*
Package metrics provides Prometheus metrics for the hive.

All metrics register on the default registry at package init. Hot paths
update their own counters and histograms inline (tasks scheduled,
scheduling latency, consensus decisions); the Collector snapshots
aggregate state (agents by type and status, tasks by status, memory
namespaces, bus throughput) from the store every 15 seconds.

The /metrics endpoint is exposed via promhttp behind the monitor flag.
*/
package metrics
