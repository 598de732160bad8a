// Package metrics exports pool, lock table and forwarding metrics to Prometheus.
package metrics
