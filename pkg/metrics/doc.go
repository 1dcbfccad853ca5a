/*
Package metrics exposes prometheus metrics for pvepower.

Supervisor counters are updated inline; everything else is derived from the
power event stream by Collector, which subscribes to the events broker so
metric bookkeeping never sits on the poll loop's critical path. The /metrics
listener is optional and off by default.
*/
package metrics
