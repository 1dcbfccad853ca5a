/*
Package idle implements the per-node idle detection state machine.

Each node is in exactly one of three states:

	Active        critical workloads present, or fresh boot
	Grace         nothing critical observed, countdown running
	ShuttingDown  cascade issued, node not evaluated again this run

A workload is critical unless it carries the configured safe-shutdown tag
(see pkg/classify). Any critical workload observed during the grace
countdown discards the countdown entirely; flapping never accumulates toward
a shutdown. Grace timing uses the injected Clock, whose production
implementation carries Go's monotonic reading, so the countdown is immune to
wall-clock adjustments.

State lives in an explicit Store passed into the Detector, keyed by node
name. The supervisor's poll loop is the single writer; nothing cross-node is
shared. Transition logic is pure bookkeeping; the only side-effecting
boundary is the transition into ShuttingDown, which hands the node's
non-critical workloads to the cascade orchestrator and then powers off the
node, unless dry-run is active or the cascade reported failures.
*/
package idle
