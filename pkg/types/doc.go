/*
Package types defines the core data model shared by all pvepower packages.

Workload and Node are read-only snapshots taken once per poll cycle; the
remote cluster API owns the authoritative state and nothing here is cached
across cycles. Criticality is always recomputed from a workload's tag set,
never stored.

ShutdownPlan, Stage and ExclusionSet describe a cascading shutdown;
ExecutionReport carries the per-workload outcomes back to the caller, who
decides whether a node-level power-off may follow.

The Clock interface exists so the idle detector's grace-period arithmetic and
the scheduled trigger's time-of-day comparison can be driven by a fake clock
in tests. RealClock wraps time.Now, whose monotonic reading makes elapsed-time
comparisons safe against wall-clock adjustments.
*/
package types
