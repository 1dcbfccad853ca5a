/*
Package cascade executes ordered, multi-stage shutdown plans.

Stages run strictly in plan order, because later stages assume earlier ones
have fully drained; there is no reordering and no stage parallelism. Within
a stage all non-excluded workloads are issued concurrently, each bounded by
the per-workload timeout, and joined before the stage is considered
complete. After every stage but the last, the orchestrator sleeps for the
stage's configured wait (cancelable through the context).

The orchestrator is fail-open per workload: one stuck VM is recorded in the
ExecutionReport as failed or timed-out and the cascade continues. Whether a
node-level power-off may follow an imperfect report is the caller's call.

Dry-run mode issues no power-off requests but walks the plan identically,
including the inter-stage waits, so rehearsal timing matches a real run.

Workload ids are resolved to their node and kind from a fresh cluster
listing at the start of every execution; plans carry only ids, mirroring
the configuration format.
*/
package cascade
