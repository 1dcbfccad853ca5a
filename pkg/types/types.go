package types

import (
	"time"
)

// WorkloadKind distinguishes QEMU virtual machines from LXC containers
type WorkloadKind string

const (
	KindVM        WorkloadKind = "vm"
	KindContainer WorkloadKind = "container"
)

// PowerState represents the reported power state of a workload or node
type PowerState string

const (
	PowerStateRunning PowerState = "running"
	PowerStateStopped PowerState = "stopped"
	PowerStateUnknown PowerState = "unknown"
)

// Workload is a read-only snapshot of a VM or container as reported by the
// cluster API for one poll cycle. Tags are fetched separately and filled in
// by the caller when classification is needed.
type Workload struct {
	ID    int
	Name  string
	Node  string
	Kind  WorkloadKind
	State PowerState
	Tags  []string
}

// Running reports whether the workload was running at snapshot time.
func (w *Workload) Running() bool {
	return w.State == PowerStateRunning
}

// Node is a snapshot of a cluster node for one poll cycle
type Node struct {
	Name   string
	State  PowerState
	Uptime time.Duration
}

// Criticality is derived from a workload's tag set, never stored
type Criticality string

const (
	// Critical workloads block node-level idle shutdown
	Critical Criticality = "critical"
	// NonCritical workloads carry the safe-shutdown tag and may be
	// powered down as part of a cascade
	NonCritical Criticality = "non-critical"
)

// IdleState is the per-node idle detection state
type IdleState string

const (
	// IdleActive means critical workloads are present (or uptime is too
	// low to trust the observation)
	IdleActive IdleState = "active"
	// IdleGrace means no critical workload has been observed and the
	// grace countdown is running
	IdleGrace IdleState = "grace"
	// IdleShuttingDown means the shutdown cascade for this node has been
	// initiated; the node is not evaluated again this process run
	IdleShuttingDown IdleState = "shutting-down"
)

// Stage is one group of workloads powered down together, followed by a
// configured wait before the next stage starts.
type Stage struct {
	Name        string
	WorkloadIDs []int
	WaitAfter   time.Duration
}

// ShutdownPlan is an ordered list of stages, consumed top to bottom.
// Immutable once built.
type ShutdownPlan struct {
	Stages []Stage
}

// ExclusionSet holds workload ids that must never be issued a power-off
type ExclusionSet map[int]bool

// NewExclusionSet builds an ExclusionSet from a list of workload ids
func NewExclusionSet(ids []int) ExclusionSet {
	set := make(ExclusionSet, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Contains reports whether the given workload id is excluded
func (e ExclusionSet) Contains(id int) bool {
	return e[id]
}

// Outcome is the terminal result for one workload within a cascade stage
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed-out"
	// OutcomeDryRun marks a workload whose power-off would have been
	// issued but was suppressed by dry-run mode
	OutcomeDryRun Outcome = "dry-run"
)

// WorkloadResult records what happened to a single workload in a stage
type WorkloadResult struct {
	WorkloadID int
	Kind       WorkloadKind
	Node       string
	Outcome    Outcome
	Reason     string
	Duration   time.Duration
}

// StageResult records the execution of one plan stage
type StageResult struct {
	Name      string
	Results   []WorkloadResult
	Waited    time.Duration
	StartedAt time.Time
}

// ExecutionReport is returned by the cascade orchestrator. It is complete:
// every non-excluded workload of every stage appears exactly once.
type ExecutionReport struct {
	ID         string
	DryRun     bool
	Stages     []StageResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed returns the results for workloads that failed or timed out
func (r *ExecutionReport) Failed() []WorkloadResult {
	var failed []WorkloadResult
	for _, stage := range r.Stages {
		for _, res := range stage.Results {
			if res.Outcome == OutcomeFailed || res.Outcome == OutcomeTimedOut {
				failed = append(failed, res)
			}
		}
	}
	return failed
}

// Clean reports whether every workload in the report succeeded (or would
// have, in dry-run mode)
func (r *ExecutionReport) Clean() bool {
	return len(r.Failed()) == 0
}

// Clock abstracts time for the idle detector and scheduled trigger so state
// machine tests can run against a fake clock. The real clock's Now carries a
// monotonic reading, so grace-period arithmetic is immune to wall-clock
// skew.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
