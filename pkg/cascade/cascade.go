package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pvetools/pvepower/pkg/events"
	"github.com/pvetools/pvepower/pkg/proxmox"
	"github.com/pvetools/pvepower/pkg/types"
	"github.com/rs/zerolog"
)

// Options controls a single cascade execution
type Options struct {
	// PerWorkloadTimeout bounds each individual power-off request. A
	// workload that has not confirmed within the timeout is reported as
	// timed-out and the stage moves on without it.
	PerWorkloadTimeout time.Duration
	// DryRun suppresses the actual power-off calls. Stage iteration,
	// reporting and inter-stage waits are unchanged so dry-run timing
	// matches a real run.
	DryRun bool
}

// Orchestrator executes shutdown plans stage by stage. Stages run strictly
// in plan order; workloads within one stage are issued concurrently and
// joined before the stage completes. A single workload's failure or timeout
// never aborts the plan, it is recorded in the report for the caller to act
// on.
type Orchestrator struct {
	api    proxmox.API
	broker *events.Broker
	logger zerolog.Logger
}

// target is a stage workload resolved to its node and kind
type target struct {
	id   int
	node string
	kind types.WorkloadKind
}

// NewOrchestrator creates a cascade orchestrator. The broker may be nil when
// no event consumers are wired (one-shot CLI runs).
func NewOrchestrator(api proxmox.API, broker *events.Broker, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		api:    api,
		broker: broker,
		logger: logger,
	}
}

// Execute runs the plan top to bottom and returns a report covering every
// non-excluded workload of every stage. The returned error is non-nil only
// for whole-plan faults (cluster enumeration failed, context canceled);
// per-workload failures live in the report.
func (o *Orchestrator) Execute(ctx context.Context, plan types.ShutdownPlan, exclusions types.ExclusionSet, opts Options) (*types.ExecutionReport, error) {
	report := &types.ExecutionReport{
		ID:        uuid.New().String(),
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}

	// Resolve ids to nodes/kinds once, from a fresh cluster listing. A
	// stale location would send the power-off to the wrong node.
	index, err := o.indexWorkloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate cluster workloads: %w", err)
	}

	o.logger.Info().
		Str("report_id", report.ID).
		Int("stages", len(plan.Stages)).
		Bool("dry_run", opts.DryRun).
		Msg("starting cascading shutdown")

	issued := make(map[int]bool)

	for i, stage := range plan.Stages {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now()
			return report, err
		}

		result := o.executeStage(ctx, stage, exclusions, index, issued, opts)
		report.Stages = append(report.Stages, result)

		o.publish(events.TypeStageCompleted, stage.Name, map[string]string{
			"report_id": report.ID,
			"workloads": fmt.Sprintf("%d", len(result.Results)),
		})

		// No wait after the final stage.
		if i == len(plan.Stages)-1 || stage.WaitAfter <= 0 {
			continue
		}
		o.logger.Info().
			Str("stage", stage.Name).
			Dur("wait", stage.WaitAfter).
			Msg("waiting before next stage")
		if err := sleepCtx(ctx, stage.WaitAfter); err != nil {
			report.FinishedAt = time.Now()
			return report, err
		}
		report.Stages[len(report.Stages)-1].Waited = stage.WaitAfter
	}

	report.FinishedAt = time.Now()
	o.logger.Info().
		Str("report_id", report.ID).
		Int("failed", len(report.Failed())).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("cascading shutdown finished")
	return report, nil
}

// executeStage issues power-offs for every non-excluded workload of the
// stage concurrently and joins all of them before returning.
func (o *Orchestrator) executeStage(ctx context.Context, stage types.Stage, exclusions types.ExclusionSet, index map[int]target, issued map[int]bool, opts Options) types.StageResult {
	result := types.StageResult{
		Name:      stage.Name,
		StartedAt: time.Now(),
	}

	var targets []target
	for _, id := range stage.WorkloadIDs {
		if exclusions.Contains(id) {
			o.logger.Debug().Int("workload_id", id).Str("stage", stage.Name).Msg("workload excluded from stage")
			continue
		}
		if issued[id] {
			// Plan validation rejects duplicates, but a plan built in
			// code may still repeat an id. First stage wins.
			o.logger.Warn().Int("workload_id", id).Str("stage", stage.Name).Msg("workload already handled by earlier stage")
			continue
		}
		issued[id] = true

		tgt, ok := index[id]
		if !ok {
			result.Results = append(result.Results, types.WorkloadResult{
				WorkloadID: id,
				Outcome:    types.OutcomeFailed,
				Reason:     "workload not found in cluster",
			})
			continue
		}
		targets = append(targets, tgt)
	}

	o.logger.Info().
		Str("stage", stage.Name).
		Int("workloads", len(targets)).
		Bool("dry_run", opts.DryRun).
		Msg("executing shutdown stage")

	results := make([]types.WorkloadResult, len(targets))
	var wg sync.WaitGroup
	for i, tgt := range targets {
		wg.Add(1)
		go func(i int, tgt target) {
			defer wg.Done()
			results[i] = o.powerOff(ctx, tgt, opts)
		}(i, tgt)
	}
	wg.Wait()

	result.Results = append(result.Results, results...)
	return result
}

// powerOff shuts down a single resolved workload, bounded by the per
// workload timeout.
func (o *Orchestrator) powerOff(ctx context.Context, tgt target, opts Options) types.WorkloadResult {
	res := types.WorkloadResult{
		WorkloadID: tgt.id,
		Kind:       tgt.kind,
		Node:       tgt.node,
	}
	logger := o.logger.With().
		Int("workload_id", tgt.id).
		Str("kind", string(tgt.kind)).
		Str("node", tgt.node).
		Logger()

	if opts.DryRun {
		res.Outcome = types.OutcomeDryRun
		logger.Info().Bool("dry_run", true).Msg("would power off workload")
		return res
	}

	start := time.Now()
	callCtx := ctx
	if opts.PerWorkloadTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.PerWorkloadTimeout)
		defer cancel()
	}

	err := o.api.PowerOffWorkload(callCtx, tgt.node, tgt.id, tgt.kind, opts.PerWorkloadTimeout)
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Outcome = types.OutcomeSucceeded
		logger.Info().Dur("elapsed", res.Duration).Msg("workload powered off")
		o.publish(events.TypeWorkloadShutdown, tgt.node, map[string]string{
			"workload_id": fmt.Sprintf("%d", tgt.id),
			"outcome":     string(types.OutcomeSucceeded),
		})
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		res.Outcome = types.OutcomeTimedOut
		res.Reason = fmt.Sprintf("no confirmation within %s", opts.PerWorkloadTimeout)
		logger.Warn().Dur("timeout", opts.PerWorkloadTimeout).Msg("workload shutdown timed out")
		o.publish(events.TypeWorkloadShutdown, tgt.node, map[string]string{
			"workload_id": fmt.Sprintf("%d", tgt.id),
			"outcome":     string(types.OutcomeTimedOut),
		})
	default:
		res.Outcome = types.OutcomeFailed
		res.Reason = err.Error()
		logger.Error().Err(err).Msg("workload shutdown failed")
		o.publish(events.TypeWorkloadShutdown, tgt.node, map[string]string{
			"workload_id": fmt.Sprintf("%d", tgt.id),
			"outcome":     string(types.OutcomeFailed),
		})
	}
	return res
}

// indexWorkloads maps every running workload id in the cluster to its node
// and kind.
func (o *Orchestrator) indexWorkloads(ctx context.Context) (map[int]target, error) {
	nodes, err := o.api.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[int]target)
	for _, node := range nodes {
		workloads, err := o.api.ListWorkloads(ctx, node.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to list workloads on %s: %w", node.Name, err)
		}
		for _, w := range workloads {
			if !w.Running() {
				continue
			}
			index[w.ID] = target{id: w.ID, node: w.Node, kind: w.Kind}
		}
	}
	return index, nil
}

func (o *Orchestrator) publish(eventType events.Type, subject string, metadata map[string]string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(eventType, subject, metadata)
}

// sleepCtx sleeps for d unless the context is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
