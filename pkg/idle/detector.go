package idle

import (
	"context"
	"fmt"
	"time"

	"github.com/pvetools/pvepower/pkg/cascade"
	"github.com/pvetools/pvepower/pkg/classify"
	"github.com/pvetools/pvepower/pkg/events"
	"github.com/pvetools/pvepower/pkg/proxmox"
	"github.com/pvetools/pvepower/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the idle detector settings, validated at startup
type Config struct {
	// SafeTag is the tag that marks a workload safe to power down
	SafeTag string
	// GracePeriod is the minimum dwell time in the grace state before a
	// shutdown is confirmed
	GracePeriod time.Duration
	// MinUptime guards against shutting a node down right after boot
	MinUptime time.Duration
	// WorkloadTimeout bounds each workload power-off in the cascade
	WorkloadTimeout time.Duration
	// DryRun logs the shutdown decision without acting on it
	DryRun bool
}

// Detector drives the per-node idle state machine. Each poll of a node
// fetches a fresh snapshot, classifies the running workloads and advances
// the state machine; the only side effects happen on the transition into
// ShuttingDown, where the cascade orchestrator powers down the node's
// non-critical workloads and then the node itself.
type Detector struct {
	api    proxmox.API
	orch   *cascade.Orchestrator
	store  *Store
	broker *events.Broker
	clock  types.Clock
	cfg    Config
	logger zerolog.Logger
}

// NewDetector creates an idle detector. The store is injected so tests can
// inspect and pre-seed node states; broker may be nil.
func NewDetector(api proxmox.API, orch *cascade.Orchestrator, store *Store, broker *events.Broker, clock types.Clock, cfg Config, logger zerolog.Logger) *Detector {
	return &Detector{
		api:    api,
		orch:   orch,
		store:  store,
		broker: broker,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// CheckNode evaluates the state machine for one node, once. Transitions:
//
//	Active       -> Grace         no critical workload observed
//	Grace        -> Active        a critical workload reappeared
//	Grace        -> ShuttingDown  grace period elapsed
//	ShuttingDown -> Active        node seen freshly booted (uptime below minimum)
//
// A node below minimum uptime is forced to Active regardless of workload
// classification.
func (d *Detector) CheckNode(ctx context.Context, node string) error {
	ns := d.store.get(node)
	logger := d.logger.With().Str("node", node).Logger()

	uptime, err := d.api.NodeUptime(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to get uptime of %s: %w", node, err)
	}

	if uptime < d.cfg.MinUptime {
		if ns.state != types.IdleActive {
			logger.Info().
				Dur("uptime", uptime).
				Dur("min_uptime", d.cfg.MinUptime).
				Str("previous_state", string(ns.state)).
				Msg("node freshly booted, resetting to active")
			d.transition(ns, node, types.IdleActive, events.TypeNodeUptimeLow)
		}
		return nil
	}

	// A node already being shut down is not evaluated again; the detector
	// must never issue a second power-off for it.
	if ns.state == types.IdleShuttingDown {
		return nil
	}

	workloads, err := d.runningWorkloads(ctx, node)
	if err != nil {
		return err
	}

	anyCritical := classify.AnyCritical(workloads, d.cfg.SafeTag)
	now := d.clock.Now()

	switch ns.state {
	case types.IdleActive:
		if !anyCritical {
			ns.graceEntered = now
			logger.Info().
				Dur("grace_period", d.cfg.GracePeriod).
				Int("workloads", len(workloads)).
				Msg("node idle, grace countdown started")
			d.transition(ns, node, types.IdleGrace, events.TypeNodeGrace)
		}

	case types.IdleGrace:
		if anyCritical {
			// Flapping guard: the countdown is discarded, not paused.
			logger.Info().Msg("critical workload reappeared, grace countdown canceled")
			d.transition(ns, node, types.IdleActive, events.TypeNodeActive)
			return nil
		}
		elapsed := now.Sub(ns.graceEntered)
		if elapsed < d.cfg.GracePeriod {
			logger.Debug().
				Dur("remaining", d.cfg.GracePeriod-elapsed).
				Msg("grace period running")
			return nil
		}
		logger.Warn().
			Dur("idle_for", elapsed).
			Msg("grace period elapsed, initiating node shutdown")
		d.transition(ns, node, types.IdleShuttingDown, events.TypeNodeShutdown)
		return d.shutdownNode(ctx, node, workloads, ns)
	}

	return nil
}

// shutdownNode runs the single-stage cascade for the node's non-critical
// workloads and then powers the node off. The node power-off is withheld
// when any workload failed or timed out: a stuck workload means the node
// may still be doing work.
func (d *Detector) shutdownNode(ctx context.Context, node string, workloads []types.Workload, ns *nodeState) error {
	logger := d.logger.With().Str("node", node).Logger()

	safe := classify.SafeRunning(workloads, d.cfg.SafeTag)
	ids := make([]int, 0, len(safe))
	for _, w := range safe {
		ids = append(ids, w.ID)
	}

	plan := types.ShutdownPlan{
		Stages: []types.Stage{{
			Name:        fmt.Sprintf("%s-idle-shutdown", node),
			WorkloadIDs: ids,
		}},
	}

	report, err := d.orch.Execute(ctx, plan, nil, cascade.Options{
		PerWorkloadTimeout: d.cfg.WorkloadTimeout,
		DryRun:             d.cfg.DryRun,
	})
	if err != nil {
		return fmt.Errorf("cascade for %s failed: %w", node, err)
	}

	if d.cfg.DryRun {
		logger.Warn().
			Bool("dry_run", true).
			Int("workloads", len(ids)).
			Msg("would power off node")
		// Return to Active so the cycle can be exercised repeatedly.
		d.transition(ns, node, types.IdleActive, events.TypeNodeActive)
		return nil
	}

	if !report.Clean() {
		logger.Error().
			Int("failed", len(report.Failed())).
			Str("report_id", report.ID).
			Msg("workload cascade incomplete, withholding node power-off")
		return nil
	}

	if err := d.api.PowerOffNode(ctx, node); err != nil {
		return fmt.Errorf("failed to power off node %s: %w", node, err)
	}
	logger.Warn().Msg("node power-off issued")
	return nil
}

// runningWorkloads fetches the node's workloads with tags resolved for the
// running ones.
func (d *Detector) runningWorkloads(ctx context.Context, node string) ([]types.Workload, error) {
	workloads, err := d.api.ListWorkloads(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("failed to list workloads on %s: %w", node, err)
	}

	for i := range workloads {
		if !workloads[i].Running() {
			continue
		}
		tags, err := d.api.GetTags(ctx, node, workloads[i].ID, workloads[i].Kind)
		if err != nil {
			return nil, fmt.Errorf("failed to get tags of workload %d: %w", workloads[i].ID, err)
		}
		workloads[i].Tags = tags
	}
	return workloads, nil
}

func (d *Detector) transition(ns *nodeState, node string, to types.IdleState, eventType events.Type) {
	from := ns.state
	ns.state = to
	if from != to && d.broker != nil {
		d.broker.Publish(eventType, node, map[string]string{
			"from": string(from),
			"to":   string(to),
		})
	}
}
