package schedule

import (
	"context"
	"time"

	"github.com/pvetools/pvepower/pkg/cascade"
	"github.com/pvetools/pvepower/pkg/events"
	"github.com/pvetools/pvepower/pkg/types"
	"github.com/rs/zerolog"
)

// matchWindow is how far past the target time a tick may still trigger the
// plan. Poll intervals can be longer than a minute, so an exact minute
// comparison would miss the target on most ticks.
const matchWindow = 5 * time.Minute

// TimeOfDay is a wall-clock trigger time
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Config holds the scheduled trigger settings
type Config struct {
	At              TimeOfDay
	Plan            types.ShutdownPlan
	Exclusions      types.ExclusionSet
	WorkloadTimeout time.Duration
	DryRun          bool
}

// Trigger fires the configured shutdown plan once per day when the wall
// clock passes the target time. The comparison is level-triggered and
// evaluated once per poll tick; a fired-date latch prevents re-firing for
// the remainder of the match window.
type Trigger struct {
	orch    *cascade.Orchestrator
	broker  *events.Broker
	clock   types.Clock
	cfg     Config
	logger  zerolog.Logger
	firedOn string
}

// NewTrigger creates a scheduled trigger; broker may be nil
func NewTrigger(orch *cascade.Orchestrator, broker *events.Broker, clock types.Clock, cfg Config, logger zerolog.Logger) *Trigger {
	return &Trigger{
		orch:   orch,
		broker: broker,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Tick evaluates the trigger once. No idleness check is involved; this path
// is purely time-driven.
func (t *Trigger) Tick(ctx context.Context) error {
	now := t.clock.Now()
	if !t.due(now) {
		return nil
	}
	t.firedOn = now.Format("2006-01-02")

	t.logger.Info().
		Int("hour", t.cfg.At.Hour).
		Int("minute", t.cfg.At.Minute).
		Bool("dry_run", t.cfg.DryRun).
		Msg("shutdown time reached, executing plan")
	if t.broker != nil {
		t.broker.Publish(events.TypeScheduleTriggered, t.firedOn, nil)
	}

	report, err := t.orch.Execute(ctx, t.cfg.Plan, t.cfg.Exclusions, cascade.Options{
		PerWorkloadTimeout: t.cfg.WorkloadTimeout,
		DryRun:             t.cfg.DryRun,
	})
	if err != nil {
		return err
	}
	if !report.Clean() {
		t.logger.Warn().
			Str("report_id", report.ID).
			Int("failed", len(report.Failed())).
			Msg("scheduled shutdown finished with failures")
	}
	return nil
}

// due reports whether the target time has been reached today and the plan
// has not fired yet.
func (t *Trigger) due(now time.Time) bool {
	if t.firedOn == now.Format("2006-01-02") {
		return false
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), t.cfg.At.Hour, t.cfg.At.Minute, 0, 0, now.Location())
	return !now.Before(target) && now.Sub(target) <= matchWindow
}
