package main

import (
	"fmt"

	"github.com/pvetools/pvepower/pkg/cascade"
	"github.com/pvetools/pvepower/pkg/events"
	"github.com/pvetools/pvepower/pkg/log"
	"github.com/pvetools/pvepower/pkg/metrics"
	"github.com/pvetools/pvepower/pkg/schedule"
	"github.com/pvetools/pvepower/pkg/supervisor"
	"github.com/pvetools/pvepower/pkg/types"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the scheduled cascading shutdown watcher",
	Long: `Poll the wall clock at the configured interval and execute the
configured shutdown_order cascade once per day at shutdown_time,
regardless of node idleness. Excluded workload ids are never touched.`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringP("config", "c", "config.yml", "Path to config file")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		log.Warn("service is disabled (enabled: false), exiting")
		return nil
	}

	at, ok := cfg.ShutdownAt()
	if !ok {
		return fmt.Errorf("invalid configuration: shutdown_time is required for the scheduled watcher")
	}
	if len(cfg.ShutdownOrder) == 0 {
		return fmt.Errorf("invalid configuration: shutdown_order must list at least one stage")
	}

	api, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	metrics.Register()
	collector := metrics.NewCollector(broker)
	collector.Start()
	defer collector.Stop()
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.ListenAddr); err != nil {
				log.Errorf("metrics server stopped", err)
			}
		}()
	}

	orch := cascade.NewOrchestrator(api, broker, log.WithComponent("cascade"))
	trigger := schedule.NewTrigger(orch, broker, types.RealClock{}, schedule.Config{
		At:              at,
		Plan:            cfg.Plan(),
		Exclusions:      cfg.Exclusions(),
		WorkloadTimeout: cfg.WorkloadTimeoutDuration(),
		DryRun:          cfg.DryRun,
	}, log.WithComponent("schedule"))

	if cfg.DryRun {
		log.Warn("dry-run mode active, no power state will be changed")
	}
	log.Logger.Info().
		Int("hour", at.Hour).
		Int("minute", at.Minute).
		Int("stages", len(cfg.ShutdownOrder)).
		Msg("scheduled shutdown watcher starting")

	ctx, cancel := signalContext()
	defer cancel()

	sup := supervisor.New(trigger.Tick, broker, supervisor.Config{
		Interval:             cfg.CheckIntervalDuration(),
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	}, log.WithComponent("supervisor"))

	return sup.Run(ctx)
}
