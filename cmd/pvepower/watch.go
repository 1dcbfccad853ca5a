package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/pvetools/pvepower/pkg/cascade"
	"github.com/pvetools/pvepower/pkg/config"
	"github.com/pvetools/pvepower/pkg/events"
	"github.com/pvetools/pvepower/pkg/idle"
	"github.com/pvetools/pvepower/pkg/log"
	"github.com/pvetools/pvepower/pkg/metrics"
	"github.com/pvetools/pvepower/pkg/proxmox"
	"github.com/pvetools/pvepower/pkg/supervisor"
	"github.com/pvetools/pvepower/pkg/types"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the node idle-shutdown watcher",
	Long: `Poll the cluster at a fixed interval and power off nodes that run
only safe-shutdown tagged workloads (or none at all) for longer than the
configured grace period. Each such node first gets its tagged workloads
shut down as a single cascade stage, then the node itself.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringP("config", "c", "config.yml", "Path to config file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		log.Warn("service is disabled (enabled: false), exiting")
		return nil
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

	logger := log.WithComponent("idle-detector")
	orch := cascade.NewOrchestrator(api, broker, log.WithComponent("cascade"))
	store := idle.NewStore()
	detector := idle.NewDetector(api, orch, store, broker, types.RealClock{}, idle.Config{
		SafeTag:         cfg.SafeShutdownTag,
		GracePeriod:     cfg.GracePeriodDuration(),
		MinUptime:       cfg.MinUptimeDuration(),
		WorkloadTimeout: cfg.WorkloadTimeoutDuration(),
		DryRun:          cfg.DryRun,
	}, logger)

	if cfg.DryRun {
		log.Warn("dry-run mode active, no power state will be changed")
	}

	cycle := func(ctx context.Context) error {
		return checkAllNodes(ctx, api, detector, cfg)
	}

	ctx, cancel := signalContext()
	defer cancel()

	sup := supervisor.New(cycle, broker, supervisor.Config{
		Interval:             cfg.CheckIntervalDuration(),
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	}, log.WithComponent("supervisor"))

	return sup.Run(ctx)
}

// checkAllNodes runs the idle detector for every monitored node. An empty
// monitored_nodes list means every node in the cluster.
func checkAllNodes(ctx context.Context, api proxmox.API, detector *idle.Detector, cfg *config.Config) error {
	nodeNames := cfg.MonitoredNodes
	if len(nodeNames) == 0 {
		nodes, err := api.ListNodes(ctx)
		if err != nil {
			return fmt.Errorf("failed to list nodes: %w", err)
		}
		for _, n := range nodes {
			if n.State == types.PowerStateRunning {
				nodeNames = append(nodeNames, n.Name)
			}
		}
	}

	var errs []error
	for _, node := range nodeNames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := detector.CheckNode(ctx, node); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
