package main

import (
	"fmt"

	"github.com/pvetools/pvepower/pkg/cascade"
	"github.com/pvetools/pvepower/pkg/log"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work with the configured shutdown plan",
}

var planRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the configured shutdown plan once, immediately",
	Long: `Execute the shutdown_order cascade right now, without waiting for
shutdown_time. Useful together with --dry-run to rehearse a plan and see
exactly which workloads each stage would touch.`,
	RunE: runPlanRun,
}

func init() {
	planRunCmd.Flags().StringP("config", "c", "config.yml", "Path to config file")
	planRunCmd.Flags().Bool("dry-run", false, "Force dry-run regardless of config")
	planCmd.AddCommand(planRunCmd)
}

func runPlanRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.ShutdownOrder) == 0 {
		return fmt.Errorf("invalid configuration: shutdown_order must list at least one stage")
	}

	dryRun := cfg.DryRun
	if forced, _ := cmd.Flags().GetBool("dry-run"); forced {
		dryRun = true
	}

	api, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch := cascade.NewOrchestrator(api, nil, log.WithComponent("cascade"))
	report, err := orch.Execute(ctx, cfg.Plan(), cfg.Exclusions(), cascade.Options{
		PerWorkloadTimeout: cfg.WorkloadTimeoutDuration(),
		DryRun:             dryRun,
	})
	if err != nil {
		return fmt.Errorf("plan execution failed: %w", err)
	}

	fmt.Printf("Report %s (dry-run: %v)\n", report.ID, report.DryRun)
	for _, stage := range report.Stages {
		fmt.Printf("\nStage %s:\n", stage.Name)
		for _, res := range stage.Results {
			line := fmt.Sprintf("  %-10s %-6d %-12s %s", res.Kind, res.WorkloadID, res.Node, res.Outcome)
			if res.Reason != "" {
				line += fmt.Sprintf(" (%s)", res.Reason)
			}
			fmt.Println(line)
		}
		if stage.Waited > 0 {
			fmt.Printf("  waited %s before next stage\n", stage.Waited)
		}
	}

	if !report.Clean() {
		return fmt.Errorf("%d workload(s) failed or timed out", len(report.Failed()))
	}
	return nil
}
