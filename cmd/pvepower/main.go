package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pvetools/pvepower/pkg/config"
	"github.com/pvetools/pvepower/pkg/log"
	"github.com/pvetools/pvepower/pkg/proxmox"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pvepower",
	Short: "pvepower - automated power management for Proxmox VE clusters",
	Long: `pvepower watches a Proxmox VE cluster and powers nodes down safely:
idle nodes running only safe-shutdown tagged workloads are drained and
shut off after a grace period, and configured workload groups are shut
down in cascading stages at a scheduled time of day.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pvepower version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(tagCmd)
}

// loadConfig loads and validates the config file named by the command's
// --config flag and initializes logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	return cfg, nil
}

// newAPIClient builds the Proxmox client from config
func newAPIClient(cfg *config.Config) (proxmox.API, error) {
	if cfg.API.Host == "" || cfg.API.User == "" || cfg.API.TokenName == "" || cfg.API.TokenValue == "" {
		return nil, fmt.Errorf("incomplete Proxmox credentials: set api.host/api.user/api.token_name and PVE_TOKEN_VALUE")
	}
	return proxmox.NewClient(proxmox.ClientConfig{
		Host:       cfg.API.Host,
		User:       cfg.API.User,
		TokenName:  cfg.API.TokenName,
		TokenValue: cfg.API.TokenValue,
		VerifyTLS:  cfg.API.VerifyTLS,
		Timeout:    30 * time.Second,
	}), nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
