package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pvetools/pvepower/pkg/proxmox"
	"github.com/pvetools/pvepower/pkg/types"
	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage workload tags",
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workloads with their tags",
	RunE:  runTagList,
}

var tagAddCmd = &cobra.Command{
	Use:   "add <tag> <vmid> [vmid...]",
	Short: "Add a tag to the given workloads",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTagEdit(cmd, args, true)
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "remove <tag> <vmid> [vmid...]",
	Short: "Remove a tag from the given workloads",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTagEdit(cmd, args, false)
	},
}

func init() {
	for _, c := range []*cobra.Command{tagListCmd, tagAddCmd, tagRemoveCmd} {
		c.Flags().StringP("config", "c", "config.yml", "Path to config file")
	}
	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagRemoveCmd)
}

func runTagList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	api, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	nodes, err := api.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	fmt.Printf("%-10s %-8s %-12s %-20s %s\n", "KIND", "VMID", "NODE", "NAME", "TAGS")
	for _, node := range nodes {
		workloads, err := api.ListWorkloads(ctx, node.Name)
		if err != nil {
			return fmt.Errorf("failed to list workloads on %s: %w", node.Name, err)
		}
		for _, w := range workloads {
			tags, err := api.GetTags(ctx, w.Node, w.ID, w.Kind)
			if err != nil {
				return fmt.Errorf("failed to get tags of workload %d: %w", w.ID, err)
			}
			display := "-"
			if len(tags) > 0 {
				display = strings.Join(tags, ", ")
			}
			fmt.Printf("%-10s %-8d %-12s %-20s %s\n", w.Kind, w.ID, w.Node, w.Name, display)
		}
	}
	return nil
}

func runTagEdit(cmd *cobra.Command, args []string, add bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	api, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	tag := args[0]
	ids := make([]int, 0, len(args)-1)
	for _, raw := range args[1:] {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid vmid %q", raw)
		}
		ids = append(ids, id)
	}

	ctx, cancel := signalContext()
	defer cancel()

	for _, id := range ids {
		w, err := findWorkload(ctx, api, id)
		if err != nil {
			return err
		}

		tags, err := api.GetTags(ctx, w.Node, w.ID, w.Kind)
		if err != nil {
			return fmt.Errorf("failed to get tags of workload %d: %w", id, err)
		}

		updated, changed := editTags(tags, tag, add)
		if !changed {
			fmt.Printf("%s %d: unchanged\n", w.Kind, id)
			continue
		}
		if err := api.SetTags(ctx, w.Node, w.ID, w.Kind, updated); err != nil {
			return fmt.Errorf("failed to set tags of workload %d: %w", id, err)
		}
		fmt.Printf("%s %d: tags now [%s]\n", w.Kind, id, strings.Join(updated, ", "))
	}
	return nil
}

// editTags returns the tag set with tag added or removed, and whether
// anything changed.
func editTags(tags []string, tag string, add bool) ([]string, bool) {
	for i, existing := range tags {
		if existing != tag {
			continue
		}
		if add {
			return tags, false
		}
		return append(tags[:i:i], tags[i+1:]...), true
	}
	if !add {
		return tags, false
	}
	return append(append([]string(nil), tags...), tag), true
}

// findWorkload scans the cluster for the workload with the given id
func findWorkload(ctx context.Context, api proxmox.API, id int) (types.Workload, error) {
	nodes, err := api.ListNodes(ctx)
	if err != nil {
		return types.Workload{}, fmt.Errorf("failed to list nodes: %w", err)
	}
	for _, node := range nodes {
		workloads, err := api.ListWorkloads(ctx, node.Name)
		if err != nil {
			return types.Workload{}, fmt.Errorf("failed to list workloads on %s: %w", node.Name, err)
		}
		for _, w := range workloads {
			if w.ID == id {
				return w, nil
			}
		}
	}
	return types.Workload{}, fmt.Errorf("workload %d not found in cluster", id)
}
