package proxmox

import (
	"context"
	"time"

	"github.com/pvetools/pvepower/pkg/types"
)

// API is the contract the decision core consumes from the cluster
// management collaborator. Client implements it against the Proxmox VE REST
// API; tests implement it with in-memory fakes.
type API interface {
	// ListNodes returns a snapshot of all cluster nodes.
	ListNodes(ctx context.Context) ([]types.Node, error)
	// ListWorkloads returns all VMs and containers resident on a node.
	// Tags are not populated; fetch them with GetTags when needed.
	ListWorkloads(ctx context.Context, node string) ([]types.Workload, error)
	// GetTags returns the tag set of a workload. An untagged workload
	// yields an empty slice, not an error.
	GetTags(ctx context.Context, node string, id int, kind types.WorkloadKind) ([]string, error)
	// SetTags replaces the tag set of a workload.
	SetTags(ctx context.Context, node string, id int, kind types.WorkloadKind, tags []string) error
	// PowerOffWorkload requests a graceful shutdown of a workload. The
	// timeout is forwarded to the cluster so the guest agent enforces it
	// remotely as well.
	PowerOffWorkload(ctx context.Context, node string, id int, kind types.WorkloadKind, timeout time.Duration) error
	// PowerOffNode requests a shutdown of the node itself.
	PowerOffNode(ctx context.Context, node string) error
	// NodeUptime returns how long the node has been up.
	NodeUptime(ctx context.Context, node string) (time.Duration, error)
}
