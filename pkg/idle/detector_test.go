package idle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pvetools/pvepower/pkg/cascade"
	"github.com/pvetools/pvepower/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCluster is an in-memory cluster for detector tests
type fakeCluster struct {
	mu            sync.Mutex
	uptime        map[string]time.Duration
	workloads     map[string][]types.Workload
	poweredOff    []int
	nodesPowered  []string
	powerOffError error
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		uptime:    make(map[string]time.Duration),
		workloads: make(map[string][]types.Workload),
	}
}

func (f *fakeCluster) ListNodes(ctx context.Context) ([]types.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var nodes []types.Node
	for name, up := range f.uptime {
		nodes = append(nodes, types.Node{Name: name, State: types.PowerStateRunning, Uptime: up})
	}
	return nodes, nil
}

func (f *fakeCluster) ListWorkloads(ctx context.Context, node string) ([]types.Workload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Tags travel separately, as with the real API.
	stripped := make([]types.Workload, len(f.workloads[node]))
	for i, w := range f.workloads[node] {
		w.Tags = nil
		stripped[i] = w
	}
	return stripped, nil
}

func (f *fakeCluster) GetTags(ctx context.Context, node string, id int, kind types.WorkloadKind) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workloads[node] {
		if w.ID == id {
			return w.Tags, nil
		}
	}
	return nil, nil
}

func (f *fakeCluster) SetTags(ctx context.Context, node string, id int, kind types.WorkloadKind, tags []string) error {
	return nil
}

func (f *fakeCluster) PowerOffWorkload(ctx context.Context, node string, id int, kind types.WorkloadKind, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.powerOffError != nil {
		return f.powerOffError
	}
	f.poweredOff = append(f.poweredOff, id)
	return nil
}

func (f *fakeCluster) PowerOffNode(ctx context.Context, node string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodesPowered = append(f.nodesPowered, node)
	return nil
}

func (f *fakeCluster) NodeUptime(ctx context.Context, node string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uptime[node], nil
}

func (f *fakeCluster) setWorkloads(node string, workloads ...types.Workload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workloads[node] = workloads
}

func (f *fakeCluster) nodePowerOffs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.nodesPowered...)
}

func (f *fakeCluster) workloadPowerOffs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.poweredOff...)
}

func critical(id int) types.Workload {
	return types.Workload{ID: id, Node: "pve01", Kind: types.KindVM, State: types.PowerStateRunning, Tags: []string{"production"}}
}

func tagged(id int) types.Workload {
	return types.Workload{ID: id, Node: "pve01", Kind: types.KindVM, State: types.PowerStateRunning, Tags: []string{"safe-shutdown"}}
}

func newTestDetector(cluster *fakeCluster, clock types.Clock, dryRun bool) (*Detector, *Store) {
	store := NewStore()
	orch := cascade.NewOrchestrator(cluster, nil, zerolog.Nop())
	detector := NewDetector(cluster, orch, store, nil, clock, Config{
		SafeTag:         "safe-shutdown",
		GracePeriod:     60 * time.Second,
		MinUptime:       10 * time.Minute,
		WorkloadTimeout: time.Second,
		DryRun:          dryRun,
	}, zerolog.Nop())
	return detector, store
}

func TestCriticalWorkloadsKeepNodeActive(t *testing.T) {
	cluster := newFakeCluster()
	cluster.uptime["pve01"] = time.Hour
	cluster.setWorkloads("pve01", critical(100), critical(101))

	clock := newFakeClock()
	detector, store := newTestDetector(cluster, clock, false)

	// Poll for a long while; state must never leave Active.
	for i := 0; i < 20; i++ {
		require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
		assert.Equal(t, types.IdleActive, store.State("pve01"))
		clock.Advance(10 * time.Second)
	}
	assert.Empty(t, cluster.nodePowerOffs())
}

func TestIdleNodeShutsDownAfterGracePeriod(t *testing.T) {
	cluster := newFakeCluster()
	cluster.uptime["pve01"] = time.Hour
	cluster.setWorkloads("pve01", tagged(110), tagged(111))

	clock := newFakeClock()
	detector, store := newTestDetector(cluster, clock, false)

	// t=0: enters grace.
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	assert.Equal(t, types.IdleGrace, store.State("pve01"))

	// Polled every 10s until t=50: still grace, nothing powered off.
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
		assert.Equal(t, types.IdleGrace, store.State("pve01"))
	}
	assert.Empty(t, cluster.workloadPowerOffs())

	// t=60: grace elapsed, cascade runs and the node is powered off.
	clock.Advance(10 * time.Second)
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	assert.Equal(t, types.IdleShuttingDown, store.State("pve01"))
	assert.ElementsMatch(t, []int{110, 111}, cluster.workloadPowerOffs())
	assert.Equal(t, []string{"pve01"}, cluster.nodePowerOffs())
}

func TestCriticalWorkloadCancelsGraceCountdown(t *testing.T) {
	cluster := newFakeCluster()
	cluster.uptime["pve01"] = time.Hour
	cluster.setWorkloads("pve01", tagged(110))

	clock := newFakeClock()
	detector, store := newTestDetector(cluster, clock, false)

	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	assert.Equal(t, types.IdleGrace, store.State("pve01"))

	// 50s into the countdown a critical workload appears.
	clock.Advance(50 * time.Second)
	cluster.setWorkloads("pve01", tagged(110), critical(100))
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	assert.Equal(t, types.IdleActive, store.State("pve01"))

	// It disappears again; the countdown starts from scratch, so 50s
	// later the node is still in grace.
	cluster.setWorkloads("pve01", tagged(110))
	clock.Advance(10 * time.Second)
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	assert.Equal(t, types.IdleGrace, store.State("pve01"))

	clock.Advance(50 * time.Second)
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	assert.Equal(t, types.IdleGrace, store.State("pve01"))
	assert.Empty(t, cluster.nodePowerOffs())

	// Full fresh grace period elapses, now it shuts down.
	clock.Advance(10 * time.Second)
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	assert.Equal(t, types.IdleShuttingDown, store.State("pve01"))
}

func TestFreshlyBootedNodeStaysActive(t *testing.T) {
	cluster := newFakeCluster()
	cluster.uptime["pve01"] = 2 * time.Minute
	cluster.setWorkloads("pve01") // no workloads at all

	clock := newFakeClock()
	detector, store := newTestDetector(cluster, clock, false)

	for i := 0; i < 10; i++ {
		require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
		assert.Equal(t, types.IdleActive, store.State("pve01"))
		clock.Advance(30 * time.Second)
	}
	assert.Empty(t, cluster.nodePowerOffs())
}

func TestShuttingDownNodeIsNotEvaluatedAgain(t *testing.T) {
	cluster := newFakeCluster()
	cluster.uptime["pve01"] = time.Hour
	cluster.setWorkloads("pve01", tagged(110))

	clock := newFakeClock()
	detector, store := newTestDetector(cluster, clock, false)

	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	clock.Advance(61 * time.Second)
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	require.Equal(t, types.IdleShuttingDown, store.State("pve01"))
	require.Equal(t, []string{"pve01"}, cluster.nodePowerOffs())

	// Further polls must not issue a second power-off.
	for i := 0; i < 5; i++ {
		clock.Advance(30 * time.Second)
		require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	}
	assert.Equal(t, []string{"pve01"}, cluster.nodePowerOffs())
}

func TestRebootedNodeResetsToActive(t *testing.T) {
	cluster := newFakeCluster()
	cluster.uptime["pve01"] = time.Hour
	cluster.setWorkloads("pve01", tagged(110))

	clock := newFakeClock()
	detector, store := newTestDetector(cluster, clock, false)

	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	clock.Advance(61 * time.Second)
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	require.Equal(t, types.IdleShuttingDown, store.State("pve01"))

	// The node comes back up with a fresh uptime.
	cluster.mu.Lock()
	cluster.uptime["pve01"] = 30 * time.Second
	cluster.mu.Unlock()

	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	assert.Equal(t, types.IdleActive, store.State("pve01"))
}

func TestDryRunReturnsToActiveWithoutPowerOff(t *testing.T) {
	cluster := newFakeCluster()
	cluster.uptime["pve01"] = time.Hour
	cluster.setWorkloads("pve01", tagged(110))

	clock := newFakeClock()
	detector, store := newTestDetector(cluster, clock, true)

	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	clock.Advance(61 * time.Second)
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))

	// Back to Active so the cycle can be exercised repeatedly.
	assert.Equal(t, types.IdleActive, store.State("pve01"))
	assert.Empty(t, cluster.workloadPowerOffs())
	assert.Empty(t, cluster.nodePowerOffs())
}

func TestNodePowerOffWithheldOnCascadeFailure(t *testing.T) {
	cluster := newFakeCluster()
	cluster.uptime["pve01"] = time.Hour
	cluster.setWorkloads("pve01", tagged(110))
	cluster.powerOffError = assert.AnError

	clock := newFakeClock()
	detector, store := newTestDetector(cluster, clock, false)

	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))
	clock.Advance(61 * time.Second)
	require.NoError(t, detector.CheckNode(context.Background(), "pve01"))

	assert.Equal(t, types.IdleShuttingDown, store.State("pve01"))
	assert.Empty(t, cluster.nodePowerOffs(), "node power-off must be withheld when a workload failed")
}
