package schedule

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

// fakeClock is a manually set clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeAPI records workload power-offs
type fakeAPI struct {
	mu         sync.Mutex
	poweredOff []int
}

func (f *fakeAPI) ListNodes(ctx context.Context) ([]types.Node, error) {
	return []types.Node{{Name: "pve01", State: types.PowerStateRunning}}, nil
}

func (f *fakeAPI) ListWorkloads(ctx context.Context, node string) ([]types.Workload, error) {
	return []types.Workload{
		{ID: 100, Node: "pve01", Kind: types.KindVM, State: types.PowerStateRunning},
		{ID: 110, Node: "pve01", Kind: types.KindContainer, State: types.PowerStateRunning},
	}, nil
}

func (f *fakeAPI) GetTags(ctx context.Context, node string, id int, kind types.WorkloadKind) ([]string, error) {
	return nil, nil
}

func (f *fakeAPI) SetTags(ctx context.Context, node string, id int, kind types.WorkloadKind, tags []string) error {
	return nil
}

func (f *fakeAPI) PowerOffWorkload(ctx context.Context, node string, id int, kind types.WorkloadKind, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poweredOff = append(f.poweredOff, id)
	return nil
}

func (f *fakeAPI) PowerOffNode(ctx context.Context, node string) error { return nil }

func (f *fakeAPI) NodeUptime(ctx context.Context, node string) (time.Duration, error) {
	return time.Hour, nil
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.poweredOff)
}

func newTestTrigger(api *fakeAPI, clock types.Clock, hour, minute int) *Trigger {
	orch := cascade.NewOrchestrator(api, nil, zerolog.Nop())
	return NewTrigger(orch, nil, clock, Config{
		At:   TimeOfDay{Hour: hour, Minute: minute},
		Plan: types.ShutdownPlan{Stages: []types.Stage{{Name: "all", WorkloadIDs: []int{100, 110}}}},
	}, zerolog.Nop())
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 1, hour, minute, 0, 0, time.UTC)
}

func TestTriggerFiresOncePerDay(t *testing.T) {
	api := &fakeAPI{}
	clock := &fakeClock{now: at(21, 0)}
	trigger := newTestTrigger(api, clock, 22, 0)

	// Before the target: nothing.
	require.NoError(t, trigger.Tick(context.Background()))
	assert.Zero(t, api.count())

	// At the target: the plan runs.
	clock.Set(at(22, 0))
	require.NoError(t, trigger.Tick(context.Background()))
	assert.Equal(t, 2, api.count())

	// Repeated ticks within the window do not re-fire.
	for _, minute := range []int{1, 2, 4} {
		clock.Set(at(22, minute))
		require.NoError(t, trigger.Tick(context.Background()))
	}
	assert.Equal(t, 2, api.count())

	// The next day it fires again.
	clock.Set(at(22, 1).AddDate(0, 0, 1))
	require.NoError(t, trigger.Tick(context.Background()))
	assert.Equal(t, 4, api.count())
}

func TestTriggerFiresWithinWindowOnly(t *testing.T) {
	tests := []struct {
		name     string
		tickAt   time.Time
		expected bool
	}{
		{name: "exactly on target", tickAt: at(22, 0), expected: true},
		{name: "three minutes late", tickAt: at(22, 3), expected: true},
		{name: "one minute early", tickAt: at(21, 59), expected: false},
		{name: "past the window", tickAt: at(22, 6), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			clock := &fakeClock{now: tt.tickAt}
			trigger := newTestTrigger(api, clock, 22, 0)

			require.NoError(t, trigger.Tick(context.Background()))
			fired := api.count() > 0
			assert.Equal(t, tt.expected, fired)
		})
	}
}

func TestTriggerLateFirstTickStillFires(t *testing.T) {
	// A poll interval of minutes must not miss the target just because no
	// tick landed on the exact minute.
	api := &fakeAPI{}
	clock := &fakeClock{now: at(22, 4)}
	trigger := newTestTrigger(api, clock, 22, 0)

	require.NoError(t, trigger.Tick(context.Background()))
	assert.Equal(t, 2, api.count())
}
