package classify

import (
	"testing"

	"github.com/pvetools/pvepower/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		safeTag  string
		expected types.Criticality
	}{
		{
			name:     "safe tag present",
			tags:     []string{"backup", "safe-shutdown"},
			safeTag:  "safe-shutdown",
			expected: types.NonCritical,
		},
		{
			name:     "safe tag absent",
			tags:     []string{"backup", "production"},
			safeTag:  "safe-shutdown",
			expected: types.Critical,
		},
		{
			name:     "empty tag set is critical",
			tags:     nil,
			safeTag:  "safe-shutdown",
			expected: types.Critical,
		},
		{
			name:     "match is case sensitive",
			tags:     []string{"Safe-Shutdown"},
			safeTag:  "safe-shutdown",
			expected: types.Critical,
		},
		{
			name:     "match is exact not prefix",
			tags:     []string{"safe-shutdown-later"},
			safeTag:  "safe-shutdown",
			expected: types.Critical,
		},
		{
			name:     "only the safe tag",
			tags:     []string{"safe-shutdown"},
			safeTag:  "safe-shutdown",
			expected: types.NonCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.tags, tt.safeTag))
		})
	}
}

func TestAnyCritical(t *testing.T) {
	tests := []struct {
		name      string
		workloads []types.Workload
		expected  bool
	}{
		{
			name: "critical workload running",
			workloads: []types.Workload{
				{ID: 100, State: types.PowerStateRunning, Tags: []string{"production"}},
				{ID: 101, State: types.PowerStateRunning, Tags: []string{"safe-shutdown"}},
			},
			expected: true,
		},
		{
			name: "only tagged workloads running",
			workloads: []types.Workload{
				{ID: 100, State: types.PowerStateRunning, Tags: []string{"safe-shutdown"}},
				{ID: 101, State: types.PowerStateRunning, Tags: []string{"safe-shutdown", "lab"}},
			},
			expected: false,
		},
		{
			name: "stopped critical workload does not count",
			workloads: []types.Workload{
				{ID: 100, State: types.PowerStateStopped, Tags: nil},
				{ID: 101, State: types.PowerStateRunning, Tags: []string{"safe-shutdown"}},
			},
			expected: false,
		},
		{
			name:      "no workloads at all",
			workloads: nil,
			expected:  false,
		},
		{
			name: "untagged running workload is critical",
			workloads: []types.Workload{
				{ID: 100, State: types.PowerStateRunning},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AnyCritical(tt.workloads, "safe-shutdown"))
		})
	}
}

func TestSafeRunning(t *testing.T) {
	workloads := []types.Workload{
		{ID: 100, State: types.PowerStateRunning, Tags: []string{"safe-shutdown"}},
		{ID: 101, State: types.PowerStateStopped, Tags: []string{"safe-shutdown"}},
		{ID: 102, State: types.PowerStateRunning, Tags: []string{"production"}},
		{ID: 103, State: types.PowerStateRunning, Tags: []string{"lab", "safe-shutdown"}},
	}

	safe := SafeRunning(workloads, "safe-shutdown")

	ids := make([]int, 0, len(safe))
	for _, w := range safe {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []int{100, 103}, ids)
}
