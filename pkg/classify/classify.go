// Package classify decides workload criticality from tag membership.
package classify

import (
	"github.com/pvetools/pvepower/pkg/types"
)

// Classify derives a workload's criticality from its tag set. A workload is
// NonCritical iff the configured safe-shutdown tag is present (exact,
// case-sensitive match). Absence of the tag means Critical: a workload that
// nobody explicitly exempted blocks node power-down.
func Classify(tags []string, safeTag string) types.Criticality {
	for _, tag := range tags {
		if tag == safeTag {
			return types.NonCritical
		}
	}
	return types.Critical
}

// AnyCritical reports whether any running workload in the slice classifies
// as Critical. Stopped and unknown-state workloads are ignored: they cannot
// block a power-down they are not affected by.
func AnyCritical(workloads []types.Workload, safeTag string) bool {
	for i := range workloads {
		w := &workloads[i]
		if !w.Running() {
			continue
		}
		if Classify(w.Tags, safeTag) == types.Critical {
			return true
		}
	}
	return false
}

// SafeRunning returns the running workloads that classify as NonCritical,
// i.e. the set a node-idle cascade is allowed to power down.
func SafeRunning(workloads []types.Workload, safeTag string) []types.Workload {
	var safe []types.Workload
	for i := range workloads {
		w := workloads[i]
		if w.Running() && Classify(w.Tags, safeTag) == types.NonCritical {
			safe = append(safe, w)
		}
	}
	return safe
}
