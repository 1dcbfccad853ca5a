package idle

import (
	"sync"
	"time"

	"github.com/pvetools/pvepower/pkg/types"
)

// nodeState is the mutable idle-tracking state for a single node
type nodeState struct {
	state        types.IdleState
	graceEntered time.Time
}

// Store holds the per-node idle state. It is passed into the detector
// explicitly so state machine tests can run against synthetic nodes. The
// supervisor's single loop is the only writer; the mutex shields the
// occasional concurrent reader (metrics, status dumps).
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*nodeState
}

// NewStore creates an empty state store
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]*nodeState),
	}
}

// get returns the state entry for a node, creating it in Active state on
// first sight.
func (s *Store) get(node string) *nodeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.nodes[node]
	if !ok {
		ns = &nodeState{state: types.IdleActive}
		s.nodes[node] = ns
	}
	return ns
}

// State returns the current idle state of a node. Nodes never seen before
// report Active.
func (s *Store) State(node string) types.IdleState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ns, ok := s.nodes[node]; ok {
		return ns.state
	}
	return types.IdleActive
}

// States returns a snapshot of all tracked node states
func (s *Store) States() map[string]types.IdleState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]types.IdleState, len(s.nodes))
	for node, ns := range s.nodes {
		snapshot[node] = ns.state
	}
	return snapshot
}
