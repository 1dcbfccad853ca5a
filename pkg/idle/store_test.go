package idle

import (
	"testing"

	"github.com/pvetools/pvepower/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestStoreUnknownNodeIsActive(t *testing.T) {
	store := NewStore()
	assert.Equal(t, types.IdleActive, store.State("never-seen"))
}

func TestStoreCreatesEntryOnFirstGet(t *testing.T) {
	store := NewStore()

	ns := store.get("pve01")
	assert.Equal(t, types.IdleActive, ns.state)

	// Same entry on subsequent gets; the state machine owns exactly one
	// authoritative state per node.
	ns.state = types.IdleGrace
	assert.Equal(t, types.IdleGrace, store.State("pve01"))
	assert.Same(t, ns, store.get("pve01"))
}

func TestStoreStatesSnapshot(t *testing.T) {
	store := NewStore()
	store.get("pve01").state = types.IdleGrace
	store.get("pve02").state = types.IdleShuttingDown

	states := store.States()
	assert.Equal(t, map[string]types.IdleState{
		"pve01": types.IdleGrace,
		"pve02": types.IdleShuttingDown,
	}, states)
}
