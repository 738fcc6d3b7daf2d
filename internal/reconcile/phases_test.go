package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEditMachineTransitions(t *testing.T) {
	m := newEditMachine()
	require.Error(t, m.advance(PhaseItemAdded))
	require.NoError(t, m.advance(PhaseEditCreated))
	require.Error(t, m.advance(PhaseCommitted))
	require.NoError(t, m.advance(PhaseItemAdded))
	require.Error(t, m.advance(PhaseStaleRemoved))

	p := m.snapshot()
	require.True(t, p.Partial())
	require.Equal(t, PhaseItemAdded, p.Last())
	require.False(t, p.StaleRemoved)

	require.NoError(t, m.advance(PhaseCommitted))
	require.False(t, m.snapshot().Partial())
	require.True(t, p.ItemAdded, "snapshots are copies")
	require.False(t, p.Committed, "snapshots are copies")
}
