package cspace

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBalancedAllocFreeReturnsToInitialState sweeps bounded random
// alloc/free interleavings and checks that every balanced sequence of
// alloc/free pairs returns the cspace's bitmaps (the top bitmap and the
// bitmap of table 0, where every allocation here lands) to their
// initial state: only slot 0 and the watermark's slots set. A
// randomized sweep rather than a fixed table of
// cases, since the invariant under test is closed over an unbounded
// interleaving space.
func TestBalancedAllocFreeReturnsToInitialState(t *testing.T) {
	kernel := &fakeKernel{}
	boot := newPrimordialForTest(kernel, newFakeSupplier())
	h, err := CreateTwoLevel(boot, kernel, newFakeSupplier().asSupplier())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	before := h.Stats()
	tbl := h.nodes[0].tableBitmap(0)
	snapshot := func() []bool {
		bits := make([]bool, tbl.Width())
		for i := range bits {
			bits[i] = tbl.IsSet(uint(i))
		}
		return bits
	}
	initial := snapshot()

	for round := 0; round < 200; round++ {
		var held []SlotName
		steps := rng.Intn(40)
		for i := 0; i < steps; i++ {
			if len(held) > 0 && rng.Intn(2) == 0 {
				idx := rng.Intn(len(held))
				require.NoError(t, h.FreeSlot(held[idx]))
				held = append(held[:idx], held[idx+1:]...)
				continue
			}
			name, err := h.AllocSlot()
			require.NoError(t, err)
			held = append(held, name)
		}
		for _, name := range held {
			require.NoError(t, h.FreeSlot(name))
		}
	}

	after := h.Stats()
	require.Equal(t, before.TopSlotsUsed, after.TopSlotsUsed)
	require.Equal(t, initial, snapshot(), "table 0 bitmap must return to its initial state")
}
