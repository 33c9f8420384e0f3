// freeslots_test.go -- free-slot remap closure
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package pthash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFillFreeSlots(t *testing.T) {
	const numKeys = 10000
	const tableSize = 10700

	// a random occupancy with exactly numKeys bits set
	taken := newBitVector(tableSize)
	set := uint64(0)
	for set < numKeys {
		i := rand64() % tableSize
		if !taken.IsSet(i) {
			taken.Set(i)
			set++
		}
	}

	freeSlots := fillFreeSlots(taken, numKeys, tableSize)
	require.Len(t, freeSlots, tableSize-numKeys)

	// every occupied tail slot redirects to a distinct hole below numKeys
	seen := make(map[uint64]bool)
	for i := uint64(numKeys); i != tableSize; i++ {
		v := freeSlots[i-numKeys]
		require.Less(t, v, uint64(numKeys), "slot %d redirects out of range", i)
		if taken.IsSet(i) {
			require.False(t, taken.IsSet(v), "slot %d redirects to an occupied hole %d", i, v)
			require.False(t, seen[v], "hole %d reused", v)
			seen[v] = true
		}
	}

	// monotone, so the Elias-Fano encoding applies
	for i := 1; i < len(freeSlots); i++ {
		require.GreaterOrEqual(t, freeSlots[i], freeSlots[i-1])
	}

	require.Nil(t, fillFreeSlots(taken, tableSize, tableSize))
}
