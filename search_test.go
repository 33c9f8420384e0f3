// search_test.go -- pilot search invariants
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

// runSearch maps hashes and runs the configured search, returning the
// pilots and the taken bitmap.
func runSearch(t *testing.T, hashes []Hash, numBuckets, tableSize, seed uint64,
	st SearchType, threads int) ([]uint64, *bitVector) {
	t.Helper()

	cfg := NewConfig()
	cfg.Search = st
	cfg.NumThreads = threads

	bucketer := newSkewBucketer(numBuckets)
	blocks := mapToPairs(hashes, bucketer, threads)
	bs := &bucketsStore{}
	require.NoError(t, mergePairs(blocks, bs, false))

	pilots := make([]uint64, numBuckets)
	taken := newBitVector(tableSize)
	require.NoError(t, search(uint64(len(hashes)), numBuckets, bs.numNonEmpty,
		seed, cfg, bs.iterator(), taken, pilots))
	return pilots, taken
}

// every recorded pilot must place its bucket on distinct, "its own" slots;
// the bitmap must hold exactly one bit per key
func TestSearchPilotCorrectness(t *testing.T) {
	for _, st := range []SearchType{SearchXOR, SearchAdd} {
		const numKeys = 20000
		const numBuckets = 4500
		seed := rand64()
		loadFactor := 0.97
		tableSize := uint64(float64(numKeys)/loadFactor) + 1

		hashes := randomHashes(numKeys)
		pilots, taken := runSearch(t, hashes, numBuckets, tableSize, seed, st, 1)

		require.Equal(t, uint64(numKeys), taken.Count(), "one bit per key")

		bucketer := newSkewBucketer(numBuckets)
		m := computeM64(tableSize)
		owner := make(map[uint64]uint64)
		for _, h := range hashes {
			b := bucketer.Bucket(h.First)
			pilot := pilots[b]

			var p uint64
			if st == SearchAdd {
				s, d := pilot/tableSize, pilot%tableSize
				p = displace(m.mod(h.Second^hash64Value(s, seed), tableSize), d, tableSize)
			} else {
				p = m.mod(h.Second^hash64Value(pilot, seed), tableSize)
			}

			require.True(t, taken.IsSet(p), "assigned slot %d not taken", p)
			prev, dup := owner[p]
			require.False(t, dup, "slot %d assigned to buckets %d and %d", p, prev, b)
			owner[p] = b
		}
	}
}

// parallel search must commit exactly the sequential pilot sequence
func TestSearchParallelMatchesSequential(t *testing.T) {
	for _, st := range []SearchType{SearchXOR, SearchAdd} {
		const numKeys = 30000
		const numBuckets = 6700
		seed := rand64()
		loadFactor := 0.94
		tableSize := uint64(float64(numKeys)/loadFactor) + 2

		hashes := randomHashes(numKeys)

		seqPilots, seqTaken := runSearch(t, hashes, numBuckets, tableSize, seed, st, 1)
		parPilots, parTaken := runSearch(t, hashes, numBuckets, tableSize, seed, st, 4)

		require.Equal(t, seqPilots, parPilots, "search %v pilots diverge", st)
		require.Equal(t, seqTaken.v, parTaken.v, "search %v bitmaps diverge", st)
	}
}
