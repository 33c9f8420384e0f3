// map_test.go -- mapping/ordering invariants
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

func randomHashes(n int) []Hash {
	hashes := make([]Hash, n)
	for i := range hashes {
		hashes[i] = Hash{rand64(), rand64()}
	}
	return hashes
}

// buckets must come out in (size desc, id asc) order and cover all keys
func TestMapOrdering(t *testing.T) {
	for _, threads := range []int{1, 4} {
		hashes := randomHashes(20000)
		bucketer := newSkewBucketer(4000)

		blocks := mapToPairs(hashes, bucketer, threads)
		bs := &bucketsStore{}
		require.NoError(t, mergePairs(blocks, bs, false))

		var keys uint64
		var prevSize uint64
		var prevID uint64
		first := true
		seen := make(map[uint64]bool)

		it := bs.iterator()
		n := uint64(0)
		for b, ok := it.next(); ok; b, ok = it.next() {
			n++
			keys += b.size()
			require.False(t, seen[b.id], "bucket %d seen twice", b.id)
			seen[b.id] = true

			if !first {
				require.LessOrEqual(t, b.size(), prevSize, "size order violated")
				if b.size() == prevSize {
					require.Greater(t, b.id, prevID, "id order violated within size %d", b.size())
				}
			}
			first = false
			prevSize = b.size()
			prevID = b.id
		}
		require.Equal(t, uint64(len(hashes)), keys, "keys lost in mapping")
		require.Equal(t, bs.numNonEmpty, n)
	}
}

// a duplicated (bucket, payload) pair is a seed rejection
func TestMapSeedRejected(t *testing.T) {
	hashes := randomHashes(1000)
	hashes = append(hashes, hashes[0])

	bucketer := newSkewBucketer(100)
	blocks := mapToPairs(hashes, bucketer, 1)
	bs := &bucketsStore{}
	require.ErrorIs(t, mergePairs(blocks, bs, false), ErrSeedRejected)

	// same through the multi-block merge
	blocks = mapToPairs(hashes, bucketer, 4)
	bs = &bucketsStore{}
	require.ErrorIs(t, mergePairs(blocks, bs, false), ErrSeedRejected)
}

// parallel mapping must group exactly like the sequential one
func TestMapParallelMatchesSequential(t *testing.T) {
	hashes := randomHashes(50000)
	bucketer := newSkewBucketer(10000)

	collect := func(threads int) []bucket {
		blocks := mapToPairs(hashes, bucketer, threads)
		bs := &bucketsStore{}
		require.NoError(t, mergePairs(blocks, bs, false))

		var out []bucket
		it := bs.iterator()
		for b, ok := it.next(); ok; b, ok = it.next() {
			out = append(out, b)
		}
		return out
	}

	seq := collect(1)
	par := collect(4)
	require.Equal(t, len(seq), len(par))
	for i := range seq {
		require.Equal(t, seq[i].id, par[i].id, "bucket %d", i)
		require.Equal(t, seq[i].payloads, par[i].payloads, "bucket %d payloads", i)
	}
}
