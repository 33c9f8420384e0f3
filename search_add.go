// search_add.go -- additive-displacement pilot search
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
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

// The pilot factors as p = s*table_size + d: s seeds the initial positions,
// d is a common displacement added to all of them. Initial positions only
// depend on s, so one in-bucket distinctness check covers the whole d
// sweep.

func searchSequentialAdd(st *searchState, it *bucketIterator) error {
	positions := make([]uint64, 0, maxBucketSize)
	sorted := make([]uint64, 0, maxBucketSize)

	st.log.init()
	processed := uint64(0)
	for b, ok := it.next(); ok; b, ok = it.next() {
		for s := uint64(0); ; s++ {
			hashedS := st.hashedPilot(s)

			positions = positions[:0]
			for _, hash := range b.payloads {
				positions = append(positions, st.m.mod(hash^hashedS, st.tableSize))
			}

			sorted = append(sorted[:0], positions...)
			slices.Sort(sorted)
			if hasAdjacentDup(sorted) {
				continue // initial positions collide, next s
			}

			d, found := sweepDisplacement(st.taken, positions, 0, st.tableSize)
			if !found {
				continue
			}

			st.pilots[b.id] = s*st.tableSize + d
			for _, p := range positions {
				st.taken.Set(displace(p, d, st.tableSize))
			}
			st.log.update(processed, b.size())
			break
		}
		processed++
	}
	st.log.finalize(processed)
	return nil
}

func displace(p, d, tableSize uint64) uint64 {
	f := p + d
	if f >= tableSize {
		f -= tableSize
	}
	return f
}

// sweepDisplacement finds the smallest d in [from, tableSize) that lands
// every position on a free slot.
func sweepDisplacement(taken *bitVector, positions []uint64, from, tableSize uint64) (uint64, bool) {
	for d := from; d != tableSize; d++ {
		free := true
		for _, p := range positions {
			if taken.IsSet(displace(p, d, tableSize)) {
				free = false
				break
			}
		}
		if free {
			return d, true
		}
	}
	return 0, false
}

// searchParallelAdd applies the commit discipline of the parallel XOR
// search to the additive sweep: workers speculate on (s, d) candidates and
// only the owner of the globally next bucket commits; everyone else
// re-validates the candidate displacement against the bitmap whenever the
// counter advances. A candidate that fails re-validation is dead for good,
// so the sweep resumes at the next displacement.
func searchParallelAdd(st *searchState, it *bucketIterator, numThreads int) error {
	var next atomic.Uint64
	next.Store(^uint64(0))

	st.log.init()

	exe := func(localIdx uint64, b bucket) {
		positions := make([]uint64, 0, maxBucketSize)
		sorted := make([]uint64, 0, maxBucketSize)

		// advance to the next (s, d) candidate valid under the current
		// bitmap, starting at the current s and d
		var s, d uint64
		havePositions := false
		findCandidate := func() {
			for {
				if !havePositions {
					hashedS := st.hashedPilot(s)
					positions = positions[:0]
					for _, hash := range b.payloads {
						positions = append(positions, st.m.mod(hash^hashedS, st.tableSize))
					}
					sorted = append(sorted[:0], positions...)
					slices.Sort(sorted)
					if hasAdjacentDup(sorted) {
						s++
						d = 0
						continue
					}
					havePositions = true
				}
				var found bool
				if d, found = sweepDisplacement(st.taken, positions, d, st.tableSize); found {
					return
				}
				s++
				d = 0
				havePositions = false
			}
		}

		for {
			s, d = 0, 0
			havePositions = false
			pilotChecked := false

			for {
				localNext := next.Load()

				if !pilotChecked {
					findCandidate()
					pilotChecked = true
				} else {
					for _, p := range positions {
						if st.taken.IsSet(displace(p, d, st.tableSize)) {
							pilotChecked = false
							break
						}
					}
					if !pilotChecked {
						// current displacement is burnt; resume the sweep
						if d++; d == st.tableSize {
							s++
							d = 0
							havePositions = false
						}
						findCandidate()
						pilotChecked = true
					}
				}

				if localNext == localIdx {
					break
				}
				for localNext == next.Load() {
					runtime.Gosched()
				}
			}

			st.pilots[b.id] = s*st.tableSize + d
			for _, p := range positions {
				st.taken.Set(displace(p, d, st.tableSize))
			}
			st.log.update(localIdx, b.size())

			localIdx += uint64(numThreads)
			if localIdx >= st.numNonEmpty {
				next.Add(1)
				return
			}

			b, _ = it.next()
			next.Add(1)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < numThreads && uint64(i) < st.numNonEmpty; i++ {
		b, ok := it.next()
		if !ok {
			break
		}
		wg.Add(1)
		go func(idx uint64, b bucket) {
			defer wg.Done()
			exe(idx, b)
		}(uint64(i), b)
	}

	next.Store(0)
	wg.Wait()

	st.log.finalize(st.numNonEmpty)
	return nil
}
