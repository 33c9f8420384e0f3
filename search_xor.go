// search_xor.go -- XOR-displacement pilot search
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

// slot(hash, p) = (hash ^ hashed_pilot(p)) mod table_size

func searchSequentialXOR(st *searchState, it *bucketIterator) error {
	positions := make([]uint64, 0, maxBucketSize)

	st.log.init()
	processed := uint64(0)
	for b, ok := it.next(); ok; b, ok = it.next() {
		for pilot := uint64(0); ; pilot++ {
			hashedPilot := st.hashedPilot(pilot)

			positions = positions[:0]
			free := true
			for _, hash := range b.payloads {
				p := st.m.mod(hash^hashedPilot, st.tableSize)
				if st.taken.IsSet(p) {
					free = false
					break
				}
				positions = append(positions, p)
			}
			if !free {
				continue
			}

			slices.Sort(positions)
			if hasAdjacentDup(positions) {
				continue // in-bucket collision, try next pilot
			}

			st.pilots[b.id] = pilot
			for _, p := range positions {
				st.taken.Set(p)
			}
			st.log.update(processed, b.size())
			break
		}
		processed++
	}
	st.log.finalize(processed)
	return nil
}

// searchParallelXOR runs the same search over numThreads workers pulling
// buckets round-robin. Each worker speculatively searches its bucket
// against the bitmap as-is, but only the worker owning the globally next
// bucket may commit; the others spin on the shared counter and re-validate
// their candidate positions whenever it advances. The counter is atomic:
// every commit happens before the increment that unblocks the next worker,
// so re-validation always sees the committed bitmap and the final pilot
// sequence equals the sequential one.
func searchParallelXOR(st *searchState, it *bucketIterator, numThreads int) error {
	var next atomic.Uint64
	next.Store(^uint64(0)) // hold all workers until spawn is done

	st.log.init()

	exe := func(localIdx uint64, b bucket) {
		positions := make([]uint64, 0, maxBucketSize)

		for {
			pilot := uint64(0)
			pilotChecked := false

			for {
				localNext := next.Load()

				for ; ; pilot++ {
					if !pilotChecked {
						hashedPilot := st.hashedPilot(pilot)

						positions = positions[:0]
						free := true
						for _, hash := range b.payloads {
							p := st.m.mod(hash^hashedPilot, st.tableSize)
							if st.taken.IsSet(p) {
								free = false
								break
							}
							positions = append(positions, p)
						}
						if !free {
							continue
						}
						slices.Sort(positions)
						if hasAdjacentDup(positions) {
							continue
						}

						// no collisions: stop the pilot search
						pilotChecked = true
						break
					}

					// positions are known collision-free among themselves;
					// only the bitmap needs re-checking. A hit means the
					// pilot is dead for good - taken only ever gains bits.
					pilotChecked = true
					for _, p := range positions {
						if st.taken.IsSet(p) {
							pilotChecked = false
							break
						}
					}
					if pilotChecked {
						break
					}
				}

				if localNext == localIdx {
					break // our turn: the candidate was validated under the committed bitmap
				}
				for localNext == next.Load() {
					runtime.Gosched()
				}
			}

			// in-order turn: committing is safe from here on
			st.pilots[b.id] = pilot
			for _, p := range positions {
				st.taken.Set(p)
			}
			st.log.update(localIdx, b.size())

			localIdx += uint64(numThreads)
			if localIdx >= st.numNonEmpty {
				next.Add(1)
				return
			}

			// still the committer: reading the shared iterator is ordered
			// by the counter discipline
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

	next.Store(0) // release the first worker
	wg.Wait()

	st.log.finalize(st.numNonEmpty)
	return nil
}
