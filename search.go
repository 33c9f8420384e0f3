// search.go -- pilot search dispatch and shared machinery
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package pthash

import "runtime"

// pilotCacheSize is the number of precomputed hashed pilots (resp. hashed
// seeds for the additive search); this is the hottest read of the inner
// loop.
const pilotCacheSize = 1000

func hashedPilotsCache(seed uint64) []uint64 {
	cache := make([]uint64, pilotCacheSize)
	for p := range cache {
		cache[p] = hash64Value(uint64(p), seed)
	}
	return cache
}

// searchState is everything the search variants share.
type searchState struct {
	numKeys     uint64
	numBuckets  uint64
	numNonEmpty uint64
	seed        uint64
	tableSize   uint64
	m           m64
	cache       []uint64
	pilots      []uint64
	taken       *bitVector
	log         *searchLogger
}

// search assigns a pilot to every non-empty bucket produced by it, filling
// pilots (indexed by bucket id) and the taken bitmap. Buckets arrive in
// (size desc, id asc) order and pilots are committed in exactly that order,
// in the sequential and the parallel variants alike.
func search(numKeys, numBuckets, numNonEmpty, seed uint64, cfg *Config,
	it *bucketIterator, taken *bitVector, pilots []uint64) error {

	st := &searchState{
		numKeys:     numKeys,
		numBuckets:  numBuckets,
		numNonEmpty: numNonEmpty,
		seed:        seed,
		tableSize:   taken.Size(),
		m:           computeM64(taken.Size()),
		cache:       hashedPilotsCache(seed),
		pilots:      pilots,
		taken:       taken,
		log:         newSearchLogger(numKeys, numBuckets, cfg.Verbose),
	}

	// hardware concurrency is the useful upper bound for the spinning
	// workers of the parallel searches
	numThreads := cfg.NumThreads
	if hc := runtime.NumCPU(); numThreads > hc {
		if cfg.Verbose {
			logf("clamping %d search threads to %d", numThreads, hc)
		}
		numThreads = hc
	}

	if numThreads > 1 {
		if cfg.Search == SearchAdd {
			return searchParallelAdd(st, it, numThreads)
		}
		return searchParallelXOR(st, it, numThreads)
	}
	if cfg.Search == SearchAdd {
		return searchSequentialAdd(st, it)
	}
	return searchSequentialXOR(st, it)
}

func (st *searchState) hashedPilot(p uint64) uint64 {
	if p < pilotCacheSize {
		return st.cache[p]
	}
	return hash64Value(p, st.seed)
}

// hasAdjacentDup reports whether the sorted slice has two equal neighbors.
func hasAdjacentDup(sorted []uint64) bool {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return true
		}
	}
	return false
}
