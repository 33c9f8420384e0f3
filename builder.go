// builder.go -- in-memory construction of a single PHF
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
	"errors"
	"fmt"
)

// singleBuilder holds the raw products of one (key-set, table) build before
// encoding: the pilot array, the occupancy bitmap and the free-slot remap.
// The in-memory and the external-memory pipelines both produce one.
type singleBuilder struct {
	seed       uint64
	numKeys    uint64
	numBuckets uint64
	tableSize  uint64
	bucketer   Bucketer
	pilots     []uint64
	taken      *bitVector
	freeSlots  []uint64
}

func hashKeys(keys KeySet, hasher Hasher, seed uint64) []Hash {
	hashes := make([]Hash, 0, keys.NumKeys())
	for k := range keys.Keys() {
		hashes = append(hashes, hasher.Hash(k, seed))
	}
	return hashes
}

// buildSingleFromKeys runs the full pipeline, rotating seeds on rejection
// when the config leaves the seed unset.
func buildSingleFromKeys(keys KeySet, hasher Hasher, cfg *Config) (*singleBuilder, error) {
	numKeys := keys.NumKeys()
	if err := cfg.validate(numKeys); err != nil {
		return nil, err
	}
	if err := checkCollisionRisk(hasher, numKeys); err != nil {
		return nil, err
	}

	if cfg.Seed != InvalidSeed {
		return buildSingleFromHashes(hashKeys(keys, hasher, cfg.Seed), numKeys, cfg.Seed, cfg)
	}

	for attempt := 0; attempt < seedRetries; attempt++ {
		seed := randSeed()
		b, err := buildSingleFromHashes(hashKeys(keys, hasher, seed), numKeys, seed, cfg)
		if errors.Is(err, ErrSeedRejected) {
			if cfg.Verbose {
				logf("seed attempt %d failed", attempt+1)
			}
			continue
		}
		return b, err
	}
	return nil, fmt.Errorf("pthash: map: no usable seed after %d attempts: %w",
		seedRetries, ErrSeedRejected)
}

// buildSingleFromHashes maps, orders and searches one table. The seed must
// be the one the hashes were produced with.
func buildSingleFromHashes(hashes []Hash, numKeys, seed uint64, cfg *Config) (*singleBuilder, error) {
	tableSize := cfg.tableSizeFor(numKeys)
	numBuckets := cfg.numBucketsFor(numKeys)

	bucketer, err := newBucketer(cfg.Bucketer, numBuckets)
	if err != nil {
		return nil, err
	}

	if cfg.Verbose {
		logf("lambda (avg. bucket size) = %.2f", cfg.Lambda)
		logf("alpha (load factor) = %.2f", cfg.Alpha)
		logf("num_keys = %d, table_size = %d, num_buckets = %d",
			numKeys, tableSize, numBuckets)
	}

	blocks := mapToPairs(hashes, bucketer, cfg.NumThreads)

	bs := &bucketsStore{}
	if err := mergePairs(blocks, bs, cfg.Verbose); err != nil {
		if errors.Is(err, ErrSeedRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("pthash: map: %w", err)
	}

	if cfg.Verbose {
		logBucketDistribution(bs)
	}

	pilots := make([]uint64, numBuckets)
	taken := newBitVector(tableSize)
	if err := search(numKeys, numBuckets, bs.numNonEmpty, seed, cfg, bs.iterator(), taken, pilots); err != nil {
		return nil, fmt.Errorf("pthash: search: %w", err)
	}

	b := &singleBuilder{
		seed:       seed,
		numKeys:    numKeys,
		numBuckets: numBuckets,
		tableSize:  tableSize,
		bucketer:   bucketer,
		pilots:     pilots,
		taken:      taken,
	}
	if cfg.Minimal {
		b.freeSlots = fillFreeSlots(taken, numKeys, tableSize)
	}
	return b, nil
}

func logBucketDistribution(bs *bucketsStore) {
	logf("max bucket size = %d", bs.maxSize)
	for size := bs.maxSize; size > 0; size-- {
		blocks := len(bs.buffers[size-1]) / (size + 1)
		if blocks > 0 {
			logf("num buckets of size %d = %d", size, blocks)
		}
	}
}
