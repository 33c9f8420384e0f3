// partitioned.go -- partitioned PHF: independent sub-problems per shard
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
	"io"

	"golang.org/x/sync/errgroup"
)

// PartitionedPHF shards the key set with a uniform partitioner over the
// mix projection and builds an independent single PHF per shard; a query
// adds the shard's offset to the sub-PHF position.
type PartitionedPHF struct {
	seed      uint64
	numKeys   uint64
	tableSize uint64
	minimal   bool

	hasher      Hasher
	partitioner *uniformBucketer
	offsets     []uint64 // numPartitions+1, cumulative keys (minimal) or table slots
	subs        []*SinglePHF
}

// BuildPartitionedPHF builds a partitioned PHF in memory. Partitioning
// kicks in at Config.AvgPartitionSize keys per shard (subject to the
// minimum); shards build in parallel across Config.NumThreads workers.
func BuildPartitionedPHF(keys KeySet, cfg *Config) (*PartitionedPHF, error) {
	hasher, err := HasherByName(cfg.Hasher)
	if err != nil {
		return nil, err
	}
	numKeys := keys.NumKeys()
	if err := cfg.validate(numKeys); err != nil {
		return nil, err
	}
	if err := checkCollisionRisk(hasher, numKeys); err != nil {
		return nil, err
	}

	aps := cfg.avgPartitionSizeFor(numKeys)
	numPartitions := computeNumPartitions(numKeys, aps)
	if numPartitions == 0 {
		return nil, fmt.Errorf("pthash: number of partitions must be > 0: %w", ErrInvalidConfig)
	}
	if cfg.Verbose {
		logf("num_partitions = %d", numPartitions)
	}

	if cfg.Seed != InvalidSeed {
		return buildPartitioned(keys, hasher, cfg.Seed, numPartitions, cfg)
	}
	for attempt := 0; attempt < seedRetries; attempt++ {
		f, err := buildPartitioned(keys, hasher, randSeed(), numPartitions, cfg)
		if errors.Is(err, ErrSeedRejected) {
			if cfg.Verbose {
				logf("seed attempt %d failed", attempt+1)
			}
			continue
		}
		return f, err
	}
	return nil, fmt.Errorf("pthash: partition: no usable seed after %d attempts: %w",
		seedRetries, ErrSeedRejected)
}

// partitionHashes hashes every key and groups the hashes by the partitioner
// applied to the mix projection.
func partitionHashes(keys KeySet, hasher Hasher, seed uint64,
	partitioner *uniformBucketer, verbose bool) [][]Hash {

	numPartitions := partitioner.NumBuckets()
	avg := keys.NumKeys() / numPartitions

	partitions := make([][]Hash, numPartitions)
	for i := range partitions {
		partitions[i] = make([]Hash, 0, avg+avg/2)
	}

	plog := newProgressLogger(keys.NumKeys(), "partitioned", verbose)
	for k := range keys.Keys() {
		h := hasher.Hash(k, seed)
		b := partitioner.Bucket(hasher.Mix(h))
		partitions[b] = append(partitions[b], h)
		plog.log(1)
	}
	plog.finalize()
	return partitions
}

func buildPartitioned(keys KeySet, hasher Hasher, seed uint64, numPartitions uint64,
	cfg *Config) (*PartitionedPHF, error) {

	partitioner := newUniformBucketer(numPartitions)
	partitions := partitionHashes(keys, hasher, seed, partitioner, cfg.Verbose)

	f := &PartitionedPHF{
		seed:        seed,
		numKeys:     keys.NumKeys(),
		minimal:     cfg.Minimal,
		hasher:      hasher,
		partitioner: partitioner,
		offsets:     make([]uint64, numPartitions+1),
		subs:        make([]*SinglePHF, numPartitions),
	}

	subCfg := *cfg
	subCfg.Seed = seed
	subCfg.NumThreads = 1
	subCfg.Verbose = false
	subCfg.AvgPartitionSize = 0
	subCfg.TableSize = 0
	subCfg.NumBuckets = perPartitionBuckets(f.numKeys, numPartitions, cfg)

	var cum uint64
	for i, p := range partitions {
		if len(p) <= 1 {
			return nil, fmt.Errorf("pthash: partition %d has %d keys; use fewer partitions: %w",
				i, len(p), ErrInvalidConfig)
		}
		ts := subCfg.tableSizeFor(uint64(len(p)))
		f.tableSize += ts
		f.offsets[i] = cum
		if cfg.Minimal {
			cum += uint64(len(p))
		} else {
			cum += ts
		}
	}
	f.offsets[numPartitions] = cum

	var g errgroup.Group
	g.SetLimit(cfg.NumThreads)
	for i := range partitions {
		g.Go(func() error {
			b, err := buildSingleFromHashes(partitions[i], uint64(len(partitions[i])), seed, &subCfg)
			if err != nil {
				return err
			}
			f.subs[i], err = newSinglePHFFromBuilder(b, hasher, &subCfg)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// perPartitionBuckets spreads the whole-set bucket count over partitions.
func perPartitionBuckets(numKeys, numPartitions uint64, cfg *Config) uint64 {
	total := cfg.numBucketsFor(numKeys)
	return (total + numPartitions - 1) / numPartitions
}

// Lookup returns the position of key, offset into the global table.
func (f *PartitionedPHF) Lookup(key []byte) uint64 {
	return f.Position(f.hasher.Hash(key, f.seed))
}

// Position maps an already-hashed key to its global position.
func (f *PartitionedPHF) Position(h Hash) uint64 {
	b := f.partitioner.Bucket(f.hasher.Mix(h))
	return f.offsets[b] + f.subs[b].Position(h)
}

func (f *PartitionedPHF) NumKeys() uint64       { return f.numKeys }
func (f *PartitionedPHF) TableSize() uint64     { return f.tableSize }
func (f *PartitionedPHF) Seed() uint64          { return f.seed }
func (f *PartitionedPHF) NumPartitions() uint64 { return uint64(len(f.subs)) }

// NumBits is the size of the frozen structure.
func (f *PartitionedPHF) NumBits() uint64 {
	bits := uint64(3*64) + uint64(len(f.offsets))*64 + 64
	for _, s := range f.subs {
		bits += s.NumBits()
	}
	return bits
}

func (f *PartitionedPHF) marshal(sw *sectionWriter) {
	sw.u64(phfFormatVersion)
	sw.u64(f.seed)
	sw.u64(f.numKeys)
	sw.u64(f.tableSize)
	sw.u64(boolToU64(f.minimal))
	sw.str(f.hasher.Name())
	f.partitioner.marshalTo(sw)
	sw.u64s(f.offsets)
	sw.u64(uint64(len(f.subs)))
	for _, s := range f.subs {
		s.marshal(sw)
	}
}

// MarshalBinary encodes the partitioned function for durable storage.
func (f *PartitionedPHF) MarshalBinary(w io.Writer) (int, error) {
	var sw sectionWriter
	f.marshal(&sw)
	return writeAll(w, sw.bytes())
}

// UnmarshalBinary reconstructs a previously marshalled PartitionedPHF.
func (f *PartitionedPHF) UnmarshalBinary(buf []byte) error {
	return f.unmarshal(newSectionReader(buf))
}

func (f *PartitionedPHF) unmarshal(r *sectionReader) error {
	if v := r.u64(); v != phfFormatVersion {
		if r.err != nil {
			return r.err
		}
		return fmt.Errorf("pthash: no support to un-marshal version %d", v)
	}
	f.seed = r.u64()
	f.numKeys = r.u64()
	f.tableSize = r.u64()
	f.minimal = r.u64() != 0

	hasher, err := HasherByName(r.str())
	if err != nil {
		return err
	}
	f.hasher = hasher

	f.partitioner = &uniformBucketer{}
	if err := f.partitioner.unmarshalFrom(r); err != nil {
		return err
	}
	f.offsets = r.u64s()

	n := r.u64()
	if r.err != nil {
		return r.err
	}
	f.subs = make([]*SinglePHF, n)
	for i := range f.subs {
		sub := &SinglePHF{}
		if err := sub.unmarshal(r); err != nil {
			return err
		}
		f.subs[i] = sub
	}
	if uint64(len(f.offsets)) != n+1 {
		return errCorrupt("offsets length mismatch")
	}
	return r.err
}
