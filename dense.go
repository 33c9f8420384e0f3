// dense.go -- dense-partitioned PHF with interleaved pilot storage
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

// DensePartitionedPHF shards like PartitionedPHF but every shard shares the
// same bucket count, and pilots are stored interleaved: the pilots of
// bucket k across all partitions are adjacent, which exposes their strong
// correlation to the encoder. Sub-tables are searched non-minimal; a single
// global free-slot remap covers the whole table, and the offsets always
// record cumulative table sizes so the per-partition modulus matches the
// searched table.
type DensePartitionedPHF struct {
	seed      uint64
	numKeys   uint64
	tableSize uint64
	minimal   bool
	search    SearchType

	numPartitions          uint64
	numBucketsPerPartition uint64

	hasher      Hasher
	partitioner *uniformBucketer
	bucketer    Bucketer
	pilots      DenseEncoder
	offsets     diffEncoder
	freeSlots   efSequence
}

// BuildDensePartitionedPHF builds a dense-partitioned PHF in memory. The
// load factor must be 1.0; the encoder name must be one of the dense
// (interleaved) family, e.g. "inter-R" or "inter-C-inter-R".
func BuildDensePartitionedPHF(keys KeySet, cfg *Config) (*DensePartitionedPHF, error) {
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
	if cfg.Alpha != 1.0 {
		return nil, fmt.Errorf("pthash: alpha must be 1.0 for dense partitioning: %w",
			ErrInvalidConfig)
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
		return buildDense(keys, hasher, cfg.Seed, numPartitions, cfg)
	}
	for attempt := 0; attempt < seedRetries; attempt++ {
		f, err := buildDense(keys, hasher, randSeed(), numPartitions, cfg)
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

func buildDense(keys KeySet, hasher Hasher, seed uint64, numPartitions uint64,
	cfg *Config) (*DensePartitionedPHF, error) {

	partitioner := newUniformBucketer(numPartitions)
	partitions := partitionHashes(keys, hasher, seed, partitioner, cfg.Verbose)

	numKeys := keys.NumKeys()
	numBucketsPerPartition := perPartitionBuckets(numKeys, numPartitions, cfg)

	subCfg := *cfg
	subCfg.Seed = seed
	subCfg.NumThreads = 1
	subCfg.Verbose = false
	subCfg.AvgPartitionSize = 0
	subCfg.TableSize = 0
	subCfg.Minimal = false
	subCfg.NumBuckets = numBucketsPerPartition

	f := &DensePartitionedPHF{
		seed:                   seed,
		numKeys:                numKeys,
		minimal:                cfg.Minimal,
		search:                 cfg.Search,
		numPartitions:          numPartitions,
		numBucketsPerPartition: numBucketsPerPartition,
		hasher:                 hasher,
		partitioner:            partitioner,
	}

	offsets := make([]uint64, numPartitions+1)
	for i, p := range partitions {
		if len(p) <= 1 {
			return nil, fmt.Errorf("pthash: partition %d has %d keys; use fewer partitions: %w",
				i, len(p), ErrInvalidConfig)
		}
		offsets[i] = f.tableSize
		f.tableSize += subCfg.tableSizeFor(uint64(len(p)))
	}
	offsets[numPartitions] = f.tableSize

	builders := make([]*singleBuilder, numPartitions)
	var g errgroup.Group
	g.SetLimit(cfg.NumThreads)
	for i := range partitions {
		g.Go(func() error {
			var err error
			builders[i], err = buildSingleFromHashes(partitions[i], uint64(len(partitions[i])), seed, &subCfg)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// all partitions share the bucket count, so any sub-bucketer serves
	// the whole structure
	f.bucketer = builders[0].bucketer

	// interleave: (partition p, bucket b) lives at numPartitions*b + p
	interleaved := make([]uint64, numPartitions*numBucketsPerPartition)
	for p, b := range builders {
		for j, pilot := range b.pilots {
			interleaved[uint64(j)*numPartitions+uint64(p)] = pilot
		}
	}

	pilots, err := newDenseEncoder(cfg.Encoder)
	if err != nil {
		return nil, err
	}
	if err = pilots.EncodeDense(interleaved, numPartitions, numBucketsPerPartition, cfg.NumThreads); err != nil {
		return nil, fmt.Errorf("pthash: encode: %w", err)
	}
	f.pilots = pilots

	f.offsets = diffEncoder{enc: &compactEncoder{}}
	if err = f.offsets.Encode(offsets, f.tableSize/numPartitions); err != nil {
		return nil, fmt.Errorf("pthash: encode: %w", err)
	}

	if cfg.Minimal && f.tableSize > numKeys {
		taken := newBitVector(f.tableSize)
		for p, b := range builders {
			base := offsets[p]
			for i := uint64(0); i != b.taken.Size(); i++ {
				if b.taken.IsSet(i) {
					taken.Set(base + i)
				}
			}
		}
		f.freeSlots.encode(fillFreeSlots(taken, numKeys, f.tableSize))
	}
	return f, nil
}

// Lookup returns the position of key.
func (f *DensePartitionedPHF) Lookup(key []byte) uint64 {
	return f.Position(f.hasher.Hash(key, f.seed))
}

// Position maps an already-hashed key to its global position.
func (f *DensePartitionedPHF) Position(h Hash) uint64 {
	partition := f.partitioner.Bucket(f.hasher.Mix(h))
	offset := f.offsets.Access(partition)
	size := f.offsets.Access(partition+1) - offset

	bucket := f.bucketer.Bucket(h.First)
	pilot := f.pilots.AccessDense(partition, bucket)

	m := computeM64(size)
	var pos uint64
	if f.search == SearchAdd {
		s := pilot / size
		d := pilot % size
		pos = displace(m.mod(h.Second^hash64Value(s, f.seed), size), d, size)
	} else {
		pos = m.mod(h.Second^hash64Value(pilot, f.seed), size)
	}

	p := offset + pos
	if f.minimal && p >= f.numKeys {
		return f.freeSlots.Access(p - f.numKeys)
	}
	return p
}

func (f *DensePartitionedPHF) NumKeys() uint64       { return f.numKeys }
func (f *DensePartitionedPHF) TableSize() uint64     { return f.tableSize }
func (f *DensePartitionedPHF) Seed() uint64          { return f.seed }
func (f *DensePartitionedPHF) NumPartitions() uint64 { return f.numPartitions }

// NumBits is the size of the frozen structure.
func (f *DensePartitionedPHF) NumBits() uint64 {
	bits := uint64(5*64) + f.pilots.NumBits() + f.offsets.NumBits() + 64
	if f.minimal && f.tableSize > f.numKeys {
		bits += f.freeSlots.NumBits()
	}
	return bits
}

func (f *DensePartitionedPHF) marshal(sw *sectionWriter) {
	sw.u64(phfFormatVersion)
	sw.u64(f.seed)
	sw.u64(f.numKeys)
	sw.u64(f.tableSize)
	sw.u64(boolToU64(f.minimal))
	sw.u64(uint64(f.search))
	sw.u64(f.numPartitions)
	sw.u64(f.numBucketsPerPartition)
	sw.str(f.hasher.Name())
	f.partitioner.marshalTo(sw)
	sw.str(f.bucketer.Name())
	f.bucketer.marshalTo(sw)
	sw.str(f.pilots.Name())
	f.pilots.marshalTo(sw)
	f.offsets.marshalTo(sw)
	if f.minimal && f.tableSize > f.numKeys {
		f.freeSlots.marshalTo(sw)
	}
}

// MarshalBinary encodes the dense function for durable storage.
func (f *DensePartitionedPHF) MarshalBinary(w io.Writer) (int, error) {
	var sw sectionWriter
	f.marshal(&sw)
	return writeAll(w, sw.bytes())
}

// UnmarshalBinary reconstructs a previously marshalled DensePartitionedPHF.
func (f *DensePartitionedPHF) UnmarshalBinary(buf []byte) error {
	return f.unmarshal(newSectionReader(buf))
}

func (f *DensePartitionedPHF) unmarshal(r *sectionReader) error {
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
	f.search = SearchType(r.u64())
	f.numPartitions = r.u64()
	f.numBucketsPerPartition = r.u64()

	hasher, err := HasherByName(r.str())
	if err != nil {
		return err
	}
	f.hasher = hasher

	f.partitioner = &uniformBucketer{}
	if err := f.partitioner.unmarshalFrom(r); err != nil {
		return err
	}

	bucketer, err := bucketerByName(r.str())
	if err != nil {
		return err
	}
	if err = bucketer.unmarshalFrom(r); err != nil {
		return err
	}
	f.bucketer = bucketer

	pilots, err := newDenseEncoder(r.str())
	if err != nil {
		return err
	}
	if err = pilots.unmarshalFrom(r); err != nil {
		return err
	}
	f.pilots = pilots

	f.offsets = diffEncoder{enc: &compactEncoder{}}
	if err = f.offsets.unmarshalFrom(r); err != nil {
		return err
	}
	if f.minimal && f.tableSize > f.numKeys {
		if err = f.freeSlots.unmarshalFrom(r); err != nil {
			return err
		}
	}
	return r.err
}
