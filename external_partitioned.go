// external_partitioned.go -- external-memory partitioned construction
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// The partitioned external builder spills raw hash arrays, one temp file
// per partition, while a single streaming pass distributes the keys. The
// partitions are then rebuilt in memory a group at a time, sized to the RAM
// budget.

package pthash

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

const hashRecordSize = 16

type metaPartition struct {
	name    string
	f       *os.File
	w       *bufio.Writer
	mem     []Hash
	flushed uint64
}

func (m *metaPartition) size() uint64 {
	return m.flushed + uint64(len(m.mem))
}

func (m *metaPartition) flush() error {
	if len(m.mem) == 0 {
		return nil
	}
	if m.f == nil {
		f, err := os.OpenFile(m.name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("can't open temp file %s: %w", m.name, err)
		}
		m.f = f
		m.w = bufio.NewWriterSize(f, 1<<16)
	}
	var buf [hashRecordSize]byte
	for _, h := range m.mem {
		binary.LittleEndian.PutUint64(buf[0:], h.First)
		binary.LittleEndian.PutUint64(buf[8:], h.Second)
		if _, err := m.w.Write(buf[:]); err != nil {
			return err
		}
	}
	m.flushed += uint64(len(m.mem))
	m.mem = m.mem[:0]
	return nil
}

// load returns the full hash array of the partition, reading back whatever
// was spilled.
func (m *metaPartition) load() ([]Hash, error) {
	if m.flushed == 0 {
		return m.mem, nil
	}
	if err := m.flush(); err != nil {
		return nil, err
	}
	if err := m.w.Flush(); err != nil {
		return nil, err
	}
	if err := m.f.Close(); err != nil {
		return nil, err
	}
	m.f = nil

	f, err := os.Open(m.name)
	if err != nil {
		return nil, fmt.Errorf("can't open temp file %s: %w", m.name, err)
	}
	defer f.Close()

	hashes := make([]Hash, 0, m.flushed)
	r := bufio.NewReaderSize(f, 1<<16)
	var buf [hashRecordSize]byte
	for i := uint64(0); i != m.flushed; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("short read on %s: %w", m.name, err)
		}
		hashes = append(hashes, Hash{
			First:  binary.LittleEndian.Uint64(buf[0:]),
			Second: binary.LittleEndian.Uint64(buf[8:]),
		})
	}
	return hashes, nil
}

func (m *metaPartition) remove() {
	if m.f != nil {
		m.f.Close()
		m.f = nil
	}
	if m.flushed > 0 {
		os.Remove(m.name)
	}
	m.mem = nil
}

// BuildPartitionedPHFExternal builds a partitioned PHF whose hash spill
// goes through Config.TmpDir, bounded by the Config.RAM budget.
func BuildPartitionedPHFExternal(keys KeySet, cfg *Config) (*PartitionedPHF, error) {
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
		return buildPartitionedExternal(keys, hasher, cfg.Seed, numPartitions, cfg)
	}
	for attempt := 0; attempt < seedRetries; attempt++ {
		f, err := buildPartitionedExternal(keys, hasher, randSeed(), numPartitions, cfg)
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

func buildPartitionedExternal(keys KeySet, hasher Hasher, seed uint64, numPartitions uint64,
	cfg *Config) (f *PartitionedPHF, err error) {

	ram := cfg.ram()
	if numPartitions*64 >= ram {
		return nil, fmt.Errorf("pthash: %d partitions exceed the RAM budget: %w",
			numPartitions, ErrResourceExhausted)
	}

	partitioner := newUniformBucketer(numPartitions)
	partitions := make([]metaPartition, numPartitions)
	for i := range partitions {
		partitions[i].name = tmpFileName(cfg.TmpDir, i)
	}
	defer func() {
		for i := range partitions {
			partitions[i].remove()
		}
	}()

	// distribute, spilling everything once the buffered hashes hit the
	// budget
	var bytes uint64
	plog := newProgressLogger(keys.NumKeys(), "partitioned", cfg.Verbose)
	for k := range keys.Keys() {
		h := hasher.Hash(k, seed)
		b := partitioner.Bucket(hasher.Mix(h))
		partitions[b].mem = append(partitions[b].mem, h)
		bytes += hashRecordSize
		if bytes >= ram/2 {
			for i := range partitions {
				if err = partitions[i].flush(); err != nil {
					return nil, fmt.Errorf("pthash: partition: %w", err)
				}
			}
			bytes = 0
		}
		plog.log(1)
	}
	plog.finalize()

	numKeys := keys.NumKeys()
	f = &PartitionedPHF{
		seed:        seed,
		numKeys:     numKeys,
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
	subCfg.NumBuckets = perPartitionBuckets(numKeys, numPartitions, cfg)

	var cum uint64
	for i := range partitions {
		sz := partitions[i].size()
		if sz <= 1 {
			return nil, fmt.Errorf("pthash: partition %d has %d keys; use fewer partitions: %w",
				i, sz, ErrInvalidConfig)
		}
		ts := subCfg.tableSizeFor(sz)
		f.tableSize += ts
		f.offsets[i] = cum
		if cfg.Minimal {
			cum += sz
		} else {
			cum += ts
		}
	}
	f.offsets[numPartitions] = cum

	// rebuild a group of partitions at a time, sized to the budget
	begin := 0
	var groupBytes uint64
	buildGroup := func(end int) error {
		var g errgroup.Group
		g.SetLimit(cfg.NumThreads)
		for i := begin; i < end; i++ {
			hashes, err := partitions[i].load()
			if err != nil {
				return fmt.Errorf("pthash: partition: %w", err)
			}
			partitions[i].remove()
			g.Go(func() error {
				b, err := buildSingleFromHashes(hashes, uint64(len(hashes)), seed, &subCfg)
				if err != nil {
					return err
				}
				f.subs[i], err = newSinglePHFFromBuilder(b, hasher, &subCfg)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if cfg.Verbose {
			logf("processed %d/%d partitions", end, numPartitions)
		}
		begin = end
		return nil
	}

	for i := range partitions {
		sz := partitions[i].size() * hashRecordSize
		if groupBytes+sz > ram/2 && i > begin {
			if err = buildGroup(i); err != nil {
				return nil, err
			}
			groupBytes = 0
		}
		groupBytes += sz
	}
	if err = buildGroup(len(partitions)); err != nil {
		return nil, err
	}
	return f, nil
}
