// external.go -- external-memory construction of a single PHF
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// The external builder spills sorted records to temp files when the keys do
// not fit the RAM budget, then streams them back through a k-way merge:
//
//  1. a counting pass accumulates per-bucket sizes in one byte each;
//  2. {bucket_size, bucket_id, hash} records are buffered, sorted by
//     (size desc, id asc, hash asc) and flushed one file per block, with
//     sorting/writing overlapped with the next block's filling;
//  3. the blocks are heap-merged and searched in batches; a batch always
//     ends on a bucket boundary, the tail carries over.

package pthash

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"
)

// extRecord is the 13-byte spill record, packed little-endian.
type extRecord struct {
	size uint8
	id   uint32
	hash uint64
}

const extRecordSize = 1 + 4 + 8

func recordLess(a, b extRecord) bool {
	if a.size != b.size {
		return a.size > b.size
	}
	if a.id != b.id {
		return a.id < b.id
	}
	return a.hash < b.hash
}

func putRecord(b []byte, r extRecord) {
	b[0] = r.size
	binary.LittleEndian.PutUint32(b[1:], r.id)
	binary.LittleEndian.PutUint64(b[5:], r.hash)
}

func getRecord(b []byte) extRecord {
	return extRecord{
		size: b[0],
		id:   binary.LittleEndian.Uint32(b[1:]),
		hash: binary.LittleEndian.Uint64(b[5:]),
	}
}

func tmpFileName(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("pthash.temp.%d", id))
}

// BuildSinglePHFExternal builds a single-table PHF spilling through
// Config.TmpDir, bounded by the Config.RAM budget. Only the XOR search is
// supported in external memory.
func BuildSinglePHFExternal(keys KeySet, cfg *Config) (*SinglePHF, error) {
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
	if cfg.Search != SearchXOR {
		return nil, fmt.Errorf("pthash: external-memory build supports only xor search: %w",
			ErrInvalidConfig)
	}
	if nb := cfg.numBucketsFor(numKeys); nb > 1<<32 {
		return nil, fmt.Errorf("pthash: %d buckets exceed the 32-bit bucket-id width: %w",
			nb, ErrInvalidConfig)
	}

	if cfg.Seed != InvalidSeed {
		b, err := buildSingleExternal(keys, hasher, cfg.Seed, cfg)
		if err != nil {
			return nil, err
		}
		return newSinglePHFFromBuilder(b, hasher, cfg)
	}
	for attempt := 0; attempt < seedRetries; attempt++ {
		b, err := buildSingleExternal(keys, hasher, randSeed(), cfg)
		if errors.Is(err, ErrSeedRejected) {
			if cfg.Verbose {
				logf("seed attempt %d failed", attempt+1)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return newSinglePHFFromBuilder(b, hasher, cfg)
	}
	return nil, fmt.Errorf("pthash: merge: no usable seed after %d attempts: %w",
		seedRetries, ErrSeedRejected)
}

func buildSingleExternal(keys KeySet, hasher Hasher, seed uint64, cfg *Config) (b *singleBuilder, err error) {
	numKeys := keys.NumKeys()
	tableSize := cfg.tableSizeFor(numKeys)
	numBuckets := cfg.numBucketsFor(numKeys)

	bucketer, err := newBucketer(cfg.Bucketer, numBuckets)
	if err != nil {
		return nil, err
	}

	ram := cfg.ram()
	fixed := numBuckets /* bucket sizes */ +
		numBuckets*8 /* pilots */ +
		tableSize/8 + 8 /* taken bitmap */ +
		pilotCacheSize*8
	if fixed >= ram {
		return nil, fmt.Errorf("pthash: %d bytes of fixed structures exceed the %d-byte budget: %w",
			fixed, ram, ErrResourceExhausted)
	}

	if cfg.Verbose {
		logf("external build: num_keys = %d, table_size = %d, num_buckets = %d",
			numKeys, tableSize, numBuckets)
		logf("external build: ~%d bytes of disk", numKeys*extRecordSize)
	}

	// pass 1: per-bucket counts in a byte each
	bucketSizes := make([]uint8, numBuckets)
	maxSize := uint64(0)
	plog := newProgressLogger(numKeys, "counted", cfg.Verbose)
	for k := range keys.Keys() {
		h := hasher.Hash(k, seed)
		bid := bucketer.Bucket(h.First)
		if bucketSizes[bid] == maxBucketSize {
			return nil, fmt.Errorf("pthash: bucket %d exceeds %d keys; increase lambda: %w",
				bid, maxBucketSize, ErrInvalidConfig)
		}
		bucketSizes[bid]++
		if s := uint64(bucketSizes[bid]); s > maxSize {
			maxSize = s
		}
		plog.log(1)
	}
	plog.finalize()

	// pass 2: form, sort and flush blocks; writing overlaps the next fill
	blockRecords := (ram - numBuckets) / extRecordSize / 3
	if blockRecords == 0 {
		return nil, fmt.Errorf("pthash: RAM budget too small for a single record block: %w",
			ErrResourceExhausted)
	}

	var blocks []extBlockMeta
	defer func() {
		if err != nil {
			for _, m := range blocks {
				os.Remove(m.name)
			}
		}
	}()

	var pending chan error
	waitPending := func() error {
		if pending == nil {
			return nil
		}
		e := <-pending
		pending = nil
		return e
	}

	input := make([]extRecord, 0, blockRecords)
	flush := func(recs []extRecord) {
		name := tmpFileName(cfg.TmpDir, len(blocks))
		blocks = append(blocks, extBlockMeta{name: name, numRecords: uint64(len(recs))})
		ch := make(chan error, 1)
		pending = ch
		go func() {
			sortRecords(recs, cfg.NumThreads)
			ch <- writeBlock(name, recs)
		}()
	}

	for k := range keys.Keys() {
		h := hasher.Hash(k, seed)
		bid := bucketer.Bucket(h.First)
		input = append(input, extRecord{bucketSizes[bid], uint32(bid), h.Second})
		if len(input) == int(blockRecords) {
			if err = waitPending(); err != nil {
				return nil, fmt.Errorf("pthash: map: %w", err)
			}
			flush(input)
			input = make([]extRecord, 0, blockRecords)
		}
	}
	if len(input) > 0 {
		if err = waitPending(); err != nil {
			return nil, fmt.Errorf("pthash: map: %w", err)
		}
		flush(input)
	}
	if err = waitPending(); err != nil {
		return nil, fmt.Errorf("pthash: map: %w", err)
	}
	bucketSizes = nil

	if cfg.Verbose {
		logf("external build: %d sorted block(s), max bucket size %d", len(blocks), maxSize)
	}

	// pass 3: k-way merge and batched search
	pilots := make([]uint64, numBuckets)
	taken := newBitVector(tableSize)
	if err = mergeBlocksAndSearch(blocks, ram, numKeys, seed, cfg, taken, pilots); err != nil {
		return nil, err
	}

	b = &singleBuilder{
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

// sortRecords orders a block by (size desc, id asc, hash asc): a counting
// scatter on the size byte, then an independent sort per size class.
func sortRecords(recs []extRecord, numThreads int) {
	var counts [maxBucketSize + 1]uint64
	for _, r := range recs {
		counts[r.size]++
	}

	var offsets [maxBucketSize + 1]uint64
	var off uint64
	for size := maxBucketSize; size >= 1; size-- {
		offsets[size] = off
		off += counts[size]
	}

	out := make([]extRecord, len(recs))
	pos := offsets
	for _, r := range recs {
		out[pos[r.size]] = r
		pos[r.size]++
	}
	copy(recs, out)

	var g errgroup.Group
	g.SetLimit(max(numThreads, 1))
	for size := 1; size <= maxBucketSize; size++ {
		if counts[size] < 2 {
			continue
		}
		lo := offsets[size]
		hi := lo + counts[size]
		g.Go(func() error {
			part := recs[lo:hi]
			sort.Slice(part, func(i, j int) bool {
				if part[i].id != part[j].id {
					return part[i].id < part[j].id
				}
				return part[i].hash < part[j].hash
			})
			return nil
		})
	}
	g.Wait()
}

func writeBlock(name string, recs []extRecord) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("can't open temp file %s: %w", name, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)

	var buf [extRecordSize]byte
	for _, r := range recs {
		putRecord(buf[:], r)
		if _, err = w.Write(buf[:]); err != nil {
			f.Close()
			return err
		}
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type extBlockMeta struct {
	name       string
	numRecords uint64
}

// extCursor streams one block's records back in order.
type extCursor struct {
	meta extBlockMeta
	f    *os.File
	r    *bufio.Reader
	read uint64
	cur  extRecord
}

func (c *extCursor) open(bufSize int) error {
	f, err := os.Open(c.meta.name)
	if err != nil {
		return fmt.Errorf("can't open temp file %s: %w", c.meta.name, err)
	}
	c.f = f
	c.r = bufio.NewReaderSize(f, bufSize)
	return c.advance()
}

// advance loads the next record; when the block is exhausted the file is
// closed and removed. Returns io.EOF past the end.
func (c *extCursor) advance() error {
	if c.read == c.meta.numRecords {
		c.f.Close()
		os.Remove(c.meta.name)
		return io.EOF
	}
	var buf [extRecordSize]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return fmt.Errorf("short read on %s: %w", c.meta.name, err)
	}
	c.cur = getRecord(buf[:])
	c.read++
	return nil
}

type cursorHeap []*extCursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return recordLess(h[i].cur, h[j].cur) }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*extCursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func mergeBlocksAndSearch(blocks []extBlockMeta, ram, numKeys, seed uint64,
	cfg *Config, taken *bitVector, pilots []uint64) error {

	tableSize := taken.Size()
	batchRecords := ram / uint64(len(blocks)+2) / extRecordSize
	if batchRecords < maxBucketSize {
		batchRecords = maxBucketSize
	}
	bufSize := int(min(batchRecords*extRecordSize, 1<<20))

	cursors := make(cursorHeap, 0, len(blocks))
	for i := range blocks {
		c := &extCursor{meta: blocks[i]}
		if err := c.open(bufSize); err != nil {
			return fmt.Errorf("pthash: merge: %w", err)
		}
		cursors = append(cursors, c)
	}
	heap.Init(&cursors)

	// the searcher consumes merged batches; a batch may end mid-bucket, so
	// the unconsumed tail carries over to the next one
	batches := make(chan []extRecord, 1)
	searcher := &batchSearcher{
		numKeys:   numKeys,
		tableSize: tableSize,
		m:         computeM64(tableSize),
		seed:      seed,
		cache:     hashedPilotsCache(seed),
		taken:     taken,
		pilots:    pilots,
		log:       newSearchLogger(numKeys, uint64(len(pilots)), cfg.Verbose),
	}
	searcher.log.init()

	var g errgroup.Group
	g.Go(func() error {
		for batch := range batches {
			if err := searcher.consume(batch); err != nil {
				// drain so the merger can finish
				for range batches {
				}
				return err
			}
		}
		return searcher.finish()
	})

	merged := make([]extRecord, 0, batchRecords)
	var mergeErr error
	for cursors.Len() > 0 {
		merged = append(merged, cursors[0].cur)
		if err := cursors[0].advance(); err == io.EOF {
			heap.Pop(&cursors)
		} else if err != nil {
			mergeErr = fmt.Errorf("pthash: merge: %w", err)
			break
		} else {
			heap.Fix(&cursors, 0)
		}

		if uint64(len(merged)) == batchRecords {
			batches <- merged
			merged = make([]extRecord, 0, batchRecords)
		}
	}
	if mergeErr == nil && len(merged) > 0 {
		batches <- merged
	}
	close(batches)

	err := g.Wait()
	for _, c := range cursors {
		c.f.Close()
		os.Remove(c.meta.name)
	}
	if mergeErr != nil {
		return mergeErr
	}
	return err
}

// batchSearcher runs the sequential XOR search over merged record batches,
// keeping the invariant that every search round starts on a bucket
// boundary.
type batchSearcher struct {
	numKeys   uint64
	tableSize uint64
	m         m64
	seed      uint64
	cache     []uint64
	taken     *bitVector
	pilots    []uint64
	log       *searchLogger

	input     []extRecord
	positions []uint64
	processed uint64
}

func (s *batchSearcher) consume(batch []extRecord) error {
	s.input = append(s.input, batch...)

	base := 0
	for base != len(s.input) {
		size := int(s.input[base].size)
		if size > len(s.input)-base {
			break // partial bucket; wait for the next batch
		}
		if err := s.searchBucket(s.input[base : base+size]); err != nil {
			return err
		}
		base += size
	}

	// carry the tail over
	s.input = append(s.input[:0], s.input[base:]...)
	return nil
}

func (s *batchSearcher) finish() error {
	if len(s.input) != 0 {
		return errCorrupt("merged records do not end on a bucket boundary")
	}
	s.log.finalize(s.processed)
	return nil
}

func (s *batchSearcher) searchBucket(recs []extRecord) error {
	// hashes arrive sorted; equal neighbors mean a payload collision
	for i := 1; i < len(recs); i++ {
		if recs[i].hash == recs[i-1].hash {
			return ErrSeedRejected
		}
	}

	bucketID := recs[0].id
	if s.positions == nil {
		s.positions = make([]uint64, 0, maxBucketSize)
	}
	positions := s.positions

	for pilot := uint64(0); ; pilot++ {
		var hashedPilot uint64
		if pilot < pilotCacheSize {
			hashedPilot = s.cache[pilot]
		} else {
			hashedPilot = hash64Value(pilot, s.seed)
		}

		positions = positions[:0]
		free := true
		for _, r := range recs {
			p := s.m.mod(r.hash^hashedPilot, s.tableSize)
			if s.taken.IsSet(p) {
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

		s.pilots[bucketID] = pilot
		for _, p := range positions {
			s.taken.Set(p)
		}
		s.log.update(s.processed, uint64(len(recs)))
		s.processed++
		return nil
	}
}
