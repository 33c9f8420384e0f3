// map.go -- mapping and ordering: hashes to size-ordered buckets
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// The mapping phase turns hashes into (bucket_id, payload) pairs sorted by
// (bucket_id asc, payload asc); a linear merge groups equal-id runs into
// buckets and rejects the seed on a duplicate payload. Buckets are then
// counting-sorted by size so the search sees them in (size desc, id asc)
// order.

package pthash

import (
	"container/heap"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

type pair struct {
	bucket  uint64
	payload uint64
}

func pairLess(a, b pair) bool {
	if a.bucket != b.bucket {
		return a.bucket < b.bucket
	}
	return a.payload < b.payload
}

// mapToPairs buckets every hash and returns one sorted block per shard.
// With more than one thread the hashes are split into equal ranges, each
// hashed and sorted locally; the merge step consumes the blocks through a
// heap.
func mapToPairs(hashes []Hash, bucketer Bucketer, numThreads int) [][]pair {
	n := len(hashes)
	if numThreads <= 1 || n < numThreads {
		return [][]pair{mapRange(hashes, bucketer)}
	}

	blocks := make([][]pair, numThreads)
	per := n / numThreads

	var g errgroup.Group
	for t := 0; t < numThreads; t++ {
		lo := t * per
		hi := lo + per
		if t == numThreads-1 {
			hi = n
		}
		g.Go(func() error {
			blocks[t] = mapRange(hashes[lo:hi], bucketer)
			return nil
		})
	}
	g.Wait()
	return blocks
}

func mapRange(hashes []Hash, bucketer Bucketer) []pair {
	pairs := make([]pair, len(hashes))
	for i, h := range hashes {
		pairs[i] = pair{bucketer.Bucket(h.First), h.Second}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairLess(pairs[i], pairs[j]) })
	return pairs
}

// bucketsStore holds the grouped buckets, counting-sorted by size: buffer i
// holds the buckets of size i+1, each as a packed block of
// bucket_id, payload_0 .. payload_i. Within a buffer, insertion order is
// bucket-id ascending, which gives the deterministic tie-break.
type bucketsStore struct {
	buffers     [maxBucketSize][]uint64
	numNonEmpty uint64
	maxSize     int
}

func (bs *bucketsStore) add(bucketID uint64, payloads []uint64) error {
	size := len(payloads)
	if size > maxBucketSize {
		return fmt.Errorf("pthash: bucket %d has %d keys (max %d); increase lambda: %w",
			bucketID, size, maxBucketSize, ErrInvalidConfig)
	}
	buf := append(bs.buffers[size-1], bucketID)
	bs.buffers[size-1] = append(buf, payloads...)
	bs.numNonEmpty++
	if size > bs.maxSize {
		bs.maxSize = size
	}
	return nil
}

// bucket is a view into a bucketsStore block; payloads alias the store.
type bucket struct {
	id       uint64
	payloads []uint64
}

func (b bucket) size() uint64 {
	return uint64(len(b.payloads))
}

// bucketIterator walks the store in (size desc, id asc) order.
type bucketIterator struct {
	bs   *bucketsStore
	size int
	off  int
}

func (bs *bucketsStore) iterator() *bucketIterator {
	return &bucketIterator{bs: bs, size: bs.maxSize}
}

func (it *bucketIterator) next() (bucket, bool) {
	for it.size > 0 {
		buf := it.bs.buffers[it.size-1]
		if it.off < len(buf) {
			b := bucket{
				id:       buf[it.off],
				payloads: buf[it.off+1 : it.off+1+it.size],
			}
			it.off += 1 + it.size
			return b, true
		}
		it.size--
		it.off = 0
	}
	return bucket{}, false
}

// mergePairs groups the sorted pair blocks into bs, detecting seed
// rejections (same bucket and payload twice).
func mergePairs(blocks [][]pair, bs *bucketsStore, verbose bool) error {
	if len(blocks) == 1 {
		return mergeSingleBlock(blocks[0], bs, verbose)
	}
	return mergeMultipleBlocks(blocks, bs, verbose)
}

func mergeSingleBlock(pairs []pair, bs *bucketsStore, verbose bool) error {
	if len(pairs) == 0 {
		return nil
	}
	plog := newProgressLogger(uint64(len(pairs)), "merged", verbose)

	begin := 0
	for i := 1; i != len(pairs); i++ {
		if pairs[i].bucket == pairs[i-1].bucket {
			if pairs[i].payload == pairs[i-1].payload {
				return ErrSeedRejected
			}
			continue
		}
		if err := bs.add(pairs[begin].bucket, payloadsOf(pairs[begin:i])); err != nil {
			return err
		}
		plog.log(uint64(i - begin))
		begin = i
	}
	if err := bs.add(pairs[begin].bucket, payloadsOf(pairs[begin:])); err != nil {
		return err
	}
	plog.log(uint64(len(pairs) - begin))
	plog.finalize()
	return nil
}

func payloadsOf(pairs []pair) []uint64 {
	p := make([]uint64, len(pairs))
	for i := range pairs {
		p[i] = pairs[i].payload
	}
	return p
}

// pairCursor is one input block of the k-way merge.
type pairCursor struct {
	pairs []pair
	idx   int
}

type pairHeap []pairCursor

func (h pairHeap) Len() int { return len(h) }
func (h pairHeap) Less(i, j int) bool {
	return pairLess(h[i].pairs[h[i].idx], h[j].pairs[h[j].idx])
}
func (h pairHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pairHeap) Push(x interface{}) { *h = append(*h, x.(pairCursor)) }
func (h *pairHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func mergeMultipleBlocks(blocks [][]pair, bs *bucketsStore, verbose bool) error {
	var total uint64
	h := make(pairHeap, 0, len(blocks))
	for _, b := range blocks {
		total += uint64(len(b))
		if len(b) > 0 {
			h = append(h, pairCursor{pairs: b})
		}
	}
	if len(h) == 0 {
		return nil
	}
	heap.Init(&h)
	plog := newProgressLogger(total, "merged", verbose)

	pop := func() pair {
		p := h[0].pairs[h[0].idx]
		h[0].idx++
		if h[0].idx == len(h[0].pairs) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
		return p
	}

	first := pop()
	bucketID := first.bucket
	payloads := make([]uint64, 1, maxBucketSize)
	payloads[0] = first.payload

	for h.Len() > 0 {
		p := pop()
		if p.bucket == bucketID {
			if p.payload == payloads[len(payloads)-1] {
				return ErrSeedRejected
			}
			payloads = append(payloads, p.payload)
			continue
		}
		if err := bs.add(bucketID, payloads); err != nil {
			return err
		}
		plog.log(uint64(len(payloads)))
		bucketID = p.bucket
		payloads = payloads[:1]
		payloads[0] = p.payload
	}
	if err := bs.add(bucketID, payloads); err != nil {
		return err
	}
	plog.log(uint64(len(payloads)))
	plog.finalize()
	return nil
}
