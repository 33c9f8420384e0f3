// dense_encoders.go -- interleaved pilot storage for dense partitioning
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Dense-partitioned builds store pilots interleaved across partitions:
// position (partition, bucket) lives at num_partitions*bucket + partition,
// so the pilots playing the same structural role in every partition are
// adjacent and compress well.

package pthash

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DenseEncoder compresses the interleaved pilot matrix of a dense build.
// The built-in names:
//
//	inter-<E>          one encoder over the whole interleaved sequence
//	multi-<E>          one encoder per bucket column
//	<Front>-<Back>     a dual splitting the first third of the bucket
//	                   columns from the rest, e.g. "inter-C-inter-R"
//
// where <E> is one of the plain encoder codes C, PC, D, R, EF.
type DenseEncoder interface {
	// EncodeDense compresses interleaved, which holds
	// numPartitions*numBucketsPerPartition pilots in interleaved order.
	EncodeDense(interleaved []uint64, numPartitions, numBucketsPerPartition uint64, numThreads int) error

	// AccessDense returns the pilot of the given bucket of the given
	// partition.
	AccessDense(partition, bucket uint64) uint64

	NumBits() uint64
	Name() string

	marshalTo(w *sectionWriter)
	unmarshalFrom(r *sectionReader) error
}

// newDenseEncoder returns a fresh dense encoder for the given name.
func newDenseEncoder(name string) (DenseEncoder, error) {
	bad := func() error {
		return fmt.Errorf("pthash: unknown dense encoder %q: %w", name, ErrInvalidConfig)
	}

	parts := strings.Split(name, "-")
	switch len(parts) {
	case 2:
		sub, err := newEncoder(parts[1])
		if err != nil {
			return nil, bad()
		}
		switch parts[0] {
		case "inter", "mono":
			return &monoInterleaved{enc: sub}, nil
		case "multi":
			return &multiInterleaved{subName: parts[1]}, nil
		}

	case 4:
		front, err := newDenseEncoder(parts[0] + "-" + parts[1])
		if err != nil {
			return nil, bad()
		}
		back, err := newDenseEncoder(parts[2] + "-" + parts[3])
		if err != nil {
			return nil, bad()
		}
		return &dualInterleaved{front: front, back: back}, nil
	}
	return nil, bad()
}

// denseDualFrontNum/Den is the share of bucket columns handled by the front
// encoder of a dense dual.
const (
	denseDualFrontNum = 1
	denseDualFrontDen = 3
)

// monoInterleaved runs a single plain encoder over the linearized
// interleaved sequence.
type monoInterleaved struct {
	numPartitions uint64
	enc           Encoder
}

func (m *monoInterleaved) EncodeDense(interleaved []uint64, numPartitions, numBucketsPerPartition uint64, _ int) error {
	m.numPartitions = numPartitions
	return m.enc.Encode(interleaved)
}

func (m *monoInterleaved) AccessDense(partition, bucket uint64) uint64 {
	return m.enc.Access(m.numPartitions*bucket + partition)
}

func (m *monoInterleaved) NumBits() uint64 {
	return 64 + m.enc.NumBits()
}

func (m *monoInterleaved) Name() string {
	return "inter-" + m.enc.Name()
}

func (m *monoInterleaved) marshalTo(w *sectionWriter) {
	w.u64(m.numPartitions)
	m.enc.marshalTo(w)
}

func (m *monoInterleaved) unmarshalFrom(r *sectionReader) error {
	m.numPartitions = r.u64()
	if r.err != nil {
		return r.err
	}
	return m.enc.unmarshalFrom(r)
}

// multiInterleaved runs an independent encoder per bucket column; columns
// are encoded in parallel.
type multiInterleaved struct {
	subName string
	encs    []Encoder
}

func (m *multiInterleaved) EncodeDense(interleaved []uint64, numPartitions, numBucketsPerPartition uint64, numThreads int) error {
	m.encs = make([]Encoder, numBucketsPerPartition)
	for i := range m.encs {
		e, err := newEncoder(m.subName)
		if err != nil {
			return err
		}
		m.encs[i] = e
	}

	var g errgroup.Group
	g.SetLimit(max(numThreads, 1))
	for i := uint64(0); i < numBucketsPerPartition; i++ {
		g.Go(func() error {
			return m.encs[i].Encode(interleaved[i*numPartitions : (i+1)*numPartitions])
		})
	}
	return g.Wait()
}

func (m *multiInterleaved) AccessDense(partition, bucket uint64) uint64 {
	return m.encs[bucket].Access(partition)
}

func (m *multiInterleaved) NumBits() uint64 {
	var sum uint64
	for _, e := range m.encs {
		sum += e.NumBits()
	}
	return sum
}

func (m *multiInterleaved) Name() string {
	return "multi-" + m.subName
}

func (m *multiInterleaved) marshalTo(w *sectionWriter) {
	w.u64(uint64(len(m.encs)))
	for _, e := range m.encs {
		e.marshalTo(w)
	}
}

func (m *multiInterleaved) unmarshalFrom(r *sectionReader) error {
	n := r.u64()
	if r.err != nil {
		return r.err
	}
	m.encs = make([]Encoder, n)
	for i := range m.encs {
		e, err := newEncoder(m.subName)
		if err != nil {
			return err
		}
		if err = e.unmarshalFrom(r); err != nil {
			return err
		}
		m.encs[i] = e
	}
	return nil
}

// dualInterleaved splits the bucket columns between two dense encoders.
type dualInterleaved struct {
	frontBuckets uint64
	front, back  DenseEncoder
}

func (d *dualInterleaved) EncodeDense(interleaved []uint64, numPartitions, numBucketsPerPartition uint64, numThreads int) error {
	d.frontBuckets = numBucketsPerPartition * denseDualFrontNum / denseDualFrontDen
	split := d.frontBuckets * numPartitions

	if d.frontBuckets > 0 {
		if err := d.front.EncodeDense(interleaved[:split], numPartitions, d.frontBuckets, numThreads); err != nil {
			return err
		}
	}
	if numBucketsPerPartition > d.frontBuckets {
		return d.back.EncodeDense(interleaved[split:], numPartitions,
			numBucketsPerPartition-d.frontBuckets, numThreads)
	}
	return nil
}

func (d *dualInterleaved) AccessDense(partition, bucket uint64) uint64 {
	if bucket < d.frontBuckets {
		return d.front.AccessDense(partition, bucket)
	}
	return d.back.AccessDense(partition, bucket-d.frontBuckets)
}

func (d *dualInterleaved) NumBits() uint64 {
	return 64 + d.front.NumBits() + d.back.NumBits()
}

func (d *dualInterleaved) Name() string {
	return d.front.Name() + "-" + d.back.Name()
}

func (d *dualInterleaved) marshalTo(w *sectionWriter) {
	w.u64(d.frontBuckets)
	d.front.marshalTo(w)
	d.back.marshalTo(w)
}

func (d *dualInterleaved) unmarshalFrom(r *sectionReader) error {
	d.frontBuckets = r.u64()
	if r.err != nil {
		return r.err
	}
	if err := d.front.unmarshalFrom(r); err != nil {
		return err
	}
	return d.back.unmarshalFrom(r)
}

// diffEncoder stores a near-arithmetic sequence as signed deltas against an
// expected fixed increment; used for the offsets of a dense build.
type diffEncoder struct {
	increment uint64
	enc       Encoder
}

func (d *diffEncoder) Encode(values []uint64, increment uint64) error {
	d.increment = increment
	diffs := make([]uint64, len(values))
	expected := int64(0)
	for i, v := range values {
		toEncode := int64(v) - expected
		abs := uint64(toEncode)
		if toEncode < 0 {
			abs = uint64(-toEncode)
		}
		sign := uint64(0)
		if toEncode > 0 {
			sign = 1
		}
		diffs[i] = abs<<1 | sign
		expected += int64(increment)
	}
	return d.enc.Encode(diffs)
}

func (d *diffEncoder) Access(i uint64) uint64 {
	v := d.enc.Access(i)
	expected := i * d.increment
	mag := v >> 1
	if v&1 == 1 {
		return expected + mag
	}
	return expected - mag
}

func (d *diffEncoder) NumBits() uint64 {
	return 64 + d.enc.NumBits()
}

func (d *diffEncoder) marshalTo(w *sectionWriter) {
	w.u64(d.increment)
	d.enc.marshalTo(w)
}

func (d *diffEncoder) unmarshalFrom(r *sectionReader) error {
	d.increment = r.u64()
	if r.err != nil {
		return r.err
	}
	return d.enc.unmarshalFrom(r)
}
