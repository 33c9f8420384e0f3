// encoder.go -- pilot/offset sequence compression
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
	"fmt"
	"strings"
)

// Encoder compresses a sequence of uint64 (pilots, offsets) and answers
// random access on the compressed form. The built-in family is a closed
// set, selected by name:
//
//	C   / compact              fixed-width packing
//	PC  / partitioned_compact  per-block fixed width (blocks of 256)
//	D   / dictionary           distinct values + ranks
//	R   / rice                 Golomb-Rice
//	EF  / elias_fano           Elias-Fano over prefix sums
//
// A name of the form "X-Y" is a dual encoder splitting the sequence between
// a front and a back encoder (front 30%).
type Encoder interface {
	Encode(values []uint64) error
	Access(i uint64) uint64
	Size() uint64
	NumBits() uint64
	Name() string

	marshalTo(w *sectionWriter)
	unmarshalFrom(r *sectionReader) error
}

// newEncoder returns a fresh encoder for the given name.
func newEncoder(name string) (Encoder, error) {
	switch name {
	case "C", "compact":
		return &compactEncoder{}, nil
	case "PC", "partitioned_compact":
		return &partitionedCompactEncoder{}, nil
	case "D", "dictionary":
		return &dictEncoder{}, nil
	case "R", "rice":
		return &riceEncoder{}, nil
	case "EF", "elias_fano":
		return &efEncoder{}, nil
	}

	if front, back, ok := strings.Cut(name, "-"); ok {
		fe, err := newEncoder(front)
		if err != nil {
			return nil, fmt.Errorf("pthash: unknown encoder %q: %w", name, ErrInvalidConfig)
		}
		be, err := newEncoder(back)
		if err != nil {
			return nil, fmt.Errorf("pthash: unknown encoder %q: %w", name, ErrInvalidConfig)
		}
		return &dualEncoder{front: fe, back: be}, nil
	}
	return nil, fmt.Errorf("pthash: unknown encoder %q: %w", name, ErrInvalidConfig)
}

// compactEncoder packs all values at the width of the largest.
type compactEncoder struct {
	values compactVector
}

func (e *compactEncoder) Encode(values []uint64) error {
	if len(values) == 0 {
		return nil
	}
	e.values = *compactVectorOf(values)
	return nil
}

func (e *compactEncoder) Access(i uint64) uint64 { return e.values.Access(i) }
func (e *compactEncoder) Size() uint64           { return e.values.Size() }
func (e *compactEncoder) NumBits() uint64        { return e.values.NumBits() }
func (e *compactEncoder) Name() string           { return "C" }

func (e *compactEncoder) marshalTo(w *sectionWriter) {
	e.values.marshalTo(w)
}

func (e *compactEncoder) unmarshalFrom(r *sectionReader) error {
	return e.values.unmarshalFrom(r)
}

// pcPartitionSize is the block length of the partitioned-compact encoder.
const pcPartitionSize = 256

// partitionedCompactEncoder packs each block of 256 values at the width of
// the block's own maximum; widths are kept as a cumulative array so block k
// starts at bit cumWidths[k]*256.
type partitionedCompactEncoder struct {
	n         uint64
	cumWidths []uint64
	values    bitVector
}

func (e *partitionedCompactEncoder) Encode(values []uint64) error {
	n := uint64(len(values))
	if n == 0 {
		return nil
	}
	e.n = n

	numPartitions := (n + pcPartitionSize - 1) / pcPartitionSize
	bv := newBitVectorBuilder(32 * n)
	e.cumWidths = make([]uint64, 1, numPartitions+1)

	for begin := uint64(0); begin < n; begin += pcPartitionSize {
		end := min(begin+pcPartitionSize, n)

		var maxv uint64
		for _, v := range values[begin:end] {
			if v > maxv {
				maxv = v
			}
		}
		width := bitWidth(maxv)

		for _, v := range values[begin:end] {
			bv.AppendBits(v, width)
		}

		// short tail blocks still reserve a full block of slots so the
		// access arithmetic stays uniform
		if end-begin < pcPartitionSize {
			for i := end - begin; i < pcPartitionSize; i++ {
				bv.AppendBits(0, width)
			}
		}
		e.cumWidths = append(e.cumWidths, e.cumWidths[len(e.cumWidths)-1]+uint64(width))
	}
	e.values = *bv
	return nil
}

func (e *partitionedCompactEncoder) Access(i uint64) uint64 {
	partition := i / pcPartitionSize
	offset := i % pcPartitionSize
	width := e.cumWidths[partition+1] - e.cumWidths[partition]
	pos := e.cumWidths[partition]*pcPartitionSize + offset*width
	return e.values.GetBits(pos, int(width))
}

func (e *partitionedCompactEncoder) Size() uint64 { return e.n }

func (e *partitionedCompactEncoder) NumBits() uint64 {
	return 64 + uint64(len(e.cumWidths))*64 + e.values.Size()
}

func (e *partitionedCompactEncoder) Name() string { return "PC" }

func (e *partitionedCompactEncoder) marshalTo(w *sectionWriter) {
	w.u64(e.n)
	w.u64s(e.cumWidths)
	e.values.marshalTo(w)
}

func (e *partitionedCompactEncoder) unmarshalFrom(r *sectionReader) error {
	e.n = r.u64()
	e.cumWidths = r.u64s()
	return e.values.unmarshalFrom(r)
}

// dualFrontFraction is the share of the sequence handed to the front
// encoder of a dual; front buckets are the large ones, whose pilots behave
// differently from the sparse tail.
const dualFrontFraction = 0.3

type dualEncoder struct {
	front, back Encoder
}

func (e *dualEncoder) Encode(values []uint64) error {
	n := uint64(len(values))
	frontSize := uint64(dualFrontFraction * float64(n))
	if err := e.front.Encode(values[:frontSize]); err != nil {
		return err
	}
	return e.back.Encode(values[frontSize:])
}

func (e *dualEncoder) Access(i uint64) uint64 {
	if i < e.front.Size() {
		return e.front.Access(i)
	}
	return e.back.Access(i - e.front.Size())
}

func (e *dualEncoder) Size() uint64 {
	return e.front.Size() + e.back.Size()
}

func (e *dualEncoder) NumBits() uint64 {
	return e.front.NumBits() + e.back.NumBits()
}

func (e *dualEncoder) Name() string {
	return e.front.Name() + "-" + e.back.Name()
}

func (e *dualEncoder) marshalTo(w *sectionWriter) {
	e.front.marshalTo(w)
	e.back.marshalTo(w)
}

func (e *dualEncoder) unmarshalFrom(r *sectionReader) error {
	if err := e.front.unmarshalFrom(r); err != nil {
		return err
	}
	return e.back.unmarshalFrom(r)
}
