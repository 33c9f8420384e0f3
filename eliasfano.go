// eliasfano.go -- Elias-Fano encoding of monotone sequences
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package pthash

import "math/bits"

// efSequence stores a non-decreasing sequence of uint64 with the classic
// high-bits/low-bits split: each value contributes its low l bits to a
// compact vector and a unary mark to a sparse bitmap.
type efSequence struct {
	highBits bitVector
	sel      selectIndex
	lowBits  compactVector
}

// encode compresses the (non-decreasing) values. The input is not retained.
func (e *efSequence) encode(values []uint64) {
	n := uint64(len(values))
	if n == 0 {
		return
	}
	u := values[n-1]

	var l int
	if u/n > 0 {
		l = bits.Len64(u/n) - 1
	}

	hb := newBitVector(n + (u >> l) + 1)
	lb := newCompactVector(n, l)

	for i, v := range values {
		lb.Set(uint64(i), v&((uint64(1)<<l)-1))
		hb.Set((v >> l) + uint64(i))
	}

	e.highBits = *hb
	e.lowBits = *lb
	e.sel.build(&e.highBits)
}

// Access returns the i-th value.
func (e *efSequence) Access(i uint64) uint64 {
	return ((e.sel.Select1(&e.highBits, i) - i) << e.lowBits.Width()) | e.lowBits.Access(i)
}

// Diff returns value(i+1) - value(i) without decoding both from scratch:
// the next high part is the next set bit after select(i).
func (e *efSequence) Diff(i uint64) uint64 {
	l := e.lowBits.Width()
	pos := e.sel.Select1(&e.highBits, i)
	h1 := pos - i
	h2 := nextOne(&e.highBits, pos+1) - i - 1
	v1 := (h1 << l) | e.lowBits.Access(i)
	v2 := (h2 << l) | e.lowBits.Access(i+1)
	return v2 - v1
}

func (e *efSequence) Size() uint64 {
	return e.lowBits.Size()
}

func (e *efSequence) NumBits() uint64 {
	return e.highBits.Size() + e.sel.numBits() + e.lowBits.NumBits()
}

func (e *efSequence) marshalTo(w *sectionWriter) {
	e.highBits.marshalTo(w)
	e.lowBits.marshalTo(w)
}

func (e *efSequence) unmarshalFrom(r *sectionReader) error {
	if err := e.highBits.unmarshalFrom(r); err != nil {
		return err
	}
	if err := e.lowBits.unmarshalFrom(r); err != nil {
		return err
	}
	e.sel.build(&e.highBits)
	return nil
}

// efEncoder adapts efSequence to the pilot-encoder interface: the pilots
// are stored as their prefix sums, so random access decodes a difference.
type efEncoder struct {
	seq efSequence
	n   uint64
}

func (e *efEncoder) Encode(values []uint64) error {
	e.n = uint64(len(values))
	if e.n == 0 {
		return nil
	}
	sums := make([]uint64, len(values)+1)
	for i, v := range values {
		sums[i+1] = sums[i] + v
	}
	e.seq.encode(sums)
	return nil
}

func (e *efEncoder) Access(i uint64) uint64 {
	return e.seq.Diff(i)
}

func (e *efEncoder) Size() uint64 {
	return e.n
}

func (e *efEncoder) NumBits() uint64 {
	return 64 + e.seq.NumBits()
}

func (e *efEncoder) Name() string { return "EF" }

func (e *efEncoder) marshalTo(w *sectionWriter) {
	w.u64(e.n)
	e.seq.marshalTo(w)
}

func (e *efEncoder) unmarshalFrom(r *sectionReader) error {
	e.n = r.u64()
	if r.err != nil {
		return r.err
	}
	return e.seq.unmarshalFrom(r)
}
