// bitvector_test.go -- test suite for bitvector
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
	"testing"
)

func TestBitVectorSimple(t *testing.T) {
	assert := newAsserter(t)

	bv := newBitVector(100)
	assert(bv.Size() == 100, "size mismatch; exp 100, saw %d", bv.Size())
	assert(bv.Words() == 2, "words mismatch; exp 2, saw %d", bv.Words())

	for i := uint64(0); i < bv.Size(); i++ {
		if 1 == (i & 1) {
			bv.Set(i)
		}
	}

	for i := uint64(0); i < bv.Size(); i++ {
		if 1 == (i & 1) {
			assert(bv.IsSet(i), "bit %d expected set", i)
		} else {
			assert(!bv.IsSet(i), "bit %d expected clear", i)
		}
	}

	assert(bv.Count() == 50, "count mismatch; exp 50, saw %d", bv.Count())

	bv.Clear(1)
	assert(!bv.IsSet(1), "bit 1 expected clear after Clear")

	bv.Reset()
	assert(bv.Count() == 0, "count mismatch after reset; exp 0, saw %d", bv.Count())
}

func TestBitVectorMerge(t *testing.T) {
	assert := newAsserter(t)

	a := newBitVector(128)
	b := newBitVector(128)

	a.Set(3).Set(64)
	b.Set(5).Set(127)

	a.Merge(b)
	for _, i := range []uint64{3, 5, 64, 127} {
		assert(a.IsSet(i), "bit %d lost in merge", i)
	}
	assert(a.Count() == 4, "merge count mismatch; saw %d", a.Count())
}

func TestBitVectorAppend(t *testing.T) {
	assert := newAsserter(t)

	bv := newBitVectorBuilder(0)
	vals := []uint64{0x3, 0x1f, 0, 0xdeadbeef, 1<<63 | 5}
	widths := []int{2, 5, 7, 32, 64}

	for i, v := range vals {
		bv.AppendBits(v, widths[i])
	}

	pos := uint64(0)
	for i, v := range vals {
		got := bv.GetBits(pos, widths[i])
		assert(got == v, "value %d mismatch; exp %#x, saw %#x", i, v, got)
		pos += uint64(widths[i])
	}
	assert(bv.Size() == pos, "size mismatch; exp %d, saw %d", pos, bv.Size())
}

func TestCompactVector(t *testing.T) {
	assert := newAsserter(t)

	vals := make([]uint64, 1000)
	for i := range vals {
		vals[i] = rand64() % 12345
	}

	cv := compactVectorOf(vals)
	for i, v := range vals {
		assert(cv.Access(uint64(i)) == v, "index %d mismatch; exp %d, saw %d",
			i, v, cv.Access(uint64(i)))
	}

	// crossing word boundaries with an odd width
	cv = newCompactVector(100, 13)
	for i := uint64(0); i < 100; i++ {
		cv.Set(i, i*71%8192)
	}
	for i := uint64(0); i < 100; i++ {
		assert(cv.Access(i) == i*71%8192, "index %d mismatch", i)
	}
}

func TestSelectIndex(t *testing.T) {
	assert := newAsserter(t)

	bv := newBitVector(100000)
	var ones []uint64
	for i := uint64(0); i < bv.Size(); i++ {
		if rand64()%7 == 0 {
			bv.Set(i)
			ones = append(ones, i)
		}
	}

	sel := newSelectIndex(bv)
	assert(sel.NumOnes() == uint64(len(ones)), "ones mismatch; exp %d, saw %d",
		len(ones), sel.NumOnes())

	for i, pos := range ones {
		got := sel.Select1(bv, uint64(i))
		assert(got == pos, "select(%d) mismatch; exp %d, saw %d", i, pos, got)
	}

	for i := 0; i+1 < len(ones); i++ {
		got := nextOne(bv, ones[i]+1)
		assert(got == ones[i+1], "nextOne(%d) mismatch; exp %d, saw %d",
			ones[i]+1, ones[i+1], got)
	}
}
