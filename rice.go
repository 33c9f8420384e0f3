// rice.go -- Golomb-Rice coded pilot sequences
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package pthash

import "math"

// riceEncoder stores each value as a unary quotient (in a bitmap with a
// select index) and an l-bit remainder. l is estimated from the sample mean
// per Kiely, "Selecting the Golomb Parameter in Rice Coding", 2004.
type riceEncoder struct {
	highBits bitVector
	sel      selectIndex
	lowBits  compactVector
}

func (e *riceEncoder) Encode(values []uint64) error {
	n := uint64(len(values))
	if n == 0 {
		return nil
	}

	l := riceParameter(values)
	hb := newBitVectorBuilder(n * 2)
	lb := newCompactVector(n, l)

	for i, v := range values {
		lb.Set(uint64(i), v&((uint64(1)<<l)-1))
		for j := v >> l; j > 0; j-- {
			hb.AppendBit(false)
		}
		hb.AppendBit(true)
	}

	e.highBits = *hb
	e.lowBits = *lb
	e.sel.build(&e.highBits)
	return nil
}

// riceParameter estimates the optimal Rice parameter from the sample mean;
// Eq. (8) of Kiely (2004).
func riceParameter(values []uint64) int {
	var sum uint64
	for _, v := range values {
		sum += v
	}
	n := float64(len(values))
	p := n / (float64(sum) + n)
	const gold = 1.61803398874989484820 // (sqrt(5)+1)/2
	l := 1 + math.Floor(math.Log2(math.Log(gold-1)/math.Log(1-p)))
	if math.IsNaN(l) || l < 0 {
		return 0
	}
	return int(l)
}

func (e *riceEncoder) Access(i uint64) uint64 {
	start := int64(-1)
	if i > 0 {
		start = int64(e.sel.Select1(&e.highBits, i-1))
	}
	end := int64(e.sel.Select1(&e.highBits, i))
	high := uint64(end - start - 1)
	return (high << e.lowBits.Width()) | e.lowBits.Access(i)
}

func (e *riceEncoder) Size() uint64 {
	return e.lowBits.Size()
}

func (e *riceEncoder) NumBits() uint64 {
	return e.highBits.Size() + e.sel.numBits() + e.lowBits.NumBits()
}

func (e *riceEncoder) Name() string { return "R" }

func (e *riceEncoder) marshalTo(w *sectionWriter) {
	e.highBits.marshalTo(w)
	e.lowBits.marshalTo(w)
}

func (e *riceEncoder) unmarshalFrom(r *sectionReader) error {
	if err := e.highBits.unmarshalFrom(r); err != nil {
		return err
	}
	if err := e.lowBits.unmarshalFrom(r); err != nil {
		return err
	}
	e.sel.build(&e.highBits)
	return nil
}
