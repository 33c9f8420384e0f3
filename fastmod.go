// fastmod.go -- branch-free modular reduction with a precomputed magic
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Lemire's fastmod: M = ceil(2^128 / d) lets a % d be computed with three
// 64x64 multiplies and no division. See
// https://arxiv.org/abs/1902.01961

package pthash

import "math/bits"

// m64 is the 128-bit magic for reduction modulo a fixed 64-bit divisor.
type m64 struct {
	hi, lo uint64
}

// computeM64 returns the magic for divisor d > 0.
func computeM64(d uint64) m64 {
	// M = floor((2^128 - 1) / d) + 1
	hi := ^uint64(0) / d
	r := ^uint64(0) % d
	lo, _ := bits.Div64(r, ^uint64(0), d)
	lo, c := bits.Add64(lo, 1, 0)
	return m64{hi + c, lo}
}

// mod returns a % d, where m was computed for d.
func (m m64) mod(a, d uint64) uint64 {
	// lowbits = M * a  (mod 2^128)
	lbhi, lblo := bits.Mul64(m.lo, a)
	lbhi += m.hi * a

	// (lowbits * d) >> 128
	p1hi, _ := bits.Mul64(lblo, d)
	p2hi, p2lo := bits.Mul64(lbhi, d)
	_, c := bits.Add64(p2lo, p1hi, 0)
	return p2hi + c
}
