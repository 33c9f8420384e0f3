// fastmod_test.go -- test suite for the branch-free reduction
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package pthash

import "testing"

func TestFastmod(t *testing.T) {
	assert := newAsserter(t)

	divisors := []uint64{1, 2, 3, 5, 7, 63, 64, 65, 100003, 1<<32 - 1, 1<<32 + 1,
		1<<63 - 1, ^uint64(0)}

	for _, d := range divisors {
		m := computeM64(d)
		for i := 0; i < 1000; i++ {
			a := rand64()
			assert(m.mod(a, d) == a%d, "fastmod(%d, %d): exp %d, saw %d",
				a, d, a%d, m.mod(a, d))
		}
		for _, a := range []uint64{0, 1, d - 1, d, d + 1, ^uint64(0)} {
			assert(m.mod(a, d) == a%d, "fastmod(%d, %d): exp %d, saw %d",
				a, d, a%d, m.mod(a, d))
		}
	}
}
