// bucketer_test.go -- test suite for the bucketers
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

func TestBucketerRanges(t *testing.T) {
	assert := newAsserter(t)

	for _, name := range []string{"uniform", "skew", "opt"} {
		for _, n := range []uint64{1, 2, 7, 100, 4096, 50000} {
			b, err := newBucketer(name, n)
			assert(err == nil, "%s/%d: %s", name, n, err)
			assert(b.NumBuckets() == n, "%s/%d: num buckets %d", name, n, b.NumBuckets())

			for i := 0; i < 5000; i++ {
				id := b.Bucket(rand64())
				assert(id < n, "%s/%d: bucket %d out of range", name, n, id)
			}
			for _, h := range []uint64{0, 1, ^uint64(0), 1 << 63} {
				id := b.Bucket(h)
				assert(id < n, "%s/%d: bucket %d out of range for %#x", name, n, id, h)
			}
		}
	}
}

func TestUniformBucketerIsMod(t *testing.T) {
	assert := newAsserter(t)

	b := newUniformBucketer(12347)
	for i := 0; i < 10000; i++ {
		h := rand64()
		assert(b.Bucket(h) == h%12347, "uniform(%d) != mod", h)
	}
}

func TestSkewBucketerBias(t *testing.T) {
	assert := newAsserter(t)

	const n = 1000
	b := newSkewBucketer(n)

	dense := uint64(skewB * float64(n))
	var hits uint64
	const samples = 200000
	for i := 0; i < samples; i++ {
		if b.Bucket(rand64()) < dense {
			hits++
		}
	}

	// ~60% of hashes must land in the dense 30% of buckets
	frac := float64(hits) / samples
	assert(frac > 0.55 && frac < 0.65, "dense fraction %f outside [0.55, 0.65]", frac)
}

func TestOptBucketerLimit(t *testing.T) {
	assert := newAsserter(t)

	_, err := newBucketer("opt", 1<<16)
	assert(err != nil, "opt bucketer must reject 2^16 buckets")
}

func TestBucketerUnknown(t *testing.T) {
	assert := newAsserter(t)

	_, err := newBucketer("quadratic", 10)
	assert(err != nil, "unknown bucketer must fail")
}
