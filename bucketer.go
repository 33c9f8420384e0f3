// bucketer.go -- hash to bucket-id mappings
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
	"math"
)

// Bucketer maps the first projection of a key hash to a bucket id in
// [0, NumBuckets). Implementations are the closed set "uniform", "skew" and
// "opt"; the uniform bucketer doubles as the partitioner.
type Bucketer interface {
	Bucket(hash uint64) uint64
	NumBuckets() uint64
	Name() string

	marshalTo(w *sectionWriter)
	unmarshalFrom(r *sectionReader) error
}

// newBucketer constructs a named bucketer over numBuckets buckets.
func newBucketer(name string, numBuckets uint64) (Bucketer, error) {
	switch name {
	case "uniform":
		return newUniformBucketer(numBuckets), nil
	case "", "skew":
		return newSkewBucketer(numBuckets), nil
	case "opt":
		return newOptBucketer(numBuckets)
	}
	return nil, fmt.Errorf("pthash: unknown bucketer %q: %w", name, ErrInvalidConfig)
}

// bucketerByName returns an empty bucketer shell for unmarshaling.
func bucketerByName(name string) (Bucketer, error) {
	switch name {
	case "uniform":
		return &uniformBucketer{}, nil
	case "skew":
		return &skewBucketer{}, nil
	case "opt":
		return &optBucketer{}, nil
	}
	return nil, fmt.Errorf("pthash: unknown bucketer %q in artifact", name)
}

// uniformBucketer spreads hashes evenly with a fastmod reduction.
type uniformBucketer struct {
	n uint64
	m m64
}

func newUniformBucketer(numBuckets uint64) *uniformBucketer {
	return &uniformBucketer{
		n: numBuckets,
		m: computeM64(numBuckets),
	}
}

func (u *uniformBucketer) Bucket(hash uint64) uint64 {
	return u.m.mod(hash, u.n)
}

func (u *uniformBucketer) NumBuckets() uint64 { return u.n }
func (u *uniformBucketer) Name() string       { return "uniform" }

func (u *uniformBucketer) marshalTo(w *sectionWriter) {
	w.u64(u.n)
}

func (u *uniformBucketer) unmarshalFrom(r *sectionReader) error {
	u.n = r.u64()
	if u.n == 0 {
		return fmt.Errorf("pthash: uniform bucketer with zero buckets")
	}
	u.m = computeM64(u.n)
	return nil
}

// skewBucketer sends skewA of the hash space into skewB of the buckets:
// most keys land in a small "dense" prefix, biasing toward larger buckets.
const (
	skewA = 0.6
	skewB = 0.3
)

type skewBucketer struct {
	numDense, numSparse uint64
	mDense, mSparse     m64
	threshold           uint64
}

func newSkewBucketer(numBuckets uint64) *skewBucketer {
	b := &skewBucketer{}
	b.init(numBuckets)
	return b
}

func (s *skewBucketer) init(numBuckets uint64) {
	s.numDense = uint64(skewB * float64(numBuckets))
	if s.numDense == 0 {
		s.numDense = 1
	}
	if s.numDense >= numBuckets {
		s.numDense = numBuckets - 1
	}
	if numBuckets == 1 {
		s.numDense = 1
	}
	s.numSparse = numBuckets - s.numDense
	s.mDense = computeM64(s.numDense)
	if s.numSparse > 0 {
		s.mSparse = computeM64(s.numSparse)
	}
	s.threshold = uint64(skewA * float64(math.MaxUint64))
}

func (s *skewBucketer) Bucket(hash uint64) uint64 {
	if hash < s.threshold || s.numSparse == 0 {
		return s.mDense.mod(hash, s.numDense)
	}
	return s.numDense + s.mSparse.mod(hash, s.numSparse)
}

func (s *skewBucketer) NumBuckets() uint64 { return s.numDense + s.numSparse }
func (s *skewBucketer) Name() string       { return "skew" }

func (s *skewBucketer) marshalTo(w *sectionWriter) {
	w.u64(s.numDense + s.numSparse)
}

func (s *skewBucketer) unmarshalFrom(r *sectionReader) error {
	n := r.u64()
	if n == 0 {
		return fmt.Errorf("pthash: skew bucketer with zero buckets")
	}
	s.init(n)
	return nil
}

// optBucketer approximates the optimal bucket-density function with a
// 1024-fulcrum piecewise-linear spline in 16-bit fixed point. The fulcrum
// width limits it to fewer than 2^16 buckets, which is where it is used:
// per-partition bucket counts of dense builds.
const numFulcrums = 1024

type optBucketer struct {
	n        uint64
	fulcrums [numFulcrums]uint32
}

func newOptBucketer(numBuckets uint64) (*optBucketer, error) {
	o := &optBucketer{}
	if err := o.init(numBuckets); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *optBucketer) init(numBuckets uint64) error {
	if numBuckets >= 1<<16 {
		return fmt.Errorf("pthash: opt bucketer supports < 65536 buckets, got %d: %w",
			numBuckets, ErrInvalidConfig)
	}
	o.n = numBuckets
	for xi := 0; xi < numFulcrums; xi++ {
		x := float64(xi) / float64(numFulcrums-1)
		y := optDensity(x)
		o.fulcrums[xi] = uint32(y * float64(numBuckets) * float64(1<<16))
	}
	return nil
}

// optDensity is the closed-form optimal density the offline spline table
// approximates; clamped at the boundaries like the table lookup.
func optDensity(x float64) float64 {
	const c = 0.08
	if x > 0.9999 {
		return 1.0
	}
	if x < 0.0001 {
		return 0.0
	}
	return (x+(1-x)*math.Log(1-x))*(1-c) + x*c
}

func (o *optBucketer) Bucket(hash uint64) uint64 {
	z := (hash >> 32) * uint64(numFulcrums-1)
	index := z >> 32
	part := z & 0xFFFFFFFF
	v1 := (uint64(o.fulcrums[index]) * (0xFFFFFFFF - part)) >> 32
	v2 := (uint64(o.fulcrums[index+1]) * part) >> 32
	return (v1 + v2) >> 16
}

func (o *optBucketer) NumBuckets() uint64 { return o.n }
func (o *optBucketer) Name() string       { return "opt" }

func (o *optBucketer) marshalTo(w *sectionWriter) {
	w.u64(o.n)
}

func (o *optBucketer) unmarshalFrom(r *sectionReader) error {
	return o.init(r.u64())
}
