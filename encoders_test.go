// encoders_test.go -- round-trip tests for the encoder family
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pilotLike returns a sequence distributed like real pilots: mostly small,
// geometric-ish, a few spikes.
func pilotLike(n int) []uint64 {
	vals := make([]uint64, n)
	for i := range vals {
		v := rand64() % 64
		if rand64()%97 == 0 {
			v = rand64() % 100000
		}
		vals[i] = v
	}
	return vals
}

var encoderNames = []string{
	"C", "PC", "D", "R", "EF",
	"R-R", "C-C", "D-D", "D-R", "EF-EF",
}

func TestEncoderRoundTrip(t *testing.T) {
	for _, name := range encoderNames {
		t.Run(name, func(t *testing.T) {
			vals := pilotLike(5000)

			e, err := newEncoder(name)
			require.NoError(t, err)
			require.NoError(t, e.Encode(vals))
			require.EqualValues(t, len(vals), e.Size())

			for i, v := range vals {
				require.Equal(t, v, e.Access(uint64(i)), "index %d", i)
			}
			assert.Greater(t, e.NumBits(), uint64(0))
		})
	}
}

func TestEncoderMarshalRoundTrip(t *testing.T) {
	for _, name := range encoderNames {
		t.Run(name, func(t *testing.T) {
			vals := pilotLike(2000)

			e, err := newEncoder(name)
			require.NoError(t, err)
			require.NoError(t, e.Encode(vals))

			var sw sectionWriter
			e.marshalTo(&sw)

			e2, err := newEncoder(name)
			require.NoError(t, err)
			require.NoError(t, e2.unmarshalFrom(newSectionReader(sw.bytes())))

			for i, v := range vals {
				require.Equal(t, v, e2.Access(uint64(i)), "index %d", i)
			}

			// determinism: re-encoding marshals bit-exactly
			e3, err := newEncoder(name)
			require.NoError(t, err)
			require.NoError(t, e3.Encode(vals))
			var sw3 sectionWriter
			e3.marshalTo(&sw3)
			require.Equal(t, sw.bytes(), sw3.bytes())
		})
	}
}

func TestEncoderUnknown(t *testing.T) {
	_, err := newEncoder("huffman")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEFSequence(t *testing.T) {
	vals := make([]uint64, 3000)
	var cur uint64
	for i := range vals {
		cur += rand64() % 50
		vals[i] = cur
	}

	var ef efSequence
	ef.encode(vals)
	require.EqualValues(t, len(vals), ef.Size())

	for i, v := range vals {
		require.Equal(t, v, ef.Access(uint64(i)), "access %d", i)
	}
	for i := 0; i+1 < len(vals); i++ {
		require.Equal(t, vals[i+1]-vals[i], ef.Diff(uint64(i)), "diff %d", i)
	}
}

func TestDiffEncoder(t *testing.T) {
	const increment = 1000
	vals := make([]uint64, 500)
	var cur uint64
	for i := range vals {
		vals[i] = cur
		// wobble around the expected increment
		cur += increment - 20 + rand64()%41
	}

	d := diffEncoder{enc: &compactEncoder{}}
	require.NoError(t, d.Encode(vals, increment))
	for i, v := range vals {
		require.Equal(t, v, d.Access(uint64(i)), "index %d", i)
	}
}

var denseEncoderNames = []string{
	"inter-C", "inter-R", "inter-D", "inter-EF",
	"multi-C", "multi-R", "multi-D",
	"inter-C-inter-R", "multi-C-multi-R", "inter-D-inter-R",
}

func TestDenseEncoderRoundTrip(t *testing.T) {
	const numPartitions = 32
	const numBuckets = 40

	interleaved := pilotLike(numPartitions * numBuckets)

	for _, name := range denseEncoderNames {
		t.Run(name, func(t *testing.T) {
			e, err := newDenseEncoder(name)
			require.NoError(t, err)
			require.NoError(t, e.EncodeDense(interleaved, numPartitions, numBuckets, 2))

			for b := uint64(0); b < numBuckets; b++ {
				for p := uint64(0); p < numPartitions; p++ {
					require.Equal(t, interleaved[b*numPartitions+p],
						e.AccessDense(p, b), "partition %d bucket %d", p, b)
				}
			}

			var sw sectionWriter
			e.marshalTo(&sw)
			e2, err := newDenseEncoder(name)
			require.NoError(t, err)
			require.NoError(t, e2.unmarshalFrom(newSectionReader(sw.bytes())))
			for b := uint64(0); b < numBuckets; b++ {
				for p := uint64(0); p < numPartitions; p++ {
					require.Equal(t, interleaved[b*numPartitions+p],
						e2.AccessDense(p, b), "partition %d bucket %d", p, b)
				}
			}
		})
	}
}
