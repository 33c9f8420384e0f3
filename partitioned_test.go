// partitioned_test.go -- end-to-end tests for the partitioned builds
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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// one million random keys through the additive search, partitioned (E1);
// the artifact must stay under 4 bits/key
func TestPartitionedPHFLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping the 1M-key build in -short mode")
	}

	const n = 1000000
	keys := U64Keys(randomU64Keys(n))

	cfg := NewConfig()
	cfg.Seed = 1234567890
	cfg.Lambda = 6
	cfg.Alpha = 0.97
	cfg.Search = SearchAdd
	cfg.AvgPartitionSize = 3000 // clamped to the minimum partition size
	cfg.NumThreads = 4
	cfg.Encoder = "R"

	f, err := BuildPartitionedPHF(keys, cfg)
	require.NoError(t, err)
	requireBijective(t, f, keys)

	bitsPerKey := float64(f.NumBits()) / float64(n)
	require.LessOrEqual(t, bitsPerKey, 4.0, "artifact too large: %.2f bits/key", bitsPerKey)
}

func TestPartitionedPHFSmall(t *testing.T) {
	const n = 250000
	keys := U64Keys(randomU64Keys(n))

	cfg := NewConfig()
	cfg.Seed = 5
	cfg.AvgPartitionSize = 100000
	cfg.NumThreads = 2

	f, err := BuildPartitionedPHF(keys, cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(3), f.NumPartitions())
	requireBijective(t, f, keys)
}

func TestPartitionedPHFNonMinimal(t *testing.T) {
	const n = 220000
	keys := U64Keys(randomU64Keys(n))

	cfg := NewConfig()
	cfg.Seed = 5
	cfg.AvgPartitionSize = 110000
	cfg.Minimal = false

	f, err := BuildPartitionedPHF(keys, cfg)
	require.NoError(t, err)
	requirePerfect(t, f, keys)
}

// parallel partition building must produce the sequential artifact
func TestPartitionedPHFDeterminism(t *testing.T) {
	keys := U64Keys(randomU64Keys(210000))

	build := func(threads int) []byte {
		cfg := NewConfig()
		cfg.Seed = 31
		cfg.AvgPartitionSize = 100000
		cfg.NumThreads = threads

		f, err := BuildPartitionedPHF(keys, cfg)
		require.NoError(t, err)

		var buf bytes.Buffer
		_, err = f.MarshalBinary(&buf)
		require.NoError(t, err)
		return buf.Bytes()
	}

	require.Equal(t, build(1), build(4))
}

func TestPartitionedPHFMarshal(t *testing.T) {
	keys := U64Keys(randomU64Keys(210000))

	cfg := NewConfig()
	cfg.Seed = 11
	cfg.AvgPartitionSize = 100000

	f, err := BuildPartitionedPHF(keys, cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = f.MarshalBinary(&buf)
	require.NoError(t, err)

	var f2 PartitionedPHF
	require.NoError(t, f2.UnmarshalBinary(buf.Bytes()))

	for k := range keys.Keys() {
		require.Equal(t, f.Lookup(k), f2.Lookup(k))
	}
}
