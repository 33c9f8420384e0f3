// dense_test.go -- end-to-end tests for the dense-partitioned builds
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

func denseConfig(encoder string) *Config {
	cfg := NewConfig()
	cfg.Seed = 77
	cfg.Lambda = 5.0
	cfg.Alpha = 1.0
	cfg.Encoder = encoder
	cfg.DensePartitioning = true
	cfg.AvgPartitionSize = 2000
	cfg.NumThreads = 2
	return cfg
}

// 64 partitions, minimal, interleaved pilots (E5); the dual interleaved
// encoder must beat plain interleaved-compact on the same input
func TestDensePartitionedPHF(t *testing.T) {
	const n = 64 * 2000
	keys := U64Keys(randomU64Keys(n))

	f, err := BuildDensePartitionedPHF(keys, denseConfig("inter-C"))
	require.NoError(t, err)
	require.Equal(t, uint64(64), f.NumPartitions())
	requireBijective(t, f, keys)

	f2, err := BuildDensePartitionedPHF(keys, denseConfig("inter-C-inter-R"))
	require.NoError(t, err)
	requireBijective(t, f2, keys)

	require.Less(t, f2.NumBits(), f.NumBits(),
		"inter-C-inter-R (%d bits) should be smaller than inter-C (%d bits)",
		f2.NumBits(), f.NumBits())
}

func TestDensePartitionedPHFEncoders(t *testing.T) {
	const n = 32 * 2000
	keys := U64Keys(randomU64Keys(n))

	for _, encoder := range []string{"inter-R", "multi-C", "inter-D-inter-R"} {
		cfg := denseConfig(encoder)
		f, err := BuildDensePartitionedPHF(keys, cfg)
		require.NoError(t, err, "encoder %s", encoder)
		requireBijective(t, f, keys)
	}
}

func TestDensePartitionedPHFAddSearch(t *testing.T) {
	const n = 32 * 2000
	keys := U64Keys(randomU64Keys(n))

	cfg := denseConfig("inter-R")
	cfg.Search = SearchAdd
	f, err := BuildDensePartitionedPHF(keys, cfg)
	require.NoError(t, err)
	requireBijective(t, f, keys)
}

func TestDensePartitionedPHFRejectsAlpha(t *testing.T) {
	keys := U64Keys(randomU64Keys(10000))

	cfg := denseConfig("inter-R")
	cfg.Alpha = 0.9
	_, err := BuildDensePartitionedPHF(keys, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDensePartitionedPHFMarshal(t *testing.T) {
	const n = 32 * 2000
	keys := U64Keys(randomU64Keys(n))

	f, err := BuildDensePartitionedPHF(keys, denseConfig("inter-C-inter-R"))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = f.MarshalBinary(&buf)
	require.NoError(t, err)

	var f2 DensePartitionedPHF
	require.NoError(t, f2.UnmarshalBinary(buf.Bytes()))

	for k := range keys.Keys() {
		require.Equal(t, f.Lookup(k), f2.Lookup(k))
	}
}
