// phf_test.go -- end-to-end tests for the single-table builds
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

func randomU64Keys(n int) []uint64 {
	seen := make(map[uint64]bool, n)
	keys := make([]uint64, 0, n)
	for len(keys) < n {
		k := rand64()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// requireBijective checks that f maps keys exactly onto [0, N).
func requireBijective(t *testing.T, f PHF, keys KeySet) {
	t.Helper()
	n := keys.NumKeys()
	hit := make([]bool, n)
	for k := range keys.Keys() {
		p := f.Lookup(k)
		require.Less(t, p, n, "position out of range")
		require.False(t, hit[p], "position %d hit twice", p)
		hit[p] = true
	}
}

// requirePerfect checks injectivity into [0, TableSize) for non-minimal
// builds.
func requirePerfect(t *testing.T, f PHF, keys KeySet) {
	t.Helper()
	seen := make(map[uint64]bool, keys.NumKeys())
	for k := range keys.Keys() {
		p := f.Lookup(k)
		require.Less(t, p, f.TableSize(), "position out of range")
		require.False(t, seen[p], "position %d hit twice", p)
		seen[p] = true
	}
}

// a tiny key set must come out minimal under every bucketer (E2)
func TestSinglePHFSmall(t *testing.T) {
	keys := U64Keys(randomU64Keys(100))

	for _, bucketer := range []string{"uniform", "skew", "opt"} {
		cfg := NewConfig()
		cfg.Lambda = 4.5
		cfg.Alpha = 1.0
		cfg.Bucketer = bucketer
		cfg.Seed = 42

		f, err := BuildSinglePHF(keys, cfg)
		require.NoError(t, err, "bucketer %s", bucketer)
		requireBijective(t, f, keys)
	}
}

func TestSinglePHFVariants(t *testing.T) {
	keys := U64Keys(randomU64Keys(20000))

	for _, st := range []SearchType{SearchXOR, SearchAdd} {
		for _, encoder := range []string{"C", "PC", "D", "R", "EF", "R-R"} {
			cfg := NewConfig()
			cfg.Alpha = 0.94
			cfg.Encoder = encoder
			cfg.Search = st
			cfg.Seed = 1234567890

			f, err := BuildSinglePHF(keys, cfg)
			require.NoError(t, err, "search %v encoder %s", st, encoder)
			requireBijective(t, f, keys)
		}
	}
}

func TestSinglePHFNonMinimal(t *testing.T) {
	keys := U64Keys(randomU64Keys(5000))

	cfg := NewConfig()
	cfg.Minimal = false
	cfg.Seed = 7

	f, err := BuildSinglePHF(keys, cfg)
	require.NoError(t, err)
	requirePerfect(t, f, keys)
}

func TestSinglePHFStringKeys(t *testing.T) {
	words := make([]string, 0, 4000)
	seen := make(map[string]bool)
	for len(words) < cap(words) {
		w := string(randbytes(3 + int(rand32()%12)))
		if !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}

	cfg := NewConfig()
	f, err := BuildSinglePHF(StringKeys(words), cfg)
	require.NoError(t, err)
	requireBijective(t, f, StringKeys(words))
}

// same seed, same config, same keys: byte-identical artifacts
func TestSinglePHFDeterminism(t *testing.T) {
	keys := U64Keys(randomU64Keys(10000))

	build := func(threads int) []byte {
		cfg := NewConfig()
		cfg.Seed = 99
		cfg.NumThreads = threads
		f, err := BuildSinglePHF(keys, cfg)
		require.NoError(t, err)

		var buf bytes.Buffer
		_, err = f.MarshalBinary(&buf)
		require.NoError(t, err)
		return buf.Bytes()
	}

	a := build(1)
	require.Equal(t, a, build(1), "two identical builds diverge")

	// parallel mapping and search must not change the artifact (E3)
	require.Equal(t, a, build(4), "parallel build diverges from sequential")
}

func TestSinglePHFMarshal(t *testing.T) {
	assert := newAsserter(t)

	keys := randomU64Keys(3000)
	cfg := NewConfig()
	cfg.Encoder = "D"

	f, err := BuildSinglePHF(U64Keys(keys), cfg)
	assert(err == nil, "build failed: %s", err)

	var buf bytes.Buffer
	n, err := f.MarshalBinary(&buf)
	assert(err == nil, "marshal failed: %s", err)
	t.Logf("marshal size: %d bytes\n", n)

	var f2 SinglePHF
	err = f2.UnmarshalBinary(buf.Bytes())
	assert(err == nil, "unmarshal failed: %s", err)

	ks := U64Keys(keys)
	for k := range ks.Keys() {
		x := f.Lookup(k)
		y := f2.Lookup(k)
		assert(x == y, "f and f2 map key %x: %d vs. %d", k, x, y)
	}
}

// duplicate keys hash identically under every seed: the fixed-seed path
// must surface the rejection, the random path must exhaust its retries (E6)
func TestSeedRejection(t *testing.T) {
	keys := randomU64Keys(1000)
	keys = append(keys, keys[500])

	cfg := NewConfig()
	cfg.Seed = 17
	_, err := BuildSinglePHF(U64Keys(keys), cfg)
	require.ErrorIs(t, err, ErrSeedRejected)

	cfg.Seed = InvalidSeed
	_, err = BuildSinglePHF(U64Keys(keys), cfg)
	require.ErrorIs(t, err, ErrSeedRejected)
}

func TestHashCollisionRisk(t *testing.T) {
	require.ErrorIs(t, checkCollisionRisk(Murmur2_64{}, 1<<30+1), ErrHashCollisionRisk)
	require.NoError(t, checkCollisionRisk(Murmur2_64{}, 1<<30))
	require.NoError(t, checkCollisionRisk(Murmur2_128{}, 1<<31))
}

func TestConfigValidation(t *testing.T) {
	keys := U64Keys(randomU64Keys(100))

	cfg := NewConfig()
	cfg.Alpha = 1.5
	_, err := BuildSinglePHF(keys, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = NewConfig()
	cfg.Alpha = 0
	_, err = BuildSinglePHF(keys, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = NewConfig()
	cfg.NumThreads = 0
	_, err = BuildSinglePHF(keys, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = NewConfig()
	cfg.Hasher = "sha3"
	_, err = BuildSinglePHF(keys, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHashers(t *testing.T) {
	keys := U64Keys(randomU64Keys(5000))

	for _, name := range []string{"murmur2-128", "murmur2-64", "xx64", "fast64"} {
		cfg := NewConfig()
		cfg.Hasher = name
		f, err := BuildSinglePHF(keys, cfg)
		require.NoError(t, err, "hasher %s", name)
		requireBijective(t, f, keys)
	}
}
