// hasher.go -- seeded key hashing for the PTHash family
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Package pthash builds and queries minimal perfect hash functions over
// static sets of distinct keys, following the PTHash construction: keys are
// hashed into buckets, buckets are processed in decreasing-size order, and a
// per-bucket "pilot" is searched that displaces every member into a free
// slot of a table. Pilots are stored with a compressed integer code; a
// free-slot remap makes the function minimal when the table is larger than
// the key set.
//
// Builders exist for a single table (BuildSinglePHF), a partitioned layout
// (BuildPartitionedPHF), a dense-partitioned layout with interleaved pilot
// storage (BuildDensePartitionedPHF), and external-memory variants that
// spill to temporary files (BuildSinglePHFExternal,
// BuildPartitionedPHFExternal).
//
// Additionally, DBWriter builds a constant-time read-only DB on top of the
// MPHF: it serializes the values, indexed by the hash function and checked
// against key fingerprints, so DBReader can look values up in constant time.
package pthash

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/opencoff/go-fasthash"
)

// Hash carries the two 64-bit projections of a hashed key: First feeds the
// bucketer, Second seeds the slot computation. The partitioning projection
// is derived by the Hasher's Mix.
type Hash struct {
	First, Second uint64
}

// Hasher is a deterministic, seeded hash function over byte-string keys.
type Hasher interface {
	// Hash maps a key under the given seed.
	Hash(key []byte, seed uint64) Hash

	// Mix folds a Hash into the single 64-bit value used for partitioning.
	Mix(h Hash) uint64

	// Bits is the effective hash width, 64 or 128; 64-bit hashers are
	// refused for key sets above 2^30.
	Bits() int

	Name() string
}

// HasherByName returns one of the built-in hashers: "murmur2-128" (the
// default), "murmur2-64", "xx64" or "fast64".
func HasherByName(name string) (Hasher, error) {
	switch name {
	case "", "murmur2-128":
		return Murmur2_128{}, nil
	case "murmur2-64":
		return Murmur2_64{}, nil
	case "xx64":
		return XX64{}, nil
	case "fast64":
		return Fast64{}, nil
	}
	return nil, fmt.Errorf("pthash: unknown hasher %q: %w", name, ErrInvalidConfig)
}

// checkCollisionRisk rejects 64-bit hashing of key sets where the birthday
// bound makes a full-width collision likely (~3% at 2^30 keys).
func checkCollisionRisk(h Hasher, numKeys uint64) error {
	if h.Bits() == 64 && numKeys > 1<<30 {
		return ErrHashCollisionRisk
	}
	return nil
}

// murmur2 is MurmurHash2-64A by Austin Appleby.
func murmur2(key []byte, seed uint64) uint64 {
	const m = 0xc6a4a7935bd1e995
	const r = 47

	h := seed ^ (uint64(len(key)) * m)

	for ; len(key) >= 8; key = key[8:] {
		k := binary.LittleEndian.Uint64(key)

		k *= m
		k ^= k >> r
		k *= m

		h ^= k
		h *= m
	}

	switch len(key) & 7 {
	case 7:
		h ^= uint64(key[6]) << 48
		fallthrough
	case 6:
		h ^= uint64(key[5]) << 40
		fallthrough
	case 5:
		h ^= uint64(key[4]) << 32
		fallthrough
	case 4:
		h ^= uint64(key[3]) << 24
		fallthrough
	case 3:
		h ^= uint64(key[2]) << 16
		fallthrough
	case 2:
		h ^= uint64(key[1]) << 8
		fallthrough
	case 1:
		h ^= uint64(key[0])
		h *= m
	}

	h ^= h >> r
	h *= m
	h ^= h >> r

	return h
}

// hash64Value hashes a bare uint64; this is the pilot hash of the searches
// and the query path, fixed independently of the key hasher.
func hash64Value(v, seed uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return murmur2(b[:], seed)
}

// splitmix64 is the 13th variant of the mix from
// http://zimbry.blogspot.com/2011/09/better-bit-mixing-improving-on.html
func splitmix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Murmur2_128 hashes keys with two independent MurmurHash2-64 passes under
// seeds s and ^s. This is the default hasher.
type Murmur2_128 struct{}

func (Murmur2_128) Hash(key []byte, seed uint64) Hash {
	return Hash{murmur2(key, seed), murmur2(key, ^seed)}
}

func (Murmur2_128) Mix(h Hash) uint64 { return h.First ^ h.Second }
func (Murmur2_128) Bits() int         { return 128 }
func (Murmur2_128) Name() string      { return "murmur2-128" }

// Murmur2_64 hashes keys with a single MurmurHash2-64 pass; both projections
// are the raw hash and Mix applies a splitmix finalizer so the partitioner
// sees bits independent from the bucketer's.
type Murmur2_64 struct{}

func (Murmur2_64) Hash(key []byte, seed uint64) Hash {
	h := murmur2(key, seed)
	return Hash{h, h}
}

func (Murmur2_64) Mix(h Hash) uint64 { return splitmix64(h.First) }
func (Murmur2_64) Bits() int         { return 64 }
func (Murmur2_64) Name() string      { return "murmur2-64" }

// XX64 is a 64-bit hasher built on xxhash; the seed is prepended to the key.
type XX64 struct{}

func (XX64) Hash(key []byte, seed uint64) Hash {
	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], seed)

	d := xxhash.New()
	d.Write(s[:])
	d.Write(key)
	h := d.Sum64()
	return Hash{h, h}
}

func (XX64) Mix(h Hash) uint64 { return splitmix64(h.First) }
func (XX64) Bits() int         { return 64 }
func (XX64) Name() string      { return "xx64" }

// Fast64 is a 64-bit hasher built on Zi Long Tan's superfast hash.
type Fast64 struct{}

func (Fast64) Hash(key []byte, seed uint64) Hash {
	h := fasthash.Hash64(seed, key)
	return Hash{h, h}
}

func (Fast64) Mix(h Hash) uint64 { return splitmix64(h.First) }
func (Fast64) Bits() int         { return 64 }
func (Fast64) Name() string      { return "fast64" }

// bitWidth returns the number of bits needed to store v; at least 1.
func bitWidth(v uint64) int {
	if v == 0 {
		return 1
	}
	return bits.Len64(v)
}
