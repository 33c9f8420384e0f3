// keys.go -- key-set abstractions fed to the builders
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
	"encoding/binary"
	"iter"
)

// KeySet is an iterable, re-scannable set of distinct keys. Builders may
// scan the set more than once (seed retries, the external-memory passes), so
// Keys must yield the same sequence every time.
type KeySet interface {
	NumKeys() uint64
	Keys() iter.Seq[[]byte]
}

type byteKeys [][]byte

// ByteKeys wraps a slice of byte-string keys as a KeySet.
func ByteKeys(keys [][]byte) KeySet {
	return byteKeys(keys)
}

func (b byteKeys) NumKeys() uint64 {
	return uint64(len(b))
}

func (b byteKeys) Keys() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, k := range b {
			if !yield(k) {
				return
			}
		}
	}
}

type stringKeys []string

// StringKeys wraps a slice of string keys as a KeySet.
func StringKeys(keys []string) KeySet {
	return stringKeys(keys)
}

func (s stringKeys) NumKeys() uint64 {
	return uint64(len(s))
}

func (s stringKeys) Keys() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, k := range s {
			if !yield([]byte(k)) {
				return
			}
		}
	}
}

type u64Keys []uint64

// U64Keys wraps a slice of uint64 keys as a KeySet. Each key is presented as
// its 8-byte little-endian encoding; the yielded slice is reused across
// iterations and must not be retained.
func U64Keys(keys []uint64) KeySet {
	return u64Keys(keys)
}

func (u u64Keys) NumKeys() uint64 {
	return uint64(len(u))
}

func (u u64Keys) Keys() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		var b [8]byte
		for _, k := range u {
			binary.LittleEndian.PutUint64(b[:], k)
			if !yield(b[:]) {
				return
			}
		}
	}
}
