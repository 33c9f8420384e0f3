// single.go -- single-table PHF: query path and serialization
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
	"io"
)

// SinglePHF is a frozen perfect hash over one table. When built with
// Minimal it maps its keys bijectively onto [0, NumKeys); otherwise into
// [0, TableSize).
type SinglePHF struct {
	seed      uint64
	numKeys   uint64
	tableSize uint64
	m         m64
	minimal   bool
	search    SearchType

	hasher    Hasher
	bucketer  Bucketer
	pilots    Encoder
	freeSlots efSequence
}

// BuildSinglePHF builds a single-table PHF over the given keys, entirely in
// memory. All keys must be distinct.
func BuildSinglePHF(keys KeySet, cfg *Config) (*SinglePHF, error) {
	hasher, err := HasherByName(cfg.Hasher)
	if err != nil {
		return nil, err
	}

	b, err := buildSingleFromKeys(keys, hasher, cfg)
	if err != nil {
		return nil, err
	}
	return newSinglePHFFromBuilder(b, hasher, cfg)
}

func newSinglePHFFromBuilder(b *singleBuilder, hasher Hasher, cfg *Config) (*SinglePHF, error) {
	enc, err := newEncoder(cfg.Encoder)
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(b.pilots); err != nil {
		return nil, fmt.Errorf("pthash: encode: %w", err)
	}

	f := &SinglePHF{
		seed:      b.seed,
		numKeys:   b.numKeys,
		tableSize: b.tableSize,
		m:         computeM64(b.tableSize),
		minimal:   cfg.Minimal,
		search:    cfg.Search,
		hasher:    hasher,
		bucketer:  b.bucketer,
		pilots:    enc,
	}
	if cfg.Minimal && b.tableSize > b.numKeys {
		f.freeSlots.encode(b.freeSlots)
	}
	return f, nil
}

// Lookup returns the table position of key. The result is meaningful only
// for keys of the original set.
func (f *SinglePHF) Lookup(key []byte) uint64 {
	return f.Position(f.hasher.Hash(key, f.seed))
}

// Position maps an already-hashed key to its position.
func (f *SinglePHF) Position(h Hash) uint64 {
	bucket := f.bucketer.Bucket(h.First)
	pilot := f.pilots.Access(bucket)

	var p uint64
	if f.search == SearchAdd {
		s := pilot / f.tableSize
		d := pilot % f.tableSize
		p0 := f.m.mod(h.Second^hash64Value(s, f.seed), f.tableSize)
		p = displace(p0, d, f.tableSize)
	} else {
		p = f.m.mod(h.Second^hash64Value(pilot, f.seed), f.tableSize)
	}

	if f.minimal && p >= f.numKeys {
		return f.freeSlots.Access(p - f.numKeys)
	}
	return p
}

func (f *SinglePHF) NumKeys() uint64   { return f.numKeys }
func (f *SinglePHF) TableSize() uint64 { return f.tableSize }
func (f *SinglePHF) Seed() uint64      { return f.seed }
func (f *SinglePHF) Minimal() bool     { return f.minimal }

// NumBits is the size of the frozen structure.
func (f *SinglePHF) NumBits() uint64 {
	bits := uint64(3*64) + f.pilots.NumBits()
	if f.minimal && f.tableSize > f.numKeys {
		bits += f.freeSlots.NumBits()
	}
	return bits
}

const phfFormatVersion = 1

func (f *SinglePHF) marshal(w *sectionWriter) {
	w.u64(phfFormatVersion)
	w.u64(f.seed)
	w.u64(f.numKeys)
	w.u64(f.tableSize)
	w.u64(boolToU64(f.minimal))
	w.u64(uint64(f.search))
	w.str(f.hasher.Name())
	w.str(f.bucketer.Name())
	f.bucketer.marshalTo(w)
	w.str(f.pilots.Name())
	f.pilots.marshalTo(w)
	if f.minimal && f.tableSize > f.numKeys {
		f.freeSlots.marshalTo(w)
	}
}

// MarshalBinary encodes the hash function into a binary form suitable for
// durable storage. A subsequent UnmarshalBinary reconstructs it.
func (f *SinglePHF) MarshalBinary(w io.Writer) (int, error) {
	var sw sectionWriter
	f.marshal(&sw)
	return writeAll(w, sw.bytes())
}

func (f *SinglePHF) unmarshal(r *sectionReader) error {
	if v := r.u64(); v != phfFormatVersion {
		if r.err != nil {
			return r.err
		}
		return fmt.Errorf("pthash: no support to un-marshal version %d", v)
	}
	f.seed = r.u64()
	f.numKeys = r.u64()
	f.tableSize = r.u64()
	f.minimal = r.u64() != 0
	f.search = SearchType(r.u64())

	hasher, err := HasherByName(r.str())
	if err != nil {
		return err
	}
	f.hasher = hasher

	bucketer, err := bucketerByName(r.str())
	if err != nil {
		return err
	}
	if err = bucketer.unmarshalFrom(r); err != nil {
		return err
	}
	f.bucketer = bucketer

	enc, err := newEncoder(r.str())
	if err != nil {
		return err
	}
	if err = enc.unmarshalFrom(r); err != nil {
		return err
	}
	f.pilots = enc

	if f.minimal && f.tableSize > f.numKeys {
		if err = f.freeSlots.unmarshalFrom(r); err != nil {
			return err
		}
	}
	if f.tableSize == 0 {
		return errCorrupt("zero table size")
	}
	f.m = computeM64(f.tableSize)
	return r.err
}

// UnmarshalBinary reads a previously marshalled SinglePHF. The buffer may
// be a memory-mapped file; the data is copied out.
func (f *SinglePHF) UnmarshalBinary(buf []byte) error {
	return f.unmarshal(newSectionReader(buf))
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
