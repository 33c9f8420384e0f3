// dbreader.go -- Constant DB built on top of the PTHash MPHF
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
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
	"github.com/opencoff/golang-lru"
)

// DBReader represents the query interface for a previously constructed
// constant database (built using NewDBWriter()). The only meaningful
// operation on such a database is Lookup().
type DBReader struct {
	phf PHF

	cache *lru.ARCCache

	// memory mapped (offset, fingerprint) and vlen tables
	offtbl  []byte
	vlentbl []byte

	nkeys uint64
	salt  []byte

	// original mmap slice
	mmap []byte
	fd   *os.File
	fn   string
}

// NewDBReader reads a previously constructed database in file 'fn' and
// prepares it for querying. Value records are opportunistically cached
// after reading from disk; we retain up to 'cache' records in memory
// (default 128).
func NewDBReader(fn string, cache int) (rd *DBReader, err error) {
	fd, err := os.Open(fn)
	if err != nil {
		return nil, err
	}

	// number of records to cache
	if cache <= 0 {
		cache = 128
	}

	rd = &DBReader{
		salt: make([]byte, 16),
		fd:   fd,
		fn:   fn,
	}

	st, err := fd.Stat()
	if err != nil {
		return nil, fmt.Errorf("%s: can't stat: %w", fn, err)
	}

	if st.Size() < (dbHeaderSize + 32) {
		return nil, fmt.Errorf("%s: file too small or corrupted", fn)
	}

	var hdrb [dbHeaderSize]byte

	if _, err = io.ReadFull(fd, hdrb[:]); err != nil {
		return nil, fmt.Errorf("%s: can't read header: %w", fn, err)
	}

	offtbl, err := rd.decodeHeader(hdrb[:], st.Size())
	if err != nil {
		return nil, err
	}

	if err = rd.verifyChecksum(hdrb[:], offtbl, st.Size()); err != nil {
		return nil, err
	}

	// sanity check - even though we have verified the strong checksum
	// 8 + 8 + 4: offset, fingerprint, vlen
	tblsz := rd.nkeys * (8 + 8 + 4)
	if uint64(st.Size()) < (dbHeaderSize + 32 + tblsz) {
		return nil, fmt.Errorf("%s: corrupt header", fn)
	}

	rd.cache, err = lru.NewARC(cache)
	if err != nil {
		return nil, err
	}

	// All metadata is now verified; mmap everything from the offset table
	// to the end of the tables + hash function.
	mmapsz := st.Size() - int64(offtbl) - 32
	bs, err := syscall.Mmap(int(fd.Fd()), int64(offtbl), int(mmapsz),
		syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%s: can't mmap %d bytes at off %d: %w",
			fn, mmapsz, offtbl, err)
	}

	offsz := rd.nkeys * 16
	vlensz := rd.nkeys * 4

	rd.mmap = bs
	rd.offtbl = bs[:offsz]
	rd.vlentbl = bs[offsz : offsz+vlensz]

	// the marshaled hash function starts at the next 8-byte boundary
	phfoff := (offsz + vlensz + 7) &^ uint64(7)
	rd.phf, err = unmarshalPHF(newSectionReader(bs[phfoff:]))
	if err != nil {
		return nil, fmt.Errorf("%s: can't unmarshal hash function: %w", fn, err)
	}

	return rd, nil
}

// Len returns the total number of distinct keys in the DB
func (rd *DBReader) Len() int {
	return int(rd.nkeys)
}

// Close closes the db
func (rd *DBReader) Close() {
	syscall.Munmap(rd.mmap)
	rd.fd.Close()
	rd.cache.Purge()
	rd.phf = nil
	rd.fd = nil
	rd.salt = nil
	rd.fn = ""
}

// Lookup looks up 'key' in the table and returns the corresponding value.
// If the key is not found, value is nil and returns false.
func (rd *DBReader) Lookup(key []byte) ([]byte, bool) {
	v, err := rd.Find(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Find looks up 'key' in the table and returns the corresponding value.
// It returns an error if the key is not found, the disk i/o failed or the
// record checksum failed.
func (rd *DBReader) Find(key []byte) ([]byte, error) {
	if v, ok := rd.cache.Get(string(key)); ok {
		return v.([]byte), nil
	}

	// Not in the cache. So, go to disk and find it. We are guaranteed
	// that 0 <= i < nkeys for keys of the original set; other keys are
	// caught by the fingerprint check.
	i := rd.phf.Lookup(key)
	le := binary.LittleEndian

	j := i * 16
	if fp := le.Uint64(rd.offtbl[j+8:]); fp != xxhash.Sum64(key) {
		return nil, ErrNoKey
	}

	off := le.Uint64(rd.offtbl[j:])
	vlen := le.Uint32(rd.vlentbl[i*4:])

	val, err := rd.decodeRecord(off, vlen)
	if err != nil {
		return nil, err
	}

	rd.cache.Add(string(key), val)
	return val, nil
}

// read the full record at offset 'off' and validate its checksum.
func (rd *DBReader) decodeRecord(off uint64, vlen uint32) ([]byte, error) {
	// empty values have no record on disk; see DBWriter.addRecord
	if vlen == 0 {
		return []byte{}, nil
	}

	if _, err := rd.fd.Seek(int64(off), 0); err != nil {
		return nil, err
	}

	data := make([]byte, vlen+8)
	if _, err := io.ReadFull(rd.fd, data); err != nil {
		return nil, err
	}

	be := binary.BigEndian
	csum := be.Uint64(data[:8])

	var o [8]byte
	be.PutUint64(o[:], off)

	h := siphash.New(rd.salt)
	h.Write(o[:])
	h.Write(data[8:])
	exp := h.Sum64()

	if csum != exp {
		return nil, fmt.Errorf("%s: corrupted record at off %d (exp %#x, saw %#x)",
			rd.fn, off, exp, csum)
	}
	return data[8:], nil
}

// Verify the checksum of all metadata: the lookup tables, the hash function
// bits and the file header. We know offtbl is within the file bounds - see
// decodeHeader() below. sz is the actual file size.
func (rd *DBReader) verifyChecksum(hdrb []byte, offtbl uint64, sz int64) error {
	h := sha512.New512_256()
	h.Write(hdrb[:])

	// remsz is the size of the remaining metadata (beginning at 'offtbl'):
	// everything except the 32 bytes of SHA512-256 at the end.
	remsz := sz - int64(offtbl) - 32

	rd.fd.Seek(int64(offtbl), 0)

	nw, err := io.CopyN(h, rd.fd, remsz)
	if err != nil {
		return fmt.Errorf("%s: metadata i/o error: %w", rd.fn, err)
	}
	if nw != remsz {
		return fmt.Errorf("%s: partial read while verifying checksum, exp %d, saw %d",
			rd.fn, remsz, nw)
	}

	var expsum [32]byte

	// the trailer is the expected checksum
	rd.fd.Seek(sz-32, 0)
	if _, err = io.ReadFull(rd.fd, expsum[:]); err != nil {
		return fmt.Errorf("%s: checksum i/o error: %w", rd.fn, err)
	}

	csum := h.Sum(nil)
	if subtle.ConstantTimeCompare(csum[:], expsum[:]) != 1 {
		return fmt.Errorf("%s: checksum failure; exp %#x, saw %#x", rd.fn, expsum[:], csum[:])
	}

	rd.fd.Seek(int64(offtbl), 0)
	return nil
}

// entry condition: b is dbHeaderSize bytes long.
func (rd *DBReader) decodeHeader(b []byte, sz int64) (uint64, error) {
	if string(b[:4]) != "PTHD" {
		return 0, fmt.Errorf("%s: bad file magic", rd.fn)
	}

	be := binary.BigEndian
	i := 8 // skip the magic and flags

	copy(rd.salt, b[i:i+16])
	i += 16
	rd.nkeys = be.Uint64(b[i : i+8])
	i += 8
	offtbl := be.Uint64(b[i : i+8])

	if offtbl < dbHeaderSize || offtbl >= uint64(sz-32) {
		return 0, fmt.Errorf("%s: corrupt header", rd.fn)
	}

	return offtbl, nil
}
