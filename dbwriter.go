// dbwriter.go -- Constant DB built on top of the PTHash MPHF
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
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
)

// The file header and the record checksums are big-endian integers. The
// lookup tables are little-endian fields that DBReader mmaps and reads in
// place; the marshaled hash function uses little-endian sections too.

// DBWriter represents an abstraction to construct a read-only constant
// database. The database uses a minimal perfect hash function over the keys
// for constant time lookups; keys and values are arbitrary byte sequences.
// The DB meta-data is protected by a strong checksum (SHA512-256) and each
// stored value is protected by a distinct siphash-2-4. Once all additions
// are complete, the DB is written to disk via Freeze().
//
// The DB has the following general structure:
//   - 64 byte file header: big-endian encoding of all multibyte ints
//   - magic    [4]byte "PTHD"
//   - flags    uint32  for now, all zeros
//   - salt     [16]byte random salt for siphash record integrity
//   - nkeys    uint64  Number of keys in the DB
//   - offtbl   uint64  File offset of the lookup tables
//   - Contiguous series of records, one per non-empty value (keys are
//     not stored):
//   - cksum    uint64  siphash of offset and value (big endian)
//   - val      []byte  value bytes
//   - Possibly a gap until the next page boundary (4096 bytes)
//   - Offset table: nkeys entries of (offset, key fingerprint), mmap-able
//   - Val-len table: nkeys uint32 value lengths
//   - Marshaled hash function bytes (tagged with their layout: single,
//     partitioned or dense), starting at the next 8-byte boundary
//   - 32 bytes of SHA512-256 over the header and everything from the
//     offset table on
type DBWriter struct {
	fd *os.File

	// order of addition; the MPHF is built over these
	keys [][]byte

	// to detect duplicates and locate records
	keymap map[string]*value

	// siphash key: just the binary encoded salt
	salt []byte

	// running count of the current write offset within fd
	off uint64

	fntmp  string // tmp file name
	fn     string // final file holding the DB
	frozen bool
}

// things associated with each key/value pair
type value struct {
	off  uint64
	vlen uint32
}

const dbHeaderSize = 64

// NewDBWriter prepares file 'fn' to hold a constant DB built using the
// PTHash minimal perfect hash function. Once written, the DB is "frozen"
// and readers will open it using NewDBReader() to do constant time lookups
// of key to value.
func NewDBWriter(fn string) (*DBWriter, error) {
	tmp := fmt.Sprintf("%s.tmp.%d", fn, rand32())
	fd, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}

	w := &DBWriter{
		fd:     fd,
		keymap: make(map[string]*value),
		salt:   randbytes(16),
		off:    dbHeaderSize,
		fn:     fn,
		fntmp:  tmp,
	}

	// Leave space for the header; filled in at Freeze time.
	var z [dbHeaderSize]byte
	if _, err := writeAll(fd, z[:]); err != nil {
		fd.Close()
		os.Remove(tmp)
		return nil, err
	}

	return w, nil
}

// Len returns the total number of distinct keys in the DB
func (w *DBWriter) Len() int {
	return len(w.keymap)
}

// AddKeyVals adds a series of key-value matched pairs to the db. If they
// are of unequal length, only the smaller of the lengths is used. Records
// with duplicate keys are discarded. Returns the number of records added.
func (w *DBWriter) AddKeyVals(keys [][]byte, vals [][]byte) (int, error) {
	if w.frozen {
		return 0, ErrFrozen
	}

	n := min(len(keys), len(vals))

	var z int
	for i := 0; i < n; i++ {
		err := w.addRecord(keys[i], vals[i])
		switch err {
		case nil:
			z++
		case ErrExists:
		default:
			return z, err
		}
	}
	return z, nil
}

// Add adds a single key,value pair.
func (w *DBWriter) Add(key, val []byte) error {
	if w.frozen {
		return ErrFrozen
	}
	return w.addRecord(key, val)
}

// Freeze builds the minimal perfect hash over the added keys, writes the DB
// and closes it. A nil cfg uses NewConfig() defaults; the build is always
// minimal regardless of cfg.Minimal. The configuration picks the layout
// (single, partitioned, dense-partitioned).
func (w *DBWriter) Freeze(cfg *Config) error {
	return w.freeze(cfg, false)
}

// FreezeExternal is Freeze with the hash function built in external memory.
func (w *DBWriter) FreezeExternal(cfg *Config) error {
	return w.freeze(cfg, true)
}

func (w *DBWriter) freeze(cfg *Config, external bool) (err error) {
	defer func() {
		// undo the tmpfile
		if err != nil {
			w.fd.Close()
			os.Remove(w.fntmp)
		}
	}()

	if w.frozen {
		return ErrFrozen
	}

	if cfg == nil {
		cfg = NewConfig()
	}
	bcfg := *cfg
	bcfg.Minimal = true

	build := Build
	if external {
		build = BuildExternal
	}
	phf, err := build(ByteKeys(w.keys), &bcfg)
	if err != nil {
		return err
	}

	// strong checksum for all metadata from this point on
	h := sha512.New512_256()
	tee := io.MultiWriter(w.fd, h)

	// align the offset table to the page size so the reader can mmap it
	pgsz := uint64(os.Getpagesize())
	offtbl := (w.off + pgsz - 1) &^ (pgsz - 1)
	if offtbl > w.off {
		zeroes := make([]byte, offtbl-w.off)
		if _, err = writeAll(w.fd, zeroes); err != nil {
			return err
		}
		w.off = offtbl
	}

	var ehdr [dbHeaderSize]byte

	be := binary.BigEndian
	copy(ehdr[:4], []byte{'P', 'T', 'H', 'D'})

	// 8 = 4 bytes magic + 4 bytes of flags (zero for now)
	i := 8
	i += copy(ehdr[i:], w.salt)
	be.PutUint64(ehdr[i:i+8], uint64(len(w.keys)))
	i += 8
	be.PutUint64(ehdr[i:i+8], offtbl)

	h.Write(ehdr[:])

	if err := w.marshalOffsets(tee, phf); err != nil {
		return err
	}

	// align to the next 64-bit boundary before the hash function bits
	aligned := (w.off + 7) &^ uint64(7)
	if aligned > w.off {
		zeroes := make([]byte, aligned-w.off)
		if _, err = writeAll(tee, zeroes); err != nil {
			return err
		}
		w.off = aligned
	}

	var sw sectionWriter
	marshalPHF(&sw, phf)
	nw, err := writeAll(tee, sw.bytes())
	if err != nil {
		return err
	}
	w.off += uint64(nw)

	// trailer is the checksum of everything
	cksum := h.Sum(nil)
	if _, err := writeAll(w.fd, cksum[:]); err != nil {
		return err
	}

	// finally, the header at the start of the file
	if _, err := w.fd.Seek(0, 0); err != nil {
		return err
	}
	if _, err := writeAll(w.fd, ehdr[:]); err != nil {
		return err
	}

	w.frozen = true
	w.fd.Sync()
	w.fd.Close()

	return os.Rename(w.fntmp, w.fn)
}

// Abort stops the construction of the DB and removes the temp file.
func (w *DBWriter) Abort() {
	w.fd.Close()
	os.Remove(w.fntmp)
}

// write the (offset, fingerprint) table and the value-length table, indexed
// by the MPHF position of each key
func (w *DBWriter) marshalOffsets(tee io.Writer, phf PHF) error {
	n := uint64(len(w.keys))
	offset := make([]uint64, 2*n)
	vlen := make([]uint32, n)

	for _, k := range w.keys {
		r := w.keymap[string(k)]
		i := phf.Lookup(k)

		vlen[i] = r.vlen

		// each entry is 2 64-bit words: record offset and key fingerprint
		j := i * 2
		offset[j] = r.off
		offset[j+1] = xxhash.Sum64(k)
	}

	le := binary.LittleEndian
	bs := make([]byte, 0, 8*len(offset)+4*len(vlen))
	for _, v := range offset {
		bs = le.AppendUint64(bs, v)
	}
	for _, v := range vlen {
		bs = le.AppendUint32(bs, v)
	}
	if _, err := writeAll(tee, bs); err != nil {
		return err
	}

	w.off += n * (8 + 8 + 4)
	return nil
}

// compute checksums and add a record to the file at the current offset.
func (w *DBWriter) addRecord(key, val []byte) error {
	if uint64(len(val)) > uint64(1<<32)-1 {
		return ErrValueTooLarge
	}

	if _, ok := w.keymap[string(key)]; ok {
		return ErrExists
	}

	v := &value{
		off:  w.off,
		vlen: uint32(len(val)),
	}

	// don't write values if we don't need to
	if len(val) > 0 {
		if err := w.writeRecord(val, v.off); err != nil {
			return err
		}
	}

	w.keys = append(w.keys, append([]byte(nil), key...))
	w.keymap[string(key)] = v
	return nil
}

func (w *DBWriter) writeRecord(val []byte, off uint64) error {
	var o [8]byte
	var c [8]byte

	be := binary.BigEndian
	be.PutUint64(o[:], off)

	h := siphash.New(w.salt)
	h.Write(o[:])
	h.Write(val)
	be.PutUint64(c[:], h.Sum64())

	// checksum at the start of the record
	if _, err := writeAll(w.fd, c[:]); err != nil {
		return err
	}
	if _, err := writeAll(w.fd, val); err != nil {
		return err
	}

	w.off += uint64(len(val)) + 8
	return nil
}
