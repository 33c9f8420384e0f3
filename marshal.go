// marshal.go -- little-endian section encoding shared by all structures
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Every frozen structure serializes as a flat sequence of little-endian
// sections: u64 scalars, length-prefixed u64 slices and length-prefixed
// strings. The writers accumulate into a byte buffer; the readers walk a
// byte slice (which may be mmap'd) and record the first error, so call
// sites stay free of error plumbing until the end.

package pthash

import (
	"encoding/binary"
	"fmt"
	"io"
)

type sectionWriter struct {
	buf []byte
}

func (w *sectionWriter) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *sectionWriter) u64s(v []uint64) {
	w.u64(uint64(len(v)))
	for _, x := range v {
		w.buf = binary.LittleEndian.AppendUint64(w.buf, x)
	}
}

func (w *sectionWriter) str(s string) {
	w.u64(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *sectionWriter) bytes() []byte {
	return w.buf
}

type sectionReader struct {
	buf []byte
	off int
	err error
}

func newSectionReader(b []byte) *sectionReader {
	return &sectionReader{buf: b}
}

func (r *sectionReader) fail(f string, v ...interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("pthash: "+f, v...)
	}
}

func (r *sectionReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.fail("truncated artifact at offset %d", r.off)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *sectionReader) u64s() []uint64 {
	n := r.u64()
	if r.err != nil {
		return nil
	}
	if uint64(len(r.buf)-r.off) < n*8 {
		r.fail("truncated slice of %d words at offset %d", n, r.off)
		return nil
	}
	v := make([]uint64, n)
	for i := range v {
		v[i] = binary.LittleEndian.Uint64(r.buf[r.off:])
		r.off += 8
	}
	return v
}

func (r *sectionReader) str() string {
	n := r.u64()
	if r.err != nil {
		return ""
	}
	if uint64(len(r.buf)-r.off) < n {
		r.fail("truncated string of %d bytes at offset %d", n, r.off)
		return ""
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s
}

func writeAll(w io.Writer, buf []byte) (int, error) {
	n, err := w.Write(buf)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return n, errShortWrite(n)
	}
	return n, nil
}
