// Package snapshot implements the binary, big-endian, 16-bit-word
// snapshot file format of spec.md §6.1: a small fixed header page,
// followed by the heap in 256-word pages, followed by the object
// table in 256-word pages.
//
// The wire codec follows the manual big-endian struct-layout style of
// _examples/zchee-go-qcow2/header.go (hand-rolled field-by-field
// encode/decode over a byte buffer) rather than a reflection-based
// binary-struct library: that repo is the one pack example doing real
// disk-image header I/O, and it does not reach for such a library
// either, so there is no ecosystem convention in the retrieved pack to
// follow instead. encoding/binary.BigEndian is used for the fixed-width
// word/longword fields, which is the stdlib's direct expression of the
// same manual technique.
package snapshot

import (
	"encoding/binary"
	"io"

	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
	"github.com/pkg/errors"
)

// PageWords is the page size every section of the file is padded to.
const PageWords = 256

// Header is page 0 of the snapshot (§6.1).
type Header struct {
	HeapUsedWords uint32
	OTUsedWords   uint32
	Stretch       bool
}

func (h Header) encode() []byte {
	buf := make([]byte, PageWords*2)
	binary.BigEndian.PutUint32(buf[0:4], h.HeapUsedWords)
	binary.BigEndian.PutUint32(buf[4:8], h.OTUsedWords)
	if h.Stretch {
		binary.BigEndian.PutUint16(buf[8:10], 1)
	}
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < PageWords*2 {
		return Header{}, errors.New("snapshot: short header page")
	}
	h := Header{
		HeapUsedWords: binary.BigEndian.Uint32(buf[0:4]),
		OTUsedWords:   binary.BigEndian.Uint32(buf[4:8]),
		Stretch:       binary.BigEndian.Uint16(buf[8:10]) == 1,
	}
	return h, nil
}

// encodeEntry packs one object table entry as the two big-endian
// 16-bit words described in §6.1:
//
//	word0 = (count<<8) | (oddLength?0x80:0) | (pointerFields?0x40:0) | (free?0x20:0) | (segment&0x0F)
//	word1 = location & 0xFFFF
func encodeEntry(e memory.Entry) (w0, w1 uint16) {
	w0 = uint16(e.Count) << 8
	if e.OddLength {
		w0 |= 0x80
	}
	if e.PointerFields {
		w0 |= 0x40
	}
	if e.Free {
		w0 |= 0x20
	}
	w0 |= uint16(e.Segment) & 0x0F
	w1 = e.Offset
	return
}

func decodeEntry(w0, w1 uint16) memory.Entry {
	e := memory.Entry{
		Count:         uint8(w0 >> 8),
		OddLength:     w0&0x80 != 0,
		PointerFields: w0&0x40 != 0,
		Free:          w0&0x20 != 0,
		Segment:       uint8(w0 & 0x0F),
		Offset:        w1,
	}
	return e
}

func wordsToPages(n int) int { return (n + PageWords - 1) / PageWords }

// Save writes the full object memory as a snapshot. heap and ot are
// given in arena/linear order respectively; scheme selects the
// Stretch-vs-Classic header flag.
func Save(w io.Writer, heap []uint16, ot []memory.Entry, scheme oop.Scheme) error {
	hdr := Header{
		HeapUsedWords: uint32(len(heap)),
		OTUsedWords:   uint32(len(ot)),
		Stretch:       scheme == oop.Stretch,
	}
	if _, err := w.Write(hdr.encode()); err != nil {
		return errors.Wrap(err, "snapshot: write header page")
	}

	heapPages := wordsToPages(len(heap))
	heapBuf := make([]byte, heapPages*PageWords*2)
	for i, word := range heap {
		binary.BigEndian.PutUint16(heapBuf[i*2:i*2+2], word)
	}
	if _, err := w.Write(heapBuf); err != nil {
		return errors.Wrap(err, "snapshot: write heap pages")
	}

	otWords := len(ot) * 2
	otPages := wordsToPages(otWords)
	otBuf := make([]byte, otPages*PageWords*2)
	for i, e := range ot {
		w0, w1 := encodeEntry(e)
		binary.BigEndian.PutUint16(otBuf[i*4:i*4+2], w0)
		binary.BigEndian.PutUint16(otBuf[i*4+2:i*4+4], w1)
	}
	if _, err := w.Write(otBuf); err != nil {
		return errors.Wrap(err, "snapshot: write object-table pages")
	}
	return nil
}

// Loaded carries the raw decoded sections back to the caller, which
// reconstructs a memory.Manager from them (see internal/vm).
type Loaded struct {
	Header Header
	Heap   []uint16
	OT     []memory.Entry
	Scheme oop.Scheme
}

// Load reads and decodes a snapshot, repairing inter-page segment
// transitions that some images omit (§6.1 "Load behavior"): whenever
// the location word decreases monotonically within what should be a
// contiguous run, infer a segment increment and repair the low segment
// nibble accordingly.
func Load(r io.Reader) (*Loaded, error) {
	hdrBuf := make([]byte, PageWords*2)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return nil, errors.Wrap(err, "snapshot: read header page")
	}
	hdr, err := decodeHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	heapPages := wordsToPages(int(hdr.HeapUsedWords))
	heapBuf := make([]byte, heapPages*PageWords*2)
	if _, err := io.ReadFull(r, heapBuf); err != nil {
		return nil, errors.Wrap(err, "snapshot: read heap pages")
	}
	heap := make([]uint16, hdr.HeapUsedWords)
	for i := range heap {
		heap[i] = binary.BigEndian.Uint16(heapBuf[i*2 : i*2+2])
	}

	otWords := int(hdr.OTUsedWords) * 2
	otPages := wordsToPages(otWords)
	otBuf := make([]byte, otPages*PageWords*2)
	if _, err := io.ReadFull(r, otBuf); err != nil {
		return nil, errors.Wrap(err, "snapshot: read object-table pages")
	}
	ot := make([]memory.Entry, hdr.OTUsedWords)
	lastOffset := uint16(0)
	segment := uint8(0)
	for i := range ot {
		w0 := binary.BigEndian.Uint16(otBuf[i*4 : i*4+2])
		w1 := binary.BigEndian.Uint16(otBuf[i*4+2 : i*4+4])
		e := decodeEntry(w0, w1)
		if !e.Free && e.Offset < lastOffset {
			// Location decreased: this image omitted the segment
			// transition. Infer a segment increment and repair the
			// low nibble the entry itself carried (which, for an
			// image missing the bit, will read as 0).
			segment++
			e.Segment = segment & 0x0F
		} else if e.Segment > segment {
			segment = e.Segment
		}
		if !e.Free {
			lastOffset = e.Offset
		}
		ot[i] = e
	}

	scheme := oop.Classic
	if hdr.Stretch {
		scheme = oop.Stretch
	}
	return &Loaded{Header: hdr, Heap: heap, OT: ot, Scheme: scheme}, nil
}
