// Package wasmbin encodes the few WebAssembly binary constructs needed to
// describe a memory-only module.
package wasmbin

import (
	"bytes"
	"encoding/binary"
)

// Binary format constants.
const (
	Magic   uint32 = 0x6d736100
	Version uint32 = 0x01

	SectionMemory byte = 5
	SectionExport byte = 7

	KindMemory byte = 0x02

	LimitsHasMax byte = 0x01

	PageSize uint64 = 65536
	MaxPages uint64 = 65536
)

// Writer provides buffered writing utilities for WASM binary encoding.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU32 writes an unsigned LEB128 encoded uint32.
func (w *Writer) WriteU32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// WriteName writes a UTF-8 encoded name (length-prefixed).
func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf.WriteString(s)
}

// WriteU32LE writes a little-endian uint32 (fixed 4 bytes).
func (w *Writer) WriteU32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

// Section writes a section with its id and size prefix.
func (w *Writer) Section(id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

// MemoryModule encodes a module that defines one fixed-size memory of pages
// pages and exports it under name.
func MemoryModule(name string, pages uint32) []byte {
	w := NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	mem := NewWriter()
	mem.WriteU32(1)
	mem.Byte(LimitsHasMax)
	mem.WriteU32(pages)
	mem.WriteU32(pages)
	w.Section(SectionMemory, mem.Bytes())

	exp := NewWriter()
	exp.WriteU32(1)
	exp.WriteName(name)
	exp.Byte(KindMemory)
	exp.WriteU32(0)
	w.Section(SectionExport, exp.Bytes())

	return w.Bytes()
}
