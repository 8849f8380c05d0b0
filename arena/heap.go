package arena

import (
	"encoding/binary"

	"github.com/wippyai/rtcore/errors"
)

// Heap is an arena backed by a Go byte slice.
type Heap struct {
	buf []byte
}

// NewHeap allocates a zeroed arena of size bytes.
func NewHeap(size uint32) *Heap {
	return &Heap{buf: make([]byte, size)}
}

// FromBytes wraps buf as an arena without copying it.
func FromBytes(buf []byte) (*Heap, error) {
	if uint64(len(buf)) > maxArena {
		return nil, errors.InvalidArgument(errors.PhaseArena, "arena of %d bytes exceeds the 32-bit address space", len(buf))
	}
	return &Heap{buf: buf}, nil
}

// Size returns the arena length.
func (h *Heap) Size() uint32 { return uint32(len(h.buf)) }

// Bytes returns the backing slice.
func (h *Heap) Bytes() []byte { return h.buf }

// Read returns a view of length bytes at offset.
func (h *Heap) Read(offset uint32, length uint32) ([]byte, error) {
	if err := h.check(offset, length); err != nil {
		return nil, err
	}
	return h.buf[offset : offset+length], nil
}

// Write copies data to offset.
func (h *Heap) Write(offset uint32, data []byte) error {
	if err := h.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(h.buf[offset:], data)
	return nil
}

// ReadU32 reads a little-endian uint32.
func (h *Heap) ReadU32(offset uint32) (uint32, error) {
	if err := h.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(h.buf[offset:]), nil
}

// WriteU32 writes a little-endian uint32.
func (h *Heap) WriteU32(offset uint32, value uint32) error {
	if err := h.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(h.buf[offset:], value)
	return nil
}

// ReadU64 reads a little-endian uint64.
func (h *Heap) ReadU64(offset uint32) (uint64, error) {
	if err := h.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(h.buf[offset:]), nil
}

// WriteU64 writes a little-endian uint64.
func (h *Heap) WriteU64(offset uint32, value uint64) error {
	if err := h.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(h.buf[offset:], value)
	return nil
}

func (h *Heap) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(h.buf)) {
		return outOfBounds(offset, length)
	}
	return nil
}

func outOfBounds(offset, length uint32) error {
	return errors.New(errors.PhaseArena, errors.KindInvalidArgument).
		Detail("access out of bounds: offset=%d, length=%d", offset, length).
		Value(offset).
		Build()
}
