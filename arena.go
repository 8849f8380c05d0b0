package rtcore

// Arena is a contiguous, byte-addressed block of memory supplied by the
// caller. Partitions, regions and the kernel main heap carve their blocks
// out of an arena; offsets are arena-relative.
type Arena interface {
	// Size returns the arena length in bytes.
	Size() uint32
	// Bytes returns a view of the whole arena. The view aliases the arena
	// memory and stays valid for the arena's lifetime.
	Bytes() []byte
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
	ReadU64(offset uint32) (uint64, error)
	WriteU64(offset uint32, value uint64) error
}

// Closer is implemented by arenas that own external resources.
type Closer interface {
	Close() error
}
