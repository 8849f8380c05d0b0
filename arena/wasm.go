package arena

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/rtcore/arena/internal/wasmbin"
	"github.com/wippyai/rtcore/errors"
)

const (
	maxArena   = uint64(1<<32 - 1)
	memoryName = "mem"
)

// Wasm is an arena backed by a WebAssembly linear memory hosted in a wazero
// runtime. The memory has a fixed page count, so views returned by Bytes
// and Read are never invalidated by growth.
type Wasm struct {
	rt   wazero.Runtime
	mod  api.Module
	Mem  api.Memory
	size uint32
}

// NewWasm instantiates a memory-only module whose linear memory covers at
// least size bytes, rounded up to whole 64 KiB pages.
func NewWasm(ctx context.Context, size uint32) (*Wasm, error) {
	if size == 0 {
		return nil, errors.InvalidArgument(errors.PhaseArena, "empty wasm arena")
	}
	pages := (uint64(size) + wasmbin.PageSize - 1) / wasmbin.PageSize

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(uint32(pages)))
	mod, err := rt.Instantiate(ctx, wasmbin.MemoryModule(memoryName, uint32(pages)))
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseArena, errors.KindNoResource, err, "instantiate memory module")
	}
	mem := mod.ExportedMemory(memoryName)
	if mem == nil {
		rt.Close(ctx)
		return nil, errors.New(errors.PhaseArena, errors.KindNotFound).Detail("module exports no memory").Build()
	}
	return &Wasm{rt: rt, mod: mod, Mem: mem, size: size}, nil
}

// WrapMemory adapts an existing wazero memory, typically exported by a guest
// module, to an arena. The caller keeps ownership of the module.
func WrapMemory(mem api.Memory) *Wasm {
	if mem == nil {
		return nil
	}
	return &Wasm{Mem: mem, size: mem.Size()}
}

// Size returns the usable arena length, which may be less than the memory
// size when the request was not page aligned.
func (m *Wasm) Size() uint32 { return m.size }

// Bytes returns a view of the arena.
func (m *Wasm) Bytes() []byte {
	b, _ := m.Mem.Read(0, m.size)
	return b
}

// Read returns a view of length bytes at offset.
func (m *Wasm) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds(offset, length)
	}
	return data, nil
}

// Write writes bytes to memory.
func (m *Wasm) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	if !m.Mem.Write(offset, data) {
		return outOfBounds(offset, uint32(len(data)))
	}
	return nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Wasm) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 4)
	}
	return v, nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Wasm) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	if !m.Mem.WriteUint32Le(offset, value) {
		return outOfBounds(offset, 4)
	}
	return nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Wasm) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	v, ok := m.Mem.ReadUint64Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 8)
	}
	return v, nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Wasm) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	if !m.Mem.WriteUint64Le(offset, value) {
		return outOfBounds(offset, 8)
	}
	return nil
}

// Close releases the wazero runtime owned by the arena.
func (m *Wasm) Close() error {
	if m.rt == nil {
		return nil
	}
	err := m.rt.Close(context.Background())
	m.rt = nil
	return err
}

func (m *Wasm) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(m.size) {
		return outOfBounds(offset, length)
	}
	return nil
}
