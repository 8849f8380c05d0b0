// Package arena provides the raw memory arenas that partitions, regions and
// the kernel main heap carve up.
//
// # Heap Arena
//
// A Go byte slice:
//
//	a := arena.NewHeap(1 << 20)
//
// # WebAssembly Arena
//
// A fixed-size linear memory hosted by wazero, for memory that a guest
// module shares with the host:
//
//	a, err := arena.NewWasm(ctx, 1<<20)
//	defer a.Close()
//
// An existing guest memory can be adapted with WrapMemory.
//
// Both implement rtcore.Arena with little-endian accessors and bounds
// checking on every access.
package arena
