// Package region implements variable-size memory pools over an arena.
//
// A region hands out segments of arbitrary size from a two-level
// segregated-fit allocator, so allocation and release cost the same no
// matter how many segments are outstanding. Callers that find no room can
// wait; every release serves blocked allocators in queue order for as long
// as their requests fit.
//
// Segment addresses are arena offsets. Use Slice to access the bytes.
package region
