// Package tlsf implements a two-level segregated fit allocator over a byte
// window. Allocation and release run in constant time: free blocks are
// binned by size class (first level: power of two, second level: 16 linear
// subdivisions) and two bitmaps locate the first non-empty bin that can
// satisfy a request.
//
// Block headers live in-band, 8 bytes in front of every payload:
//
//	+0  prevPhys  offset of the previous physical block (valid when prev is free)
//	+4  size      payload size | free bit | prev-free bit
//
// Free blocks keep their list links in the first 8 payload bytes. A zero
// sized, never free sentinel header closes the window.
package tlsf

import (
	"encoding/binary"
	"math/bits"
)

const (
	alignShift = 3
	// Align is the alignment of every payload and block size.
	Align = 1 << alignShift

	slLog2     = 4
	slCount    = 1 << slLog2
	flShift    = slLog2 + alignShift
	smallBlock = 1 << flShift
	flCount    = 32 - flShift + 1

	headerSize = 8
	// MinPayload is the smallest payload a block can carry.
	MinPayload = 8
	// Overhead is the fixed cost of a pool: one header plus the sentinel.
	Overhead = 2 * headerSize

	flagFree     = 1
	flagPrevFree = 2
	flagMask     = Align - 1

	none = ^uint32(0)
)

var le = binary.LittleEndian

// Pool is a TLSF allocator managing mem[base:base+length].
type Pool struct {
	mem        []byte
	live       []uint64
	heads      [flCount][slCount]uint32
	slBitmap   [flCount]uint32
	flBitmap   uint32
	base       uint32
	end        uint32
	freeBytes  uint64
	usedBytes  uint64
	freeBlocks int
	usedBlocks int
}

// Stats summarizes a pool.
type Stats struct {
	// Capacity is the payload size of the pool when empty.
	Capacity   uint64
	FreeBytes  uint64
	UsedBytes  uint64
	FreeBlocks int
	UsedBlocks int
}

// New formats mem[base:base+length] as an empty pool. The window is shrunk
// to Align boundaries and must hold at least one minimal block.
func New(mem []byte, base, length uint32) (*Pool, bool) {
	if uint64(base)+uint64(length) > uint64(len(mem)) {
		return nil, false
	}
	start := alignUp64(uint64(base))
	stop := (uint64(base) + uint64(length)) &^ (Align - 1)
	if stop < start || stop-start < Overhead+MinPayload {
		return nil, false
	}

	p := &Pool{
		mem:  mem,
		base: uint32(start),
		end:  uint32(stop) - headerSize,
	}
	for fl := range p.heads {
		for sl := range p.heads[fl] {
			p.heads[fl][sl] = none
		}
	}
	p.live = make([]uint64, ((stop-start)/Align+63)/64)

	first := p.base
	p.setHeader(first, 0, p.end-first-headerSize, flagFree)
	p.setHeader(p.end, first, 0, flagPrevFree)
	p.insert(first)
	return p, true
}

// Base returns the first header offset of the window.
func (p *Pool) Base() uint32 { return p.base }

// Limit returns the offset just past the window.
func (p *Pool) Limit() uint32 { return p.end + headerSize }

// Allocate reserves at least size bytes and returns the payload offset.
func (p *Pool) Allocate(size uint32) (uint32, bool) {
	want := adjust(size)
	if want == 0 {
		return 0, false
	}
	fl, sl, ok := mappingSearch(want)
	if !ok {
		return 0, false
	}
	h := p.findSuitable(fl, sl)
	if h == none {
		return 0, false
	}
	p.remove(h)

	bsize := p.size(h)
	if uint64(bsize) >= uint64(want)+headerSize+MinPayload {
		rest := h + headerSize + want
		p.setHeader(rest, h, bsize-want-headerSize, flagFree)
		next := p.next(rest)
		p.setPrevPhys(next, rest)
		p.setSize(h, want)
		p.insert(rest)
		bsize = want
	}

	p.setFree(h, false)
	p.setPrevFree(p.next(h), false)
	payload := h + headerSize
	p.setLive(payload, true)
	p.usedBytes += uint64(bsize)
	p.usedBlocks++
	return payload, true
}

// Free releases a payload returned by Allocate, merging it with free
// neighbours. It reports false for anything that is not a live payload.
func (p *Pool) Free(payload uint32) bool {
	if !p.isLive(payload) {
		return false
	}
	p.setLive(payload, false)

	h := payload - headerSize
	p.usedBytes -= uint64(p.size(h))
	p.usedBlocks--
	p.setFree(h, true)

	if p.prevFree(h) {
		prev := p.prevPhys(h)
		p.remove(prev)
		p.setSize(prev, p.size(prev)+headerSize+p.size(h))
		h = prev
	}
	if next := p.next(h); p.isFree(next) {
		p.remove(next)
		p.setSize(h, p.size(h)+headerSize+p.size(next))
	}

	next := p.next(h)
	p.setPrevFree(next, true)
	p.setPrevPhys(next, h)
	p.insert(h)
	return true
}

// Fits reports whether a request for size bytes can be served once every
// allocation is released. Requests are rounded up to their size class, so
// a size close to Capacity may not fit even an empty pool.
func (p *Pool) Fits(size uint32) bool {
	want := adjust(size)
	if want == 0 {
		return false
	}
	fl, sl, ok := mappingSearch(want)
	if !ok {
		return false
	}
	cfl, csl := mappingInsert(p.end - p.base - headerSize)
	return fl < cfl || (fl == cfl && sl <= csl)
}

// SizeOf returns the payload size of a live allocation.
func (p *Pool) SizeOf(payload uint32) (uint32, bool) {
	if !p.isLive(payload) {
		return 0, false
	}
	return p.size(payload - headerSize), true
}

// Live returns the number of outstanding allocations.
func (p *Pool) Live() int { return p.usedBlocks }

// Stats returns the current usage counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:   uint64(p.end - p.base - headerSize),
		FreeBytes:  p.freeBytes,
		UsedBytes:  p.usedBytes,
		FreeBlocks: p.freeBlocks,
		UsedBlocks: p.usedBlocks,
	}
}

func (p *Pool) findSuitable(fl, sl int) uint32 {
	slMap := p.slBitmap[fl] & (^uint32(0) << uint(sl))
	if slMap == 0 {
		flMap := p.flBitmap & (^uint32(0) << uint(fl+1))
		if flMap == 0 {
			return none
		}
		fl = bits.TrailingZeros32(flMap)
		slMap = p.slBitmap[fl]
	}
	sl = bits.TrailingZeros32(slMap)
	return p.heads[fl][sl]
}

func (p *Pool) insert(h uint32) {
	size := p.size(h)
	fl, sl := mappingInsert(size)
	head := p.heads[fl][sl]
	p.setNextLink(h, head)
	p.setPrevLink(h, none)
	if head != none {
		p.setPrevLink(head, h)
	}
	p.heads[fl][sl] = h
	p.flBitmap |= 1 << uint(fl)
	p.slBitmap[fl] |= 1 << uint(sl)
	p.freeBytes += uint64(size)
	p.freeBlocks++
}

func (p *Pool) remove(h uint32) {
	size := p.size(h)
	fl, sl := mappingInsert(size)
	prev, next := p.prevLink(h), p.nextLink(h)
	if prev != none {
		p.setNextLink(prev, next)
	} else {
		p.heads[fl][sl] = next
	}
	if next != none {
		p.setPrevLink(next, prev)
	}
	if p.heads[fl][sl] == none {
		p.slBitmap[fl] &^= 1 << uint(sl)
		if p.slBitmap[fl] == 0 {
			p.flBitmap &^= 1 << uint(fl)
		}
	}
	p.freeBytes -= uint64(size)
	p.freeBlocks--
}

// adjust rounds a request up to a block payload size; 0 means too large.
func adjust(size uint32) uint32 {
	if size < MinPayload {
		size = MinPayload
	}
	a := alignUp64(uint64(size))
	if a > uint64(^uint32(0))&^(Align-1) {
		return 0
	}
	return uint32(a)
}

func alignUp64(v uint64) uint64 {
	return (v + Align - 1) &^ (Align - 1)
}

func fls(v uint32) int {
	return 31 - bits.LeadingZeros32(v)
}

func mappingInsert(size uint32) (int, int) {
	if size < smallBlock {
		return 0, int(size) / (smallBlock / slCount)
	}
	f := fls(size)
	sl := int(size>>uint(f-slLog2)) ^ slCount
	return f - (flShift - 1), sl
}

// mappingSearch rounds size up to the next class boundary so that any block
// in the returned bin is large enough.
func mappingSearch(size uint32) (int, int, bool) {
	s := uint64(size)
	if size >= smallBlock {
		s += (1 << uint(fls(size)-slLog2)) - 1
	}
	if s > uint64(^uint32(0)) {
		return 0, 0, false
	}
	fl, sl := mappingInsert(uint32(s))
	if fl >= flCount {
		return 0, 0, false
	}
	return fl, sl, true
}

// Header accessors.

func (p *Pool) setHeader(h, prevPhys, size uint32, flags uint32) {
	le.PutUint32(p.mem[h:], prevPhys)
	le.PutUint32(p.mem[h+4:], size|flags)
}

func (p *Pool) word(h uint32) uint32     { return le.Uint32(p.mem[h+4:]) }
func (p *Pool) size(h uint32) uint32     { return p.word(h) &^ flagMask }
func (p *Pool) isFree(h uint32) bool     { return p.word(h)&flagFree != 0 }
func (p *Pool) prevFree(h uint32) bool   { return p.word(h)&flagPrevFree != 0 }
func (p *Pool) prevPhys(h uint32) uint32 { return le.Uint32(p.mem[h:]) }
func (p *Pool) next(h uint32) uint32     { return h + headerSize + p.size(h) }
func (p *Pool) nextLink(h uint32) uint32 { return le.Uint32(p.mem[h+headerSize:]) }
func (p *Pool) prevLink(h uint32) uint32 { return le.Uint32(p.mem[h+headerSize+4:]) }

func (p *Pool) setSize(h, size uint32) {
	le.PutUint32(p.mem[h+4:], size|(p.word(h)&flagMask))
}

func (p *Pool) setPrevPhys(h, prev uint32) {
	le.PutUint32(p.mem[h:], prev)
}

func (p *Pool) setFlag(h, flag uint32, on bool) {
	w := p.word(h)
	if on {
		w |= flag
	} else {
		w &^= flag
	}
	le.PutUint32(p.mem[h+4:], w)
}

func (p *Pool) setFree(h uint32, on bool)     { p.setFlag(h, flagFree, on) }
func (p *Pool) setPrevFree(h uint32, on bool) { p.setFlag(h, flagPrevFree, on) }

func (p *Pool) setNextLink(h, next uint32) {
	le.PutUint32(p.mem[h+headerSize:], next)
}

func (p *Pool) setPrevLink(h, prev uint32) {
	le.PutUint32(p.mem[h+headerSize+4:], prev)
}

// Live payload bitmap, one bit per Align bytes of the window.

func (p *Pool) liveIndex(payload uint32) (int, bool) {
	if payload < p.base+headerSize || payload >= p.end || payload%Align != 0 {
		return 0, false
	}
	return int((payload - p.base) / Align), true
}

func (p *Pool) isLive(payload uint32) bool {
	i, ok := p.liveIndex(payload)
	return ok && p.live[i/64]&(1<<uint(i%64)) != 0
}

func (p *Pool) setLive(payload uint32, on bool) {
	i, _ := p.liveIndex(payload)
	if on {
		p.live[i/64] |= 1 << uint(i%64)
	} else {
		p.live[i/64] &^= 1 << uint(i%64)
	}
}
