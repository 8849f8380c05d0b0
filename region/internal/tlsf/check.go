package tlsf

import (
	"github.com/wippyai/rtcore/errors"
)

// Check walks the whole pool and verifies every structural invariant:
// physical chaining, flag coherence, no adjacent free blocks, bin placement,
// bitmap and counter agreement. It is linear and meant for tests and
// diagnostics.
func (p *Pool) Check() error {
	var (
		freeBlocks, usedBlocks int
		freeBytes, usedBytes   uint64
		prev                   = none
		prevWasFree            bool
	)

	h := p.base
	for h != p.end {
		if h > p.end || h%Align != 0 {
			return corrupt("block header %d outside window or misaligned", h)
		}
		size := p.size(h)
		if size < MinPayload {
			return corrupt("block %d has payload %d below minimum", h, size)
		}
		if p.prevFree(h) != prevWasFree {
			return corrupt("block %d prev-free flag %v, previous block free %v", h, p.prevFree(h), prevWasFree)
		}
		if prevWasFree && p.prevPhys(h) != prev {
			return corrupt("block %d prev link %d, want %d", h, p.prevPhys(h), prev)
		}

		free := p.isFree(h)
		if free && prevWasFree {
			return corrupt("adjacent free blocks at %d and %d", prev, h)
		}
		if live := p.isLive(h + headerSize); live == free {
			return corrupt("block %d free %v but live bit %v", h, free, live)
		}
		if free {
			freeBlocks++
			freeBytes += uint64(size)
			if !p.inBin(h) {
				return corrupt("free block %d missing from its bin", h)
			}
		} else {
			usedBlocks++
			usedBytes += uint64(size)
		}

		prev, prevWasFree = h, free
		h = p.next(h)
	}

	if p.size(p.end) != 0 || p.isFree(p.end) {
		return corrupt("sentinel at %d damaged", p.end)
	}
	if p.prevFree(p.end) != prevWasFree {
		return corrupt("sentinel prev-free flag %v, last block free %v", p.prevFree(p.end), prevWasFree)
	}

	binned := 0
	for fl := 0; fl < flCount; fl++ {
		if (p.flBitmap&(1<<uint(fl)) != 0) != (p.slBitmap[fl] != 0) {
			return corrupt("first-level bit %d disagrees with second level", fl)
		}
		for sl := 0; sl < slCount; sl++ {
			head := p.heads[fl][sl]
			if (p.slBitmap[fl]&(1<<uint(sl)) != 0) != (head != none) {
				return corrupt("bitmap bit (%d,%d) disagrees with list", fl, sl)
			}
			back := none
			for b := head; b != none; b = p.nextLink(b) {
				if !p.isFree(b) {
					return corrupt("used block %d on free list (%d,%d)", b, fl, sl)
				}
				if p.prevLink(b) != back {
					return corrupt("free list (%d,%d) back link broken at %d", fl, sl, b)
				}
				if f, s := mappingInsert(p.size(b)); f != fl || s != sl {
					return corrupt("block %d of size %d in bin (%d,%d), want (%d,%d)", b, p.size(b), fl, sl, f, s)
				}
				back = b
				binned++
				if binned > freeBlocks {
					return corrupt("free lists hold more blocks than the heap")
				}
			}
		}
	}

	switch {
	case binned != freeBlocks:
		return corrupt("%d blocks binned, %d free in heap", binned, freeBlocks)
	case freeBlocks != p.freeBlocks || freeBytes != p.freeBytes:
		return corrupt("free counters %d/%d, walk found %d/%d", p.freeBlocks, p.freeBytes, freeBlocks, freeBytes)
	case usedBlocks != p.usedBlocks || usedBytes != p.usedBytes:
		return corrupt("used counters %d/%d, walk found %d/%d", p.usedBlocks, p.usedBytes, usedBlocks, usedBytes)
	}
	return nil
}

func (p *Pool) inBin(h uint32) bool {
	fl, sl := mappingInsert(p.size(h))
	for b := p.heads[fl][sl]; b != none; b = p.nextLink(b) {
		if b == h {
			return true
		}
	}
	return false
}

func corrupt(format string, args ...any) error {
	return errors.New(errors.PhaseRegion, errors.KindInvalidArgument).
		Detail("heap corrupt: "+format, args...).
		Build()
}
