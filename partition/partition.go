package partition

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/rtcore"
	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/registry"
)

// MinBlockSize is the smallest block able to hold a free-list link.
const MinBlockSize = 4

const none = ^uint32(0)

// Options configure a new partition.
type Options struct {
	// Offset is the start of the window inside the arena.
	Offset uint32
	// Length is the window size; 0 takes the rest of the arena.
	Length    uint32
	BlockSize uint32
	Scope     registry.Scope
}

// Stats summarizes a partition.
type Stats struct {
	Base      uint32
	BlockSize uint32
	Blocks    int
	Free      int
	Used      int
}

// Partition is a pool of equal-size blocks.
type Partition struct {
	reg         *registry.Registry
	arena       rtcore.Arena
	outstanding []uint64
	name        string
	handle      registry.Handle
	base        uint32
	blockSize   uint32
	blocks      int
	free        int
	head        uint32
	deleted     bool
	mu          sync.Mutex
}

// New slices an arena window into floor(length/BlockSize) blocks and
// registers the partition.
func New(reg *registry.Registry, name string, arena rtcore.Arena, opts Options) (*Partition, error) {
	if opts.BlockSize < MinBlockSize {
		return nil, errors.InvalidArgument(errors.PhasePartition,
			"block size %d below minimum %d", opts.BlockSize, MinBlockSize)
	}
	size := arena.Size()
	if opts.Offset > size {
		return nil, errors.OutOfBounds(errors.PhasePartition, "window offset", int(opts.Offset), int(size))
	}
	length := opts.Length
	if length == 0 {
		length = size - opts.Offset
	}
	if uint64(opts.Offset)+uint64(length) > uint64(size) {
		return nil, errors.InvalidArgument(errors.PhasePartition,
			"window [%d,+%d) exceeds arena of %d bytes", opts.Offset, length, size)
	}
	blocks := int(length / opts.BlockSize)
	if blocks == 0 {
		return nil, errors.InvalidArgument(errors.PhasePartition,
			"window of %d bytes holds no %d byte block", length, opts.BlockSize)
	}

	p := &Partition{
		reg:         reg,
		arena:       arena,
		outstanding: make([]uint64, (blocks+63)/64),
		name:        name,
		base:        opts.Offset,
		blockSize:   opts.BlockSize,
		blocks:      blocks,
		free:        blocks,
		head:        opts.Offset,
	}
	for k := 0; k < blocks; k++ {
		next := none
		if k+1 < blocks {
			next = p.addr(k + 1)
		}
		if err := arena.WriteU32(p.addr(k), next); err != nil {
			return nil, err
		}
	}

	h, err := reg.Create(opts.Scope, name, registry.Partition, p)
	if err != nil {
		return nil, err
	}
	p.handle = h
	return p, nil
}

// Handle returns the registry handle.
func (p *Partition) Handle() registry.Handle { return p.handle }

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// BlockSize returns the block size in bytes.
func (p *Partition) BlockSize() uint32 { return p.blockSize }

// GetBlock pops the lowest free block and returns its arena offset.
func (p *Partition) GetBlock() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return 0, errors.Deleted(errors.PhasePartition, p.name)
	}
	if p.head == none {
		return 0, errors.NoBuffer(errors.PhasePartition, p.name)
	}
	addr := p.head
	next, err := p.arena.ReadU32(addr)
	if err != nil {
		return 0, err
	}
	p.head = next
	p.free--
	p.setOutstanding(p.index(addr), true)
	return addr, nil
}

// ReturnBlock pushes an outstanding block back on the free list.
func (p *Partition) ReturnBlock(addr uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return errors.Deleted(errors.PhasePartition, p.name)
	}
	if addr < p.base || addr >= p.limit() {
		return errors.InvalidArgument(errors.PhasePartition,
			"block %d outside [%d,%d)", addr, p.base, p.limit())
	}
	if (addr-p.base)%p.blockSize != 0 {
		return errors.InvalidArgument(errors.PhasePartition,
			"%d is not on a %d byte block boundary", addr, p.blockSize)
	}
	k := p.index(addr)
	if !p.isOutstanding(k) {
		return errors.InvalidArgument(errors.PhasePartition, "block %d is not outstanding", addr)
	}
	if err := p.arena.WriteU32(addr, p.head); err != nil {
		return err
	}
	p.head = addr
	p.free++
	p.setOutstanding(k, false)
	return nil
}

// Delete removes the partition. It fails while blocks are outstanding.
func (p *Partition) Delete() error {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return errors.Deleted(errors.PhasePartition, p.name)
	}
	if used := p.blocks - p.free; used > 0 {
		p.mu.Unlock()
		return errors.ResourceBusy(errors.PhasePartition, p.name, used)
	}
	p.deleted = true
	p.mu.Unlock()

	if _, err := p.reg.Delete(p.handle); err != nil {
		return err
	}
	Logger().Debug("partition deleted",
		zap.String("name", p.name),
		zap.Int("blocks", p.blocks))
	return nil
}

// Stats returns the current usage.
func (p *Partition) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Base:      p.base,
		BlockSize: p.blockSize,
		Blocks:    p.blocks,
		Free:      p.free,
		Used:      p.blocks - p.free,
	}
}

func (p *Partition) addr(k int) uint32    { return p.base + uint32(k)*p.blockSize }
func (p *Partition) index(addr uint32) int { return int((addr - p.base) / p.blockSize) }
func (p *Partition) limit() uint32        { return p.addr(p.blocks) }

func (p *Partition) isOutstanding(k int) bool {
	return p.outstanding[k/64]&(1<<uint(k%64)) != 0
}

func (p *Partition) setOutstanding(k int, on bool) {
	if on {
		p.outstanding[k/64] |= 1 << uint(k%64)
	} else {
		p.outstanding[k/64] &^= 1 << uint(k%64)
	}
}
