package vm

import (
	"fmt"
	"log"

	"github.com/vos-lab/vos/service/memory"
)

// Stack layout: each process owns a fixed 4GiB virtual slot directly below
// StackMax (or below the slot of an earlier sibling, see fork). Only the
// topmost page is mapped up front; faults below the low-water mark grow the
// mapping downward in batches.
const (
	StackMax      uint64 = 0x4000_0000_0000
	StackMaxPages uint64 = 0x10_0000
	StackMaxSize         = StackMaxPages * memory.PageSize
	// StackStartMask isolates the slot a stack address belongs to.
	StackStartMask = ^(StackMaxSize - 1)

	StackDefPage uint64 = 1
	StackDefSize        = StackDefPage * memory.PageSize
	StackInitBot        = StackMax - StackDefSize
	StackInitTop        = StackMax - 8

	// Kernel stack region, mapped once at boot.
	KStackMax     uint64 = 0xffff_ff02_0000_0000
	KStackDefPage uint64 = 8
	KStackDefSize        = KStackDefPage * memory.PageSize
	KStackInitBot        = KStackMax - KStackDefSize
	KStackInitTop        = KStackMax - 8

	// growthBatchPages is the fault-driven growth granularity (128KiB).
	growthBatchPages uint64 = 32

	forkMaxAttempts = 10
)

// Stack tracks the mapped portion of a process stack as a page range
// [start, end) plus the mapped page count.
type Stack struct {
	start    uint64
	end      uint64
	usage    uint64
	isKernel bool
}

func emptyStack() Stack {
	top := memory.PageOf(StackInitTop)
	return Stack{start: top, end: top, usage: 0}
}

func kernelStack() Stack {
	return Stack{
		start:    memory.PageOf(KStackInitBot),
		end:      memory.PageOf(KStackInitTop) + 1,
		usage:    KStackDefPage,
		isKernel: true,
	}
}

func (s *Stack) flags() memory.Flags {
	flags := memory.FlagPresent | memory.FlagWritable
	if !s.isKernel {
		flags |= memory.FlagUserAccessible
	}
	return flags
}

// startAddress returns the lowest mapped stack address.
func (s *Stack) startAddress() uint64 {
	return s.start * memory.PageSize
}

func (s *Stack) memoryUsage() uint64 {
	return s.usage * memory.PageSize
}

// mapPages maps count fresh frames starting at startPage. On any failure the
// pages mapped so far by this call are rolled back before returning, so the
// table is never left partially extended.
func mapPages(pt *memory.PageTableContext, alloc *memory.Allocator, startPage, count uint64, flags memory.Flags) error {
	for i := uint64(0); i < count; i++ {
		page := startPage + i
		frame, err := alloc.AllocateFrame()
		if err == nil {
			err = pt.Map(page, frame, flags)
			if err != nil {
				alloc.DeallocateFrame(frame)
			}
		}
		if err != nil {
			for p := startPage; p < page; p++ {
				if f, uerr := pt.Unmap(p); uerr == nil {
					alloc.DeallocateFrame(f)
				}
			}
			return err
		}
	}
	return nil
}

func (s *Stack) init(pt *memory.PageTableContext, alloc *memory.Allocator) error {
	if s.usage != 0 {
		panic("vm: stack is not empty")
	}
	start := memory.PageOf(StackInitBot)
	if err := mapPages(pt, alloc, start, StackDefPage, s.flags()); err != nil {
		return fmt.Errorf("init stack: %w", err)
	}
	s.start = start
	s.end = start + StackDefPage
	s.usage = StackDefPage
	return nil
}

// initKernel maps the fixed kernel stack region.
func (s *Stack) initKernel(pt *memory.PageTableContext, alloc *memory.Allocator) error {
	if err := mapPages(pt, alloc, s.start, s.usage, s.flags()); err != nil {
		return fmt.Errorf("init kernel stack: %w", err)
	}
	return nil
}

// isOnStack reports whether addr falls inside this stack's virtual slot.
func (s *Stack) isOnStack(addr uint64) bool {
	return addr&StackStartMask == s.startAddress()&StackStartMask
}

func (s *Stack) handlePageFault(addr uint64, pt *memory.PageTableContext, alloc *memory.Allocator) bool {
	if !s.isOnStack(addr) {
		return false
	}
	if err := s.grow(addr, pt, alloc); err != nil {
		log.Printf("vm: grow stack failed: %v", err)
		return false
	}
	return true
}

// grow extends the mapping downward far enough to cover addr, in whole
// batches, clamped to the slot and the per-process page quota. Pages above
// the current low-water mark are already mapped and are never touched.
func (s *Stack) grow(addr uint64, pt *memory.PageTableContext, alloc *memory.Allocator) error {
	faultPage := memory.PageOf(addr)
	if faultPage >= s.start {
		// Raced or spurious fault inside the mapped range; nothing to map.
		return nil
	}
	gap := s.start - faultPage
	batches := (gap + growthBatchPages - 1) / growthBatchPages
	newStart := s.start - batches*growthBatchPages
	if slotBot := memory.PageOf(s.startAddress() & StackStartMask); newStart < slotBot {
		newStart = slotBot
	}
	count := s.start - newStart
	if s.usage+count > StackMaxPages {
		return fmt.Errorf("stack limit exceeded: %d pages mapped, %d requested", s.usage, count)
	}
	if err := mapPages(pt, alloc, newStart, count, s.flags()); err != nil {
		return err
	}
	s.start = newStart
	s.usage += count
	return nil
}

// fork places a copy of this stack in a free slot below the parent's,
// probing linearly from stackOffsetCount+1. The slot search is bounded;
// running out of attempts means the address-space layout invariant is broken
// and the kernel cannot continue.
func (s *Stack) fork(pt *memory.PageTableContext, alloc *memory.Allocator, stackOffsetCount uint64) Stack {
	offset := stackOffsetCount + 1
	var candidate *Stack
	for attempt := 0; attempt < forkMaxAttempts; attempt++ {
		slotTop := StackMax - offset*StackMaxSize
		if slotTop < StackMaxSize {
			panic("vm: out of stack slots for new process")
		}
		topPage := memory.PageOf(slotTop) - 1
		startPage := topPage + 1 - s.usage
		free := true
		for page := startPage; page <= topPage; page++ {
			if _, _, ok := pt.Translate(page); ok {
				free = false
				break
			}
		}
		if free {
			candidate = &Stack{start: startPage, end: topPage + 1, usage: s.usage, isKernel: s.isKernel}
			break
		}
		offset++
	}
	if candidate == nil {
		panic(fmt.Sprintf("vm: no free stack slot after %d attempts", forkMaxAttempts))
	}

	if err := mapPages(pt, alloc, candidate.start, candidate.usage, s.flags()); err != nil {
		panic(fmt.Sprintf("vm: fork stack mapping failed: %v", err))
	}

	// Copy the parent's mapped stack verbatim; both ranges live in the same
	// (shared) page table.
	buf := make([]byte, s.usage*memory.PageSize)
	if err := pt.ReadAt(s.startAddress(), buf); err != nil {
		panic(fmt.Sprintf("vm: fork stack read failed: %v", err))
	}
	if err := pt.WriteAt(candidate.startAddress(), buf); err != nil {
		panic(fmt.Sprintf("vm: fork stack write failed: %v", err))
	}
	return *candidate
}

func (s *Stack) cleanUp(pt *memory.PageTableContext, alloc *memory.Allocator) error {
	if s.usage == 0 {
		log.Printf("vm: stack is empty, nothing to clean up")
		return nil
	}
	for page := s.start; page < s.end; page++ {
		frame, err := pt.Unmap(page)
		if err != nil {
			return fmt.Errorf("unmap stack page %#x: %w", page, err)
		}
		alloc.DeallocateFrame(frame)
	}
	top := memory.PageOf(StackInitTop)
	s.start, s.end, s.usage = top, top, 0
	return nil
}
