package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/vos-lab/vos/service/memory"
)

// Heap layout: one contiguous user heap per address space with a fixed base
// and a movable end, adjusted via brk. The end pointer is shared between
// fork peers, consistent with the page table being shared.
const (
	HeapStart    uint64 = 0x2000_0000_0000
	HeapMaxPages uint64 = 0x10_0000
	HeapMaxSize         = HeapMaxPages * memory.PageSize
	HeapEnd             = HeapStart + HeapMaxSize - 8
)

// Heap is always page aligned in its mapped extent; the logical range is
// [base, end).
type Heap struct {
	base uint64
	end  *atomic.Uint64
}

func emptyHeap() *Heap {
	h := &Heap{base: HeapStart, end: new(atomic.Uint64)}
	h.end.Store(HeapStart)
	return h
}

// fork shares the end pointer with the child.
func (h *Heap) fork() *Heap {
	return &Heap{base: h.base, end: h.end}
}

func (h *Heap) memoryUsage() uint64 {
	return h.end.Load() - h.base
}

// brk queries or moves the heap end. A nil target is a pure query. A target
// equal to the base releases the whole heap. Otherwise the mapped extent is
// grown or shrunk to cover the page-aligned target; growth failures leave the
// heap untouched and report nil, as does a target outside [base, base+max).
func (h *Heap) brk(target *uint64, pt *memory.PageTableContext, alloc *memory.Allocator) *uint64 {
	if target == nil {
		end := h.end.Load()
		return &end
	}
	want := *target
	if want < HeapStart || want > HeapEnd {
		return nil
	}

	cur := h.end.Load()
	curAligned := memory.AlignUp(cur)
	wantAligned := memory.AlignUp(want)

	switch {
	case want == h.base:
		if cur > h.base {
			h.unmapRange(memory.PageOf(h.base), memory.PageOf(curAligned), pt, alloc)
		}
		h.end.Store(h.base)
		base := h.base
		return &base

	case wantAligned < curAligned:
		h.unmapRange(memory.PageOf(wantAligned), memory.PageOf(curAligned), pt, alloc)

	case wantAligned > curAligned:
		if err := h.mapRange(memory.PageOf(curAligned), memory.PageOf(wantAligned), pt, alloc); err != nil {
			return nil
		}
	}

	h.end.Store(want)
	return &want
}

// mapRange maps zeroed frames over [startPage, endPage); on failure every
// page mapped by this call is rolled back so the end pointer stays valid.
func (h *Heap) mapRange(startPage, endPage uint64, pt *memory.PageTableContext, alloc *memory.Allocator) error {
	flags := memory.FlagPresent | memory.FlagWritable | memory.FlagUserAccessible
	for page := startPage; page < endPage; page++ {
		frame, err := alloc.AllocateFrame()
		if err == nil {
			frame.Zero()
			err = pt.Map(page, frame, flags)
			if err != nil {
				alloc.DeallocateFrame(frame)
			}
		}
		if err != nil {
			h.unmapRange(startPage, page, pt, alloc)
			return fmt.Errorf("grow heap: %w", err)
		}
	}
	return nil
}

func (h *Heap) unmapRange(startPage, endPage uint64, pt *memory.PageTableContext, alloc *memory.Allocator) {
	for page := startPage; page < endPage; page++ {
		if frame, err := pt.Unmap(page); err == nil {
			alloc.DeallocateFrame(frame)
		}
	}
}

func (h *Heap) cleanUp(pt *memory.PageTableContext, alloc *memory.Allocator) {
	if h.memoryUsage() == 0 {
		return
	}
	end := h.end.Swap(h.base)
	h.unmapRange(memory.PageOf(h.base), memory.PageOf(memory.AlignUp(end)), pt, alloc)
}
