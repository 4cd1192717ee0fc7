// Package vm implements per-process address spaces: a reference-counted page
// table handle, an on-demand growing stack, a brk-style heap and, for the
// first process, the mapped code ranges. Teardown follows a last-owner-frees
// rule so fork peers can die without corrupting shared mappings.
package vm

import (
	"fmt"
	"log"

	"github.com/vos-lab/vos/service/loader"
	"github.com/vos-lab/vos/service/memory"
)

// AddressSpace owns the virtual-memory bookkeeping of one process.
type AddressSpace struct {
	pageTable *memory.PageTableContext
	alloc     *memory.Allocator

	stack Stack
	heap  *Heap

	// code ranges are populated only for the address space that performed
	// the image load; fork children share the mappings without owning them.
	code      []memory.PageRange
	codeUsage uint64
	isKernel  bool
}

// New creates an empty user address space over the given page table.
func New(pt *memory.PageTableContext, alloc *memory.Allocator) *AddressSpace {
	return &AddressSpace{
		pageTable: pt,
		alloc:     alloc,
		stack:     emptyStack(),
		heap:      emptyHeap(),
	}
}

// NewKernel creates the kernel address space: kernel stack mapped, code
// ranges recorded from the boot image, no managed heap.
func NewKernel(pt *memory.PageTableContext, alloc *memory.Allocator, code []memory.PageRange) (*AddressSpace, error) {
	v := &AddressSpace{
		pageTable: pt,
		alloc:     alloc,
		stack:     kernelStack(),
		heap:      emptyHeap(),
		isKernel:  true,
	}
	for _, r := range code {
		v.code = append(v.code, r)
		v.codeUsage += r.Count() * memory.PageSize
	}
	if err := v.stack.initKernel(pt, alloc); err != nil {
		return nil, err
	}
	return v, nil
}

// PageTable exposes the underlying table handle.
func (v *AddressSpace) PageTable() *memory.PageTableContext {
	return v.pageTable
}

// InitStack maps the initial stack page and returns the initial stack top.
func (v *AddressSpace) InitStack() (uint64, error) {
	if err := v.stack.init(v.pageTable, v.alloc); err != nil {
		return 0, err
	}
	return StackInitTop, nil
}

// LoadImage maps a program image into this address space and records the
// resulting code ranges. Returns the loaded byte count.
func (v *AddressSpace) LoadImage(img *loader.Image) (uint64, error) {
	ranges, codeBytes, err := loader.MapInto(v.pageTable, v.alloc, img, !v.isKernel)
	if err != nil {
		return 0, fmt.Errorf("load image: %w", err)
	}
	v.code = ranges
	v.codeUsage = codeBytes
	return codeBytes, nil
}

// HandlePageFault attempts to resolve a fault by growing the stack; a fault
// outside the stack slot or beyond the stack quota is not handled.
func (v *AddressSpace) HandlePageFault(addr uint64) bool {
	return v.stack.handlePageFault(addr, v.pageTable, v.alloc)
}

// Brk queries or moves the heap end, see Heap.brk.
func (v *AddressSpace) Brk(target *uint64) *uint64 {
	return v.heap.brk(target, v.pageTable, v.alloc)
}

// Fork derives the child's address space: the page table is shared (owner
// count incremented), the stack is freshly placed and copied, the heap end is
// shared. Code ranges stay with the original owner.
func (v *AddressSpace) Fork(stackOffsetCount uint64) *AddressSpace {
	shared := v.pageTable.Fork()
	return &AddressSpace{
		pageTable: shared,
		alloc:     v.alloc,
		stack:     v.stack.fork(shared, v.alloc, stackOffsetCount),
		heap:      v.heap.fork(),
		isKernel:  v.isKernel,
	}
}

// StackStartAddress returns the lowest mapped stack address, the anchor for
// fork's stack-pointer adjustment.
func (v *AddressSpace) StackStartAddress() uint64 {
	return v.stack.startAddress()
}

// StackUsagePages returns the number of mapped stack pages.
func (v *AddressSpace) StackUsagePages() uint64 {
	return v.stack.usage
}

// MemoryUsage returns the byte total of stack, heap and owned code mappings.
func (v *AddressSpace) MemoryUsage() uint64 {
	return v.stack.memoryUsage() + v.heap.memoryUsage() + v.codeUsage
}

// CleanUp releases this address space. The stack is privately owned and is
// always unmapped; the heap, owned code ranges and the table root are freed
// only when this handle is the last owner of the page table.
func (v *AddressSpace) CleanUp() error {
	startRecycled := v.alloc.RecycledCount()

	if err := v.stack.cleanUp(v.pageTable, v.alloc); err != nil {
		return fmt.Errorf("clean up stack: %w", err)
	}

	if v.pageTable.UsingCount() == 1 {
		v.heap.cleanUp(v.pageTable, v.alloc)
		for _, r := range v.code {
			for page := r.Start; page < r.End; page++ {
				if frame, err := v.pageTable.Unmap(page); err == nil {
					v.alloc.DeallocateFrame(frame)
				}
			}
		}
		v.code = nil
		v.codeUsage = 0
		v.pageTable.CleanUp(v.alloc)
	} else {
		v.pageTable.Release()
	}

	recycled := v.alloc.RecycledCount() - startRecycled
	log.Printf("vm: clean up recycled %d frames (%d total)", recycled, v.alloc.RecycledCount())
	return nil
}

// String renders the address space for diagnostics.
func (v *AddressSpace) String() string {
	return fmt.Sprintf("AddressSpace{kernel=%v stack=[%#x..%#x) heap_end=%#x usage=%d}",
		v.isKernel, v.stack.startAddress(), v.stack.end*memory.PageSize, v.heap.end.Load(), v.MemoryUsage())
}
