// Package memory provides the physical side of the kernel's address
// translation: a frame allocator backed by a fixed pool of 4KiB frames and a
// reference-counted page-table abstraction that maps virtual pages onto those
// frames. Physical memory is simulated as plain byte slices so that address
// spaces can be exercised and inspected without real hardware.
package memory

// PageSize is the size of a single page/frame in bytes.
const PageSize uint64 = 0x1000

// PageOf returns the page number containing addr.
func PageOf(addr uint64) uint64 {
	return addr / PageSize
}

// AlignUp rounds addr up to the next page boundary.
func AlignUp(addr uint64) uint64 {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

// AlignDown rounds addr down to a page boundary.
func AlignDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// PageRange is a half-open range of page numbers [Start, End).
type PageRange struct {
	Start uint64
	End   uint64
}

// Count returns the number of pages in the range.
func (r PageRange) Count() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// StartAddress returns the virtual address of the first byte of the range.
func (r PageRange) StartAddress() uint64 {
	return r.Start * PageSize
}

// EndAddress returns the virtual address one past the last byte of the range.
func (r PageRange) EndAddress() uint64 {
	return r.End * PageSize
}
