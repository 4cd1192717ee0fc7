package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Flags carried by a page-table entry.
type Flags uint8

const (
	FlagPresent Flags = 1 << iota
	FlagWritable
	FlagUserAccessible
)

var (
	// ErrAlreadyMapped is returned when mapping a page that has an entry.
	ErrAlreadyMapped = errors.New("memory: page already mapped")
	// ErrNotMapped is returned when unmapping or accessing an absent page.
	ErrNotMapped = errors.New("memory: page not mapped")
)

// tableRoot is the shared state behind one or more PageTableContext handles.
// The root occupies a frame of its own, mirroring a hardware top-level table.
type tableRoot struct {
	mu      sync.RWMutex
	frame   *Frame
	entries map[uint64]tableEntry
	refs    atomic.Int32
}

type tableEntry struct {
	frame *Frame
	flags Flags
}

// PageTableContext is a handle to a page-table root. Handles created with
// Fork share the same root; UsingCount reports how many holders remain, which
// drives the last-owner-frees rule during address-space teardown.
type PageTableContext struct {
	root *tableRoot
}

// NewPageTable allocates a fresh, empty page-table root.
func NewPageTable(alloc *Allocator) (*PageTableContext, error) {
	frame, err := alloc.AllocateFrame()
	if err != nil {
		return nil, fmt.Errorf("allocate page table root: %w", err)
	}
	root := &tableRoot{frame: frame, entries: make(map[uint64]tableEntry)}
	root.refs.Store(1)
	return &PageTableContext{root: root}, nil
}

// CloneLevel4 copies the top-level table into a freshly allocated root. The
// clone sees the same mappings but owns its root: later changes to either
// table are invisible to the other.
func (c *PageTableContext) CloneLevel4(alloc *Allocator) (*PageTableContext, error) {
	frame, err := alloc.AllocateFrame()
	if err != nil {
		return nil, fmt.Errorf("allocate page table root: %w", err)
	}
	c.root.mu.RLock()
	entries := make(map[uint64]tableEntry, len(c.root.entries))
	for page, e := range c.root.entries {
		entries[page] = e
	}
	c.root.mu.RUnlock()

	root := &tableRoot{frame: frame, entries: entries}
	root.refs.Store(1)
	return &PageTableContext{root: root}, nil
}

// Fork returns a handle sharing this root, incrementing the owner count.
func (c *PageTableContext) Fork() *PageTableContext {
	c.root.refs.Add(1)
	return &PageTableContext{root: c.root}
}

// UsingCount returns the number of handles sharing the root.
func (c *PageTableContext) UsingCount() int {
	return int(c.root.refs.Load())
}

// Release drops this handle's ownership share.
func (c *PageTableContext) Release() {
	c.root.refs.Add(-1)
}

// RootFrame returns the frame backing the top-level table.
func (c *PageTableContext) RootFrame() *Frame {
	return c.root.frame
}

// Map installs a page -> frame translation.
func (c *PageTableContext) Map(page uint64, frame *Frame, flags Flags) error {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	if _, ok := c.root.entries[page]; ok {
		return fmt.Errorf("%w: page %#x", ErrAlreadyMapped, page)
	}
	c.root.entries[page] = tableEntry{frame: frame, flags: flags | FlagPresent}
	return nil
}

// Unmap removes a translation and returns the frame it pointed at.
func (c *PageTableContext) Unmap(page uint64) (*Frame, error) {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	e, ok := c.root.entries[page]
	if !ok {
		return nil, fmt.Errorf("%w: page %#x", ErrNotMapped, page)
	}
	delete(c.root.entries, page)
	return e.frame, nil
}

// Translate looks up the frame and flags for a page.
func (c *PageTableContext) Translate(page uint64) (*Frame, Flags, bool) {
	c.root.mu.RLock()
	defer c.root.mu.RUnlock()
	e, ok := c.root.entries[page]
	if !ok {
		return nil, 0, false
	}
	return e.frame, e.flags, true
}

// MappedPages returns the number of live entries in the table.
func (c *PageTableContext) MappedPages() int {
	c.root.mu.RLock()
	defer c.root.mu.RUnlock()
	return len(c.root.entries)
}

// CleanUp drops all remaining entries and frees the root frame itself. Only
// the last owner may call it; frames still referenced by entries are left to
// their owning regions.
func (c *PageTableContext) CleanUp(alloc *Allocator) {
	if n := c.UsingCount(); n != 1 {
		panic(fmt.Sprintf("memory: page table clean up with %d owners", n))
	}
	c.root.mu.Lock()
	c.root.entries = make(map[uint64]tableEntry)
	c.root.mu.Unlock()
	alloc.DeallocateFrame(c.root.frame)
}

// ReadAt copies len(buf) bytes from virtual address addr through the table.
func (c *PageTableContext) ReadAt(addr uint64, buf []byte) error {
	return c.access(addr, buf, false)
}

// WriteAt copies buf into memory at virtual address addr through the table.
func (c *PageTableContext) WriteAt(addr uint64, buf []byte) error {
	return c.access(addr, buf, true)
}

func (c *PageTableContext) access(addr uint64, buf []byte, write bool) error {
	offset := 0
	for offset < len(buf) {
		page := PageOf(addr)
		frame, _, ok := c.Translate(page)
		if !ok {
			return fmt.Errorf("%w: address %#x", ErrNotMapped, addr)
		}
		pageOff := addr % PageSize
		n := int(PageSize - pageOff)
		if rest := len(buf) - offset; n > rest {
			n = rest
		}
		if write {
			copy(frame.Data()[pageOff:], buf[offset:offset+n])
		} else {
			copy(buf[offset:offset+n], frame.Data()[pageOff:int(pageOff)+n])
		}
		offset += n
		addr += uint64(n)
	}
	return nil
}
