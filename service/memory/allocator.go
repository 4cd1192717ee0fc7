package memory

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoFreeFrames is returned when the frame pool is exhausted.
var ErrNoFreeFrames = errors.New("memory: no free frames")

// Frame is a single physical frame. Its backing bytes are owned by the
// allocator pool and remain valid for the lifetime of the kernel.
type Frame struct {
	index int
	data  []byte
}

// Index returns the frame number within the pool.
func (f *Frame) Index() int {
	return f.index
}

// Data exposes the frame's backing bytes.
func (f *Frame) Data() []byte {
	return f.data
}

// Zero clears the frame contents.
func (f *Frame) Zero() {
	for i := range f.data {
		f.data[i] = 0
	}
}

// Allocator hands out frames from a fixed pool using a free list. Freed
// frames are pushed back and handed out again in LIFO order; contents are not
// cleared on allocation, callers that need zeroed memory zero explicitly.
type Allocator struct {
	mu       sync.Mutex
	frames   []Frame
	freeList []int
	recycled uint64
}

// NewAllocator creates an allocator over frameCount frames of simulated
// physical memory.
func NewAllocator(frameCount int) *Allocator {
	a := &Allocator{
		frames:   make([]Frame, frameCount),
		freeList: make([]int, 0, frameCount),
	}
	for i := frameCount - 1; i >= 0; i-- {
		a.frames[i] = Frame{index: i, data: make([]byte, PageSize)}
		a.freeList = append(a.freeList, i)
	}
	return a
}

// AllocateFrame pops a frame off the free list.
func (a *Allocator) AllocateFrame() (*Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.freeList) == 0 {
		return nil, ErrNoFreeFrames
	}
	idx := a.freeList[len(a.freeList)-1]
	a.freeList = a.freeList[:len(a.freeList)-1]
	return &a.frames[idx], nil
}

// DeallocateFrame returns a frame to the free list. Double free is a
// programming error and panics.
func (a *Allocator) DeallocateFrame(f *Frame) {
	if f == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, idx := range a.freeList {
		if idx == f.index {
			panic(fmt.Sprintf("memory: double free of frame %d", f.index))
		}
	}
	a.freeList = append(a.freeList, f.index)
	a.recycled++
}

// FreeCount returns the number of frames currently available.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.freeList)
}

// RecycledCount returns the total number of frames freed since boot.
func (a *Allocator) RecycledCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recycled
}

// TotalFrames returns the pool size.
func (a *Allocator) TotalFrames() int {
	return len(a.frames)
}
