package proc

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrBadDescriptor is returned for operations on an unknown descriptor.
var ErrBadDescriptor = errors.New("proc: bad file descriptor")

// Resource is an open file-like handle owned by a process.
type Resource interface {
	io.Reader
	io.Writer
}

// ResourceSet is the per-process descriptor table. Descriptors 0, 1 and 2
// are wired to the console streams at creation.
type ResourceSet struct {
	mu      sync.RWMutex
	handles map[uint8]Resource
	next    uint8
}

// NewResourceSet builds a descriptor table with the standard streams.
func NewResourceSet(stdin io.Reader, stdout, stderr io.Writer) *ResourceSet {
	return &ResourceSet{
		handles: map[uint8]Resource{
			0: readOnly{stdin},
			1: writeOnly{stdout},
			2: writeOnly{stderr},
		},
		next: 3,
	}
}

// Open registers a resource and returns its descriptor.
func (r *ResourceSet) Open(res Resource) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd := r.next
	r.next++
	r.handles[fd] = res
	return fd
}

// Close releases a descriptor; false if it was not open.
func (r *ResourceSet) Close(fd uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[fd]; !ok {
		return false
	}
	delete(r.handles, fd)
	return true
}

// Read reads from the descriptor into buf.
func (r *ResourceSet) Read(fd uint8, buf []byte) (int, error) {
	r.mu.RLock()
	res, ok := r.handles[fd]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	return res.Read(buf)
}

// Write writes buf to the descriptor.
func (r *ResourceSet) Write(fd uint8, buf []byte) (int, error) {
	r.mu.RLock()
	res, ok := r.handles[fd]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	return res.Write(buf)
}

type readOnly struct{ io.Reader }

func (readOnly) Write([]byte) (int, error) {
	return 0, errors.New("proc: resource is read-only")
}

type writeOnly struct{ io.Writer }

func (writeOnly) Read([]byte) (int, error) {
	return 0, errors.New("proc: resource is write-only")
}
