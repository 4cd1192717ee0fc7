package proc

import (
	"io"
	"sync"

	"github.com/vos-lab/vos/service/memory"
)

// ProcessData carries the per-process state that fork peers share: the
// environment, the descriptor table and the semaphore set are shared by
// pointer; the memory accounting is private to each peer.
type ProcessData struct {
	env        *Env
	resources  *ResourceSet
	semaphores *SemaphoreSet

	mu         sync.RWMutex
	codeBytes  uint64
	stackPages uint64
	totalPages uint64
}

// NewProcessData builds fresh process data with console streams wired in.
func NewProcessData(stdin io.Reader, stdout, stderr io.Writer) *ProcessData {
	return &ProcessData{
		env:        newEnv(),
		resources:  NewResourceSet(stdin, stdout, stderr),
		semaphores: NewSemaphoreSet(),
	}
}

// Clone produces the child's view on fork: shared env, resources and
// semaphores, copied accounting.
func (d *ProcessData) Clone() *ProcessData {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &ProcessData{
		env:        d.env,
		resources:  d.resources,
		semaphores: d.semaphores,
		codeBytes:  d.codeBytes,
		stackPages: d.stackPages,
		totalPages: d.totalPages,
	}
}

// Resources exposes the descriptor table.
func (d *ProcessData) Resources() *ResourceSet {
	return d.resources
}

// Semaphores exposes the semaphore set.
func (d *ProcessData) Semaphores() *SemaphoreSet {
	return d.semaphores
}

// Env returns the value of a shell-style variable.
func (d *ProcessData) Env(key string) (string, bool) {
	return d.env.Get(key)
}

// SetEnv stores a shell-style variable.
func (d *ProcessData) SetEnv(key, value string) {
	d.env.Set(key, value)
}

// UpdateMemoryUsage records the loaded code size and mapped stack pages.
func (d *ProcessData) UpdateMemoryUsage(codeBytes, stackPages uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codeBytes = codeBytes
	d.stackPages = stackPages
	codePages := (codeBytes + memory.PageSize - 1) / memory.PageSize
	d.totalPages = codePages + stackPages
}

// MemoryUsagePages returns the accounted page total.
func (d *ProcessData) MemoryUsagePages() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.totalPages
}

// MemoryUsageBytes returns the accounted byte total.
func (d *ProcessData) MemoryUsageBytes() uint64 {
	return d.MemoryUsagePages() * memory.PageSize
}

// Env is a lock-guarded string map shared between fork peers.
type Env struct {
	mu   sync.RWMutex
	vars map[string]string
}

func newEnv() *Env {
	return &Env{vars: make(map[string]string)}
}

// Get returns the value under key.
func (e *Env) Get(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vars[key]
	return v, ok
}

// Set stores value under key.
func (e *Env) Set(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[key] = value
}
