// Package manager implements the process-global core of the kernel: the
// process table, the FIFO ready queue, the wait table and every scheduling
// and lifecycle operation. Entry points that touch shared state run inside a
// single non-preemptible scope, the software stand-in for executing with
// interrupts disabled; individual process records carry their own
// reader/writer locks for finer-grained access.
package manager

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vos-lab/vos/runtime/proc"
	"github.com/vos-lab/vos/service/memory"
	"github.com/vos-lab/vos/service/registry"
	"github.com/vos-lab/vos/service/rootfs"
)

// Manager is the only process-global object in the kernel.
type Manager struct {
	// guard delimits the non-preemptible critical sections.
	guard sync.Mutex

	tableMu   sync.RWMutex
	processes map[proc.ID]*proc.Process

	readyMu    sync.Mutex
	readyQueue []proc.ID

	waitMu    sync.Mutex
	waitQueue map[proc.ID]map[proc.ID]struct{}

	current atomic.Uint32

	alloc *memory.Allocator
	apps  *registry.Service
	fs    *rootfs.Service

	stdin          io.Reader
	stdout, stderr io.Writer

	idleFunc  func()
	idleParks atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry sets the boot application registry.
func WithRegistry(apps *registry.Service) Option {
	return func(m *Manager) { m.apps = apps }
}

// WithRootFS sets the open-by-path file service.
func WithRootFS(fs *rootfs.Service) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithConsole sets the streams wired into descriptors 0/1/2 of new
// processes.
func WithConsole(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(m *Manager) {
		m.stdin, m.stdout, m.stderr = stdin, stdout, stderr
	}
}

// WithIdleFunc sets the hook invoked when the scheduler has nothing to run
// and the caller already is the kernel process (the hlt stand-in).
func WithIdleFunc(fn func()) Option {
	return func(m *Manager) { m.idleFunc = fn }
}

// New creates a Manager seeded with the kernel process, which must already
// be Running under proc.KernelID.
func New(kernel *proc.Process, alloc *memory.Allocator, options ...Option) *Manager {
	m := &Manager{
		processes: map[proc.ID]*proc.Process{kernel.Pid(): kernel},
		waitQueue: make(map[proc.ID]map[proc.ID]struct{}),
		alloc:     alloc,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
	m.current.Store(uint32(kernel.Pid()))
	for _, opt := range options {
		opt(m)
	}
	return m
}

// CurrentPid returns the identifier of the running process.
func (m *Manager) CurrentPid() proc.ID {
	return proc.ID(m.current.Load())
}

func (m *Manager) setCurrent(pid proc.ID) {
	m.current.Store(uint32(pid))
}

// Current returns the running process.
func (m *Manager) Current() *proc.Process {
	p, ok := m.Get(m.CurrentPid())
	if !ok {
		panic("manager: no current process")
	}
	return p
}

// Get looks a process up by identifier. Dead processes stay in the table so
// exit codes remain queryable.
func (m *Manager) Get(pid proc.ID) (*proc.Process, bool) {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	p, ok := m.processes[pid]
	return p, ok
}

func (m *Manager) addProc(p *proc.Process) {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	m.processes[p.Pid()] = p
}

// PushReady appends a process to the ready queue.
func (m *Manager) PushReady(pid proc.ID) {
	m.readyMu.Lock()
	defer m.readyMu.Unlock()
	m.readyQueue = append(m.readyQueue, pid)
}

func (m *Manager) popReady() (proc.ID, bool) {
	m.readyMu.Lock()
	defer m.readyMu.Unlock()
	if len(m.readyQueue) == 0 {
		return 0, false
	}
	pid := m.readyQueue[0]
	m.readyQueue = m.readyQueue[1:]
	return pid, true
}

// ReadyQueue returns a snapshot of the queue contents.
func (m *Manager) ReadyQueue() []proc.ID {
	m.readyMu.Lock()
	defer m.readyMu.Unlock()
	out := make([]proc.ID, len(m.readyQueue))
	copy(out, m.readyQueue)
	return out
}

// IdleParks counts how many times the scheduler parked waiting for work.
func (m *Manager) IdleParks() uint64 {
	return m.idleParks.Load()
}

// Apps returns the registered application names.
func (m *Manager) Apps() []string {
	if m.apps == nil {
		return nil
	}
	return m.apps.Names()
}
