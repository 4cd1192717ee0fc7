package proc

import (
	"log"
	"sync"
	"time"

	"github.com/vos-lab/vos/internal/clock"
	"github.com/vos-lab/vos/internal/pid"
	"github.com/vos-lab/vos/runtime/vm"
)

// Process pairs an immutable identifier with lock-guarded mutable state.
// The parent link is a plain ID resolved through the process table so a
// child never keeps its parent alive; children are held strongly for
// traversal and cleanup.
type Process struct {
	pid ID

	mu          sync.RWMutex
	name        string
	parent      ID
	children    []*Process
	status      Status
	context     Context
	ticksPassed uint64
	exitCode    *int64
	data        *ProcessData
	space       *vm.AddressSpace
	createdAt   time.Time
}

// New creates a Ready process with a freshly allocated identifier.
func New(name string, parent ID, space *vm.AddressSpace, data *ProcessData) *Process {
	return NewWithID(ID(pid.Next()), name, parent, space, data)
}

// NewWithID creates a process under a caller-chosen identifier; used for the
// kernel process whose ID is fixed at 1.
func NewWithID(id ID, name string, parent ID, space *vm.AddressSpace, data *ProcessData) *Process {
	return &Process{
		pid:       id,
		name:      name,
		parent:    parent,
		status:    StatusReady,
		data:      data,
		space:     space,
		createdAt: clock.Now(),
	}
}

// Pid returns the process identifier.
func (p *Process) Pid() ID {
	return p.pid
}

// Name returns the process name.
func (p *Process) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Status returns the scheduler-visible state.
func (p *Process) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Parent returns the parent identifier (0 for the kernel process).
func (p *Process) Parent() ID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.parent
}

// ChildIDs lists the identifiers of all children ever forked or spawned.
func (p *Process) ChildIDs() []ID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]ID, 0, len(p.children))
	for _, c := range p.children {
		ids = append(ids, c.pid)
	}
	return ids
}

// AddChild appends a spawned process to the child list.
func (p *Process) AddChild(c *Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children = append(p.children, c)
}

// Ticks returns the preemption count.
func (p *Process) Ticks() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ticksPassed
}

// Tick counts one preemption.
func (p *Process) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticksPassed++
}

// Pause marks the process Ready.
func (p *Process) Pause() {
	p.setStatus(StatusReady)
}

// Resume marks the process Running.
func (p *Process) Resume() {
	p.setStatus(StatusRunning)
}

// Block marks the process Blocked.
func (p *Process) Block() {
	p.setStatus(StatusBlocked)
}

func (p *Process) setStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusDead {
		// Dead is terminal; late transitions are dropped.
		return
	}
	p.status = s
}

// IsReady reports whether the process can be dispatched.
func (p *Process) IsReady() bool {
	return p.Status() == StatusReady
}

// ExitCode returns the exit code once the process has died.
func (p *Process) ExitCode() (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.exitCode == nil {
		return 0, false
	}
	return *p.exitCode, true
}

// Save stores the live register snapshot. The caller decides separately
// whether the process re-enters the ready queue.
func (p *Process) Save(ctx *Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.context = *ctx
}

// Restore copies the saved snapshot into the live context and marks the
// process Running. With real paging this is also where the process's page
// table would be activated.
func (p *Process) Restore(ctx *Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*ctx = p.context
	p.status = StatusRunning
}

// Context returns a copy of the saved snapshot.
func (p *Process) Context() Context {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.context
}

// SetSavedReturn patches the return register of the saved snapshot, used to
// deliver fork results and wake-up values.
func (p *Process) SetSavedReturn(v uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.context.SetReturn(v)
}

// Data returns the process data. Touching it after death is a programming
// error and panics.
func (p *Process) Data() *ProcessData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.data == nil {
		panic("proc: process data empty, the process may be killed")
	}
	return p.data
}

// VM returns the address space. Touching it after death is a programming
// error and panics.
func (p *Process) VM() *vm.AddressSpace {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.space == nil {
		panic("proc: process vm empty, the process may be killed")
	}
	return p.space
}

// Alive reports whether data and vm are still attached.
func (p *Process) Alive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status != StatusDead
}

// AllocInitStack maps the initial stack and returns the stack top.
func (p *Process) AllocInitStack() (uint64, error) {
	return p.VM().InitStack()
}

// Kill records the exit code, flips the process to Dead and releases its
// data and address space together, exactly once.
func (p *Process) Kill(ret int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusDead {
		return
	}
	log.Printf("proc: killing %s%s with exit code %d", p.name, p.pid, ret)
	p.exitCode = &ret
	p.status = StatusDead
	space := p.space
	p.data = nil
	p.space = nil
	if space != nil {
		if err := space.CleanUp(); err != nil {
			log.Printf("proc: failed to clean up %s address space: %v", p.pid, err)
		}
	}
}

// Fork creates the child process under childID: shared page table and heap,
// copied stack in a fresh slot, cloned context with the return registers set
// so the syscall resolves to childID in the parent and 0 in the child. The
// parent must have saved its live context beforehand.
func (p *Process) Fork(childID ID) *Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.space == nil || p.data == nil {
		panic("proc: fork on a dead process")
	}

	stackOffset := uint64(len(p.children))
	childVM := p.space.Fork(stackOffset)

	childCtx := p.context
	rspOffset := p.context.StackPointer - p.space.StackStartAddress()
	childCtx.SetStackPointer(childVM.StackStartAddress() + rspOffset)
	childCtx.SetReturn(0)
	p.context.SetReturn(uint64(childID))

	child := &Process{
		pid:       childID,
		name:      p.name,
		parent:    p.pid,
		status:    StatusReady,
		context:   childCtx,
		data:      p.data.Clone(),
		space:     childVM,
		createdAt: clock.Now(),
	}
	p.children = append(p.children, child)
	return child
}
