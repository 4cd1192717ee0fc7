package manager

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/vos-lab/vos/internal/pid"
	"github.com/vos-lab/vos/runtime/proc"
	"github.com/vos-lab/vos/runtime/vm"
	"github.com/vos-lab/vos/service/loader"
)

// Spawn creates a user process from a parsed image and queues it. On a load
// failure the half-built process is logged and its pid returned without ever
// entering the table, so the pid is dead on arrival.
func (m *Manager) Spawn(img *loader.Image, name string, parent proc.ID, data *proc.ProcessData) proc.ID {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.spawn(img, name, parent, data)
}

func (m *Manager) spawn(img *loader.Image, name string, parent proc.ID, data *proc.ProcessData) proc.ID {
	space := m.newUserSpace()
	if data == nil {
		data = proc.NewProcessData(m.stdin, m.stdout, m.stderr)
	}
	p := proc.New(name, parent, space, data)

	codeBytes, err := space.LoadImage(img)
	if err != nil {
		log.Printf("manager: failed to load image for %s: %v", name, err)
		return p.Pid()
	}
	stackTop, err := p.AllocInitStack()
	if err != nil {
		log.Printf("manager: failed to allocate stack for %s: %v", name, err)
		return p.Pid()
	}
	var ctx proc.Context
	ctx.InitStackFrame(img.Entry, stackTop)
	p.Save(&ctx)
	data.UpdateMemoryUsage(codeBytes, space.StackUsagePages())

	m.enroll(p, parent)
	return p.Pid()
}

// SpawnKernelThread creates a process running kernel code at entry, sharing
// the kernel mappings through a cloned top-level table.
func (m *Manager) SpawnKernelThread(entry uint64, name string, data *proc.ProcessData) (proc.ID, error) {
	m.guard.Lock()
	defer m.guard.Unlock()

	space := m.newUserSpace()
	if data == nil {
		data = proc.NewProcessData(m.stdin, m.stdout, m.stderr)
	}
	p := proc.New(name, proc.KernelID, space, data)
	stackTop, err := p.AllocInitStack()
	if err != nil {
		return 0, fmt.Errorf("spawn kernel thread %s: %w", name, err)
	}
	var ctx proc.Context
	ctx.InitStackFrame(entry, stackTop)
	p.Save(&ctx)
	data.UpdateMemoryUsage(0, space.StackUsagePages())

	m.enroll(p, proc.KernelID)
	return p.Pid(), nil
}

// newUserSpace clones the kernel's top-level table so kernel mappings stay
// visible, then wraps it in a fresh user address space.
func (m *Manager) newUserSpace() *vm.AddressSpace {
	kernel, ok := m.Get(proc.KernelID)
	if !ok {
		panic("manager: kernel process missing from table")
	}
	pt, err := kernel.VM().PageTable().CloneLevel4(m.alloc)
	if err != nil {
		panic(fmt.Sprintf("manager: cannot allocate page table: %v", err))
	}
	return vm.New(pt, m.alloc)
}

func (m *Manager) enroll(p *proc.Process, parent proc.ID) {
	if pp, ok := m.Get(parent); ok && parent != p.Pid() {
		pp.AddChild(p)
	}
	m.addProc(p)
	m.PushReady(p.Pid())
	log.Printf("manager: spawned %s%s (parent %s)", p.Name(), p.Pid(), parent)
}

// SpawnPath resolves a program by path: the root filesystem first, then the
// application registry under the final path element.
func (m *Manager) SpawnPath(ctx context.Context, path string) (proc.ID, error) {
	name := path
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var img *loader.Image
	if m.fs != nil {
		if data, err := m.fs.ReadAll(ctx, path); err == nil {
			parsed, perr := loader.Parse(name, data)
			if perr != nil {
				return 0, perr
			}
			img = parsed
		}
	}
	if img == nil && m.apps != nil {
		found, err := m.apps.Find(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("spawn %s: %w", path, err)
		}
		img = found
	}
	if img == nil {
		return 0, fmt.Errorf("spawn %s: no such program", path)
	}

	m.guard.Lock()
	defer m.guard.Unlock()
	return m.spawn(img, name, m.CurrentPid(), nil), nil
}

// Fork duplicates the running process. The parent's saved context resolves
// to the child pid, the child's to zero; both go Ready and the scheduler
// decides who runs next in ctx.
func (m *Manager) Fork(ctx *proc.Context) proc.ID {
	m.guard.Lock()
	defer m.guard.Unlock()

	parent := m.Current()
	parent.Save(ctx)

	childID := proc.ID(pid.Next())
	child := parent.Fork(childID)
	m.addProc(child)

	// The live context keeps executing the parent until the next dispatch.
	ctx.SetReturn(uint64(childID))
	parent.Pause()
	m.PushReady(parent.Pid())
	m.PushReady(childID)
	m.switchNext(ctx)
	return childID
}

// Exit terminates the running process with ret and dispatches the next one.
func (m *Manager) Exit(ret int64, ctx *proc.Context) {
	m.guard.Lock()
	defer m.guard.Unlock()
	m.kill(m.CurrentPid(), ret)
	m.switchNext(ctx)
}

// Kill terminates an arbitrary process with ret.
func (m *Manager) Kill(target proc.ID, ret int64) {
	m.guard.Lock()
	defer m.guard.Unlock()
	m.kill(target, ret)
}

func (m *Manager) kill(target proc.ID, ret int64) {
	p, ok := m.Get(target)
	if !ok {
		log.Printf("manager: cannot kill %s: no such process", target)
		return
	}
	if p.Status() == proc.StatusDead {
		log.Printf("manager: cannot kill %s: already dead", target)
		return
	}
	p.Kill(ret)

	m.waitMu.Lock()
	waiters := m.waitQueue[target]
	delete(m.waitQueue, target)
	m.waitMu.Unlock()
	for waiter := range waiters {
		m.wakeUp(waiter, &ret)
	}
}

// Block marks a process Blocked so the scheduler skips it until woken.
func (m *Manager) Block(target proc.ID) {
	m.guard.Lock()
	defer m.guard.Unlock()
	if p, ok := m.Get(target); ok {
		p.Block()
	}
}

// WakeUp unblocks a process, optionally patching its saved return register.
// Processes not currently Blocked are left untouched.
func (m *Manager) WakeUp(target proc.ID, ret *int64) {
	m.guard.Lock()
	defer m.guard.Unlock()
	m.wakeUp(target, ret)
}

func (m *Manager) wakeUp(target proc.ID, ret *int64) {
	p, ok := m.Get(target)
	if !ok || p.Status() != proc.StatusBlocked {
		return
	}
	if ret != nil {
		p.SetSavedReturn(uint64(*ret))
	}
	p.Pause()
	m.PushReady(target)
}

// WaitPid blocks the running process until target dies, then delivers the
// exit code through the saved return register. A target already dead (or
// never seen) resolves immediately in ctx.
func (m *Manager) WaitPid(target proc.ID, ctx *proc.Context) {
	m.guard.Lock()
	defer m.guard.Unlock()

	if code, ok := m.exitCode(target); ok {
		ctx.SetReturn(uint64(code))
		return
	}
	cur := m.Current()
	m.waitMu.Lock()
	set, ok := m.waitQueue[target]
	if !ok {
		set = make(map[proc.ID]struct{})
		m.waitQueue[target] = set
	}
	set[cur.Pid()] = struct{}{}
	m.waitMu.Unlock()

	cur.Save(ctx)
	cur.Block()
	m.switchNext(ctx)
}

// StillAlive reports whether a process exists and has not died.
func (m *Manager) StillAlive(target proc.ID) bool {
	p, ok := m.Get(target)
	return ok && p.Alive()
}

// ExitCode returns the exit code of a dead process.
func (m *Manager) ExitCode(target proc.ID) (int64, bool) {
	return m.exitCode(target)
}

func (m *Manager) exitCode(target proc.ID) (int64, bool) {
	p, ok := m.Get(target)
	if !ok {
		// An unknown pid cannot be waited on; report it as exited.
		return -1, true
	}
	return p.ExitCode()
}

// Brk queries or moves the running process's heap end.
func (m *Manager) Brk(target *uint64) *uint64 {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.Current().VM().Brk(target)
}

// Env reads a shell-style variable of the running process.
func (m *Manager) Env(key string) (string, bool) {
	return m.Current().Data().Env(key)
}
