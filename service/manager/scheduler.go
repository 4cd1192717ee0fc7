package manager

import (
	"log"

	"github.com/vos-lab/vos/runtime/proc"
)

// PageFaultCode mirrors the error code pushed by the MMU on a fault.
type PageFaultCode uint8

const (
	// PageFaultProtection is set when the fault hit a present mapping; such
	// faults are never resolvable by growing the stack.
	PageFaultProtection PageFaultCode = 1 << 0
	// PageFaultWrite is set when the faulting access was a write.
	PageFaultWrite PageFaultCode = 1 << 1
	// PageFaultUser is set when the fault came from user mode.
	PageFaultUser PageFaultCode = 1 << 2
)

// Switch is the timer-tick entry point: it saves the interrupted process,
// re-queues it unless it died or blocked meanwhile, and dispatches the next
// ready process into ctx. Returns the pid now running.
func (m *Manager) Switch(ctx *proc.Context) proc.ID {
	m.guard.Lock()
	defer m.guard.Unlock()
	m.saveCurrent(ctx)
	cur := m.Current()
	if s := cur.Status(); s != proc.StatusDead && s != proc.StatusBlocked {
		cur.Pause()
		cur.Tick()
		// The kernel process is never queued; switchNext falls back to it.
		if cur.Pid() != proc.KernelID {
			m.PushReady(cur.Pid())
		}
	}
	return m.switchNext(ctx)
}

// SaveCurrent stores ctx as the running process's saved context. If the
// caller already marked the process Ready it goes back on the queue.
func (m *Manager) SaveCurrent(ctx *proc.Context) {
	m.guard.Lock()
	defer m.guard.Unlock()
	m.saveCurrent(ctx)
}

// SwitchNext dispatches the next ready process into ctx.
func (m *Manager) SwitchNext(ctx *proc.Context) proc.ID {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.switchNext(ctx)
}

func (m *Manager) saveCurrent(ctx *proc.Context) {
	cur := m.Current()
	cur.Save(ctx)
	if cur.IsReady() && cur.Pid() != proc.KernelID {
		m.PushReady(cur.Pid())
	}
}

// switchNext pops ready candidates until one is dispatchable; pids whose
// process died or blocked while queued are skipped. With the queue drained
// the kernel process takes over, parking once when it already was the
// caller.
func (m *Manager) switchNext(ctx *proc.Context) proc.ID {
	for {
		pid, ok := m.popReady()
		if !ok {
			break
		}
		p, exists := m.Get(pid)
		if !exists || !p.IsReady() {
			continue
		}
		p.Restore(ctx)
		m.setCurrent(pid)
		return pid
	}

	if m.CurrentPid() == proc.KernelID {
		m.idleParks.Add(1)
		if m.idleFunc != nil {
			m.idleFunc()
		}
	}
	kernel, ok := m.Get(proc.KernelID)
	if !ok {
		panic("manager: kernel process missing from table")
	}
	kernel.Restore(ctx)
	m.setCurrent(proc.KernelID)
	return proc.KernelID
}

// HandlePageFault delegates a fault at addr to the running process's address
// space. Protection violations are final; only not-present faults inside the
// stack slot are resolved.
func (m *Manager) HandlePageFault(addr uint64, code PageFaultCode) bool {
	m.guard.Lock()
	defer m.guard.Unlock()
	if code&PageFaultProtection != 0 {
		log.Printf("manager: protection violation at %#x (code %#x)", addr, code)
		return false
	}
	return m.Current().VM().HandlePageFault(addr)
}
