package manager

import (
	"github.com/vos-lab/vos/runtime/proc"
)

// Semaphore syscalls operate on the set shared by the caller's fork peers.
// The set reports outcomes; queue and status changes happen here.

// SemNew creates a semaphore under key with an initial count.
func (m *Manager) SemNew(key uint32, value uint64) bool {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.Current().Data().Semaphores().Insert(key, value)
}

// SemRemove deletes the semaphore under key.
func (m *Manager) SemRemove(key uint32) bool {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.Current().Data().Semaphores().Remove(key)
}

// SemSignal releases one unit. A blocked waiter, if any, takes the unit and
// is woken. ctx resolves to 0 on success, 1 when the key does not exist.
func (m *Manager) SemSignal(key uint32, ctx *proc.Context) {
	m.guard.Lock()
	defer m.guard.Unlock()
	res := m.Current().Data().Semaphores().Signal(key)
	switch res.Outcome {
	case proc.SemNotExist:
		ctx.SetReturn(1)
	case proc.SemWakeUp:
		m.wakeUp(res.Pid, nil)
		ctx.SetReturn(0)
	default:
		ctx.SetReturn(0)
	}
}

// SemWait acquires one unit, blocking the caller when none is available.
// ctx resolves to 0 on success, 1 when the key does not exist.
func (m *Manager) SemWait(key uint32, ctx *proc.Context) {
	m.guard.Lock()
	defer m.guard.Unlock()
	cur := m.Current()
	res := cur.Data().Semaphores().Wait(key, cur.Pid())
	switch res.Outcome {
	case proc.SemNotExist:
		ctx.SetReturn(1)
	case proc.SemBlock:
		ctx.SetReturn(0)
		cur.Save(ctx)
		cur.Block()
		m.switchNext(ctx)
	default:
		ctx.SetReturn(0)
	}
}
