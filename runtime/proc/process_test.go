package proc

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vos-lab/vos/runtime/vm"
	"github.com/vos-lab/vos/service/memory"
)

func newTestProcess(t *testing.T, frames int) (*Process, *memory.Allocator) {
	t.Helper()
	alloc := memory.NewAllocator(frames)
	pt, err := memory.NewPageTable(alloc)
	assert.NoError(t, err)
	space := vm.New(pt, alloc)
	data := NewProcessData(strings.NewReader(""), io.Discard, io.Discard)
	return New("init", KernelID, space, data), alloc
}

func TestStatusTransitions(t *testing.T) {
	p, _ := newTestProcess(t, 16)
	assert.Equal(t, StatusReady, p.Status())
	p.Resume()
	assert.Equal(t, StatusRunning, p.Status())
	p.Block()
	assert.Equal(t, StatusBlocked, p.Status())
	p.Pause()
	assert.True(t, p.IsReady())
}

func TestDeadIsTerminal(t *testing.T) {
	p, _ := newTestProcess(t, 16)
	p.Kill(0)
	assert.Equal(t, StatusDead, p.Status())
	assert.False(t, p.Alive())

	// Late transitions from other kernel paths are dropped silently.
	p.Resume()
	assert.Equal(t, StatusDead, p.Status())
	p.Pause()
	assert.Equal(t, StatusDead, p.Status())
}

func TestKillReleasesResourcesOnce(t *testing.T) {
	p, alloc := newTestProcess(t, 16)
	_, err := p.AllocInitStack()
	assert.NoError(t, err)

	p.Kill(42)
	code, ok := p.ExitCode()
	assert.True(t, ok)
	assert.EqualValues(t, 42, code)
	// Stack page and table root are back in the pool.
	assert.Equal(t, 16, alloc.FreeCount())

	assert.Panics(t, func() { p.Data() })
	assert.Panics(t, func() { p.VM() })

	// A second kill is a no-op and must not double free.
	p.Kill(7)
	code, _ = p.ExitCode()
	assert.EqualValues(t, 42, code)
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	p, _ := newTestProcess(t, 16)

	var live Context
	live.InitStackFrame(0x401000, vm.StackInitTop)
	p.Save(&live)

	var next Context
	p.Restore(&next)
	assert.Equal(t, live, next)
	assert.Equal(t, StatusRunning, p.Status())
}

func TestForkReturnValuesAndStackPointer(t *testing.T) {
	p, _ := newTestProcess(t, 64)
	top, err := p.AllocInitStack()
	assert.NoError(t, err)

	var live Context
	live.InitStackFrame(0x401000, top)
	live.StackPointer = top - 128
	p.Save(&live)

	child := p.Fork(ID(9))
	assert.Equal(t, ID(9), child.Pid())
	assert.Equal(t, p.Pid(), child.Parent())
	assert.Equal(t, StatusReady, child.Status())
	assert.Equal(t, []ID{ID(9)}, p.ChildIDs())

	// The syscall resolves to the child pid in the parent and 0 in the child.
	assert.EqualValues(t, 9, p.Context().ReturnValue)
	assert.EqualValues(t, 0, child.Context().ReturnValue)

	// The child resumes at the same offset within its own stack slot.
	parentOffset := p.Context().StackPointer - p.VM().StackStartAddress()
	childOffset := child.Context().StackPointer - child.VM().StackStartAddress()
	assert.Equal(t, parentOffset, childOffset)
	assert.Equal(t, p.Context().InstructionPointer, child.Context().InstructionPointer)

	// Fork peers share environment and semaphores through process data.
	p.Data().SetEnv("HOME", "/root")
	home, ok := child.Data().Env("HOME")
	assert.True(t, ok)
	assert.Equal(t, "/root", home)
}

func TestForkOnDeadProcessPanics(t *testing.T) {
	p, _ := newTestProcess(t, 16)
	p.Kill(0)
	assert.Panics(t, func() { p.Fork(ID(2)) })
}
