package syscall_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vos-lab/vos/runtime/proc"
	"github.com/vos-lab/vos/runtime/vm"
	"github.com/vos-lab/vos/service/loader"
	"github.com/vos-lab/vos/service/manager"
	"github.com/vos-lab/vos/service/memory"
	"github.com/vos-lab/vos/service/syscall"
)

func newDispatcher(t *testing.T, stdout io.Writer) (*syscall.Dispatcher, *manager.Manager) {
	t.Helper()
	alloc := memory.NewAllocator(256)
	pt, err := memory.NewPageTable(alloc)
	assert.NoError(t, err)
	space, err := vm.NewKernel(pt, alloc, nil)
	assert.NoError(t, err)
	if stdout == nil {
		stdout = io.Discard
	}
	data := proc.NewProcessData(strings.NewReader("console input"), stdout, io.Discard)
	kernel := proc.NewWithID(proc.KernelID, "kernel", 0, space, data)
	kernel.Resume()
	mgr := manager.New(kernel, alloc, manager.WithConsole(strings.NewReader(""), stdout, io.Discard))
	return syscall.NewDispatcher(mgr), mgr
}

func runUser(t *testing.T, mgr *manager.Manager, regs *proc.Context) proc.ID {
	t.Helper()
	img := &loader.Image{
		Name:     "app",
		Entry:    0x401000,
		Segments: []loader.Segment{{Addr: 0x401000, Size: 0x1000}},
	}
	pid := mgr.Spawn(img, "app", proc.KernelID, nil)
	assert.Equal(t, pid, mgr.Switch(regs))
	return pid
}

func TestDispatchGetPid(t *testing.T) {
	d, mgr := newDispatcher(t, nil)
	var regs proc.Context
	pid := runUser(t, mgr, &regs)

	ret, err := d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpGetPid}, &regs)
	assert.NoError(t, err)
	assert.EqualValues(t, pid, ret)
}

func TestDispatchReadWrite(t *testing.T) {
	var out bytes.Buffer
	d, _ := newDispatcher(t, &out)
	var regs proc.Context

	ret, err := d.Dispatch(context.Background(), &syscall.Args{
		Op: syscall.OpWrite, Arg0: 1, Buffer: []byte("hello"),
	}, &regs)
	assert.NoError(t, err)
	assert.EqualValues(t, 5, ret)
	assert.Equal(t, "hello", out.String())

	buf := make([]byte, 7)
	ret, err = d.Dispatch(context.Background(), &syscall.Args{
		Op: syscall.OpRead, Arg0: 0, Buffer: buf,
	}, &regs)
	assert.NoError(t, err)
	assert.EqualValues(t, 7, ret)
	assert.Equal(t, "console", string(buf))

	_, err = d.Dispatch(context.Background(), &syscall.Args{
		Op: syscall.OpWrite, Arg0: 9, Buffer: []byte("x"),
	}, &regs)
	assert.ErrorIs(t, err, proc.ErrBadDescriptor)
}

func TestDispatchForkReturnValues(t *testing.T) {
	d, mgr := newDispatcher(t, nil)
	var regs proc.Context
	parent := runUser(t, mgr, &regs)

	ret, err := d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpFork}, &regs)
	assert.NoError(t, err)
	assert.NotZero(t, ret)
	assert.Equal(t, parent, mgr.CurrentPid())

	// The child's turn resolves the same call to zero.
	child := mgr.Switch(&regs)
	assert.EqualValues(t, ret, child)
	assert.EqualValues(t, 0, regs.ReturnValue)
}

func TestDispatchBrk(t *testing.T) {
	d, mgr := newDispatcher(t, nil)
	var regs proc.Context
	runUser(t, mgr, &regs)

	ret, err := d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpBrk}, &regs)
	assert.NoError(t, err)
	assert.EqualValues(t, vm.HeapStart, ret)

	target := vm.HeapStart + memory.PageSize
	ret, err = d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpBrk, Arg0: target}, &regs)
	assert.NoError(t, err)
	assert.EqualValues(t, target, ret)

	_, err = d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpBrk, Arg0: 0x1000}, &regs)
	assert.Error(t, err)
}

func TestDispatchSemLifecycle(t *testing.T) {
	d, mgr := newDispatcher(t, nil)
	var regs proc.Context
	parent := runUser(t, mgr, &regs)

	_, err := d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpFork}, &regs)
	assert.NoError(t, err)

	ret, err := d.Dispatch(context.Background(), &syscall.Args{
		Op: syscall.OpSem, Arg0: syscall.SemNew, Arg1: 1, Arg2: 0,
	}, &regs)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, ret)

	// Wait on the empty semaphore blocks the parent and schedules the child.
	_, err = d.Dispatch(context.Background(), &syscall.Args{
		Op: syscall.OpSem, Arg0: syscall.SemWait, Arg1: 1,
	}, &regs)
	assert.NoError(t, err)
	assert.NotEqual(t, parent, mgr.CurrentPid())

	// Signal from the child hands the unit back and wakes the parent.
	ret, err = d.Dispatch(context.Background(), &syscall.Args{
		Op: syscall.OpSem, Arg0: syscall.SemSignal, Arg1: 1,
	}, &regs)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, ret)
	pp, _ := mgr.Get(parent)
	assert.Equal(t, proc.StatusReady, pp.Status())

	ret, err = d.Dispatch(context.Background(), &syscall.Args{
		Op: syscall.OpSem, Arg0: syscall.SemRemove, Arg1: 1,
	}, &regs)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, ret)
}

func TestDispatchExitAndWaitPid(t *testing.T) {
	d, mgr := newDispatcher(t, nil)
	var regs proc.Context
	parent := runUser(t, mgr, &regs)

	ret, err := d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpFork}, &regs)
	assert.NoError(t, err)
	child := proc.ID(ret)

	_, err = d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpWaitPid, Arg0: uint64(child)}, &regs)
	assert.NoError(t, err)
	assert.Equal(t, child, mgr.CurrentPid())

	ret, err = d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpExit, Arg0: 3}, &regs)
	assert.NoError(t, err)
	assert.Equal(t, parent, mgr.CurrentPid())
	assert.EqualValues(t, 3, ret)
}

func TestDispatchStatWritesListing(t *testing.T) {
	var out bytes.Buffer
	d, _ := newDispatcher(t, &out)
	var regs proc.Context

	_, err := d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpStat}, &regs)
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "kernel")
	assert.Contains(t, out.String(), "Queue")
}

func TestDispatchUnsupported(t *testing.T) {
	d, _ := newDispatcher(t, nil)
	var regs proc.Context

	_, err := d.Dispatch(context.Background(), &syscall.Args{Op: syscall.OpAllocate}, &regs)
	assert.ErrorIs(t, err, syscall.ErrNoUserHeap)

	_, err = d.Dispatch(context.Background(), &syscall.Args{Op: syscall.Op(12345)}, &regs)
	assert.ErrorIs(t, err, syscall.ErrUnknownOp)
}
