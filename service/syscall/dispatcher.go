package syscall

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vos-lab/vos/runtime/proc"
	"github.com/vos-lab/vos/service/manager"
	"github.com/vos-lab/vos/tracing"
)

// errorReturn is the register value delivered for failed calls that report
// through the return register rather than an errno channel.
const errorReturn = ^uint64(0)

var (
	// ErrUnknownOp is returned for syscall numbers outside the table.
	ErrUnknownOp = errors.New("syscall: unknown operation")
	// ErrNoUserHeap is returned for the frame-level allocate/deallocate
	// calls, which require a user-space heap service this kernel does not
	// provide.
	ErrNoUserHeap = errors.New("syscall: no user heap service")
)

// Dispatcher routes decoded syscalls to the process manager.
type Dispatcher struct {
	mgr *manager.Manager
}

// NewDispatcher creates a dispatcher over the given manager.
func NewDispatcher(mgr *manager.Manager) *Dispatcher {
	return &Dispatcher{mgr: mgr}
}

// Dispatch executes one syscall. regs is the live register context of the
// calling process; calls that reschedule leave regs holding the context of
// whichever process was dispatched. The returned value is what the caller's
// return register resolves to.
func (d *Dispatcher) Dispatch(ctx context.Context, args *Args, regs *proc.Context) (ret uint64, err error) {
	ctx, span := tracing.StartSpan(ctx, "syscall."+args.Op.String())
	span.WithAttributes(map[string]string{"pid": d.mgr.CurrentPid().String()})
	defer func() { tracing.EndSpan(span, err) }()

	switch args.Op {
	case OpRead:
		n, e := d.mgr.Read(uint8(args.Arg0), args.Buffer)
		if e != nil {
			return errorReturn, e
		}
		ret = uint64(n)

	case OpWrite:
		n, e := d.mgr.Write(uint8(args.Arg0), args.Buffer)
		if e != nil {
			return errorReturn, e
		}
		ret = uint64(n)

	case OpOpen:
		fd, e := d.mgr.OpenFile(ctx, args.Path)
		if e != nil {
			return errorReturn, e
		}
		ret = uint64(fd)

	case OpClose:
		if !d.mgr.CloseFile(uint8(args.Arg0)) {
			ret = 1
		}

	case OpBrk:
		var target *uint64
		if args.Arg0 != 0 {
			v := args.Arg0
			target = &v
		}
		res := d.mgr.Brk(target)
		if res == nil {
			return errorReturn, fmt.Errorf("brk: rejected target %#x", args.Arg0)
		}
		ret = *res

	case OpGetPid:
		ret = uint64(d.mgr.CurrentPid())

	case OpFork:
		d.mgr.Fork(regs)
		ret = regs.ReturnValue

	case OpSpawn:
		child, e := d.mgr.SpawnPath(ctx, args.Path)
		if e != nil {
			return 0, e
		}
		ret = uint64(child)

	case OpExit:
		d.mgr.Exit(int64(args.Arg0), regs)
		ret = regs.ReturnValue

	case OpWaitPid:
		d.mgr.WaitPid(proc.ID(args.Arg0), regs)
		ret = regs.ReturnValue

	case OpKill:
		d.mgr.Kill(proc.ID(args.Arg0), int64(args.Arg1))

	case OpSem:
		ret, err = d.sem(args, regs)

	case OpStat:
		if _, e := d.mgr.Write(1, []byte(d.mgr.ProcessList())); e != nil {
			return errorReturn, e
		}

	case OpListApp:
		names := d.mgr.Apps()
		if _, e := d.mgr.Write(1, []byte(strings.Join(names, "\n")+"\n")); e != nil {
			return errorReturn, e
		}
		ret = uint64(len(names))

	case OpListDir:
		entries, e := d.mgr.ListDir(ctx, args.Path)
		if e != nil {
			return errorReturn, e
		}
		if _, e := d.mgr.Write(1, []byte(strings.Join(entries, "\n")+"\n")); e != nil {
			return errorReturn, e
		}
		ret = uint64(len(entries))

	case OpAllocate, OpDeallocate:
		return errorReturn, ErrNoUserHeap

	default:
		return errorReturn, fmt.Errorf("%w: %s", ErrUnknownOp, args.Op)
	}
	return ret, nil
}

func (d *Dispatcher) sem(args *Args, regs *proc.Context) (uint64, error) {
	key := uint32(args.Arg1)
	switch args.Arg0 {
	case SemNew:
		if !d.mgr.SemNew(key, args.Arg2) {
			return 1, nil
		}
		return 0, nil
	case SemRemove:
		if !d.mgr.SemRemove(key) {
			return 1, nil
		}
		return 0, nil
	case SemSignal:
		d.mgr.SemSignal(key, regs)
		return regs.ReturnValue, nil
	case SemWait:
		d.mgr.SemWait(key, regs)
		return regs.ReturnValue, nil
	}
	return errorReturn, fmt.Errorf("sem: unknown sub-operation %d", args.Arg0)
}
