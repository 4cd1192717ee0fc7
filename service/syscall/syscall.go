// Package syscall defines the numbered kernel entry points and decodes their
// raw arguments. The dispatcher is the only caller of the process manager on
// behalf of user code.
package syscall

import "fmt"

// Op numbers the system calls. The numbering follows the common x86-64
// convention where one exists; kernel-private calls live above 0xfff0.
type Op uint16

const (
	OpRead    Op = 0
	OpWrite   Op = 1
	OpOpen    Op = 2
	OpClose   Op = 3
	OpBrk     Op = 12
	OpGetPid  Op = 39
	OpFork    Op = 58
	OpSpawn   Op = 59
	OpExit    Op = 60
	OpWaitPid Op = 61
	OpKill    Op = 62
	OpSem     Op = 66

	OpListApp    Op = 0xfff9
	OpStat       Op = 0xfffa
	OpListDir    Op = 0xfffb
	OpAllocate   Op = 0xfffd
	OpDeallocate Op = 0xfffe
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpOpen:
		return "open"
	case OpClose:
		return "close"
	case OpBrk:
		return "brk"
	case OpGetPid:
		return "get_pid"
	case OpFork:
		return "fork"
	case OpSpawn:
		return "spawn"
	case OpExit:
		return "exit"
	case OpWaitPid:
		return "wait_pid"
	case OpKill:
		return "kill"
	case OpSem:
		return "sem"
	case OpListApp:
		return "list_app"
	case OpStat:
		return "stat"
	case OpListDir:
		return "list_dir"
	case OpAllocate:
		return "allocate"
	case OpDeallocate:
		return "deallocate"
	}
	return fmt.Sprintf("unknown(%d)", uint16(o))
}

// Semaphore sub-operations, carried in the first argument of OpSem.
const (
	SemNew uint64 = iota
	SemRemove
	SemSignal
	SemWait
)

// Args is a decoded syscall request. Arg0..Arg2 mirror the raw argument
// registers; Path and Buffer carry the translated user-space pointers.
type Args struct {
	Op   Op
	Arg0 uint64
	Arg1 uint64
	Arg2 uint64

	Path   string
	Buffer []byte
}
