package proc

import "fmt"

// Context is the saved register snapshot of a process. It is valid only while
// the process is not running; the interrupt return path restores it into the
// live register file.
type Context struct {
	InstructionPointer uint64
	StackPointer       uint64
	// ReturnValue mirrors the register the syscall ABI uses for results.
	ReturnValue uint64
	Flags       uint64
}

// defaultFlags approximates a sane user flags word (interrupts enabled).
const defaultFlags uint64 = 0x202

// InitStackFrame points the context at a program entry with a fresh stack.
func (c *Context) InitStackFrame(entry, stackTop uint64) {
	c.InstructionPointer = entry
	c.StackPointer = stackTop
	c.Flags = defaultFlags
}

// SetReturn stores a syscall/fork result into the return register.
func (c *Context) SetReturn(v uint64) {
	c.ReturnValue = v
}

// SetStackPointer rebases the stack pointer (used by fork).
func (c *Context) SetStackPointer(sp uint64) {
	c.StackPointer = sp
}

func (c Context) String() string {
	return fmt.Sprintf("Context{ip=%#x sp=%#x ret=%#x}", c.InstructionPointer, c.StackPointer, c.ReturnValue)
}
