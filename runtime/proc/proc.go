// Package proc defines the process abstraction of the kernel: identifiers,
// scheduler-visible status, saved register contexts, per-process data shared
// across fork, and the process record itself.
package proc

import "fmt"

// ID identifies a process for the lifetime of the kernel. IDs are never
// reused and order by creation time.
type ID uint16

// KernelID is reserved for the kernel/idle process and never allocated.
const KernelID ID = 1

func (id ID) String() string {
	return fmt.Sprintf("#%d", uint16(id))
}

// Status is the scheduler-visible lifecycle state of a process.
type Status uint8

const (
	StatusRunning Status = iota
	StatusReady
	StatusBlocked
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusReady:
		return "Ready"
	case StatusBlocked:
		return "Blocked"
	case StatusDead:
		return "Dead"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}
