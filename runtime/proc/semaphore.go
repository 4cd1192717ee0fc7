package proc

import (
	"fmt"
	"sync"
)

// SemOutcome classifies the result of a semaphore operation. The set itself
// never touches the scheduler: Block and WakeUp are instructions to the
// caller, which owns the ready/wait queues.
type SemOutcome uint8

const (
	SemOK SemOutcome = iota
	SemNotExist
	SemBlock
	SemWakeUp
)

// SemResult couples an outcome with the affected process, if any.
type SemResult struct {
	Outcome SemOutcome
	Pid     ID
}

// Semaphore is a counting semaphore with a FIFO queue of blocked waiters.
// Invariant: count > 0 implies the queue is empty.
type Semaphore struct {
	count     uint64
	waitQueue []ID
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(value uint64) *Semaphore {
	return &Semaphore{count: value}
}

// Wait acquires one unit. With no units available the caller is queued and
// told to block.
func (s *Semaphore) Wait(pid ID) SemResult {
	if s.count == 0 {
		s.waitQueue = append(s.waitQueue, pid)
		return SemResult{Outcome: SemBlock, Pid: pid}
	}
	s.count--
	return SemResult{Outcome: SemOK}
}

// Signal releases one unit. A queued waiter takes the unit directly (the
// count is not incremented) and must be woken by the caller.
func (s *Semaphore) Signal() SemResult {
	if len(s.waitQueue) > 0 {
		pid := s.waitQueue[0]
		s.waitQueue = s.waitQueue[1:]
		return SemResult{Outcome: SemWakeUp, Pid: pid}
	}
	s.count++
	return SemResult{Outcome: SemOK}
}

// Count returns the available units.
func (s *Semaphore) Count() uint64 {
	return s.count
}

// Waiters returns the number of queued processes.
func (s *Semaphore) Waiters() int {
	return len(s.waitQueue)
}

func (s *Semaphore) String() string {
	return fmt.Sprintf("Semaphore(%d) %v", s.count, s.waitQueue)
}

// SemaphoreSet maps user-chosen keys to semaphores. It is shared between
// fork peers through ProcessData.
type SemaphoreSet struct {
	mu   sync.Mutex
	sems map[uint32]*Semaphore
}

// NewSemaphoreSet creates an empty set.
func NewSemaphoreSet() *SemaphoreSet {
	return &SemaphoreSet{sems: make(map[uint32]*Semaphore)}
}

// Insert creates a semaphore under key; false if the key already exists.
func (s *SemaphoreSet) Insert(key uint32, value uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sems[key]; ok {
		return false
	}
	s.sems[key] = NewSemaphore(value)
	return true
}

// Remove deletes the semaphore under key; false if absent.
func (s *SemaphoreSet) Remove(key uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sems[key]; !ok {
		return false
	}
	delete(s.sems, key)
	return true
}

// Wait performs Semaphore.Wait on the keyed semaphore.
func (s *SemaphoreSet) Wait(key uint32, pid ID) SemResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[key]
	if !ok {
		return SemResult{Outcome: SemNotExist}
	}
	return sem.Wait(pid)
}

// Signal performs Semaphore.Signal on the keyed semaphore.
func (s *SemaphoreSet) Signal(key uint32) SemResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[key]
	if !ok {
		return SemResult{Outcome: SemNotExist}
	}
	return sem.Signal()
}
