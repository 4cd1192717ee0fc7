// Package vos is a teaching operating-system kernel core: a preemptive FIFO
// scheduler over a process table, refcounted per-process address spaces with
// on-demand stack growth and a brk heap, hybrid fork, counting semaphores and
// a numbered syscall surface. Physical memory is simulated with byte-slice
// frames so every path, from page mapping to fork's stack copy, runs as
// ordinary Go.
package vos
