// Package pid issues monotonically increasing process identifiers. It lives
// under `internal` because callers should treat identifiers as opaque values
// and never rely on the allocation order beyond monotonicity.
package pid

import "sync/atomic"

// Identifiers start at 2; 1 is reserved for the kernel process and is never
// handed out. Identifiers are not reused for the lifetime of the kernel.
var next atomic.Uint32

func init() {
	next.Store(2)
}

// NextFunc returns the next identifier. It is a variable so tests can stub it.
var NextFunc = func() uint16 { return uint16(next.Add(1) - 1) }

// Next returns a fresh, never before issued process identifier.
func Next() uint16 { return NextFunc() }
