//go:build debug

// Package check holds invariant assertions. They panic in debug builds
// (go build -tags debug) and compile to nothing otherwise.
package check

import "fmt"

// Enabled reports whether assertions are compiled in.
const Enabled = true

// Assert panics with msg when cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("invariant violated: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}

// Transition panics when the lifecycle does not allow moving from to to.
func Transition[S Lifecycle[S]](from, to S) {
	if !from.CanTransition(to) {
		panic(fmt.Sprintf("invariant violated: illegal transition %s -> %s", from, to))
	}
}
