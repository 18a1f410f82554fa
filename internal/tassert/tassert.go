// Package tassert provides the hand-rolled test assertions used across
// this module's package tests in place of a third-party assertion library.
package tassert

import (
	"runtime/debug"
	"testing"
)

// Fatal stops the test immediately if err is non-nil.
func Fatal(tb testing.TB, err error) {
	if err == nil {
		return
	}
	debug.PrintStack()
	tb.Fatal(err.Error())
}

// Errorf marks the test failed (but lets it continue) if cond is false.
func Errorf(tb testing.TB, cond bool, msg string, args ...any) {
	if !cond {
		debug.PrintStack()
		tb.Errorf(msg, args...)
	}
}

// Fatalf stops the test immediately if cond is false.
func Fatalf(tb testing.TB, cond bool, msg string, args ...any) {
	if !cond {
		debug.PrintStack()
		tb.Fatalf(msg, args...)
	}
}
