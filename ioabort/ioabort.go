// Package ioabort implements the process-wide IO-shutdown gate (spec.md
// §5, "Cancellation / shutdown"): a single irrevocable abort flag that
// every long-running loop checks at well-defined suspension points,
// rather than cancelling in-flight operations.
package ioabort

import (
	"sync"

	"github.com/signal24/strubs/cmn"
)

var (
	mu       sync.Mutex
	aborted  bool
	reason   string
	waiters  []chan struct{}
)

// Abort flips the gate irrevocably and wakes every waitForAbort waiter.
// Calling it more than once after the first has no further effect.
func Abort(why string) {
	mu.Lock()
	defer mu.Unlock()
	if aborted {
		return
	}
	aborted = true
	reason = why
	for _, w := range waiters {
		close(w)
	}
	waiters = nil
}

// IsAborted reports whether Abort has been called.
func IsAborted() bool {
	mu.Lock()
	defer mu.Unlock()
	return aborted
}

// Reason returns the string passed to Abort, or "" if not aborted.
func Reason() string {
	mu.Lock()
	defer mu.Unlock()
	return reason
}

// ThrowIfAborted is the call-site check every loop head and between-slice-op
// point uses: it returns an IOError{Code: IOABORT} once the gate has
// tripped, nil otherwise.
func ThrowIfAborted() error {
	if IsAborted() {
		return &cmn.IOError{Code: cmn.IOCodeAbort}
	}
	return nil
}

// WaitForAbort blocks until Abort is called, or returns immediately if it
// already has been.
func WaitForAbort() {
	mu.Lock()
	if aborted {
		mu.Unlock()
		return
	}
	ch := make(chan struct{})
	waiters = append(waiters, ch)
	mu.Unlock()
	<-ch
}

// Reset clears the gate; only tests use this (a real process never
// un-aborts).
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	aborted = false
	reason = ""
	waiters = nil
}
