package ioabort

import (
	"testing"
	"time"

	"github.com/signal24/strubs/cmn"
)

func TestThrowIfAbortedBeforeAndAfterAbort(t *testing.T) {
	Reset()
	defer Reset()

	if err := ThrowIfAborted(); err != nil {
		t.Fatalf("unexpected abort before Abort() called: %v", err)
	}

	Abort("test shutdown")

	err := ThrowIfAborted()
	if err == nil {
		t.Fatal("want IOError after Abort()")
	}
	ioErr, ok := err.(*cmn.IOError)
	if !ok || ioErr.Code != cmn.IOCodeAbort {
		t.Fatalf("want IOCodeAbort, got %v", err)
	}
	if !IsAborted() {
		t.Fatal("IsAborted should report true")
	}
	if Reason() != "test shutdown" {
		t.Fatalf("want reason %q, got %q", "test shutdown", Reason())
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	Reset()
	defer Reset()

	Abort("first")
	Abort("second")
	if Reason() != "first" {
		t.Fatalf("second Abort() call should not change the reason, got %q", Reason())
	}
}

func TestWaitForAbortWakesWaiters(t *testing.T) {
	Reset()
	defer Reset()

	done := make(chan struct{})
	go func() {
		WaitForAbort()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitForAbort returned before Abort() was called")
	case <-time.After(20 * time.Millisecond):
	}

	Abort("shutdown")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForAbort did not wake up after Abort()")
	}
}
