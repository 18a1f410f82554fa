package volume

import (
	"testing"
	"time"
)

func TestNormalPriorityNeverBlocks(t *testing.T) {
	g := NewPriorityGate()
	g.RegisterHandle(PriorityNormal)
	defer g.Release(PriorityNormal)

	done := make(chan struct{})
	go func() {
		g.WaitForAccess(PriorityNormal)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("normal priority should never block on the gate")
	}
}

func TestLowPriorityWaitsForHighToRelease(t *testing.T) {
	g := NewPriorityGate()
	g.RegisterHandle(PriorityNormal)

	done := make(chan struct{})
	go func() {
		g.WaitForAccess(PriorityLow)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("low priority should block while a normal handle is registered")
	case <-time.After(20 * time.Millisecond):
	}

	g.Release(PriorityNormal)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("low priority should unblock once the normal handle releases")
	}
}

func TestLowPriorityNeverBlocksWithNoHighHolders(t *testing.T) {
	g := NewPriorityGate()
	done := make(chan struct{})
	go func() {
		g.WaitForAccess(PriorityLow)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("low priority should not block with zero high-priority holders")
	}
}
