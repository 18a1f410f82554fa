package volume

import (
	"sync"

	"go.uber.org/atomic"
)

// Priority is a FileObject's I/O priority class (spec.md §5).
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
)

// PriorityGate implements the per-volume "low waits for high" gate: normal
// access is never blocked; low-priority access (the background verifier)
// waits while any normal-priority handle is registered, so VerifyJob can't
// starve foreground reads.
type PriorityGate struct {
	highCount atomic.Int64

	mu      sync.Mutex
	waiters []chan struct{}
}

// NewPriorityGate constructs an open gate (no high-priority holders yet).
func NewPriorityGate() *PriorityGate {
	return &PriorityGate{}
}

// WaitForAccess blocks (if priority is PriorityLow and highCount > 0) until
// the gate opens. It returns immediately for PriorityNormal.
func (g *PriorityGate) WaitForAccess(priority Priority) {
	if priority == PriorityNormal {
		return
	}
	for {
		if g.highCount.Load() == 0 {
			return
		}
		ch := g.addWaiter()
		<-ch
	}
}

func (g *PriorityGate) addWaiter() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.highCount.Load() == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	return ch
}

// RegisterHandle marks one more holder of the given priority as active.
// Callers must call Release exactly once per RegisterHandle call.
func (g *PriorityGate) RegisterHandle(priority Priority) {
	if priority == PriorityNormal {
		g.highCount.Inc()
	}
}

// Release un-registers a previously-registered handle, draining any
// low-priority waiters once the high count returns to zero.
func (g *PriorityGate) Release(priority Priority) {
	if priority != PriorityNormal {
		return
	}
	if g.highCount.Dec() > 0 {
		return
	}
	g.drainWaiters()
}

func (g *PriorityGate) drainWaiters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ch := range g.waiters {
		close(ch)
	}
	g.waiters = nil
}
