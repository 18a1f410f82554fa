package reader

import (
	"sync"
	"time"
)

// Settler tracks in-flight ReadChunk calls so Close can wait for them
// before tearing down slice handles, without blocking the caller of
// Close itself (spec.md §4.4 Close, REDESIGN FLAGS: replace the fixed
// ~1s placeholder with a real "wait for outstanding reads to settle"
// signal, bounded by the same ceiling as a safety net).
type Settler struct {
	wg sync.WaitGroup
}

// Begin marks the start of one in-flight ReadChunk.
func (s *Settler) Begin() { s.wg.Add(1) }

// End marks the completion of one in-flight ReadChunk.
func (s *Settler) End() { s.wg.Done() }

// WaitSettled blocks until every in-flight read has called End, or until
// ceiling elapses, whichever comes first.
func (s *Settler) WaitSettled(ceiling time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ceiling):
	}
}
