package object

import (
	"sync"

	"github.com/golang/glog"

	"github.com/signal24/strubs/slice"
)

// destroyer tears down every slice of a committed object in parallel,
// logging per-slice failures rather than propagating them (spec.md §4.6
// delete(), §9 "Destroyer logs per-slice delete failures and continues").
type destroyer struct {
	slices []*slice.Slice
}

// destroy marks every slice committed (so Slice.Delete removes the
// committed file rather than a temp file) and deletes them concurrently.
func (d *destroyer) destroy(objectID string) {
	var wg sync.WaitGroup
	for _, s := range d.slices {
		if s == nil {
			continue
		}
		s.MarkAsCommitted()
		wg.Add(1)
		go func(s *slice.Slice) {
			defer wg.Done()
			if err := s.Delete(); err != nil {
				glog.Warningf("destroyer: object %s slice %d: %v", objectID, s.Index(), err)
			}
		}(s)
	}
	wg.Wait()
}
