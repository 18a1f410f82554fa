// Package verify implements the background corruption scan (spec.md
// §4.7): SliceVerifier re-reads one slice file end to end, and VerifyJob
// drives a resumable, single-flight scan over every object.
package verify

import (
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/slice"
)

// SliceVerifier re-reads every chunk of a slice file and lets Slice.ReadChunk's
// own MD5 check surface corruption; it does nothing with the payload bytes
// beyond that.
type SliceVerifier struct {
	pl *plan.Plan
}

// NewSliceVerifier builds a verifier for slices laid out per pl.
func NewSliceVerifier(pl *plan.Plan) *SliceVerifier {
	return &SliceVerifier{pl: pl}
}

// VerifySlice opens s, reads every chunk set in order, and closes it. The
// first checksum or I/O error encountered is returned; success is nil.
func (v *SliceVerifier) VerifySlice(s *slice.Slice) error {
	if err := s.Open(); err != nil {
		return err
	}
	defer s.Close()

	n := v.pl.ChunkSetCount()
	for i := 0; i < n; i++ {
		if _, err := s.ReadChunk(v.pl.ChunkDataSize(i)); err != nil {
			return err
		}
	}
	return nil
}
