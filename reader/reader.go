// Package reader implements the STRUBS read pipeline (spec.md §4.4):
// serve a byte range directly from data slices, or, when any data slice is
// unavailable, reconstruct the missing chunks from parity via the rs
// package.
package reader

import (
	"sort"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/ioabort"
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/rs"
	"github.com/signal24/strubs/slice"
)

// Reader serves one FileObject's read range. One Reader is built per open
// read handle; SetReadRange may be called more than once over its life.
type Reader struct {
	pl     *plan.Plan
	slices []*slice.Slice // len D+P, index [0,D) data, [D,D+P) parity
	codec  *rs.Codec

	data   int
	parity int

	active          []int // ascending; data-only unless reconstructing
	missingData     []int // data indices this reader must reconstruct
	mustReconstruct bool

	curSetIndex    int
	curChunkSize   int64
	currentSlice   int // direct-mode round-robin cursor into active (== [0,D))

	start, end     int64
	hasReadSegment bool

	settler Settler
}

// New prepares a Reader: decides which slices are active/missing per
// spec.md §4.4 Preparation, and opens every active slice.
// unavailable carries the union of unavailableSlices and damagedSlices the
// caller (FileObject) already knows about; readable reports a slice
// index's volume readability.
func New(pl *plan.Plan, slices []*slice.Slice, unavailable map[int]bool, readable func(i int) bool) (*Reader, error) {
	total := pl.DataSliceCount + pl.ParitySliceCount
	if len(slices) != total {
		return nil, &cmn.ReaderError{Kind: cmn.ReaderInsufficientSlices, Want: pl.DataSliceCount, Have: 0}
	}
	codec, err := rs.New(pl.DataSliceCount, pl.ParitySliceCount)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		pl:     pl,
		slices: slices,
		codec:  codec,
		data:   pl.DataSliceCount,
		parity: pl.ParitySliceCount,
	}

	var active []int
	for i := 0; i < r.data; i++ {
		if !unavailable[i] && readable(i) {
			active = append(active, i)
		} else {
			r.missingData = append(r.missingData, i)
			r.mustReconstruct = true
		}
	}
	if r.mustReconstruct {
		need := r.data - len(active)
		for j := r.data; j < total && need > 0; j++ {
			if !unavailable[j] && readable(j) {
				active = append(active, j)
				need--
			}
		}
		if need > 0 {
			return nil, &cmn.ReaderError{Kind: cmn.ReaderInsufficientSlices, Want: r.data, Have: len(active)}
		}
	}
	sort.Ints(active)
	r.active = active

	for _, i := range r.active {
		if err := r.slices[i].Open(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetReadRange configures the reader to serve bytes [start, end) of the
// object's plaintext stream; ReadChunk calls follow.
func (r *Reader) SetReadRange(start, end int64) error {
	if start < 0 || end < start || end > r.pl.FileSize {
		return &cmn.ReaderError{Kind: cmn.ReaderMisalignedRange}
	}
	r.start, r.end = start, end
	r.hasReadSegment = false

	setIdx, regionLeft := r.regionForGlobalOffset(start)
	r.curSetIndex = setIdx
	r.curChunkSize = r.pl.ChunkDataSize(setIdx)

	if !r.mustReconstruct {
		within := start - regionLeft*int64(r.data)
		r.currentSlice = int(within / r.curChunkSize)
	}
	return nil
}

// regionForGlobalOffset maps a global object byte offset to its chunk-set
// index and that chunk-set's regionLeft (the per-data-slice offset at the
// region's start).
func (r *Reader) regionForGlobalOffset(g int64) (int, int64) {
	startSpan := r.pl.StartChunkDataSize * int64(r.data)
	if g < startSpan {
		return 0, 0
	}
	standardSetSpan := r.pl.StandardChunkDataSize * int64(r.data)
	rel := g - startSpan
	if standardSetSpan > 0 && rel < int64(r.pl.StandardChunkCountPerSlice)*standardSetSpan {
		n := rel / standardSetSpan
		return 1 + int(n), r.pl.StartChunkDataSize + n*r.pl.StandardChunkDataSize
	}
	endLeft := r.pl.StartChunkDataSize + int64(r.pl.StandardChunkCountPerSlice)*r.pl.StandardChunkDataSize
	return 1 + r.pl.StandardChunkCountPerSlice, endLeft
}

// ReadChunk returns the next segment of the configured range, or (nil, nil)
// once the range is exhausted.
func (r *Reader) ReadChunk() ([]byte, error) {
	if r.hasReadSegment {
		return nil, nil
	}
	if err := ioabort.ThrowIfAborted(); err != nil {
		return nil, &cmn.ReaderError{Kind: cmn.ReaderSliceReadFailed, Cause: err}
	}

	r.settler.Begin()
	defer r.settler.End()

	if r.mustReconstruct {
		return r.readReconstructedSet()
	}
	return r.readDirectChunk()
}

func (r *Reader) readDirectChunk() ([]byte, error) {
	idx := r.active[r.currentSlice]
	regionLeft := r.curSetRegionLeft()
	sliceGlobalStart := regionLeft*int64(r.data) + int64(r.currentSlice)*r.curChunkSize

	if sliceGlobalStart >= r.end {
		r.hasReadSegment = true
		return nil, nil
	}

	if err := r.slices[idx].SeekToChunkIndex(r.curSetIndex); err != nil {
		return nil, err
	}
	payload, err := r.slices[idx].ReadChunk(r.curChunkSize)
	if err != nil {
		return nil, &cmn.ReaderError{Kind: cmn.ReaderSliceReadFailed, Cause: err}
	}

	payload = r.trim(payload, sliceGlobalStart)

	r.currentSlice++
	if r.currentSlice == r.data {
		r.currentSlice = 0
		r.curSetIndex++
		r.curChunkSize = r.pl.ChunkDataSize(r.curSetIndex)
	}
	if sliceGlobalStart+int64(len(payload)) >= r.end {
		r.hasReadSegment = true
	}
	return payload, nil
}

func (r *Reader) readReconstructedSet() ([]byte, error) {
	regionLeft := r.curSetRegionLeft()
	setGlobalStart := regionLeft * int64(r.data)
	if setGlobalStart >= r.end {
		r.hasReadSegment = true
		return nil, nil
	}

	total := r.data + r.parity
	shards := make([][]byte, total)

	var g errgroup.Group
	for _, i := range r.active {
		i := i
		g.Go(func() error {
			if err := r.slices[i].SeekToChunkIndex(r.curSetIndex); err != nil {
				return err
			}
			payload, err := r.slices[i].ReadChunk(r.curChunkSize)
			if err != nil {
				return &cmn.ReaderError{Kind: cmn.ReaderSliceReadFailed, Cause: err}
			}
			shards[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, i := range r.missingData {
		shards[i] = make([]byte, r.curChunkSize)
	}

	bm := rs.NewBitmap(total, r.active)
	if err := r.codec.Reconstruct(shards, bm); err != nil {
		return nil, err
	}

	setSpan := int64(r.data) * r.curChunkSize
	full := make([]byte, 0, setSpan)
	for i := 0; i < r.data; i++ {
		full = append(full, shards[i]...)
	}
	full = r.trim(full, setGlobalStart)

	r.curSetIndex++
	if setGlobalStart+setSpan >= r.end {
		r.hasReadSegment = true
	}
	r.curChunkSize = r.pl.ChunkDataSize(r.curSetIndex)
	return full, nil
}

// trim cuts leading bytes before r.start (on the first chunk) and trailing
// bytes past r.end (on the last chunk), per spec.md §4.4 Trimming.
func (r *Reader) trim(payload []byte, globalStart int64) []byte {
	globalEnd := globalStart + int64(len(payload))
	lo, hi := int64(0), int64(len(payload))
	if r.start > globalStart {
		lo = r.start - globalStart
	}
	if globalEnd > r.end {
		hi -= globalEnd - r.end
	}
	if lo < 0 {
		lo = 0
	}
	if hi > int64(len(payload)) {
		hi = int64(len(payload))
	}
	if lo >= hi {
		return nil
	}
	return payload[lo:hi]
}

func (r *Reader) curSetRegionLeft() int64 {
	switch {
	case r.curSetIndex == 0:
		return 0
	case r.pl.EndChunkDataSize > 0 && r.curSetIndex == r.pl.StandardChunkCountPerSlice+1:
		return r.pl.StartChunkDataSize + int64(r.pl.StandardChunkCountPerSlice)*r.pl.StandardChunkDataSize
	default:
		return r.pl.StartChunkDataSize + int64(r.curSetIndex-1)*r.pl.StandardChunkDataSize
	}
}

// Close schedules the underlying slice closes after a short settle delay
// so in-flight ReadChunk calls can finish; close errors are logged, not
// returned (spec.md §4.4 Close).
func (r *Reader) Close() {
	go func() {
		r.settler.WaitSettled(time.Second)
		for _, i := range r.active {
			if err := r.slices[i].Close(); err != nil {
				glog.Warningf("reader: closing slice %d: %v", i, err)
			}
		}
	}()
}
