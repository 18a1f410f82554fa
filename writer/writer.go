// Package writer implements the STRUBS write pipeline (spec.md §4.3):
// buffer one chunk set at a time, RS-encode its parity, fan the chunks out
// to their slices, and track the running MD5 of the plaintext.
package writer

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/ioabort"
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/rs"
	"github.com/signal24/strubs/slice"
)

// Writer drives the write side of one object: exactly one Writer per
// FileObject, for one or more Write calls totalling the object's size,
// followed by Finish and then Commit or Abort.
type Writer struct {
	pl     *plan.Plan
	slices []*slice.Slice // len D+P, index [0,D) data, [D,D+P) parity
	codec  *rs.Codec

	data   int
	parity int

	workBuf    [][]byte // len D+P, each sized to curChunkDataSize
	curSize    int64    // current chunk's plaintext payload size
	regionPos  int64    // bytes filled in the current chunk set's data region
	nextShard  int      // next data shard index not yet dispatched this set
	setsDone   int      // number of chunk sets fully dispatched (data+parity)
	totalSets  int

	totalWritten int64
	md5          *cmn.RunningMD5

	pending []chan struct{} // per-slice-index in-flight chain, len == D+P
	wg      sync.WaitGroup

	errMu    sync.Mutex
	firstErr error

	aborting atomic.Bool
	finished bool
	committed bool
}

// New builds a Writer over slices already constructed (but not yet
// Create()'d) for pl. len(slices) must equal pl.DataSliceCount +
// pl.ParitySliceCount, ordered data-then-parity.
func New(pl *plan.Plan, slices []*slice.Slice) (*Writer, error) {
	total := pl.DataSliceCount + pl.ParitySliceCount
	if len(slices) != total {
		return nil, &cmn.WriterError{Kind: cmn.WriterBufferNotInitialized}
	}
	codec, err := rs.New(pl.DataSliceCount, pl.ParitySliceCount)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		pl:        pl,
		slices:    slices,
		codec:     codec,
		data:      pl.DataSliceCount,
		parity:    pl.ParitySliceCount,
		totalSets: pl.ChunkSetCount(),
		md5:       cmn.NewRunningMD5(),
		pending:   make([]chan struct{}, total),
	}
	w.startSet(0)
	return w, nil
}

// Prepare creates every slice's temp file (spec.md "Writer.prepare"). On
// the first failure it stops; the caller (FileObject) aborts.
func (w *Writer) Prepare() error {
	for _, s := range w.slices {
		if err := s.Create(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) startSet(setIndex int) {
	w.curSize = w.pl.ChunkDataSize(setIndex)
	w.regionPos = 0
	w.nextShard = 0
	w.workBuf = make([][]byte, w.data+w.parity)
	for i := range w.workBuf {
		w.workBuf[i] = make([]byte, w.curSize)
	}
}

// Write consumes buf as plaintext object bytes, copying them into the
// current chunk set's data region and dispatching completed shards.
func (w *Writer) Write(buf []byte) error {
	if w.finished {
		return &cmn.WriterError{Kind: cmn.WriterBufferNotInitialized}
	}
	w.md5.Write(buf)
	w.totalWritten += int64(len(buf))

	for len(buf) > 0 {
		if w.setsDone >= w.totalSets {
			// All capacity already accounted for; extra bytes here
			// would only happen if the caller over-writes fileSize,
			// which Finish() will catch via the byte-count check.
			break
		}
		target := int64(w.data) * w.curSize
		if w.regionPos >= target {
			// Shouldn't happen: startSet resets regionPos to 0 and we
			// advance sets as soon as the region fills.
			break
		}
		shardIdx := int(w.regionPos / w.curSize)
		offInShard := w.regionPos % w.curSize
		n := int64(len(buf))
		room := w.curSize - offInShard
		if n > room {
			n = room
		}
		copy(w.workBuf[shardIdx][offInShard:offInShard+n], buf[:n])
		buf = buf[n:]
		w.regionPos += n

		for w.nextShard < w.data && w.regionPos >= int64(w.nextShard+1)*w.curSize {
			w.dispatchDataShard(w.nextShard)
			w.nextShard++
		}
		if w.nextShard == w.data {
			w.completeSet()
		}
	}
	return nil
}

// dispatchDataShard queues a write of a just-completed data shard. The
// underlying bytes are copied out first since workBuf is reused by the
// next chunk set before this write necessarily completes.
func (w *Writer) dispatchDataShard(i int) {
	payload := append([]byte(nil), w.workBuf[i]...)
	w.queueSliceWrite(i, payload)
}

// completeSet runs once all D data shards of the current set are filled:
// RS-encodes the parity region, dispatches the parity writes, and either
// advances to the next chunk set or marks the writer done.
func (w *Writer) completeSet() {
	if err := w.codec.Encode(w.workBuf); err != nil {
		w.setErr(err)
	} else {
		for j := 0; j < w.parity; j++ {
			payload := append([]byte(nil), w.workBuf[w.data+j]...)
			w.queueSliceWrite(w.data+j, payload)
		}
	}

	w.setsDone++
	if w.setsDone < w.totalSets {
		w.startSet(w.setsDone)
	}
}

// queueSliceWrite enforces "at most one outstanding write per slice
// index": the goroutine for this write waits on the previous one's done
// channel before issuing its own write, sampling the abort flag only
// after that wait (spec.md §9, Writer abort race note).
func (w *Writer) queueSliceWrite(i int, payload []byte) {
	prev := w.pending[i]
	done := make(chan struct{})
	w.pending[i] = done

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		if w.aborting.Load() {
			return
		}
		if err := ioabort.ThrowIfAborted(); err != nil {
			w.setErr(err)
			return
		}
		if err := w.slices[i].WriteChunk(payload); err != nil {
			w.setErr(&cmn.WriterError{Kind: cmn.WriterSliceWriteFailed, Cause: err})
		}
	}()
}

func (w *Writer) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.firstErr == nil {
		w.firstErr = err
	}
}

func (w *Writer) err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.firstErr
}

// Finish pads and dispatches any partially-filled final chunk set, awaits
// every outstanding slice write, and finalizes the plaintext MD5. It fails
// with WriterError::ByteCountMismatch if the caller didn't write exactly
// fileSize bytes first.
func (w *Writer) Finish() ([cmn.MD5Len]byte, error) {
	var zero [cmn.MD5Len]byte
	if w.totalWritten != w.pl.FileSize {
		return zero, &cmn.WriterError{Kind: cmn.WriterByteCountMismatch, Want: w.pl.FileSize, Got: w.totalWritten}
	}

	if w.setsDone < w.totalSets {
		// The final chunk set's reserved capacity can exceed the actual
		// tail of the object (rounding, spec.md §3); the unwritten tail
		// is already zero in workBuf, so just dispatch what's left.
		for w.nextShard < w.data {
			w.dispatchDataShard(w.nextShard)
			w.nextShard++
		}
		w.completeSet()
	}

	w.wg.Wait()
	w.finished = true

	if err := w.err(); err != nil {
		return zero, err
	}
	return w.md5.Sum(), nil
}

// Commit closes every slice (fsync+close) and atomically renames each
// temp file to its committed location, crediting the volume counters.
func (w *Writer) Commit() error {
	for _, s := range w.slices {
		if err := s.Close(); err != nil {
			w.setErr(err)
		}
	}
	if w.aborting.Load() {
		return &cmn.WriterError{Kind: cmn.WriterAborted}
	}
	for _, s := range w.slices {
		if err := s.Commit(); err != nil {
			w.setErr(err)
			return err
		}
	}
	if w.aborting.Load() {
		return &cmn.WriterError{Kind: cmn.WriterAborted}
	}
	w.committed = true
	return w.err()
}

// Abort marks the writer aborting, waits for any writes already in flight,
// and deletes every slice file (committed or temp, whichever applies),
// releasing reservations. Abort never skips cleanup even if one last write
// slipped through after the flag was set (spec.md §9).
func (w *Writer) Abort() error {
	w.aborting.Store(true)
	w.wg.Wait()

	var firstErr error
	for _, s := range w.slices {
		if err := s.Delete(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
