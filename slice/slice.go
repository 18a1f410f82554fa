package slice

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/plan"
)

// Backend is the subset of a volume's file operations a Slice needs
// (spec.md §4.8); volume.Volume satisfies it structurally.
type Backend interface {
	ID() string
	CreateTemporaryFh(fileName string) (*os.File, error)
	CommitTemporaryFile(fileName string) error
	DeleteTemporaryFile(fileName string) error
	OpenCommittedFh(fileName string) (*os.File, error)
	DeleteCommittedFile(fileName string) error
	ReleaseReservation(n int64)
	ApplyCommittedBytes(reserved, written int64, kind cmn.ByteKind)
	ReleaseCommittedBytes(n int64, kind cmn.ByteKind)
}

// Slice owns one file on one volume: a single stripe column of one
// object, per spec.md §3/§4.5.
type Slice struct {
	objectID cmn.ObjectID
	backend  Backend
	plan     *plan.Plan
	index    int
	data     int
	parity   int

	fileName string

	mode Mode
	fh   *os.File

	busy atomic.Bool

	isCommitted bool
	reservedBytes int64

	// chunkSetIndex is the slice's current position for sequential
	// write/read (advances one per chunk record written or read).
	chunkSetIndex int
}

func (s *Slice) kind() cmn.ByteKind {
	if s.index < s.data {
		return cmn.KindData
	}
	return cmn.KindParity
}

// New constructs a Slice descriptor; it performs no I/O until Create or
// Open is called.
func New(objectID cmn.ObjectID, backend Backend, pl *plan.Plan, index int) (*Slice, error) {
	total := pl.DataSliceCount + pl.ParitySliceCount
	if index < 0 || index >= total {
		return nil, &cmn.SliceError{Kind: cmn.SliceInvalidIndex, ObjectID: objectID.String(), SliceIndex: index}
	}
	return &Slice{
		objectID:      objectID,
		backend:       backend,
		plan:          pl,
		index:         index,
		data:          pl.DataSliceCount,
		parity:        pl.ParitySliceCount,
		fileName:      fmt.Sprintf("%s.%d", objectID.String(), index),
		reservedBytes: pl.SliceSize,
	}, nil
}

// Index returns this slice's position in [0, D+P).
func (s *Slice) Index() int { return s.index }

// FileName returns the "{id}.{index}" file name this slice is stored
// under, both in the temp and committed paths.
func (s *Slice) FileName() string { return s.fileName }

// VolumeID returns the id of the volume this slice lives on.
func (s *Slice) VolumeID() string { return s.backend.ID() }

// ReservedBytes returns how many bytes this slice reserved on its volume
// (SliceSize), for accounting during abort/commit.
func (s *Slice) ReservedBytes() int64 { return s.reservedBytes }

func (s *Slice) tryAcquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return &cmn.SliceError{Kind: cmn.SliceBusy, ObjectID: s.objectID.String(), SliceIndex: s.index, VolumeID: s.backend.ID()}
	}
	return nil
}

func (s *Slice) release() { s.busy.Store(false) }

// Create opens a temp file on the backend volume and writes the file
// header; it leaves the slice in ModeWrite (spec.md §4.5).
func (s *Slice) Create() error {
	if err := s.tryAcquire(); err != nil {
		return err
	}
	defer s.release()

	fh, err := s.backend.CreateTemporaryFh(s.fileName)
	if err != nil {
		return &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
	}

	h := header{
		objectID:  s.objectID,
		fileSize:  s.plan.FileSize,
		data:      uint8(s.data),
		parity:    uint8(s.parity),
		index:     uint8(s.index),
		chunkSize: uint32(s.plan.ChunkSize),
	}
	if _, err := fh.Write(encodeHeader(h)); err != nil {
		fh.Close()
		return &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
	}

	s.fh = fh
	s.mode = ModeWrite
	return nil
}

// WriteChunk MD5-frames payload and appends it as the next chunk record.
func (s *Slice) WriteChunk(payload []byte) error {
	if err := s.tryAcquire(); err != nil {
		return err
	}
	defer s.release()

	if s.mode != ModeWrite {
		return &cmn.StateError{Kind: cmn.StateInvalidTransition, From: "slice", Op: "writeChunk"}
	}

	sum := cmn.MD5Sum(payload)
	record := make([]byte, cmn.ChunkHeaderSize+len(payload))
	copy(record[0:cmn.ChunkHeaderSize], sum[:])
	copy(record[cmn.ChunkHeaderSize:], payload)

	if _, err := s.fh.Write(record); err != nil {
		return &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
	}
	s.chunkSetIndex++
	return nil
}

// Open opens the committed file for reading and validates its header,
// leaving the slice in ModeRead.
func (s *Slice) Open() error {
	if err := s.tryAcquire(); err != nil {
		return err
	}
	defer s.release()

	fh, err := s.backend.OpenCommittedFh(s.fileName)
	if err != nil {
		return &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
	}

	buf := make([]byte, cmn.FileHeaderSize)
	if _, err := io.ReadFull(fh, buf); err != nil {
		fh.Close()
		return &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
	}
	if _, err := decodeHeader(buf); err != nil {
		fh.Close()
		if se, ok := err.(*cmn.SliceError); ok {
			se.ObjectID = s.objectID.String()
			se.SliceIndex = s.index
			se.VolumeID = s.backend.ID()
		}
		return err
	}

	s.fh = fh
	s.mode = ModeRead
	s.chunkSetIndex = 0
	return nil
}

// chunkOffset computes the byte offset of chunk record i within the slice
// file (1 start chunk + i-1 standard chunks for i >= 1, per spec.md §4.5).
func (s *Slice) chunkOffset(i int) int64 {
	if i == 0 {
		return cmn.FileHeaderSize
	}
	off := int64(cmn.FileHeaderSize) + int64(cmn.ChunkHeaderSize) + s.plan.StartChunkDataSize
	standardRecord := int64(cmn.ChunkHeaderSize) + s.plan.StandardChunkDataSize
	n := i - 1
	if n > s.plan.StandardChunkCountPerSlice {
		n = s.plan.StandardChunkCountPerSlice
	}
	off += int64(n) * standardRecord
	return off
}

// SeekToHead positions the read cursor at the first chunk record.
func (s *Slice) SeekToHead() error {
	return s.SeekToChunkIndex(0)
}

// SeekToChunkIndex positions the read cursor at the start of chunk record
// i, computed purely from the plan's region sizes (no per-chunk size is
// stored on disk).
func (s *Slice) SeekToChunkIndex(i int) error {
	if s.mode != ModeRead {
		return &cmn.StateError{Kind: cmn.StateInvalidTransition, From: "slice", Op: "seek"}
	}
	off := s.chunkOffset(i)
	if _, err := s.fh.Seek(off, io.SeekStart); err != nil {
		return &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
	}
	s.chunkSetIndex = i
	return nil
}

// ReadChunk reads and checksum-verifies the chunk record at the current
// cursor, for the given plaintext payload size, advancing the cursor.
func (s *Slice) ReadChunk(payloadSize int64) ([]byte, error) {
	if err := s.tryAcquire(); err != nil {
		return nil, err
	}
	defer s.release()

	if s.mode != ModeRead {
		return nil, &cmn.StateError{Kind: cmn.StateInvalidTransition, From: "slice", Op: "readChunk"}
	}

	cursor, _ := s.fh.Seek(0, io.SeekCurrent)

	record := make([]byte, cmn.ChunkHeaderSize+int(payloadSize))
	if _, err := io.ReadFull(s.fh, record); err != nil {
		return nil, &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
	}

	var stored [cmn.MD5Len]byte
	copy(stored[:], record[:cmn.ChunkHeaderSize])
	payload := record[cmn.ChunkHeaderSize:]
	if cmn.MD5Sum(payload) != stored {
		return nil, &cmn.SliceError{
			Kind: cmn.SliceChecksumMismatch, ObjectID: s.objectID.String(),
			SliceIndex: s.index, VolumeID: s.backend.ID(), CursorOffset: cursor,
		}
	}

	s.chunkSetIndex++
	return payload, nil
}

// Close fsyncs (if writing) and closes the underlying handle. Safe to call
// when no handle is open.
func (s *Slice) Close() error {
	if err := s.tryAcquire(); err != nil {
		return err
	}
	defer s.release()

	if s.fh == nil {
		return nil
	}
	if s.mode == ModeWrite {
		if err := s.fh.Sync(); err != nil {
			s.fh.Close()
			s.fh = nil
			return &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
		}
	}
	err := s.fh.Close()
	s.fh = nil
	if err != nil {
		return &cmn.IOError{Code: cmn.IOCodeEIO, Cause: err}
	}
	return nil
}

// Commit renames the slice's temp file to its committed location and
// credits the volume's byte counters, releasing the reservation.
func (s *Slice) Commit() error {
	if err := s.tryAcquire(); err != nil {
		return err
	}
	defer s.release()

	if s.mode != ModeWrite {
		return &cmn.StateError{Kind: cmn.StateInvalidTransition, From: "slice", Op: "commit"}
	}
	if err := s.backend.CommitTemporaryFile(s.fileName); err != nil {
		return err
	}
	s.isCommitted = true

	// Credit the full reservation (not the exact bytes written) to the
	// volume's used counters: it is what was actually reserved on disk
	// for this slice, and matches the "at most sliceSize*D" bound the
	// commit-accounting property (spec.md §8) checks.
	s.backend.ApplyCommittedBytes(s.reservedBytes, s.reservedBytes, s.kind())
	return nil
}

// MarkAsCommitted flips the committed flag without performing the rename,
// used by the Destroyer when tearing down an object whose Writer already
// committed every slice (spec.md §4.5 markAsCommitted()).
func (s *Slice) MarkAsCommitted() { s.isCommitted = true }

// IsCommitted reports whether this slice's file has been renamed to its
// committed location.
func (s *Slice) IsCommitted() bool { return s.isCommitted }

// Delete removes this slice's file (committed or temp, whichever applies)
// and releases its reservation or committed-byte accounting. Safe to call
// from any mode.
func (s *Slice) Delete() error {
	if err := s.tryAcquire(); err != nil {
		return err
	}
	defer s.release()

	if s.fh != nil {
		if s.mode == ModeWrite {
			_ = s.fh.Sync()
		}
		s.fh.Close()
		s.fh = nil
	}

	var err error
	if s.isCommitted {
		err = s.backend.DeleteCommittedFile(s.fileName)
		s.backend.ReleaseCommittedBytes(s.reservedBytes, s.kind())
	} else {
		err = s.backend.DeleteTemporaryFile(s.fileName)
		s.backend.ReleaseReservation(s.reservedBytes)
	}
	return err
}
