// Package cmn provides low-level types shared by every STRUBS package:
// the error taxonomy, the object identifier, and checksum helpers.
package cmn

import "fmt"

// PlanKind enumerates Plan/Planner failures.
type PlanKind int

const (
	PlanInsufficientVolumes PlanKind = iota
)

// PlanError reports a failure deriving or realizing a Plan.
type PlanError struct {
	Kind PlanKind
	Want int
	Have int
}

func (e *PlanError) Error() string {
	switch e.Kind {
	case PlanInsufficientVolumes:
		return fmt.Sprintf("plan: insufficient writable volumes: need %d, have %d", e.Want, e.Have)
	default:
		return "plan: error"
	}
}

// WriterKind enumerates Writer failures.
type WriterKind int

const (
	WriterByteCountMismatch WriterKind = iota
	WriterAborted
	WriterHashNotInitialized
	WriterBufferNotInitialized
	WriterSliceWriteFailed
)

// WriterError reports a failure in the write pipeline.
type WriterError struct {
	Kind  WriterKind
	Want  int64
	Got   int64
	Cause error
}

func (e *WriterError) Error() string {
	switch e.Kind {
	case WriterByteCountMismatch:
		return fmt.Sprintf("writer: byte count mismatch: wrote %d, expected %d", e.Got, e.Want)
	case WriterAborted:
		return "writer: aborted"
	case WriterHashNotInitialized:
		return "writer: hash not initialized"
	case WriterBufferNotInitialized:
		return "writer: chunk-set buffer not initialized"
	case WriterSliceWriteFailed:
		return fmt.Sprintf("writer: slice write failed: %v", e.Cause)
	default:
		return "writer: error"
	}
}

func (e *WriterError) Unwrap() error { return e.Cause }

// ReaderKind enumerates Reader failures.
type ReaderKind int

const (
	ReaderInsufficientSlices ReaderKind = iota
	ReaderMisalignedRange
	ReaderChunkSetBufferMissing
	ReaderSliceReadFailed
)

// ReaderError reports a failure in the read pipeline.
type ReaderError struct {
	Kind  ReaderKind
	Want  int
	Have  int
	Cause error
}

func (e *ReaderError) Error() string {
	switch e.Kind {
	case ReaderInsufficientSlices:
		return fmt.Sprintf("reader: insufficient slices to reconstruct: need %d active, have %d", e.Want, e.Have)
	case ReaderMisalignedRange:
		return "reader: misaligned range"
	case ReaderChunkSetBufferMissing:
		return "reader: chunk-set buffer missing"
	case ReaderSliceReadFailed:
		return fmt.Sprintf("reader: slice read failed: %v", e.Cause)
	default:
		return "reader: error"
	}
}

func (e *ReaderError) Unwrap() error { return e.Cause }

// SliceKind enumerates Slice-level failures.
type SliceKind int

const (
	SliceBusy SliceKind = iota
	SliceInvalidIndex
	SliceHeaderInvalid
	SliceChecksumMismatch
)

// SliceError reports a failure at the individual slice level.
type SliceError struct {
	Kind         SliceKind
	ObjectID     string
	SliceIndex   int
	VolumeID     string
	CursorOffset int64
	Detail       string
}

func (e *SliceError) Error() string {
	switch e.Kind {
	case SliceBusy:
		return fmt.Sprintf("slice %d of %s: busy", e.SliceIndex, e.ObjectID)
	case SliceInvalidIndex:
		return fmt.Sprintf("slice %d of %s: invalid index", e.SliceIndex, e.ObjectID)
	case SliceHeaderInvalid:
		return fmt.Sprintf("slice %d of %s on volume %s: header invalid: %s", e.SliceIndex, e.ObjectID, e.VolumeID, e.Detail)
	case SliceChecksumMismatch:
		return fmt.Sprintf("slice %d of %s on volume %s: checksum mismatch at offset %d",
			e.SliceIndex, e.ObjectID, e.VolumeID, e.CursorOffset)
	default:
		return "slice: error"
	}
}

// IsChecksumError reports whether err is a checksum-mismatch SliceError.
func IsChecksumError(err error) bool {
	se, ok := err.(*SliceError)
	return ok && se.Kind == SliceChecksumMismatch
}

// VolumeKind enumerates Volume-level failures.
type VolumeKind int

const (
	VolumeNotReadable VolumeKind = iota
	VolumeNotWritable
	VolumeMountPointMissing
	VolumeIdentityMismatch
	VolumeIdentityCorrupt
)

// VolumeError reports a failure at the volume level.
type VolumeError struct {
	Kind     VolumeKind
	VolumeID string
	Detail   string
}

func (e *VolumeError) Error() string {
	switch e.Kind {
	case VolumeNotReadable:
		return fmt.Sprintf("volume %s: not readable", e.VolumeID)
	case VolumeNotWritable:
		return fmt.Sprintf("volume %s: not writable", e.VolumeID)
	case VolumeMountPointMissing:
		return fmt.Sprintf("volume %s: mount point missing", e.VolumeID)
	case VolumeIdentityMismatch:
		return fmt.Sprintf("volume %s: identity mismatch: %s", e.VolumeID, e.Detail)
	case VolumeIdentityCorrupt:
		return fmt.Sprintf("volume %s: identity file corrupt: %s", e.VolumeID, e.Detail)
	default:
		return "volume: error"
	}
}

// IOCode classifies an IOError the way the adapters (HTTP/FUSE, out of
// core scope) expect to translate it; the core never emits adapter codes,
// only these.
type IOCode string

const (
	IOCodeEIO    IOCode = "EIO"
	IOCodeENOENT IOCode = "ENOENT"
	IOCodeEEXIST IOCode = "EEXIST"
	IOCodeAbort  IOCode = "IOABORT"
)

// IOError wraps a lower-layer I/O failure with a stable code.
type IOError struct {
	Code  IOCode
	Cause error
}

func (e *IOError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("io [%s]: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("io [%s]", e.Code)
}

func (e *IOError) Unwrap() error { return e.Cause }

// IsAborted reports whether err is (or wraps) an IOError carrying the
// IOABORT code, i.e. the shutdown gate tripped.
func IsAborted(err error) bool {
	var ioErr *IOError
	for err != nil {
		if ie, ok := err.(*IOError); ok {
			ioErr = ie
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ioErr != nil && ioErr.Code == IOCodeAbort
}

// StateKind enumerates FileObject state-machine failures.
type StateKind int

const (
	StateInvalidTransition StateKind = iota
	StateNotInitialized
)

// StateError reports an illegal FileObject state transition.
type StateError struct {
	Kind StateKind
	From string
	Op   string
}

func (e *StateError) Error() string {
	switch e.Kind {
	case StateInvalidTransition:
		return fmt.Sprintf("state: %s is invalid from state %s", e.Op, e.From)
	case StateNotInitialized:
		return fmt.Sprintf("state: %s: not initialized", e.Op)
	default:
		return "state: error"
	}
}
