// Package store defines the metadata-persistence contracts STRUBS's core
// depends on (spec.md §3/§5): the durable object record, and the two
// collaborator interfaces (object metadata, runtime config) an external
// database adapter implements. Nothing in this package touches a disk or
// a database directly; it only describes the shape of that boundary.
package store

import "github.com/signal24/strubs/cmn"

// SliceLocation records where one stripe column of an object lives.
type SliceLocation struct {
	Index    int
	VolumeID string
}

// VerificationState is the outcome the verifier records for an object the
// last time it was scanned (spec.md §4.7).
type VerificationState int

const (
	VerificationUnknown VerificationState = iota
	VerificationOK
	VerificationRepaired
	VerificationFailed
)

func (s VerificationState) String() string {
	switch s {
	case VerificationOK:
		return "ok"
	case VerificationRepaired:
		return "repaired"
	case VerificationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SliceErrorInfo is one slice's entry in a StoredObjectRecord's sliceErrors
// map (spec.md §4.7 step 4): either a checksum mismatch or some other I/O
// failure encountered the last time the slice was verified.
type SliceErrorInfo struct {
	Checksum bool
	Type     cmn.ByteKind
	Err      string // set when !Checksum; the underlying error's message
}

// StoredObjectRecord is the durable record for one committed object
// (spec.md §3): its identity, layout inputs, content hash, and the
// resolved slice placement a Reader or Destroyer needs to act without
// re-running the Planner.
type StoredObjectRecord struct {
	ObjectID         cmn.ObjectID
	ContainerPath    string
	FileSize         int64
	ChunkSize        int
	DataSliceCount   int
	ParitySliceCount int
	MD5              [cmn.MD5Len]byte
	Slices           []SliceLocation

	// UnavailableSlices are indices whose volume is known gone (e.g. a
	// decommissioned volume) independent of anything verify observed.
	UnavailableSlices []int
	// DamagedSlices mirrors the keys of SliceErrors, kept alongside it so
	// loadFromRecord can compute unavailableSliceIdxs without decoding the
	// detail map (spec.md §4.6, "unavailableSlices ∪ damagedSlices").
	DamagedSlices []int
	SliceErrors   map[int]SliceErrorInfo

	VerificationState VerificationState
	LastVerifiedAt    int64 // unix seconds; 0 if never verified
}

// ObjectMetaStore is the durable record store a FileObject and VerifyJob
// depend on. An external adapter (e.g. a SQL or KV backend) implements it;
// nothing in this package assumes a particular engine.
type ObjectMetaStore interface {
	CreateObjectRecord(rec *StoredObjectRecord) error
	DeleteObjectByID(id cmn.ObjectID) error
	GetObjectByPath(containerPath string) (*StoredObjectRecord, error)
	GetObjectByID(id cmn.ObjectID) (*StoredObjectRecord, error)
	GetObjectsInContainerPath(containerPath string) ([]*StoredObjectRecord, error)
	GetOrCreateContainer(path string) error

	// FindObjectsNeedingVerification returns up to limit records with
	// isFile=true and (lastVerifiedAt absent OR lastVerifiedAt < startedAt),
	// ordered by id ascending (spec.md §4.7 step 2, §6). No separate resume
	// cursor is needed: UpdateObjectVerificationState sets lastVerifiedAt to
	// startedAt as each object finishes, so a repeated call with the same
	// startedAt naturally excludes everything already visited this run,
	// including across a Stop()/Start() resume.
	FindObjectsNeedingVerification(startedAt int64, limit int) ([]*StoredObjectRecord, error)

	// UpdateObjectVerificationState persists the outcome of one object's
	// scan: lastVerifiedAt, and sliceErrors (nil/empty to clear it). The
	// VerificationState is derived from whether sliceErrors is empty.
	UpdateObjectVerificationState(id cmn.ObjectID, verifiedAt int64, sliceErrors map[int]SliceErrorInfo) error

	SetVolumeVerifyErrors(volumeID string, checksum, total int64) error
	GetTimestampFromID(id cmn.ObjectID) int64
}

// RuntimeConfigKey names a RuntimeConfigStore entry.
type RuntimeConfigKey string

const (
	KeyVerifyStartedAt RuntimeConfigKey = "verifyStartedAt"
	KeyLastVerify       RuntimeConfigKey = "lastVerify"
)

// RuntimeConfigStore is small persisted key/value state that survives a
// restart, distinct from the static Config (spec.md §4.7's verify cursor
// bookkeeping is the only current user).
type RuntimeConfigStore interface {
	Get(key RuntimeConfigKey) (string, bool, error)
	Set(key RuntimeConfigKey, value string) error
	Delete(key RuntimeConfigKey) error
}
