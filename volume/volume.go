// Package volume implements the per-volume lifecycle, space accounting,
// and identity verification spec.md §4.8 and §6 describe: a mounted
// filesystem that gives the core temp→committed file operations and
// running byte counters. Mount/partition provisioning itself (§1) is an
// external collaborator's job; this package only consumes an
// already-mounted directory.
package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"go.uber.org/atomic"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/diskstat"
)

// ByteKind re-exports cmn.ByteKind for callers that only import volume.
type ByteKind = cmn.ByteKind

const (
	KindData   = cmn.KindData
	KindParity = cmn.KindParity
)

// VerifyErrors is the per-run checksum/total error tally the verifier
// attributes to a volume (spec.md §4.7).
type VerifyErrors struct {
	Checksum int64
	Total    int64
}

// Volume is one mounted block device STRUBS stripes objects across.
type Volume struct {
	id          string
	uuid        [16]byte
	mountPoint  string
	deviceGroup string

	isStarted atomic.Bool
	isEnabled atomic.Bool
	isHealthy atomic.Bool
	isReadOnly atomic.Bool
	isDeleted atomic.Bool

	bytesTotal     atomic.Int64
	bytesFree      atomic.Int64
	bytesUsedData  atomic.Int64
	bytesUsedParity atomic.Int64
	bytesPending   atomic.Int64

	verifyMu     sync.Mutex
	verifyErrors *VerifyErrors

	gate *PriorityGate

	instanceIdentity [16]byte
}

// Config carries the fields needed to construct a Volume; the fleet
// (external collaborator) is responsible for discovering devices and
// partitions and populating these.
type Config struct {
	ID               string
	UUID             [16]byte
	MountPoint       string
	DeviceGroup      string
	InstanceIdentity [16]byte
}

// New constructs a Volume in the stopped state. Call Start to mount it and
// make it readable/writable.
func New(cfg Config) *Volume {
	v := &Volume{
		id:               cfg.ID,
		uuid:             cfg.UUID,
		mountPoint:       cfg.MountPoint,
		deviceGroup:      cfg.DeviceGroup,
		instanceIdentity: cfg.InstanceIdentity,
		gate:             NewPriorityGate(),
	}
	v.isEnabled.Store(true)
	v.isHealthy.Store(true)
	return v
}

func (v *Volume) ID() string          { return v.id }
func (v *Volume) DeviceGroup() string { return v.deviceGroup }
func (v *Volume) MountPoint() string  { return v.mountPoint }
func (v *Volume) Gate() *PriorityGate { return v.gate }

// IsReadable is true once the volume is started and enabled.
func (v *Volume) IsReadable() bool {
	return v.isStarted.Load() && v.isEnabled.Load()
}

// IsWritable additionally requires the volume be healthy and not
// read-only.
func (v *Volume) IsWritable() bool {
	return v.IsReadable() && v.isHealthy.Load() && !v.isReadOnly.Load()
}

// IsStarted reports whether Start has completed successfully.
func (v *Volume) IsStarted() bool { return v.isStarted.Load() }

// IsDeleted reports whether the volume has been marked for removal.
func (v *Volume) IsDeleted() bool { return v.isDeleted.Load() }

func (v *Volume) strubsDir() string     { return filepath.Join(v.mountPoint, "strubs") }
func (v *Volume) tmpDir() string        { return filepath.Join(v.strubsDir(), ".tmp") }
func (v *Volume) identityPath() string  { return filepath.Join(v.strubsDir(), ".identity") }

// Start idempotently prepares the volume: ensures the strubs directory
// layout exists, verifies (or creates) the identity file, and refreshes
// free-space accounting. The device-mount step itself (block device →
// mountPoint) is the fleet's job (§1); Start assumes mountPoint already
// resolves to a filesystem.
func (v *Volume) Start() error {
	if v.isStarted.Load() {
		return nil
	}

	if _, err := os.Stat(v.mountPoint); err != nil {
		return &cmn.VolumeError{Kind: cmn.VolumeMountPointMissing, VolumeID: v.id, Detail: err.Error()}
	}
	if err := os.MkdirAll(v.tmpDir(), 0o755); err != nil {
		return fmt.Errorf("volume %s: creating tmp dir: %w", v.id, err)
	}

	if err := v.verifyOrCreateIdentity(); err != nil {
		return err
	}

	if err := v.RefreshFree(); err != nil {
		return fmt.Errorf("volume %s: refreshing free space: %w", v.id, err)
	}

	v.isStarted.Store(true)
	return nil
}

// Stop unmounts (conceptually; the fleet performs the actual unmount) and
// clears started/free state.
func (v *Volume) Stop() {
	v.isStarted.Store(false)
	v.bytesFree.Store(0)
}

// RefreshFree recomputes bytesTotal/bytesFree via statfs, degrading to a
// no-op (keeping prior values) when the platform doesn't support it.
func (v *Volume) RefreshFree() error {
	total, free, err := diskstat.Statfs(v.mountPoint)
	if err != nil {
		return nil // nolint: platform without statfs support; keep prior values
	}
	v.bytesTotal.Store(total)
	v.bytesFree.Store(free)
	return nil
}

// FreeForPlanning is the Planner's ranking key: free space minus bytes
// already reserved for in-flight writes (spec.md §4.2 step 4).
func (v *Volume) FreeForPlanning() int64 {
	return v.bytesFree.Load() - v.bytesPending.Load()
}

func (v *Volume) BytesTotal() int64      { return v.bytesTotal.Load() }
func (v *Volume) BytesFree() int64       { return v.bytesFree.Load() }
func (v *Volume) BytesUsedData() int64   { return v.bytesUsedData.Load() }
func (v *Volume) BytesUsedParity() int64 { return v.bytesUsedParity.Load() }
func (v *Volume) BytesPending() int64    { return v.bytesPending.Load() }

// ReserveSpace adds n to the in-memory pending counter during planning
// (spec.md §4.2 step 6).
func (v *Volume) ReserveSpace(n int64) error {
	if !v.IsWritable() {
		return &cmn.VolumeError{Kind: cmn.VolumeNotWritable, VolumeID: v.id}
	}
	v.bytesPending.Add(n)
	return nil
}

// ReleaseReservation releases n bytes from the pending counter, on abort
// or on commit (where it is replaced by the committed counters).
func (v *Volume) ReleaseReservation(n int64) {
	v.bytesPending.Sub(n)
}

// ApplyCommittedBytes credits written bytes to the appropriate counter and
// releases the matching reservation, on Writer.commit (spec.md §4.3(d)).
func (v *Volume) ApplyCommittedBytes(reserved, written int64, kind ByteKind) {
	switch kind {
	case KindData:
		v.bytesUsedData.Add(written)
	case KindParity:
		v.bytesUsedParity.Add(written)
	}
	v.bytesPending.Sub(reserved)
}

// ReleaseCommittedBytes debits a previously-committed slice's bytes, on
// Slice.delete (object teardown).
func (v *Volume) ReleaseCommittedBytes(n int64, kind ByteKind) {
	switch kind {
	case KindData:
		v.bytesUsedData.Sub(n)
	case KindParity:
		v.bytesUsedParity.Sub(n)
	}
}

func (v *Volume) MarkDeleted()        { v.isDeleted.Store(true) }
func (v *Volume) UnmarkDeleted()      { v.isDeleted.Store(false) }
func (v *Volume) SetReadOnly(ro bool) { v.isReadOnly.Store(ro) }
func (v *Volume) SetEnabled(en bool)  { v.isEnabled.Store(en) }
func (v *Volume) SetHealthy(ok bool)  { v.isHealthy.Store(ok) }

// SetVerifyErrors records (or, passed nil, clears) the verifier's current
// per-run error tally for this volume.
func (v *Volume) SetVerifyErrors(e *VerifyErrors) {
	v.verifyMu.Lock()
	defer v.verifyMu.Unlock()
	v.verifyErrors = e
}

// VerifyErrors returns the last-recorded tally, or nil if none.
func (v *Volume) VerifyErrors() *VerifyErrors {
	v.verifyMu.Lock()
	defer v.verifyMu.Unlock()
	if v.verifyErrors == nil {
		return nil
	}
	cp := *v.verifyErrors
	return &cp
}

// IncVerifyErrors atomically bumps the running tally by (checksum, total),
// the way VerifyJob §4.7.4 attributes a slice failure.
func (v *Volume) IncVerifyErrors(checksum, total int64) {
	v.verifyMu.Lock()
	defer v.verifyMu.Unlock()
	if v.verifyErrors == nil {
		v.verifyErrors = &VerifyErrors{}
	}
	v.verifyErrors.Checksum += checksum
	v.verifyErrors.Total += total
}

// CommittedPath returns the 3-level hex-fanout committed path for file
// name fileName, per spec.md §4.5: {mountPoint}/strubs/{F[0:2]}/{F[2:4]}/{F[4:6]}/{F}
func (v *Volume) CommittedPath(fileName string) string {
	if len(fileName) < 6 {
		return filepath.Join(v.strubsDir(), fileName)
	}
	return filepath.Join(v.strubsDir(), fileName[0:2], fileName[2:4], fileName[4:6], fileName)
}

func (v *Volume) temporaryPath(fileName string) string {
	return filepath.Join(v.tmpDir(), fileName)
}

// CreateTemporaryFh opens (creating) the temp file for fileName.
func (v *Volume) CreateTemporaryFh(fileName string) (*os.File, error) {
	return os.OpenFile(v.temporaryPath(fileName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// CommitTemporaryFile copies a temp file's contents to its committed
// fanout path, creating the fanout directories as needed, then removes the
// temp file. The copy goes through renameio.WriteFile (write to a temp
// name, then rename into place), so a crash can't leave a torn destination.
func (v *Volume) CommitTemporaryFile(fileName string) error {
	dst := v.CommittedPath(fileName)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("volume %s: creating fanout dir for %s: %w", v.id, fileName, err)
	}
	src := v.temporaryPath(fileName)
	buf, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("volume %s: reading temp file %s: %w", v.id, fileName, err)
	}
	if err := renameio.WriteFile(dst, buf, 0o644); err != nil {
		return fmt.Errorf("volume %s: committing %s: %w", v.id, fileName, err)
	}
	return os.Remove(src)
}

// DeleteTemporaryFile removes a slice's temp file. Missing files are not
// an error (delete is idempotent, per spec.md §4.5 delete()).
func (v *Volume) DeleteTemporaryFile(fileName string) error {
	err := os.Remove(v.temporaryPath(fileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// OpenCommittedFh opens a committed slice file for reading.
func (v *Volume) OpenCommittedFh(fileName string) (*os.File, error) {
	return os.Open(v.CommittedPath(fileName))
}

// DeleteCommittedFile removes a committed slice file. Missing files are
// not an error.
func (v *Volume) DeleteCommittedFile(fileName string) error {
	err := os.Remove(v.CommittedPath(fileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetCommittedPath exposes the committed path for diagnostics/tests.
func (v *Volume) GetCommittedPath(fileName string) string {
	return v.CommittedPath(fileName)
}
