// Package object implements FileObject (spec.md §4.6): the state-machine
// wrapper that owns one object's Writer or Reader, holds its Plan and
// Slices, and serializes concurrent I/O on a single handle.
package object

import (
	"fmt"
	"path"
	"sync"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/reader"
	"github.com/signal24/strubs/slice"
	"github.com/signal24/strubs/store"
	"github.com/signal24/strubs/volume"
	"github.com/signal24/strubs/writer"
)

// State is a FileObject's position in its two state machines (write path
// and read path), sharing Empty and the Deleted terminal.
type State int

const (
	StateEmpty State = iota
	StateWriting
	StatePersisted
	StateLoaded
	StateReading
	StateClosed
	StateDeleted
)

// Priority re-exports volume.Priority so callers need not import volume
// just to construct a FileObject.
type Priority = volume.Priority

const (
	PriorityNormal = volume.PriorityNormal
	PriorityLow    = volume.PriorityLow
)

// FileObject is the per-object handle: exactly one Writer xor Reader is
// live at a time, and every operation is gated by the state machine below.
type FileObject struct {
	mu    sync.Mutex
	state State

	ID        cmn.ObjectID
	Priority  Priority
	RequestID string

	fleet     *volume.Fleet
	planner   *plan.Planner
	metaStore store.ObjectMetaStore

	containerPath string
	pl            *plan.Plan
	slices        []*slice.Slice
	sliceVolumeID []string // index-aligned with slices, for readable()

	unavailable map[int]bool

	w   *writer.Writer
	r   *reader.Reader
	md5 [cmn.MD5Len]byte

	record *store.StoredObjectRecord

	ioLock fifoLock
}

// New constructs an empty FileObject bound to the given collaborators.
func New(fleet *volume.Fleet, planner *plan.Planner, metaStore store.ObjectMetaStore, priority Priority, requestID string) *FileObject {
	return &FileObject{
		fleet:     fleet,
		planner:   planner,
		metaStore: metaStore,
		Priority:  priority,
		RequestID: requestID,
	}
}

func (o *FileObject) transition(from []State, to State, op string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ok := false
	for _, s := range from {
		if o.state == s {
			ok = true
			break
		}
	}
	if !ok {
		return &cmn.StateError{Kind: cmn.StateInvalidTransition, From: o.stateName(), Op: op}
	}
	o.state = to
	return nil
}

func (o *FileObject) stateName() string {
	names := [...]string{"empty", "writing", "persisted", "loaded", "reading", "closed", "deleted"}
	if int(o.state) < len(names) {
		return names[o.state]
	}
	return "unknown"
}

// CreateWithSize plans and prepares a new write handle: picks D+P
// volumes, constructs the Slices, and creates their temp files. On
// prepare failure it aborts and the FileObject is unusable.
func (o *FileObject) CreateWithSize(containerPath string, size int64) error {
	if err := o.transition([]State{StateEmpty}, StateWriting, "createWithSize"); err != nil {
		return err
	}

	o.ID = cmn.NewObjectID()
	o.containerPath = containerPath

	picked, err := o.planner.Plan(size)
	if err != nil {
		o.mu.Lock()
		o.state = StateEmpty
		o.mu.Unlock()
		return err
	}
	o.pl = picked.Plan

	backends := make([]slice.Backend, 0, len(picked.DataVolumes)+len(picked.ParityVolumes))
	volIDs := make([]string, 0, cap(backends))
	for _, v := range append(append([]plan.Volume{}, picked.DataVolumes...), picked.ParityVolumes...) {
		b, ok := v.(slice.Backend)
		if !ok {
			return fmt.Errorf("object: planned volume %s does not satisfy slice.Backend", v.ID())
		}
		backends = append(backends, b)
		volIDs = append(volIDs, v.ID())
	}

	slices := make([]*slice.Slice, len(backends))
	for i, b := range backends {
		s, err := slice.New(o.ID, b, o.pl, i)
		if err != nil {
			return fmt.Errorf("object: create: %w", err)
		}
		slices[i] = s
	}
	o.slices = slices
	o.sliceVolumeID = volIDs

	w, err := writer.New(o.pl, o.slices)
	if err != nil {
		return fmt.Errorf("object: create: %w", err)
	}
	if err := w.Prepare(); err != nil {
		_ = w.Abort()
		o.mu.Lock()
		o.state = StateClosed
		o.mu.Unlock()
		return fmt.Errorf("object: create: prepare: %w", err)
	}
	o.w = w
	o.registerVolumes()
	return nil
}

// registerVolumes/releaseVolumes bracket this FileObject's I/O against
// every volume its slices live on with its priority class, so the
// background verifier's low-priority gate can tell foreground handles
// apart from itself (spec.md §5 "Priority").
func (o *FileObject) registerVolumes() {
	for _, id := range o.sliceVolumeID {
		if id == "" {
			continue
		}
		if v := o.fleet.GetVolume(id); v != nil {
			v.Gate().RegisterHandle(o.Priority)
		}
	}
}

func (o *FileObject) releaseVolumes() {
	for _, id := range o.sliceVolumeID {
		if id == "" {
			continue
		}
		if v := o.fleet.GetVolume(id); v != nil {
			v.Gate().Release(o.Priority)
		}
	}
}

// Write delegates to the Writer.
func (o *FileObject) Write(buf []byte) error {
	if o.currentState() != StateWriting {
		return &cmn.StateError{Kind: cmn.StateInvalidTransition, From: o.stateName(), Op: "write"}
	}
	return o.w.Write(buf)
}

// Finish delegates to the Writer and stashes the resulting MD5 for Commit.
func (o *FileObject) Finish() error {
	if o.currentState() != StateWriting {
		return &cmn.StateError{Kind: cmn.StateInvalidTransition, From: o.stateName(), Op: "finish"}
	}
	sum, err := o.w.Finish()
	if err != nil {
		return err
	}
	o.md5 = sum
	return nil
}

func (o *FileObject) currentState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Commit renames every slice to its committed path and persists the
// StoredObjectRecord.
func (o *FileObject) Commit() error {
	if err := o.transition([]State{StateWriting}, StatePersisted, "commit"); err != nil {
		return err
	}
	commitErr := o.w.Commit()
	o.releaseVolumes()
	if commitErr != nil {
		return commitErr
	}

	if err := o.metaStore.GetOrCreateContainer(path.Dir(o.containerPath)); err != nil {
		return err
	}

	rec := &store.StoredObjectRecord{
		ObjectID:         o.ID,
		ContainerPath:    o.containerPath,
		FileSize:         o.pl.FileSize,
		ChunkSize:        o.pl.ChunkSize,
		DataSliceCount:   o.pl.DataSliceCount,
		ParitySliceCount: o.pl.ParitySliceCount,
		MD5:              o.md5,
		Slices:           make([]store.SliceLocation, len(o.slices)),
	}
	for i, s := range o.slices {
		rec.Slices[i] = store.SliceLocation{Index: i, VolumeID: s.VolumeID()}
	}

	if err := o.metaStore.CreateObjectRecord(rec); err != nil {
		return err
	}
	o.record = rec
	return nil
}

// LoadFromRecord rebuilds a read-capable FileObject from a previously
// persisted record, deriving unavailableSliceIdxs = unavailableSlices ∪
// damagedSlices from the record itself (spec.md §4.6) rather than taking it
// from the caller.
func (o *FileObject) LoadFromRecord(rec *store.StoredObjectRecord) error {
	if err := o.transition([]State{StateEmpty}, StateLoaded, "loadFromRecord"); err != nil {
		return err
	}

	o.ID = rec.ObjectID
	o.record = rec
	o.containerPath = rec.ContainerPath
	o.unavailable = map[int]bool{}
	for _, i := range rec.UnavailableSlices {
		o.unavailable[i] = true
	}
	for _, i := range rec.DamagedSlices {
		o.unavailable[i] = true
	}

	pl, err := plan.Build(rec.FileSize, rec.ChunkSize, rec.DataSliceCount, rec.ParitySliceCount)
	if err != nil {
		return err
	}
	o.pl = pl

	total := rec.DataSliceCount + rec.ParitySliceCount
	slices := make([]*slice.Slice, total)
	volIDs := make([]string, total)
	for _, loc := range rec.Slices {
		v := o.fleet.GetVolume(loc.VolumeID)
		if v == nil {
			o.unavailable[loc.Index] = true
			continue
		}
		s, err := slice.New(o.ID, v, o.pl, loc.Index)
		if err != nil {
			return err
		}
		slices[loc.Index] = s
		volIDs[loc.Index] = loc.VolumeID
	}
	o.slices = slices
	o.sliceVolumeID = volIDs
	return nil
}

// PrepareForRead opens the reader over this object's slices.
func (o *FileObject) PrepareForRead() error {
	if err := o.transition([]State{StateLoaded}, StateReading, "prepareForRead"); err != nil {
		return err
	}
	readable := func(i int) bool {
		v := o.fleet.GetVolume(o.sliceVolumeID[i])
		return v != nil && v.IsReadable()
	}
	r, err := reader.New(o.pl, o.slices, o.unavailable, readable)
	if err != nil {
		return err
	}
	o.r = r
	o.registerVolumes()
	return nil
}

// SetReadRange delegates to the Reader.
func (o *FileObject) SetReadRange(start, end int64) error {
	return o.r.SetReadRange(start, end)
}

// ReadChunk delegates to the Reader.
func (o *FileObject) ReadChunk() ([]byte, error) {
	return o.r.ReadChunk()
}

// AcquireIOLock/ReleaseIOLock bracket one caller's read operation so that
// at most one setReadRange/readChunk sequence is in flight at a time, with
// FIFO fairness across waiters.
func (o *FileObject) AcquireIOLock() { o.ioLock.Acquire() }
func (o *FileObject) ReleaseIOLock() { o.ioLock.Release() }

// Delete tears down the object: aborts an in-progress write, or runs a
// Destroyer over its committed slices, then removes the metadata record.
func (o *FileObject) Delete() error {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	if state == StateWriting {
		err := o.w.Abort()
		o.releaseVolumes()
		o.mu.Lock()
		o.state = StateDeleted
		o.mu.Unlock()
		return err
	}

	d := &destroyer{slices: o.slices}
	d.destroy(o.ID.String())

	o.mu.Lock()
	o.state = StateDeleted
	o.mu.Unlock()

	if o.record != nil {
		return o.metaStore.DeleteObjectByID(o.ID)
	}
	return nil
}

// Close tears down a reader handle (read path only); writers close as
// part of Commit/Delete. Safe to call more than once.
func (o *FileObject) Close() {
	o.mu.Lock()
	if o.state == StateClosed || o.state == StateDeleted {
		o.mu.Unlock()
		return
	}
	o.state = StateClosed
	o.mu.Unlock()

	if o.r != nil {
		o.r.Close()
		o.releaseVolumes()
	}
}
