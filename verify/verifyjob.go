package verify

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/ioabort"
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/slice"
	"github.com/signal24/strubs/store"
	"github.com/signal24/strubs/volume"
)

// Status is the snapshot getStatus() returns (spec.md §4.7 step 8).
type Status struct {
	Running         bool
	StartedAt       int64
	ObjectsVerified int64
	ErrorsTotal     int64
	ErrorsByVolume  map[string]int64
}

// VerifyJob drives exactly one concurrent scan; Start on an already-running
// job returns the existing startedAt instead of launching a second one
// (spec.md §5, "VerifyJob: exactly one running instance").
type VerifyJob struct {
	metaStore store.ObjectMetaStore
	cfgStore  store.RuntimeConfigStore
	fleet     *volume.Fleet
	batchSize int

	mu              sync.Mutex
	running         bool
	startedAt       int64
	objectsVerified int64
	errTotal        int64
	errChecksum     int64
	errByVolume     map[string]int64

	aborted atomic.Bool
}

// New constructs a VerifyJob. batchSize must be >= 1.
func New(metaStore store.ObjectMetaStore, cfgStore store.RuntimeConfigStore, fleet *volume.Fleet, batchSize int) *VerifyJob {
	if batchSize < 1 {
		batchSize = 1
	}
	return &VerifyJob{metaStore: metaStore, cfgStore: cfgStore, fleet: fleet, batchSize: batchSize}
}

// Start begins (or resumes) a scan, or returns the in-flight scan's
// startedAt if one is already running.
func (v *VerifyJob) Start() (int64, error) {
	v.mu.Lock()
	if v.running {
		startedAt := v.startedAt
		v.mu.Unlock()
		return startedAt, nil
	}
	v.running = true
	v.mu.Unlock()

	v.aborted.Store(false)

	raw, present, err := v.cfgStore.Get(store.KeyVerifyStartedAt)
	if err != nil {
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
		return 0, err
	}

	var startedAt int64
	if present {
		startedAt, _ = strconv.ParseInt(raw, 10, 64)
	} else {
		startedAt = time.Now().Unix()
		if err := v.cfgStore.Set(store.KeyVerifyStartedAt, strconv.FormatInt(startedAt, 10)); err != nil {
			v.mu.Lock()
			v.running = false
			v.mu.Unlock()
			return 0, err
		}
	}

	v.mu.Lock()
	v.startedAt = startedAt
	v.objectsVerified = 0
	v.errTotal = 0
	v.errChecksum = 0
	v.errByVolume = map[string]int64{}
	v.mu.Unlock()

	for _, e := range v.fleet.GetVolumeEntries() {
		e.Volume.SetVerifyErrors(nil)
		if err := v.metaStore.SetVolumeVerifyErrors(e.ID, 0, 0); err != nil {
			glog.Warningf("verify: resetting volume %s counters: %v", e.ID, err)
		}
	}

	go v.run()
	return startedAt, nil
}

// Stop requests the running scan to abort: the current object's slice
// being read still completes, but further slices are treated as aborted
// and the object's lastVerifiedAt is left untouched so it's re-picked up
// on the next Start (spec.md §4.7 step 7).
func (v *VerifyJob) Stop() {
	v.aborted.Store(true)
}

// run fetches and verifies batches until one comes back empty. It passes
// the same startedAt on every call instead of tracking a separate cursor:
// UpdateObjectVerificationState sets each finished object's lastVerifiedAt
// to startedAt, so a repeated FindObjectsNeedingVerification(startedAt, ...)
// call naturally excludes everything already visited this run (including
// objects verified before a Stop()/Start() resume), satisfying "visits each
// object at most once per run" (spec.md §8) without extra bookkeeping.
func (v *VerifyJob) run() {
	for {
		if v.aborted.Load() {
			v.mu.Lock()
			v.running = false
			v.mu.Unlock()
			return
		}

		batch, err := v.metaStore.FindObjectsNeedingVerification(v.startedAt, v.batchSize)
		if err != nil {
			glog.Errorf("verify: fetching batch: %v", err)
			v.mu.Lock()
			v.running = false
			v.mu.Unlock()
			return
		}
		if len(batch) == 0 {
			v.finish()
			return
		}

		for _, rec := range batch {
			if v.aborted.Load() {
				v.mu.Lock()
				v.running = false
				v.mu.Unlock()
				return
			}
			v.verifyObject(rec)
		}
	}
}

func (v *VerifyJob) verifyObject(rec *store.StoredObjectRecord) {
	pl, err := plan.Build(rec.FileSize, rec.ChunkSize, rec.DataSliceCount, rec.ParitySliceCount)
	if err != nil {
		glog.Errorf("verify: object %s: rebuilding plan: %v", rec.ObjectID, err)
		return
	}
	sv := NewSliceVerifier(pl)

	type delta struct{ checksum, total int64 }
	volDeltas := map[string]delta{}
	sliceErrs := map[int]store.SliceErrorInfo{}
	abortedMidObject := false

	for _, loc := range rec.Slices {
		if v.aborted.Load() || ioabort.IsAborted() {
			abortedMidObject = true
			break
		}

		kind := cmn.KindData
		if loc.Index >= rec.DataSliceCount {
			kind = cmn.KindParity
		}

		vol := v.fleet.GetVolume(loc.VolumeID)
		if vol == nil {
			sliceErrs[loc.Index] = store.SliceErrorInfo{Type: kind, Err: "volume unavailable"}
			continue
		}
		vol.Gate().WaitForAccess(volume.PriorityLow)

		s, err := slice.New(rec.ObjectID, vol, pl, loc.Index)
		if err == nil {
			err = sv.VerifySlice(s)
		}
		if err == nil {
			continue
		}
		if cmn.IsAborted(err) {
			abortedMidObject = true
			break
		}

		d := volDeltas[loc.VolumeID]
		d.total++
		info := store.SliceErrorInfo{Type: kind}
		if cmn.IsChecksumError(err) {
			d.checksum++
			info.Checksum = true
		} else {
			info.Err = err.Error()
		}
		sliceErrs[loc.Index] = info
		volDeltas[loc.VolumeID] = d
	}

	if abortedMidObject {
		return
	}

	var totalDelta, checksumDelta int64
	for volID, d := range volDeltas {
		if vol := v.fleet.GetVolume(volID); vol != nil {
			vol.IncVerifyErrors(d.checksum, d.total)
		}
		if err := v.metaStore.SetVolumeVerifyErrors(volID, d.checksum, d.total); err != nil {
			glog.Warningf("verify: persisting volume %s error counts: %v", volID, err)
		}
		v.mu.Lock()
		if v.errByVolume == nil {
			v.errByVolume = map[string]int64{}
		}
		v.errByVolume[volID] += d.total
		v.mu.Unlock()
		totalDelta += d.total
		checksumDelta += d.checksum
	}

	var persisted map[int]store.SliceErrorInfo
	if len(sliceErrs) > 0 {
		persisted = sliceErrs
	}
	if err := v.metaStore.UpdateObjectVerificationState(rec.ObjectID, v.startedAt, persisted); err != nil {
		glog.Errorf("verify: object %s: updating verification state: %v", rec.ObjectID, err)
	}

	v.mu.Lock()
	v.objectsVerified++
	v.errTotal += totalDelta
	v.errChecksum += checksumDelta
	v.mu.Unlock()
}

func (v *VerifyJob) finish() {
	v.mu.Lock()
	summary := fmt.Sprintf(`{"startedAt":%d,"checksumErrors":%d,"totalErrors":%d,"finishedAt":%d}`,
		v.startedAt, v.errChecksum, v.errTotal, time.Now().Unix())
	v.running = false
	v.mu.Unlock()

	if err := v.cfgStore.Set(store.KeyLastVerify, summary); err != nil {
		glog.Errorf("verify: persisting lastVerify: %v", err)
	}
	if err := v.cfgStore.Delete(store.KeyVerifyStartedAt); err != nil {
		glog.Warningf("verify: clearing verifyStartedAt: %v", err)
	}
}

// GetStatus returns a snapshot of the job's current (or last) run.
func (v *VerifyJob) GetStatus() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	vols := make(map[string]int64, len(v.errByVolume))
	for k, val := range v.errByVolume {
		vols[k] = val
	}
	return Status{
		Running:         v.running,
		StartedAt:       v.startedAt,
		ObjectsVerified: v.objectsVerified,
		ErrorsTotal:     v.errTotal,
		ErrorsByVolume:  vols,
	}
}
