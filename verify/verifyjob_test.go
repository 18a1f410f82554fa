package verify_test

import (
	"bytes"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/internal/tassert"
	"github.com/signal24/strubs/internal/teststore"
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/slice"
	"github.com/signal24/strubs/store"
	"github.com/signal24/strubs/verify"
	"github.com/signal24/strubs/volume"
)

// writeObject builds D+P committed slices for a small object directly
// (bypassing the writer package, which isn't needed to exercise the
// verifier) and registers it with meta.
func writeObject(t *testing.T, fleet *volume.Fleet, meta *teststore.MetaStore, path string, corruptSliceIndex int) *store.StoredObjectRecord {
	t.Helper()
	const data, parity = 2, 1
	pl, err := plan.Build(10_000, 4096, data, parity)
	tassert.Fatal(t, err)

	entries := fleet.GetVolumeEntries()
	tassert.Fatalf(t, len(entries) >= data+parity, "test fleet too small")

	id := cmn.NewObjectID()
	rec := &store.StoredObjectRecord{
		ObjectID: id, ContainerPath: path, FileSize: pl.FileSize, ChunkSize: pl.ChunkSize,
		DataSliceCount: data, ParitySliceCount: parity,
		Slices: make([]store.SliceLocation, data+parity),
	}

	for i := 0; i < data+parity; i++ {
		vol := entries[i].Volume
		s, err := slice.New(id, vol, pl, i)
		tassert.Fatal(t, err)
		tassert.Fatal(t, s.Create())
		for j := 0; j < pl.ChunkSetCount(); j++ {
			payload := bytes.Repeat([]byte{byte(i + 1)}, int(pl.ChunkDataSize(j)))
			tassert.Fatal(t, s.WriteChunk(payload))
		}
		tassert.Fatal(t, s.Commit())
		tassert.Fatal(t, s.Close())
		rec.Slices[i] = store.SliceLocation{Index: i, VolumeID: entries[i].ID}

		if i == corruptSliceIndex {
			p := vol.GetCommittedPath(s.FileName())
			buf, err := os.ReadFile(p)
			tassert.Fatal(t, err)
			buf[cmn.FileHeaderSize+cmn.ChunkHeaderSize] ^= 0xFF
			tassert.Fatal(t, os.WriteFile(p, buf, 0o644))
		}
	}

	tassert.Fatal(t, meta.CreateObjectRecord(rec))
	return rec
}

func newFleet(t *testing.T, n int) *volume.Fleet {
	t.Helper()
	fleet := volume.NewFleet()
	for i := 0; i < n; i++ {
		v := volume.New(volume.Config{ID: string(rune('a' + i)), MountPoint: t.TempDir()})
		tassert.Fatal(t, v.Start())
		fleet.Add(v)
	}
	return fleet
}

func waitForJobToFinish(t *testing.T, job *verify.VerifyJob) verify.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := job.GetStatus()
		if !st.Running {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("verify job never finished")
	return verify.Status{}
}

func TestVerifyJobMarksIntactObjectOK(t *testing.T) {
	fleet := newFleet(t, 3)
	meta := teststore.NewMetaStore()
	cfg := teststore.NewConfigStore()

	writeObject(t, fleet, meta, "/b/intact", -1)

	job := verify.New(meta, cfg, fleet, 10)
	_, err := job.Start()
	tassert.Fatal(t, err)
	waitForJobToFinish(t, job)

	rec, err := meta.GetObjectByPath("/b/intact")
	tassert.Fatal(t, err)
	if rec.VerificationState != store.VerificationOK {
		t.Fatalf("want VerificationOK, got %v", rec.VerificationState)
	}
}

func TestVerifyJobMarksCorruptObjectFailed(t *testing.T) {
	fleet := newFleet(t, 3)
	meta := teststore.NewMetaStore()
	cfg := teststore.NewConfigStore()

	writeObject(t, fleet, meta, "/b/broken", 0)

	job := verify.New(meta, cfg, fleet, 10)
	_, err := job.Start()
	tassert.Fatal(t, err)
	waitForJobToFinish(t, job)

	rec, err := meta.GetObjectByPath("/b/broken")
	tassert.Fatal(t, err)
	if rec.VerificationState != store.VerificationFailed {
		t.Fatalf("want VerificationFailed, got %v", rec.VerificationState)
	}

	st := job.GetStatus()
	if st.ErrorsTotal == 0 {
		t.Fatal("want at least one error tallied")
	}
}

// TestVerifyJobResumeSkipsAlreadyVerifiedObjects exercises a Stop()/Start()
// resume: an object already marked verified under a still-persisted
// startedAt (the state UpdateObjectVerificationState would leave it in right
// before a Stop()) must not be revisited when the same startedAt is reused,
// so the resumed run verifies each remaining object exactly once (spec.md
// §8, "Verify resume").
func TestVerifyJobResumeSkipsAlreadyVerifiedObjects(t *testing.T) {
	fleet := newFleet(t, 3)
	meta := teststore.NewMetaStore()
	cfg := teststore.NewConfigStore()

	rec1 := writeObject(t, fleet, meta, "/b/one", -1)
	writeObject(t, fleet, meta, "/b/two", -1)
	writeObject(t, fleet, meta, "/b/three", -1)

	const startedAt = 1_000_000
	tassert.Fatal(t, meta.UpdateObjectVerificationState(rec1.ObjectID, startedAt, nil))
	tassert.Fatal(t, cfg.Set(store.KeyVerifyStartedAt, strconv.FormatInt(startedAt, 10)))

	job := verify.New(meta, cfg, fleet, 10)
	gotStartedAt, err := job.Start()
	tassert.Fatal(t, err)
	if gotStartedAt != startedAt {
		t.Fatalf("resumed Start() should reuse the persisted startedAt, got %d want %d", gotStartedAt, startedAt)
	}
	st := waitForJobToFinish(t, job)

	if st.ObjectsVerified != 2 {
		t.Fatalf("resume should verify only the 2 objects not yet covered this run, got %d", st.ObjectsVerified)
	}

	got1, err := meta.GetObjectByID(rec1.ObjectID)
	tassert.Fatal(t, err)
	if got1.LastVerifiedAt != startedAt {
		t.Fatalf("pre-verified object's lastVerifiedAt should be untouched by the resumed run, got %d", got1.LastVerifiedAt)
	}
}

func TestVerifyJobStartIsSingleFlight(t *testing.T) {
	fleet := newFleet(t, 3)
	meta := teststore.NewMetaStore()
	cfg := teststore.NewConfigStore()
	writeObject(t, fleet, meta, "/b/one", -1)

	job := verify.New(meta, cfg, fleet, 10)
	first, err := job.Start()
	tassert.Fatal(t, err)
	second, err := job.Start()
	tassert.Fatal(t, err)
	if first != second {
		t.Fatalf("second Start() while running should return the same startedAt, got %d vs %d", first, second)
	}
	waitForJobToFinish(t, job)
}
