package object

import (
	"bytes"
	"crypto/md5"
	"testing"

	"github.com/signal24/strubs/internal/tassert"
	"github.com/signal24/strubs/internal/teststore"
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/volume"
)

func newTestFleet(t *testing.T, n int) *volume.Fleet {
	t.Helper()
	fleet := volume.NewFleet()
	for i := 0; i < n; i++ {
		v := volume.New(volume.Config{ID: string(rune('a' + i)), MountPoint: t.TempDir(), DeviceGroup: "g0"})
		tassert.Fatal(t, v.Start())
		fleet.Add(v)
	}
	return fleet
}

func newTestObject(t *testing.T, fleet *volume.Fleet, meta *teststore.MetaStore) *FileObject {
	t.Helper()
	planner := &plan.Planner{
		Fleet:            planFleet{fleet: fleet},
		ChunkSize:        4096,
		DataSliceCount:   2,
		ParitySliceCount: 1,
	}
	return New(fleet, planner, meta, PriorityNormal, "test")
}

func writeWholeObject(t *testing.T, o *FileObject, path string, data []byte) {
	t.Helper()
	tassert.Fatal(t, o.CreateWithSize(path, int64(len(data))))
	tassert.Fatal(t, o.Write(data))
	tassert.Fatal(t, o.Finish())
	tassert.Fatal(t, o.Commit())
}

func TestWriteCommitReadRoundTrip(t *testing.T) {
	fleet := newTestFleet(t, 3)
	meta := teststore.NewMetaStore()

	data := bytes.Repeat([]byte("strubs-object-body-"), 500)
	writer := newTestObject(t, fleet, meta)
	writeWholeObject(t, writer, "/bucket/obj1", data)

	rec, err := meta.GetObjectByPath("/bucket/obj1")
	tassert.Fatal(t, err)
	if rec.MD5 != md5.Sum(data) {
		t.Fatal("stored MD5 doesn't match the written content")
	}

	reader := newTestObject(t, fleet, meta)
	tassert.Fatal(t, reader.LoadFromRecord(rec))
	tassert.Fatal(t, reader.PrepareForRead())
	tassert.Fatal(t, reader.SetReadRange(0, int64(len(data))))

	var got []byte
	for {
		chunk, err := reader.ReadChunk()
		tassert.Fatal(t, err)
		if chunk == nil {
			break
		}
		got = append(got, chunk...)
	}
	reader.Close()

	if !bytes.Equal(got, data) {
		t.Fatalf("read-back content mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestReadSurvivesOneMissingDataVolume(t *testing.T) {
	fleet := newTestFleet(t, 3)
	meta := teststore.NewMetaStore()

	data := bytes.Repeat([]byte("x"), 10_000)
	writer := newTestObject(t, fleet, meta)
	writeWholeObject(t, writer, "/bucket/obj2", data)

	rec, err := meta.GetObjectByPath("/bucket/obj2")
	tassert.Fatal(t, err)

	// Drop the volume holding slice index 0, forcing reconstruction.
	downVolID := rec.Slices[0].VolumeID
	fleet.Remove(downVolID)

	reader := newTestObject(t, fleet, meta)
	tassert.Fatal(t, reader.LoadFromRecord(rec))
	tassert.Fatal(t, reader.PrepareForRead())
	tassert.Fatal(t, reader.SetReadRange(0, int64(len(data))))

	var got []byte
	for {
		chunk, err := reader.ReadChunk()
		tassert.Fatal(t, err)
		if chunk == nil {
			break
		}
		got = append(got, chunk...)
	}
	reader.Close()

	if !bytes.Equal(got, data) {
		t.Fatal("reconstructed content mismatch after losing one data volume")
	}
}

func TestPartialReadRange(t *testing.T) {
	fleet := newTestFleet(t, 3)
	meta := teststore.NewMetaStore()

	data := bytes.Repeat([]byte("0123456789"), 2000)
	writer := newTestObject(t, fleet, meta)
	writeWholeObject(t, writer, "/bucket/obj3", data)

	rec, err := meta.GetObjectByPath("/bucket/obj3")
	tassert.Fatal(t, err)

	reader := newTestObject(t, fleet, meta)
	tassert.Fatal(t, reader.LoadFromRecord(rec))
	tassert.Fatal(t, reader.PrepareForRead())

	const start, end = 2500, 7500
	tassert.Fatal(t, reader.SetReadRange(start, end))

	var got []byte
	for {
		chunk, err := reader.ReadChunk()
		tassert.Fatal(t, err)
		if chunk == nil {
			break
		}
		got = append(got, chunk...)
	}
	reader.Close()

	if !bytes.Equal(got, data[start:end]) {
		t.Fatalf("partial range mismatch: got %d bytes, want %d", len(got), end-start)
	}
}

func TestDeleteDuringWriteAborts(t *testing.T) {
	fleet := newTestFleet(t, 3)
	meta := teststore.NewMetaStore()
	o := newTestObject(t, fleet, meta)

	tassert.Fatal(t, o.CreateWithSize("/bucket/obj4", 100))
	tassert.Fatal(t, o.Delete())

	if _, err := meta.GetObjectByPath("/bucket/obj4"); err == nil {
		t.Fatal("aborted write should never have created a metadata record")
	}
}

func TestDeleteAfterCommitRemovesRecord(t *testing.T) {
	fleet := newTestFleet(t, 3)
	meta := teststore.NewMetaStore()

	o := newTestObject(t, fleet, meta)
	writeWholeObject(t, o, "/bucket/obj5", []byte("small"))

	rec, err := meta.GetObjectByPath("/bucket/obj5")
	tassert.Fatal(t, err)

	reader := newTestObject(t, fleet, meta)
	tassert.Fatal(t, reader.LoadFromRecord(rec))
	tassert.Fatal(t, reader.Delete())

	if _, err := meta.GetObjectByPath("/bucket/obj5"); err == nil {
		t.Fatal("record should be gone after Delete")
	}
}
