package slice_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/internal/tassert"
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/slice"
	"github.com/signal24/strubs/volume"
)

func newTestVolume(t *testing.T) *volume.Volume {
	t.Helper()
	v := volume.New(volume.Config{ID: "v0", MountPoint: t.TempDir()})
	tassert.Fatal(t, v.Start())
	return v
}

func TestSliceWriteCommitReadRoundTrip(t *testing.T) {
	v := newTestVolume(t)
	pl, err := plan.Build(64, 4096, 2, 1)
	tassert.Fatal(t, err)

	id := cmn.NewObjectID()
	s, err := slice.New(id, v, pl, 0)
	tassert.Fatal(t, err)

	tassert.Fatal(t, s.Create())
	payload := bytes.Repeat([]byte{0x42}, int(pl.StartChunkDataSize))
	tassert.Fatal(t, s.WriteChunk(payload))
	tassert.Fatal(t, s.Commit())
	tassert.Fatal(t, s.Close())

	tassert.Fatalf(t, s.IsCommitted(), "slice should be committed")
	tassert.Fatalf(t, v.BytesUsedData() == pl.SliceSize, "want %d bytes credited, got %d", pl.SliceSize, v.BytesUsedData())

	r, err := slice.New(id, v, pl, 0)
	tassert.Fatal(t, err)
	tassert.Fatal(t, r.Open())
	tassert.Fatal(t, r.SeekToHead())

	got, err := r.ReadChunk(pl.StartChunkDataSize)
	tassert.Fatal(t, err)
	if !bytes.Equal(got, payload) {
		t.Fatal("read payload does not match written payload")
	}
	tassert.Fatal(t, r.Close())
}

func TestSliceReadDetectsChecksumCorruption(t *testing.T) {
	v := newTestVolume(t)
	pl, err := plan.Build(64, 4096, 2, 1)
	tassert.Fatal(t, err)

	id := cmn.NewObjectID()
	s, err := slice.New(id, v, pl, 0)
	tassert.Fatal(t, err)
	tassert.Fatal(t, s.Create())
	payload := bytes.Repeat([]byte{0x7}, int(pl.StartChunkDataSize))
	tassert.Fatal(t, s.WriteChunk(payload))
	tassert.Fatal(t, s.Commit())
	tassert.Fatal(t, s.Close())

	// Corrupt one byte of the chunk payload on disk, past the header.
	path := v.GetCommittedPath(s.FileName())
	buf, err := os.ReadFile(path)
	tassert.Fatal(t, err)
	buf[cmn.FileHeaderSize+cmn.ChunkHeaderSize] ^= 0xFF
	tassert.Fatal(t, os.WriteFile(path, buf, 0o644))

	r, err := slice.New(id, v, pl, 0)
	tassert.Fatal(t, err)
	tassert.Fatal(t, r.Open())
	tassert.Fatal(t, r.SeekToHead())

	_, err = r.ReadChunk(pl.StartChunkDataSize)
	if err == nil {
		t.Fatal("want checksum mismatch error, got nil")
	}
	sliceErr, ok := err.(*cmn.SliceError)
	if !ok || sliceErr.Kind != cmn.SliceChecksumMismatch {
		t.Fatalf("want SliceChecksumMismatch, got %v", err)
	}
}

func TestSliceDeleteAfterAbortReleasesReservation(t *testing.T) {
	v := newTestVolume(t)
	pl, err := plan.Build(64, 4096, 2, 1)
	tassert.Fatal(t, err)

	id := cmn.NewObjectID()
	s, err := slice.New(id, v, pl, 0)
	tassert.Fatal(t, err)
	tassert.Fatal(t, v.ReserveSpace(s.ReservedBytes()))
	tassert.Fatal(t, s.Create())

	tassert.Fatal(t, s.Delete())
	tassert.Fatalf(t, v.BytesPending() == 0, "want pending bytes released, got %d", v.BytesPending())
	tassert.Fatalf(t, v.BytesUsedData() == 0, "delete before commit shouldn't touch used-bytes counters")
}

func TestSliceSequentialChunkRecordsReadBackInOrder(t *testing.T) {
	v := newTestVolume(t)
	pl, err := plan.Build(1_000_000, 4096, 2, 1)
	tassert.Fatal(t, err)
	tassert.Fatalf(t, pl.ChunkSetCount() > 2, "test needs a plan with multiple chunk sets, got %d", pl.ChunkSetCount())

	id := cmn.NewObjectID()
	s, err := slice.New(id, v, pl, 0)
	tassert.Fatal(t, err)
	tassert.Fatal(t, s.Create())

	var payloads [][]byte
	for i := 0; i < pl.ChunkSetCount(); i++ {
		p := bytes.Repeat([]byte{byte(i + 1)}, int(pl.ChunkDataSize(i)))
		payloads = append(payloads, p)
		tassert.Fatal(t, s.WriteChunk(p))
	}
	tassert.Fatal(t, s.Commit())
	tassert.Fatal(t, s.Close())

	r, err := slice.New(id, v, pl, 0)
	tassert.Fatal(t, err)
	tassert.Fatal(t, r.Open())
	tassert.Fatal(t, r.SeekToHead())

	for i, want := range payloads {
		got, err := r.ReadChunk(pl.ChunkDataSize(i))
		tassert.Fatal(t, err)
		if !bytes.Equal(got, want) {
			t.Fatalf("chunk %d: mismatch", i)
		}
	}
	tassert.Fatal(t, r.Close())
}
