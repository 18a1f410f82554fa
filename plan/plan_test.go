package plan

import (
	"testing"

	"github.com/signal24/strubs/internal/tassert"
)

func TestBuildRejectsBadInputs(t *testing.T) {
	if _, err := Build(-1, 4096, 4, 2); err == nil {
		t.Fatal("want error for negative file size")
	}
	if _, err := Build(0, 4096, 0, 2); err == nil {
		t.Fatal("want error for zero data slices")
	}
	if _, err := Build(0, 4096, 4, -1); err == nil {
		t.Fatal("want error for negative parity slices")
	}
	if _, err := Build(0, 16, 4, 2); err == nil {
		t.Fatal("want error for chunk size too small for header")
	}
}

func TestBuildEmptyObject(t *testing.T) {
	pl, err := Build(0, 4096, 4, 2)
	tassert.Fatal(t, err)
	tassert.Fatalf(t, pl.ChunkSetCount() >= 1, "empty object still needs a start chunk set, got %d", pl.ChunkSetCount())
	tassert.Fatalf(t, pl.EndChunkDataSize == 0, "empty object shouldn't need an end chunk set")
}

func TestChunkDataSizesAre8ByteAligned(t *testing.T) {
	pl, err := Build(1<<20+37, 4096, 4, 2)
	tassert.Fatal(t, err)

	for i := 0; i < pl.ChunkSetCount(); i++ {
		sz := pl.ChunkDataSize(i)
		tassert.Errorf(t, sz%8 == 0, "chunk set %d size %d not 8-byte aligned", i, sz)
	}
}

func TestChunkDataCoversWholeFile(t *testing.T) {
	const chunkSize = 4096
	for _, fileSize := range []int64{0, 1, 7, 4095, 4096*4 + 1, 10_000_000} {
		pl, err := Build(fileSize, chunkSize, 4, 2)
		tassert.Fatal(t, err)

		var total int64
		for i := 0; i < pl.ChunkSetCount(); i++ {
			total += pl.ChunkDataSize(i) * int64(pl.DataSliceCount)
		}
		tassert.Fatalf(t, total >= fileSize,
			"fileSize %d: reserved data capacity %d is short", fileSize, total)

		// Every chunk set beyond the first must cover the file by the
		// time we reach the end, i.e. the reserved capacity shouldn't
		// exceed the file size by more than one full chunk set's worth
		// of alignment padding.
		slack := total - fileSize
		maxChunk := pl.StandardChunkDataSize
		if pl.StartChunkDataSize > maxChunk {
			maxChunk = pl.StartChunkDataSize
		}
		tassert.Errorf(t, slack <= maxChunk*int64(pl.DataSliceCount)+8,
			"fileSize %d: slack %d implausibly large", fileSize, slack)
	}
}

func TestSliceSizeAccountsForAllRecords(t *testing.T) {
	pl, err := Build(10_000_000, 4096, 4, 2)
	tassert.Fatal(t, err)
	tassert.Fatalf(t, pl.SliceSize > 0, "slice size must be positive")
	// 1 start + 611 standard + 1 end chunk record:
	// 48 + ceil(10_000_000/4) + 16*613 = 2_509_856.
	tassert.Fatalf(t, pl.ChunkSetCount() == 613, "want 613 chunk records, got %d", pl.ChunkSetCount())
	tassert.Fatalf(t, pl.SliceSize == 2_509_856, "want slice size 2509856, got %d", pl.SliceSize)
}
