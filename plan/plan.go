// Package plan derives the per-object slice/chunk layout from the four
// inputs spec.md §3 names: file size, chunk size, data-slice count, and
// parity-slice count. Plan is pure: it touches no disk and no volume.
package plan

import (
	"fmt"

	"github.com/signal24/strubs/cmn"
)

// align8 rounds n up to the nearest multiple of 8, the alignment the
// underlying RS encoder requires (spec.md §9, last bullet).
func align8(n int64) int64 {
	if n <= 0 {
		return 8
	}
	return (n + 7) &^ 7
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Plan is the immutable, purely-derived layout of one object's stripe.
type Plan struct {
	FileSize         int64
	ChunkSize        int
	DataSliceCount   int
	ParitySliceCount int

	// StartChunkDataSize is the plaintext payload size of the first
	// ("start") chunk set per data slice.
	StartChunkDataSize int64
	// StandardChunkDataSize is the plaintext payload size of every
	// interior ("standard") chunk.
	StandardChunkDataSize int64
	// EndChunkDataSize is the plaintext payload size of the final
	// ("end") chunk set per data slice; zero if there is no end set.
	EndChunkDataSize int64

	// StandardChunkSetOffset is the offset in the object's plaintext at
	// which standard chunk sets begin: StartChunkDataSize * DataSliceCount.
	StandardChunkSetOffset int64
	// StandardChunkCountPerSlice is the number of whole standard chunk
	// sets after the start set and before the end set.
	StandardChunkCountPerSlice int

	// SliceSize is the reserved on-disk capacity of one slice file,
	// header included.
	SliceSize int64
}

// Build derives a Plan from its four inputs. fileSize may be zero (an
// empty object still gets a valid, degenerate plan).
func Build(fileSize int64, chunkSize, dataSliceCount, paritySliceCount int) (*Plan, error) {
	if fileSize < 0 {
		return nil, fmt.Errorf("plan: file size must be >= 0, got %d", fileSize)
	}
	if dataSliceCount < 1 {
		return nil, fmt.Errorf("plan: data slice count must be >= 1, got %d", dataSliceCount)
	}
	if paritySliceCount < 0 {
		return nil, fmt.Errorf("plan: parity slice count must be >= 0, got %d", paritySliceCount)
	}
	if chunkSize <= cmn.ChunkHeaderSize {
		return nil, fmt.Errorf("plan: chunk size %d too small for header %d", chunkSize, cmn.ChunkHeaderSize)
	}

	p := &Plan{
		FileSize:         fileSize,
		ChunkSize:        chunkSize,
		DataSliceCount:   dataSliceCount,
		ParitySliceCount: paritySliceCount,
	}

	const H = int64(cmn.FileHeaderSize)
	const C = int64(cmn.ChunkHeaderSize)
	D := int64(dataSliceCount)

	standardChunkDataSize := int64(chunkSize) - C
	p.StandardChunkDataSize = standardChunkDataSize

	startRaw := minI64(standardChunkDataSize-H, fileSize/D)
	p.StartChunkDataSize = align8(maxI64(1, startRaw))

	p.StandardChunkSetOffset = p.StartChunkDataSize * D

	remaining := fileSize - p.StandardChunkSetOffset
	if remaining < 0 {
		remaining = 0
	}

	standardBytesPerSet := standardChunkDataSize * D
	if standardBytesPerSet <= 0 {
		p.StandardChunkCountPerSlice = 0
	} else {
		p.StandardChunkCountPerSlice = int(remaining / standardBytesPerSet)
	}
	standardBytes := int64(p.StandardChunkCountPerSlice) * standardBytesPerSet

	tailBytes := remaining - standardBytes
	if tailBytes > 0 {
		p.EndChunkDataSize = align8(ceilDiv(tailBytes, D))
	}

	chunkRecords := int64(1 + p.StandardChunkCountPerSlice)
	if p.EndChunkDataSize > 0 {
		chunkRecords++
	}
	p.SliceSize = H + ceilDiv(fileSize, D) + C*chunkRecords

	return p, nil
}

// ChunkDataSize returns the plaintext payload size for the chunk at the
// given zero-based chunk-set index within one data slice's stream: index 0
// is the start chunk, the last index (if EndChunkDataSize > 0) is the end
// chunk, everything between is standard.
func (p *Plan) ChunkDataSize(chunkSetIndex int) int64 {
	switch {
	case chunkSetIndex == 0:
		return p.StartChunkDataSize
	case p.EndChunkDataSize > 0 && chunkSetIndex == p.StandardChunkCountPerSlice+1:
		return p.EndChunkDataSize
	default:
		return p.StandardChunkDataSize
	}
}

// ChunkSetCount returns the total number of chunk sets (start + standard +
// end) that make up this plan.
func (p *Plan) ChunkSetCount() int {
	n := 1 + p.StandardChunkCountPerSlice
	if p.EndChunkDataSize > 0 {
		n++
	}
	return n
}
