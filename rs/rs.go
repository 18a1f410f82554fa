// Package rs wraps klauspost/reedsolomon behind the bitmap-oriented API
// spec.md §4.3/§4.4 describe: encode a chunk set's data shards into its
// parity shards, or reconstruct missing shards given a source/target
// bitmap.
package rs

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Codec encodes and reconstructs one chunk set of dataCount+parityCount
// equal-size shards.
type Codec struct {
	dataCount   int
	parityCount int
	enc         reedsolomon.Encoder
}

// New builds a Codec for the given data/parity shard counts.
func New(dataCount, parityCount int) (*Codec, error) {
	enc, err := reedsolomon.New(dataCount, parityCount)
	if err != nil {
		return nil, fmt.Errorf("rs: %w", err)
	}
	return &Codec{dataCount: dataCount, parityCount: parityCount, enc: enc}, nil
}

// Encode fills shards[dataCount:] with parity computed from
// shards[:dataCount]. Every shard must already be allocated to the chunk
// size and the data shards fully populated.
func (c *Codec) Encode(shards [][]byte) error {
	if len(shards) != c.dataCount+c.parityCount {
		return fmt.Errorf("rs: encode: want %d shards, got %d", c.dataCount+c.parityCount, len(shards))
	}
	if err := c.enc.Encode(shards); err != nil {
		return fmt.Errorf("rs: encode: %w", err)
	}
	return nil
}

// Bitmap marks which of the dataCount+parityCount shard slots are present
// (Sources) or need reconstructing (Targets). Index i < dataCount is a
// data shard; i >= dataCount is a parity shard.
type Bitmap struct {
	Sources uint64
	Targets uint64
}

// NewBitmap builds a Bitmap from the set of active (present) shard
// indices; everything else in [0, total) is a target.
func NewBitmap(total int, active []int) Bitmap {
	var bm Bitmap
	activeSet := make(map[int]bool, len(active))
	for _, i := range active {
		activeSet[i] = true
		bm.Sources |= 1 << uint(i)
	}
	for i := 0; i < total; i++ {
		if !activeSet[i] {
			bm.Targets |= 1 << uint(i)
		}
	}
	return bm
}

// Reconstruct fills the shards named by bm.Targets using the shards named
// by bm.Sources. shards[i] for i in Targets must be allocated (length ==
// the other shards' length) but its contents are overwritten. shards[i]
// for i not in Sources or Targets may be nil.
func (c *Codec) Reconstruct(shards [][]byte, bm Bitmap) error {
	total := c.dataCount + c.parityCount
	if len(shards) != total {
		return fmt.Errorf("rs: reconstruct: want %d shards, got %d", total, len(shards))
	}
	required := make([]bool, total)
	for i := 0; i < total; i++ {
		if bm.Targets&(1<<uint(i)) != 0 {
			required[i] = true
			// reedsolomon treats any non-empty shard as present; a
			// zero-length shard keeps its capacity for reuse.
			shards[i] = shards[i][:0]
		}
	}
	if err := c.enc.ReconstructSome(shards, required); err != nil {
		return fmt.Errorf("rs: reconstruct: %w", err)
	}
	return nil
}

// DataCount returns the number of data shards this codec was built for.
func (c *Codec) DataCount() int { return c.dataCount }

// ParityCount returns the number of parity shards this codec was built for.
func (c *Codec) ParityCount() int { return c.parityCount }
