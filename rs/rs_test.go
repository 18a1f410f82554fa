package rs

import (
	"bytes"
	"testing"

	"github.com/signal24/strubs/internal/tassert"
)

func shardsOf(data, parity, size int) [][]byte {
	out := make([][]byte, data+parity)
	for i := range out {
		out[i] = make([]byte, size)
	}
	return out
}

func TestEncodeThenReconstructMissingData(t *testing.T) {
	const data, parity, size = 4, 2, 64
	codec, err := New(data, parity)
	tassert.Fatal(t, err)

	shards := shardsOf(data, parity, size)
	for i := 0; i < data; i++ {
		for j := range shards[i] {
			shards[i][j] = byte(i*31 + j)
		}
	}
	want := make([][]byte, data)
	for i := 0; i < data; i++ {
		want[i] = append([]byte(nil), shards[i]...)
	}

	tassert.Fatal(t, codec.Encode(shards))

	// Drop one data shard, reconstruct from the rest.
	active := []int{1, 2, 3, 4, 5}
	shards[0] = make([]byte, size)
	bm := NewBitmap(data+parity, active)
	tassert.Fatal(t, codec.Reconstruct(shards, bm))

	for i := 0; i < data; i++ {
		if !bytes.Equal(shards[i], want[i]) {
			t.Fatalf("shard %d: reconstructed mismatch", i)
		}
	}
}

func TestReconstructTwoMissingDataShardsFromMinimumSources(t *testing.T) {
	const data, parity, size = 3, 2, 32
	codec, err := New(data, parity)
	tassert.Fatal(t, err)

	shards := shardsOf(data, parity, size)
	for i := 0; i < data; i++ {
		for j := range shards[i] {
			shards[i][j] = byte(i + j)
		}
	}
	tassert.Fatal(t, codec.Encode(shards))

	orig := make([][]byte, data)
	for i := 0; i < data; i++ {
		orig[i] = append([]byte(nil), shards[i]...)
	}

	// Keep one data shard and both parity shards as sources: exactly
	// dataCount sources, the minimum for full reconstruction.
	active := []int{2, 3, 4}
	shards[0], shards[1] = make([]byte, size), make([]byte, size)
	bm := NewBitmap(data+parity, active)
	tassert.Fatal(t, codec.Reconstruct(shards, bm))

	for i := 0; i < data-1; i++ {
		if !bytes.Equal(shards[i], orig[i]) {
			t.Fatalf("shard %d: reconstructed mismatch", i)
		}
	}
}

func TestNewBitmapMarksComplement(t *testing.T) {
	bm := NewBitmap(5, []int{0, 2, 4})
	if bm.Sources != (1<<0 | 1<<2 | 1<<4) {
		t.Fatalf("unexpected sources bitmap: %b", bm.Sources)
	}
	if bm.Targets != (1<<1 | 1<<3) {
		t.Fatalf("unexpected targets bitmap: %b", bm.Targets)
	}
}
