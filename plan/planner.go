package plan

import (
	"math/rand"
	"sort"

	"github.com/signal24/strubs/cmn"
)

// Volume is the planner's view of a writable volume: just enough to rank,
// pick, and reserve space on it. The concrete volume.Volume type satisfies
// this structurally; tests supply fakes.
type Volume interface {
	ID() string
	DeviceGroup() string
	// FreeForPlanning returns bytesFree - bytesPending, the ranking key.
	FreeForPlanning() int64
	ReserveSpace(n int64) error
}

// Fleet is the subset of the VolumeFleet collaborator (spec.md §6) the
// Planner depends on.
type Fleet interface {
	GetWritableVolumes() []Volume
}

// Planner picks writable volumes for a new object and reserves their
// space, per spec.md §4.2.
type Planner struct {
	Fleet            Fleet
	ChunkSize        int
	DataSliceCount   int
	ParitySliceCount int

	// Rand, when non-nil, is used for the volume-order shuffle; nil
	// selects a new process-seeded source. Tests inject a deterministic
	// source to pin the shuffle outcome.
	Rand *rand.Rand
}

// Picked is the outcome of a successful Plan call: the derived layout plus
// the volumes chosen for each stripe role.
type Picked struct {
	Plan          *Plan
	DataVolumes   []Volume
	ParityVolumes []Volume
}

// Plan derives a Plan for fileSize and selects D+P writable volumes for it,
// reserving SliceSize bytes on each. On any failure no reservation is left
// outstanding.
func (p *Planner) Plan(fileSize int64) (*Picked, error) {
	need := p.DataSliceCount + p.ParitySliceCount

	writable := p.Fleet.GetWritableVolumes()
	if len(writable) < need {
		return nil, &cmn.PlanError{Kind: cmn.PlanInsufficientVolumes, Want: need, Have: len(writable)}
	}

	// orderByGroupRoundRobin always flattens every bucket down to the last
	// volume, so it returns exactly len(writable) entries; since that's
	// already confirmed >= need above, there's no "not enough entries"
	// case left for a free-space-descending fallback to catch.
	ordered := orderByGroupRoundRobin(writable)

	chosen := append([]Volume(nil), ordered[:need]...)
	shuffle(chosen, p.Rand)

	dataVolumes := chosen[:p.DataSliceCount]
	parityVolumes := chosen[p.DataSliceCount:need]

	pl, err := Build(fileSize, p.ChunkSize, p.DataSliceCount, p.ParitySliceCount)
	if err != nil {
		return nil, err
	}

	reserved := make([]Volume, 0, need)
	for _, v := range chosen {
		if err := v.ReserveSpace(pl.SliceSize); err != nil {
			releaseAll(reserved, pl.SliceSize)
			return nil, err
		}
		reserved = append(reserved, v)
	}

	return &Picked{Plan: pl, DataVolumes: dataVolumes, ParityVolumes: parityVolumes}, nil
}

// releaser is satisfied by any Volume that also knows how to give back a
// reservation; volume.Volume implements it.
type releaser interface {
	ReleaseReservation(n int64)
}

func releaseAll(vols []Volume, n int64) {
	for _, v := range vols {
		if r, ok := v.(releaser); ok {
			r.ReleaseReservation(n)
		}
	}
}

// orderByGroupRoundRobin buckets volumes by device group, sorts each
// bucket by free space descending, then round-robin flattens across
// buckets so the first N entries span as many groups as possible
// (spec.md §4.2 step 4, "Planner group balance" in §8).
func orderByGroupRoundRobin(vols []Volume) []Volume {
	groups := map[string][]Volume{}
	var groupOrder []string
	for _, v := range vols {
		g := v.DeviceGroup()
		if _, ok := groups[g]; !ok {
			groupOrder = append(groupOrder, g)
		}
		groups[g] = append(groups[g], v)
	}
	for _, g := range groupOrder {
		sort.SliceStable(groups[g], func(i, j int) bool {
			return groups[g][i].FreeForPlanning() > groups[g][j].FreeForPlanning()
		})
	}

	out := make([]Volume, 0, len(vols))
	for i := 0; ; i++ {
		added := false
		for _, g := range groupOrder {
			bucket := groups[g]
			if i < len(bucket) {
				out = append(out, bucket[i])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return out
}

// shuffle applies a uniform permutation to vols in place, preventing
// parity from deterministically landing on the same low-free volumes.
func shuffle(vols []Volume, r *rand.Rand) {
	if r == nil {
		r = rand.New(rand.NewSource(rand.Int63()))
	}
	r.Shuffle(len(vols), func(i, j int) { vols[i], vols[j] = vols[j], vols[i] })
}
