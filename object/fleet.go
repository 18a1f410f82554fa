package object

import (
	"github.com/signal24/strubs/plan"
	"github.com/signal24/strubs/volume"
)

// planFleet adapts a concrete *volume.Fleet to the plan.Fleet interface:
// Go doesn't implicitly convert []*volume.Volume to []plan.Volume even
// though *volume.Volume satisfies plan.Volume structurally, so the slice
// itself needs rebuilding at the boundary.
type planFleet struct {
	fleet *volume.Fleet
}

func (f planFleet) GetWritableVolumes() []plan.Volume {
	vols := f.fleet.GetWritableVolumes()
	out := make([]plan.Volume, len(vols))
	for i, v := range vols {
		out[i] = v
	}
	return out
}
