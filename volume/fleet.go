package volume

import "sync"

// Fleet is a concrete VolumeFleet (spec.md §6): the set of volumes known
// to this instance. Device discovery and partition provisioning (§1) are
// out of core scope; Fleet only tracks Volumes handed to it by whatever
// does that discovery.
type Fleet struct {
	mu      sync.RWMutex
	volumes map[string]*Volume
}

// NewFleet constructs an empty Fleet.
func NewFleet() *Fleet {
	return &Fleet{volumes: make(map[string]*Volume)}
}

// Add registers a volume with the fleet.
func (f *Fleet) Add(v *Volume) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[v.ID()] = v
}

// Remove drops a volume from the fleet.
func (f *Fleet) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, id)
}

// GetVolume returns the volume with the given id, or nil.
func (f *Fleet) GetVolume(id string) *Volume {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.volumes[id]
}

// Entry pairs a volume with its id for GetVolumeEntries.
type Entry struct {
	ID     string
	Volume *Volume
}

// GetVolumeEntries returns every known (id, volume) pair.
func (f *Fleet) GetVolumeEntries() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Entry, 0, len(f.volumes))
	for id, v := range f.volumes {
		out = append(out, Entry{ID: id, Volume: v})
	}
	return out
}

// GetWritableVolumes returns every volume for which IsWritable() is true
// (spec.md §4.2 step 2): started, enabled, healthy, not read-only, not
// deleted.
func (f *Fleet) GetWritableVolumes() []*Volume {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Volume, 0, len(f.volumes))
	for _, v := range f.volumes {
		if v.IsWritable() && !v.IsDeleted() {
			out = append(out, v)
		}
	}
	return out
}

// StartAll brings up every registered volume, counting successes and
// failures independently (spec.md §7: "Volume start failures ... are
// per-volume"). It never returns early on one volume's failure.
func (f *Fleet) StartAll() (started, failed int) {
	f.mu.RLock()
	vols := make([]*Volume, 0, len(f.volumes))
	for _, v := range f.volumes {
		vols = append(vols, v)
	}
	f.mu.RUnlock()

	for _, v := range vols {
		if err := v.Start(); err != nil {
			failed++
			continue
		}
		started++
	}
	return started, failed
}
