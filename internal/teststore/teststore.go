// Package teststore provides in-memory fakes of the store package's
// collaborator interfaces, for tests of the packages that depend on them
// (object, verify) without standing up a real database adapter.
package teststore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signal24/strubs/cmn"
	"github.com/signal24/strubs/store"
)

// MetaStore is a fake store.ObjectMetaStore backed by a map, keyed by
// object id hex string.
type MetaStore struct {
	mu      sync.Mutex
	records map[string]*store.StoredObjectRecord
	byPath  map[string]string // containerPath -> object id hex
}

func NewMetaStore() *MetaStore {
	return &MetaStore{
		records: map[string]*store.StoredObjectRecord{},
		byPath:  map[string]string{},
	}
}

func (m *MetaStore) CreateObjectRecord(rec *store.StoredObjectRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ObjectID.String()] = &cp
	m.byPath[rec.ContainerPath] = rec.ObjectID.String()
	return nil
}

func (m *MetaStore) DeleteObjectByID(id cmn.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id.String()]
	if !ok {
		return fmt.Errorf("teststore: no such object %s", id)
	}
	delete(m.byPath, rec.ContainerPath)
	delete(m.records, id.String())
	return nil
}

func (m *MetaStore) GetObjectByPath(containerPath string) (*store.StoredObjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPath[containerPath]
	if !ok {
		return nil, fmt.Errorf("teststore: no object at %s", containerPath)
	}
	cp := *m.records[id]
	return &cp, nil
}

func (m *MetaStore) GetObjectByID(id cmn.ObjectID) (*store.StoredObjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id.String()]
	if !ok {
		return nil, fmt.Errorf("teststore: no such object %s", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *MetaStore) GetObjectsInContainerPath(containerPath string) ([]*store.StoredObjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.StoredObjectRecord
	for _, rec := range m.records {
		if rec.ContainerPath == containerPath {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MetaStore) GetOrCreateContainer(path string) error { return nil }

// FindObjectsNeedingVerification returns records ordered by object id
// ascending whose lastVerifiedAt is absent or older than startedAt
// (spec.md §4.7 step 2). Because UpdateObjectVerificationState sets
// lastVerifiedAt to startedAt as each object finishes, repeated calls with
// the same startedAt automatically skip everything already verified this
// run without needing a separate cursor.
func (m *MetaStore) FindObjectsNeedingVerification(startedAt int64, limit int) ([]*store.StoredObjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*store.StoredObjectRecord
	for _, id := range ids {
		rec := m.records[id]
		if rec.LastVerifiedAt != 0 && rec.LastVerifiedAt >= startedAt {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MetaStore) UpdateObjectVerificationState(id cmn.ObjectID, verifiedAt int64, sliceErrors map[int]store.SliceErrorInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id.String()]
	if !ok {
		return fmt.Errorf("teststore: no such object %s", id)
	}
	rec.LastVerifiedAt = verifiedAt
	rec.SliceErrors = sliceErrors
	rec.DamagedSlices = rec.DamagedSlices[:0]
	for idx := range sliceErrors {
		rec.DamagedSlices = append(rec.DamagedSlices, idx)
	}
	if len(sliceErrors) == 0 {
		rec.VerificationState = store.VerificationOK
	} else {
		rec.VerificationState = store.VerificationFailed
	}
	return nil
}

func (m *MetaStore) SetVolumeVerifyErrors(volumeID string, checksum, total int64) error {
	return nil
}

func (m *MetaStore) GetTimestampFromID(id cmn.ObjectID) int64 {
	return id.Timestamp().Unix()
}

// ConfigStore is a fake store.RuntimeConfigStore backed by a map.
type ConfigStore struct {
	mu     sync.Mutex
	values map[store.RuntimeConfigKey]string
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{values: map[store.RuntimeConfigKey]string{}}
}

func (c *ConfigStore) Get(key store.RuntimeConfigKey) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *ConfigStore) Set(key store.RuntimeConfigKey, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *ConfigStore) Delete(key store.RuntimeConfigKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}
