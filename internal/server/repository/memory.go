package repository

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/eruvanos/warehouse14/internal/server/models"
)

// memoryKeyspace keeps all records in process memory. Used by unit tests and
// as the zero-configuration development backend.
type memoryKeyspace struct {
	mu   sync.RWMutex
	rows map[string]map[string]record // pk -> sk -> record
}

// NewMemoryBackend returns a Backend backed by process memory.
func NewMemoryBackend() Backend {
	return newStore(&memoryKeyspace{rows: map[string]map[string]record{}})
}

func (m *memoryKeyspace) Get(_ context.Context, key RecordKey) (*record, error) {
	pk, sk := key.Encode()

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rows[pk][sk]
	if !ok {
		return nil, nil
	}
	rec = cloneRecord(rec)
	return &rec, nil
}

func (m *memoryKeyspace) Put(_ context.Context, rec record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(rec)
	return nil
}

func (m *memoryKeyspace) put(rec record) {
	partition, ok := m.rows[rec.PK]
	if !ok {
		partition = map[string]record{}
		m.rows[rec.PK] = partition
	}
	partition[rec.SK] = cloneRecord(rec)
}

func (m *memoryKeyspace) Delete(_ context.Context, key RecordKey) error {
	pk, sk := key.Encode()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.delete(pk, sk)
	return nil
}

func (m *memoryKeyspace) delete(pk, sk string) {
	if partition, ok := m.rows[pk]; ok {
		delete(partition, sk)
		if len(partition) == 0 {
			delete(m.rows, pk)
		}
	}
}

func (m *memoryKeyspace) QueryPartition(_ context.Context, pk, skPrefix string) ([]record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []record
	for sk, rec := range m.rows[pk] {
		if strings.HasPrefix(sk, skPrefix) {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *memoryKeyspace) QueryBySort(_ context.Context, sk string) ([]record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []record
	for _, partition := range m.rows {
		if rec, ok := partition[sk]; ok {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *memoryKeyspace) ScanProjectHeaders(_ context.Context) ([]record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []record
	for pk, partition := range m.rows {
		if !strings.HasPrefix(pk, projectPrefix) {
			continue
		}
		if rec, ok := partition[pk]; ok {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *memoryKeyspace) WriteBatch(_ context.Context, puts []record, deletes []RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range deletes {
		pk, sk := key.Encode()
		m.delete(pk, sk)
	}
	for _, rec := range puts {
		m.put(rec)
	}
	return nil
}

// cloneRecord deep-copies the nested Versions maps so records handed in or
// out never alias the stored state. The other drivers get this isolation for
// free from (un)marshaling.
func cloneRecord(rec record) record {
	if rec.Versions == nil {
		return rec
	}

	versions := make(map[string]models.Version, len(rec.Versions))
	for name, v := range rec.Versions {
		v.Files = slices.Clone(v.Files)
		v.Metadata = cloneMetadata(v.Metadata)
		versions[name] = v
	}
	rec.Versions = versions
	return rec
}

func cloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}

	out := make(map[string]any, len(meta))
	for key, value := range meta {
		switch v := value.(type) {
		case []string:
			out[key] = slices.Clone(v)
		case []any:
			out[key] = slices.Clone(v)
		default:
			out[key] = v
		}
	}
	return out
}

func sortRecords(recs []record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].PK != recs[j].PK {
			return recs[i].PK < recs[j].PK
		}
		return recs[i].SK < recs[j].SK
	})
}
