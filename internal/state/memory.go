package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[descriptor.PackageID]BuildRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[descriptor.PackageID]BuildRecord)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id descriptor.PackageID) (*BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, rec *BuildRecord) error {
	if rec == nil || rec.PackageID.IsZero() {
		return fmt.Errorf("record without package id")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("record %s: invalid status %q", rec.PackageID, rec.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	s.records[rec.PackageID] = cp
	return nil
}

// PutPending implements Store.
func (s *MemoryStore) PutPending(_ context.Context, rec *BuildRecord) (bool, error) {
	if rec == nil || rec.PackageID.IsZero() {
		return false, fmt.Errorf("record without package id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[rec.PackageID]; ok && !cur.replaceableByPending(rec.Fingerprint) {
		return false, nil
	}
	cp := *rec
	cp.Status = StatusPending
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	s.records[rec.PackageID] = cp
	return true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id descriptor.PackageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BuildRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PackageID.Name != out[j].PackageID.Name {
			return out[i].PackageID.Name < out[j].PackageID.Name
		}
		return out[i].PackageID.Version < out[j].PackageID.Version
	})
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
