// Package memstore provides an in-memory implementation of pipeline.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

// Store holds event records in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string]*lead.Record // source URL -> record
	order   []string                // source URLs in insertion order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		records: make(map[string]*lead.Record),
	}
}

// Exists reports whether a record with the source URL is stored.
func (s *Store) Exists(_ context.Context, sourceURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[sourceURL]
	return ok, nil
}

// Insert stores a copy of rec. An already stored source URL returns
// pipeline.ErrDuplicate and leaves the existing record untouched.
func (s *Store) Insert(_ context.Context, rec *lead.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.SourceURL]; ok {
		return pipeline.ErrDuplicate
	}
	cp := *rec
	s.records[rec.SourceURL] = &cp
	s.order = append(s.order, rec.SourceURL)
	return nil
}

// List returns up to limit records, most recently inserted first. A
// non-positive limit returns everything.
func (s *Store) List(_ context.Context, limit int) ([]lead.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]lead.Record, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *s.records[s.order[i]])
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
