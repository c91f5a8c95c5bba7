// Package memstore is an in-memory protomodel.Store for tests and
// short-lived programs.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/zero-day-ai/protomodel"
)

type linkKey struct {
	model string
	field string
	owner int64
}

// Store keeps records and link rows in maps. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	seq   map[string]int64
	rows  map[string]map[int64]protomodel.Record
	links map[linkKey][]int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		seq:   make(map[string]int64),
		rows:  make(map[string]map[int64]protomodel.Record),
		links: make(map[linkKey][]int64),
	}
}

// Save inserts or updates the instance.
func (s *Store) Save(_ context.Context, inst *protomodel.Instance) error {
	rec, err := inst.Record()
	if err != nil {
		return err
	}
	name := inst.Model().Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, saved := inst.ID()
	if !saved {
		s.seq[name]++
		id = s.seq[name]
	} else if id > s.seq[name] {
		s.seq[name] = id
	}
	if s.rows[name] == nil {
		s.rows[name] = make(map[int64]protomodel.Record)
	}
	s.rows[name][id] = rec
	if !saved {
		inst.SetID(id)
	}
	return nil
}

// Get loads an instance and the instances its foreign keys point at.
func (s *Store) Get(ctx context.Context, m *protomodel.Model, id int64) (*protomodel.Instance, error) {
	return protomodel.NewLoader(s.fetch).Load(ctx, m, id)
}

func (s *Store) fetch(_ context.Context, m *protomodel.Model, id int64) (protomodel.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[m.Name()][id]
	if !ok {
		return nil, &protomodel.RelationNotFoundError{Model: m.Name(), ID: id}
	}
	return maps.Clone(rec), nil
}

// Delete removes the instance and the link rows it owns.
func (s *Store) Delete(_ context.Context, inst *protomodel.Instance) error {
	id, saved := inst.ID()
	if !saved {
		return nil
	}
	name := inst.Model().Name()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows[name], id)
	for key := range s.links {
		if key.model == name && key.owner == id {
			delete(s.links, key)
		}
	}
	return nil
}

// Relation returns the manager of a to-many relation.
func (s *Store) Relation(inst *protomodel.Instance, field *protomodel.Field) protomodel.RelationManager {
	return protomodel.NewRelationManager(s, s, inst, field)
}

// AddLinks records owner -> ids, ignoring links that already exist.
func (s *Store) AddLinks(_ context.Context, owner *protomodel.Instance, field *protomodel.Field, ids []int64) error {
	ownerID, _ := owner.ID()
	key := linkKey{model: owner.Model().Name(), field: field.Name, owner: ownerID}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.links[key]
	for _, id := range ids {
		if !slices.Contains(current, id) {
			current = append(current, id)
		}
	}
	s.links[key] = current
	return nil
}

// LinkedIDs returns the IDs linked from owner in insertion order.
func (s *Store) LinkedIDs(_ context.Context, owner *protomodel.Instance, field *protomodel.Field) ([]int64, error) {
	ownerID, _ := owner.ID()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.links[linkKey{model: owner.Model().Name(), field: field.Name, owner: ownerID}]), nil
}

// ReferencingIDs returns the IDs of instances of m whose column holds id.
func (s *Store) ReferencingIDs(_ context.Context, m *protomodel.Model, column string, id int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for rowID, rec := range s.rows[m.Name()] {
		if ref, ok := rec[column].(int64); ok && ref == id {
			out = append(out, rowID)
		}
	}
	slices.Sort(out)
	return out, nil
}
