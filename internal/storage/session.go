package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"cove-indexer/internal/entity"
)

type recordKey struct {
	kind entity.Kind
	id   string
}

type staged struct {
	entity entity.Entity
	dirty  bool
}

// Session is the unit of work for one event. Loaded and created entities are
// kept by pointer so every lookup inside the event observes the same instance;
// nothing reaches the backend until Commit.
type Session struct {
	backend Backend
	items   map[recordKey]*staged
	order   []recordKey
}

// NewSession opens a session over backend.
func NewSession(backend Backend) *Session {
	return &Session{
		backend: backend,
		items:   make(map[recordKey]*staged),
	}
}

// Load returns the entity with the given id, consulting staged state first.
func Load[T any, PT interface {
	*T
	entity.Entity
}](ctx context.Context, s *Session, id string) (PT, bool, error) {
	kind := PT(new(T)).EntityKind()
	key := recordKey{kind: kind, id: id}
	if st, ok := s.items[key]; ok {
		return st.entity.(PT), true, nil
	}

	if s.backend == nil {
		return nil, false, ErrNotConfigured
	}
	data, found, err := s.backend.Get(ctx, kind, id)
	if err != nil {
		return nil, false, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	if !found {
		return nil, false, nil
	}

	value := PT(new(T))
	if err := json.Unmarshal(data, value); err != nil {
		return nil, false, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	s.track(key, value, false)
	return value, true, nil
}

// LoadOrCreate returns the existing entity or a new one initialised by init.
// A created entity is staged immediately. The boolean reports creation.
func LoadOrCreate[T any, PT interface {
	*T
	entity.Entity
}](ctx context.Context, s *Session, id string, init func(PT)) (PT, bool, error) {
	value, found, err := Load[T, PT](ctx, s, id)
	if err != nil {
		return nil, false, err
	}
	if found {
		return value, false, nil
	}

	value = PT(new(T))
	init(value)
	if value.EntityID() != id {
		return nil, false, fmt.Errorf("init for %s produced id %q, want %q", value.EntityKind(), value.EntityID(), id)
	}
	s.Upsert(value)
	return value, true, nil
}

// Upsert stages the full state of e for the next Commit.
func (s *Session) Upsert(e entity.Entity) {
	key := recordKey{kind: e.EntityKind(), id: e.EntityID()}
	if st, ok := s.items[key]; ok {
		st.entity = e
		st.dirty = true
		return
	}
	s.track(key, e, true)
}

func (s *Session) track(key recordKey, e entity.Entity, dirty bool) {
	s.items[key] = &staged{entity: e, dirty: dirty}
	s.order = append(s.order, key)
}

// Changes lists staged entities in first-touch order.
func (s *Session) Changes() []entity.Entity {
	out := make([]entity.Entity, 0, len(s.order))
	for _, key := range s.order {
		if st := s.items[key]; st.dirty {
			out = append(out, st.entity)
		}
	}
	return out
}

// Commit writes every staged entity in one atomic batch and returns them.
func (s *Session) Commit(ctx context.Context) ([]entity.Entity, error) {
	if s.backend == nil {
		return nil, ErrNotConfigured
	}

	changes := s.Changes()
	if len(changes) == 0 {
		return nil, nil
	}

	records := make([]Record, 0, len(changes))
	for _, e := range changes {
		rec, err := Encode(e)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := s.backend.Commit(ctx, records); err != nil {
		return nil, fmt.Errorf("commit %d records: %w", len(records), err)
	}

	for _, key := range s.order {
		s.items[key].dirty = false
	}
	return changes, nil
}

// Encode serialises an entity into its persisted record.
func Encode(e entity.Entity) (Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	return Record{
		Kind:    e.EntityKind(),
		ID:      e.EntityID(),
		SortKey: e.SortKey(),
		Data:    data,
	}, nil
}
