package protomodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is the storage form of an instance: column name to a plain value.
// Foreign keys hold the related ID; datetimes, UUIDs and JSON-backed fields
// (arrays, maps, container indexes) hold strings. The ID is not included.
type Record map[string]any

// Record encodes the stored columns of the instance.
func (i *Instance) Record() (Record, error) {
	rec := make(Record, len(i.model.fields))
	for _, f := range i.model.Columns() {
		if f.Type == TypeAutoID {
			continue
		}
		v, err := encodeColumn(f, f.get(i))
		if err != nil {
			return nil, &FieldConversionError{Model: i.model.name, Field: f.Name, Err: err}
		}
		rec[f.Column()] = v
	}
	return rec, nil
}

func encodeColumn(f *Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeForeignKey:
		related, ok := v.(*Instance)
		if !ok {
			return nil, fmt.Errorf("cannot store %T as foreign key", v)
		}
		id, saved := related.ID()
		if !saved {
			return nil, fmt.Errorf("related %s must be saved first", related.model.name)
		}
		return id, nil
	case TypeDateTime:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return t.(time.Time).UTC().Format(time.RFC3339Nano), nil
	case TypeUUID:
		id, err := toUUID(v)
		if err != nil {
			return nil, err
		}
		return id.(uuid.UUID).String(), nil
	case TypeArray, TypeMap, TypeIndex:
		coerced, err := f.Type.Coerce(v)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(coerced)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return f.Type.Coerce(v)
}

// FetchFunc reads the record of one instance. It returns an error matching
// ErrNotFound when the instance does not exist.
type FetchFunc func(ctx context.Context, m *Model, id int64) (Record, error)

type loaderKey struct {
	model string
	id    int64
}

// Loader rebuilds instances from records and resolves their foreign keys.
// Instances are cached by model and ID, so a reference cycle resolves to
// the instance already being built. A Loader is meant for one load call
// graph and is not safe for concurrent use.
type Loader struct {
	fetch FetchFunc
	seen  map[loaderKey]*Instance
}

// NewLoader returns a Loader reading records through fetch.
func NewLoader(fetch FetchFunc) *Loader {
	return &Loader{fetch: fetch, seen: make(map[loaderKey]*Instance)}
}

// Load returns the instance of m with the given ID.
func (l *Loader) Load(ctx context.Context, m *Model, id int64) (*Instance, error) {
	key := loaderKey{model: m.name, id: id}
	if inst, ok := l.seen[key]; ok {
		return inst, nil
	}
	rec, err := l.fetch(ctx, m, id)
	if err != nil {
		return nil, err
	}
	inst := m.New()
	inst.SetID(id)
	l.seen[key] = inst

	if err := l.decode(ctx, inst, rec); err != nil {
		delete(l.seen, key)
		return nil, err
	}
	return inst, nil
}

func (l *Loader) decode(ctx context.Context, inst *Instance, rec Record) error {
	m := inst.model
	for _, f := range m.Columns() {
		if f.Type == TypeAutoID {
			continue
		}
		raw, ok := rec[f.Column()]
		if !ok {
			continue
		}
		if f.Type != TypeForeignKey {
			v, err := f.Type.Coerce(raw)
			if err != nil {
				return &FieldConversionError{Model: m.name, Field: f.Name, Err: err}
			}
			if err := f.set(inst, v); err != nil {
				return err
			}
			continue
		}

		if raw == nil {
			continue
		}
		relatedID, err := toInt64(raw)
		if err != nil {
			return &FieldConversionError{Model: m.name, Field: f.Name, Err: err}
		}
		related, err := f.Related()
		if err != nil {
			return err
		}
		target, err := l.Load(ctx, related, relatedID)
		if errors.Is(err, ErrNotFound) {
			return &RelationNotFoundError{Model: m.name, Field: f.Name, ID: relatedID}
		}
		if err != nil {
			return err
		}
		if err := f.set(inst, target); err != nil {
			return err
		}
	}
	return nil
}
