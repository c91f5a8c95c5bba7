package protomodel

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Instance is one object of a model. Field values are reached through the
// model's accessor closures; relation handles for container fields are
// created with the instance and start unloaded.
type Instance struct {
	model  *Model
	values []any
}

// New returns an instance with every field at its initial value.
func (m *Model) New() *Instance {
	inst := &Instance{model: m, values: make([]any, m.slots)}
	for _, f := range m.fields {
		if f.slot < 0 {
			continue
		}
		switch f.Type {
		case TypeRepeatedMessage:
			inst.values[f.slot] = &RepeatedMessages{owner: inst, field: f}
		case TypeMessageMap:
			inst.values[f.slot] = &MessageMap{owner: inst, field: f}
		default:
			inst.values[f.slot] = f.initial()
		}
	}
	return inst
}

// Model returns the instance's model.
func (i *Instance) Model() *Model { return i.model }

// ID returns the storage identifier. The boolean is false until the
// instance has been saved or loaded.
func (i *Instance) ID() (int64, bool) {
	f, ok := i.model.byName["id"]
	if !ok {
		return 0, false
	}
	v := f.get(i)
	if v == nil {
		return 0, false
	}
	id, err := toInt64(v)
	if err != nil {
		return 0, false
	}
	return id, true
}

// SetID assigns the storage identifier. Stores call it after insertion.
func (i *Instance) SetID(id int64) {
	if f, ok := i.model.byName["id"]; ok {
		_ = f.set(i, id)
	}
}

// Get returns the value of a local field. Container relations return their
// handle, other to-many relations their RelationManager.
func (i *Instance) Get(name string) (any, error) {
	f, ok := i.model.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s has no field %q", i.model.name, name)
	}
	return f.get(i), nil
}

// Value is like Get but returns nil for unknown fields.
func (i *Instance) Value(name string) any {
	v, _ := i.Get(name)
	return v
}

// Set assigns a local field. Values are stored as given; coercion happens
// during conversion and when loading from storage.
func (i *Instance) Set(name string, v any) error {
	f, ok := i.model.byName[name]
	if !ok {
		return fmt.Errorf("%s has no field %q", i.model.name, name)
	}
	return f.set(i, v)
}

// MustSet is like Set but panics on error.
func (i *Instance) MustSet(name string, v any) *Instance {
	if err := i.Set(name, v); err != nil {
		panic(err)
	}
	return i
}

// Related returns the instance a to-one relation points at, or nil.
func (i *Instance) Related(name string) (*Instance, error) {
	f, ok := i.model.byName[name]
	if !ok || f.Relation() != RelationToOne {
		return nil, fmt.Errorf("%s has no to-one relation %q", i.model.name, name)
	}
	related, _ := f.get(i).(*Instance)
	return related, nil
}

// Relation returns the storage-backed manager of a to-many relation.
func (i *Instance) Relation(name string) (RelationManager, error) {
	f, ok := i.model.byName[name]
	if !ok || f.Relation() != RelationToMany {
		return nil, fmt.Errorf("%s has no to-many relation %q", i.model.name, name)
	}
	store, err := i.model.registry.store()
	if err != nil {
		return nil, err
	}
	return store.Relation(i, f), nil
}

// Repeated returns the handle of a repeated message relation.
func (i *Instance) Repeated(name string) (*RepeatedMessages, error) {
	f, ok := i.model.byName[name]
	if !ok || f.Type != TypeRepeatedMessage {
		return nil, fmt.Errorf("%s has no repeated message field %q", i.model.name, name)
	}
	return f.get(i).(*RepeatedMessages), nil
}

// MessageMap returns the handle of a message map relation.
func (i *Instance) MessageMap(name string) (*MessageMap, error) {
	f, ok := i.model.byName[name]
	if !ok || f.Type != TypeMessageMap {
		return nil, fmt.Errorf("%s has no message map field %q", i.model.name, name)
	}
	return f.get(i).(*MessageMap), nil
}

// Save persists the instance, then commits every loaded container relation
// and saves again so the refreshed index fields are stored. Save runs in the
// caller's transaction scope, if the store has one.
func (i *Instance) Save(ctx context.Context) (err error) {
	store, err := i.model.registry.store()
	if err != nil {
		return err
	}

	ctx, span := i.model.registry.cfg.tracer.Start(ctx, "protomodel.Save")
	span.SetAttributes(attribute.String("protomodel.model", i.model.name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := store.Save(ctx, i); err != nil {
		return fmt.Errorf("save %s: %w", i.model.name, err)
	}

	committed := false
	for _, f := range i.model.fields {
		var c interface {
			Commit(context.Context, Store) (bool, error)
		}
		switch f.Type {
		case TypeRepeatedMessage:
			c = f.get(i).(*RepeatedMessages)
		case TypeMessageMap:
			c = f.get(i).(*MessageMap)
		default:
			continue
		}
		changed, err := c.Commit(ctx, store)
		if err != nil {
			return fmt.Errorf("commit %s.%s: %w", i.model.name, f.Name, err)
		}
		committed = committed || changed
	}
	if !committed {
		return nil
	}

	if err := store.Save(ctx, i); err != nil {
		return fmt.Errorf("save %s: %w", i.model.name, err)
	}
	i.model.registry.cfg.logger.Debug("container relations committed", slog.String("model", i.model.name))
	return nil
}

// Delete removes the instance from storage.
func (i *Instance) Delete(ctx context.Context) error {
	store, err := i.model.registry.store()
	if err != nil {
		return err
	}
	return store.Delete(ctx, i)
}

func (i *Instance) String() string {
	if id, ok := i.ID(); ok {
		return fmt.Sprintf("%s(%d)", i.model.name, id)
	}
	return fmt.Sprintf("%s(unsaved)", i.model.name)
}
