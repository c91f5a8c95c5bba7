package protomodel

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// RelationState is the lifecycle of a container relation handle.
type RelationState int

const (
	// StateUnloaded means nothing has been read from the index yet.
	StateUnloaded RelationState = iota
	// StateLoaded means the cache mirrors the index.
	StateLoaded
	// StateDirty means the cache was replaced and not yet committed.
	StateDirty
)

func (s RelationState) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateDirty:
		return "dirty"
	default:
		return "unloaded"
	}
}

// RepeatedMessages is the handle of a repeated message relation. The ordered
// member IDs live in the companion index field; the handle caches the member
// instances. Only Commit writes the index back.
type RepeatedMessages struct {
	owner *Instance
	field *Field
	state RelationState
	items []*Instance
}

// State returns the current lifecycle state.
func (r *RepeatedMessages) State() RelationState { return r.state }

// Get returns the members in order, hydrating the cache from the index on
// first use.
func (r *RepeatedMessages) Get(ctx context.Context) ([]*Instance, error) {
	if r.state == StateUnloaded {
		if err := r.load(ctx); err != nil {
			return nil, err
		}
	}
	return slices.Clone(r.items), nil
}

func (r *RepeatedMessages) load(ctx context.Context) error {
	raw, err := toIndex(r.field.index.get(r.owner))
	if err != nil {
		return err
	}
	ids, ok := raw.([]int64)
	if !ok {
		return fmt.Errorf("index of %q holds %T, expected a list", r.field.Name, raw)
	}
	items := make([]*Instance, 0, len(ids))
	if len(ids) > 0 {
		rel, err := r.owner.Relation(r.field.Name)
		if err != nil {
			return err
		}
		for _, id := range ids {
			inst, err := rel.Get(ctx, id)
			if err != nil {
				return err
			}
			items = append(items, inst)
		}
	}
	r.items = items
	r.state = StateLoaded
	return nil
}

// Set replaces the cached members. The index is left alone until Commit.
func (r *RepeatedMessages) Set(items []*Instance) {
	r.items = slices.Clone(items)
	r.state = StateDirty
}

// Append adds members to the end of the cache.
func (r *RepeatedMessages) Append(ctx context.Context, items ...*Instance) error {
	current, err := r.Get(ctx)
	if err != nil {
		return err
	}
	r.Set(append(current, items...))
	return nil
}

// Commit saves unsaved members, links every member through the store's
// relation manager and rewrites the index in cache order. An unloaded handle
// has nothing to commit.
func (r *RepeatedMessages) Commit(ctx context.Context, store Store) (bool, error) {
	if r.state == StateUnloaded {
		return false, nil
	}
	ids, err := commitMembers(ctx, store, r.owner, r.field, r.items)
	if err != nil {
		return false, err
	}
	if err := r.field.index.set(r.owner, ids); err != nil {
		return false, err
	}
	r.state = StateLoaded
	return true, nil
}

// MessageMap is the handle of a map-to-message relation. The index field
// maps each key to a member ID.
type MessageMap struct {
	owner *Instance
	field *Field
	state RelationState
	items map[string]*Instance
}

// State returns the current lifecycle state.
func (m *MessageMap) State() RelationState { return m.state }

// Get returns the members by key, hydrating the cache from the index on
// first use.
func (m *MessageMap) Get(ctx context.Context) (map[string]*Instance, error) {
	if m.state == StateUnloaded {
		if err := m.load(ctx); err != nil {
			return nil, err
		}
	}
	return maps.Clone(m.items), nil
}

func (m *MessageMap) load(ctx context.Context) error {
	raw, err := toIndex(m.field.index.get(m.owner))
	if err != nil {
		return err
	}
	var ids map[string]int64
	switch v := raw.(type) {
	case map[string]int64:
		ids = v
	case []int64:
		if len(v) > 0 {
			return fmt.Errorf("index of %q holds a list, expected a mapping", m.field.Name)
		}
	}
	items := make(map[string]*Instance, len(ids))
	if len(ids) > 0 {
		rel, err := m.owner.Relation(m.field.Name)
		if err != nil {
			return err
		}
		for _, key := range slices.Sorted(maps.Keys(ids)) {
			inst, err := rel.Get(ctx, ids[key])
			if err != nil {
				return err
			}
			items[key] = inst
		}
	}
	m.items = items
	m.state = StateLoaded
	return nil
}

// Set replaces the cached members. The index is left alone until Commit.
func (m *MessageMap) Set(items map[string]*Instance) {
	m.items = maps.Clone(items)
	if m.items == nil {
		m.items = map[string]*Instance{}
	}
	m.state = StateDirty
}

// Put stores one member under key.
func (m *MessageMap) Put(ctx context.Context, key string, inst *Instance) error {
	current, err := m.Get(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		current = map[string]*Instance{}
	}
	current[key] = inst
	m.Set(current)
	return nil
}

// Commit saves unsaved members, links them through the store's relation
// manager and rewrites the index by key.
func (m *MessageMap) Commit(ctx context.Context, store Store) (bool, error) {
	if m.state == StateUnloaded {
		return false, nil
	}
	keys := slices.Sorted(maps.Keys(m.items))
	members := make([]*Instance, 0, len(keys))
	for _, key := range keys {
		members = append(members, m.items[key])
	}
	ids, err := commitMembers(ctx, store, m.owner, m.field, members)
	if err != nil {
		return false, err
	}
	index := make(map[string]int64, len(keys))
	for n, key := range keys {
		index[key] = ids[n]
	}
	if err := m.field.index.set(m.owner, index); err != nil {
		return false, err
	}
	m.state = StateLoaded
	return true, nil
}

func commitMembers(ctx context.Context, store Store, owner *Instance, field *Field, members []*Instance) ([]int64, error) {
	ids := make([]int64, 0, len(members))
	for n, member := range members {
		if member == nil {
			return nil, fmt.Errorf("member %d of %q is nil", n, field.Name)
		}
		if _, saved := member.ID(); !saved {
			if err := member.Save(ctx); err != nil {
				return nil, err
			}
		}
		id, _ := member.ID()
		ids = append(ids, id)
	}
	if err := store.Relation(owner, field).Add(ctx, members...); err != nil {
		return nil, err
	}
	return ids, nil
}

func repeatedMessageToMessage(ctx context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, level ExpandLevel) error {
	handle, ok := value.(*RepeatedMessages)
	if !ok {
		return fmt.Errorf("expected a repeated message handle, got %T", value)
	}
	if !fd.IsList() || fd.Message() == nil {
		return fmt.Errorf("repeated message relation needs a repeated message field")
	}
	if !level.Expand() {
		return nil
	}
	items, err := handle.Get(ctx)
	if err != nil {
		return err
	}
	list := msg.Mutable(fd).List()
	for n, item := range items {
		elem := list.NewElement()
		if err := item.writeMessage(ctx, elem.Message(), level.Next()); err != nil {
			return fmt.Errorf("item %d: %w", n, err)
		}
		list.Append(elem)
	}
	return nil
}

func repeatedMessageFromMessage(ctx context.Context, inst *Instance, fieldName string, fd protoreflect.FieldDescriptor, value protoreflect.Value, _ FieldType) error {
	if !fd.IsList() || fd.Message() == nil {
		return fmt.Errorf("repeated message relation needs a repeated message field")
	}
	related, err := relatedModel(inst, fieldName)
	if err != nil {
		return err
	}
	list := value.List()
	items := make([]*Instance, 0, list.Len())
	for n := 0; n < list.Len(); n++ {
		child := related.New()
		if err := child.fromMessage(ctx, list.Get(n).Message()); err != nil {
			return fmt.Errorf("item %d: %w", n, err)
		}
		items = append(items, child)
	}
	return inst.Set(fieldName, items)
}

func messageMapToMessage(ctx context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, level ExpandLevel) error {
	handle, ok := value.(*MessageMap)
	if !ok {
		return fmt.Errorf("expected a message map handle, got %T", value)
	}
	if !fd.IsMap() || fd.MapValue().Message() == nil {
		return fmt.Errorf("message map relation needs a map field with message values")
	}
	if !level.Expand() {
		return nil
	}
	items, err := handle.Get(ctx)
	if err != nil {
		return err
	}
	target := msg.Mutable(fd).Map()
	for _, k := range slices.Sorted(maps.Keys(items)) {
		key, err := mapKey(fd.MapKey(), k)
		if err != nil {
			return err
		}
		val := target.NewValue()
		if err := items[k].writeMessage(ctx, val.Message(), level.Next()); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		target.Set(key, val)
	}
	return nil
}

func messageMapFromMessage(ctx context.Context, inst *Instance, fieldName string, fd protoreflect.FieldDescriptor, value protoreflect.Value, _ FieldType) error {
	if !fd.IsMap() || fd.MapValue().Message() == nil {
		return fmt.Errorf("message map relation needs a map field with message values")
	}
	related, err := relatedModel(inst, fieldName)
	if err != nil {
		return err
	}
	items := make(map[string]*Instance, value.Map().Len())
	var rangeErr error
	value.Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		child := related.New()
		if err := child.fromMessage(ctx, v.Message()); err != nil {
			rangeErr = fmt.Errorf("key %q: %w", k.String(), err)
			return false
		}
		items[k.String()] = child
		return true
	})
	if rangeErr != nil {
		return rangeErr
	}
	return inst.Set(fieldName, items)
}

func relatedModel(inst *Instance, fieldName string) (*Model, error) {
	f, ok := inst.model.Field(fieldName)
	if !ok {
		return nil, fmt.Errorf("%s has no field %q", inst.model.name, fieldName)
	}
	return f.Related()
}
