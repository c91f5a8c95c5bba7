package protomodel

import (
	"fmt"
	"maps"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Model is a registered object type: its fields, the message type it maps
// onto, and the serializers chosen for it. Models are immutable once
// registered.
type Model struct {
	name     string
	registry *Registry
	message  protoreflect.MessageType
	decl     Declaration

	fields []*Field
	byName map[string]*Field
	slots  int

	fieldMap         map[string]string
	serializers      map[FieldType]SerializerPair
	fieldSerializers map[string]SerializerPair
	typeCast         bool
	defaults         SerializerPair
	merge            RelationMergeFunc
}

func newModel(r *Registry, decl Declaration) *Model {
	cast := r.cfg.typeCast
	if decl.TypeCast != nil {
		cast = *decl.TypeCast
	}
	merge := decl.MergeRelation
	if merge == nil {
		merge = NoMerge
	}
	return &Model{
		name:             decl.Name,
		registry:         r,
		message:          decl.Message,
		decl:             decl,
		byName:           make(map[string]*Field),
		fieldMap:         maps.Clone(decl.FieldMap),
		serializers:      mergeMap(builtinSerializers(cast), decl.Serializers),
		fieldSerializers: maps.Clone(decl.FieldSerializers),
		typeCast:         cast,
		defaults:         defaultSerializers(cast),
		merge:            merge,
	}
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Message returns the message type, or nil for models declared without one.
func (m *Model) Message() protoreflect.MessageType { return m.message }

// Registry returns the registry the model belongs to.
func (m *Model) Registry() *Registry { return m.registry }

// TypeCast reports whether scalar type casting is enabled.
func (m *Model) TypeCast() bool { return m.typeCast }

// Fields returns the local fields in declaration order.
func (m *Model) Fields() []*Field {
	out := make([]*Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Field returns the local field with the given name.
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// LocalName returns the local field name a message field maps onto.
func (m *Model) LocalName(messageField string) string {
	if local, ok := m.fieldMap[messageField]; ok {
		return local
	}
	return messageField
}

// Columns returns the fields persisted as storage columns: everything except
// to-many relations, whose state lives in link tables and index fields.
func (m *Model) Columns() []*Field {
	out := make([]*Field, 0, len(m.fields))
	for _, f := range m.fields {
		if f.Relation() == RelationToMany {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (m *Model) String() string { return fmt.Sprintf("Model(%s)", m.name) }

// addField appends f, replacing a field of the same name in place. Container
// relations get their index field alongside.
func (m *Model) addField(f *Field) {
	f.model = m
	if old, ok := m.byName[f.Name]; ok {
		for i, existing := range m.fields {
			if existing == old {
				m.fields[i] = f
			}
		}
	} else {
		m.fields = append(m.fields, f)
	}
	m.byName[f.Name] = f

	switch f.Type {
	case TypeRepeatedMessage, TypeMessageMap:
		name := f.Name + "_index"
		if idx, ok := m.byName[name]; ok && idx.Type == TypeIndex {
			idx.owner = f
			f.index = idx
			return
		}
		idx := &Field{Name: name, Type: TypeIndex, owner: f, model: m, auto: true}
		if f.Type == TypeRepeatedMessage {
			idx.Default = func() any { return []int64{} }
		} else {
			idx.Default = func() any { return map[string]int64{} }
		}
		f.index = idx
		m.fields = append(m.fields, idx)
		m.byName[name] = idx
	}
}

func (m *Model) moveFirst(name string) {
	for i, f := range m.fields {
		if f.Name == name {
			copy(m.fields[1:i+1], m.fields[:i])
			m.fields[0] = f
			return
		}
	}
}

// bind assigns value slots and accessor closures to every field.
func (m *Model) bind() {
	m.slots = 0
	for _, f := range m.fields {
		f.model = m
		if !f.Type.stored() {
			name := f.Name
			f.slot = -1
			f.get = func(i *Instance) any {
				rel, err := i.Relation(name)
				if err != nil {
					return nil
				}
				return rel
			}
			f.set = func(*Instance, any) error {
				return fmt.Errorf("field %q is a to-many relation; add members through its relation manager", name)
			}
			continue
		}

		slot := m.slots
		m.slots++
		f.slot = slot
		f.get = func(i *Instance) any { return i.values[slot] }

		switch f.Type {
		case TypeRepeatedMessage:
			f.set = func(i *Instance, v any) error {
				items, ok := v.([]*Instance)
				if !ok && v != nil {
					return fmt.Errorf("cannot assign %T to repeated message field", v)
				}
				i.values[slot].(*RepeatedMessages).Set(items)
				return nil
			}
		case TypeMessageMap:
			f.set = func(i *Instance, v any) error {
				items, ok := v.(map[string]*Instance)
				if !ok && v != nil {
					return fmt.Errorf("cannot assign %T to message map field", v)
				}
				i.values[slot].(*MessageMap).Set(items)
				return nil
			}
		case TypeForeignKey:
			f.set = func(i *Instance, v any) error {
				if v == nil {
					i.values[slot] = nil
					return nil
				}
				related, ok := v.(*Instance)
				if !ok {
					return fmt.Errorf("cannot assign %T to foreign key", v)
				}
				i.values[slot] = related
				return nil
			}
		default:
			f.set = func(i *Instance, v any) error {
				i.values[slot] = v
				return nil
			}
		}
	}
}
