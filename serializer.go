package protomodel

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ToMessageFunc writes value into the field fd of msg.
type ToMessageFunc func(ctx context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, level ExpandLevel) error

// FromMessageFunc writes the message value of fd into the local field
// fieldName of inst. ft is the type of that local field.
type FromMessageFunc func(ctx context.Context, inst *Instance, fieldName string, fd protoreflect.FieldDescriptor, value protoreflect.Value, ft FieldType) error

// SerializerPair converts one field in both directions.
type SerializerPair struct {
	ToMessage   ToMessageFunc
	FromMessage FromMessageFunc
}

func (p SerializerPair) valid() bool {
	return p.ToMessage != nil && p.FromMessage != nil
}

// ExpandLevel bounds how many relation hops a conversion follows. The zero
// value is unlimited.
type ExpandLevel struct {
	depth   int
	bounded bool
}

// Unlimited follows every relation. Cyclic relation graphs never terminate.
var Unlimited = ExpandLevel{}

// Depth returns a budget of n relation hops. Depth(0) follows none.
func Depth(n int) ExpandLevel {
	if n < 0 {
		n = 0
	}
	return ExpandLevel{depth: n, bounded: true}
}

// Expand reports whether relations may be followed at this level.
func (l ExpandLevel) Expand() bool { return !l.bounded || l.depth > 0 }

// Next returns the budget for the related instances one hop away.
func (l ExpandLevel) Next() ExpandLevel {
	if !l.bounded || l.depth == 0 {
		return l
	}
	return ExpandLevel{depth: l.depth - 1, bounded: true}
}

func (l ExpandLevel) String() string {
	if !l.bounded {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.depth)
}

// DefaultSerializers returns the built-in pairs keyed by local field type,
// with type casting enabled. Declarations extend this table through
// Declaration.Serializers.
func DefaultSerializers() map[FieldType]SerializerPair {
	return builtinSerializers(true)
}

func builtinSerializers(cast bool) map[FieldType]SerializerPair {
	return map[FieldType]SerializerPair{
		TypeDateTime: {ToMessage: timestampToMessage, FromMessage: timestampFromMessage},
		TypeUUID:     {ToMessage: uuidToMessage, FromMessage: uuidFromMessage},
		TypeFile:     {ToMessage: fileToMessage(cast), FromMessage: scalarFromMessage(cast)},
	}
}

// containerSerializers returns the pair owned by a container field type.
// Items of arrays and maps follow the model's type casting toggle.
func containerSerializers(ft FieldType, cast bool) (SerializerPair, bool) {
	switch ft {
	case TypeArray:
		return SerializerPair{ToMessage: arrayToMessage(cast), FromMessage: arrayFromMessage}, true
	case TypeMap:
		return SerializerPair{ToMessage: mapToMessage(cast), FromMessage: mapFromMessage}, true
	case TypeRepeatedMessage:
		return SerializerPair{ToMessage: repeatedMessageToMessage, FromMessage: repeatedMessageFromMessage}, true
	case TypeMessageMap:
		return SerializerPair{ToMessage: messageMapToMessage, FromMessage: messageMapFromMessage}, true
	}
	return SerializerPair{}, false
}

// Serializers resolves the pair for a local field type and message field.
// The boolean is true when the result is the model's default scalar pair.
//
// Lookup order: the field type's own container pair, the per-type override,
// the per-message-field override, the default pair.
func (m *Model) Serializers(ft FieldType, fd protoreflect.FieldDescriptor) (SerializerPair, bool) {
	if pair, ok := containerSerializers(ft, m.typeCast); ok {
		return pair, false
	}
	if pair, ok := m.serializers[ft]; ok {
		return pair, false
	}
	if fd != nil {
		if pair, ok := m.fieldSerializers[string(fd.Name())]; ok {
			return pair, false
		}
	}
	return m.defaults, true
}

func defaultSerializers(cast bool) SerializerPair {
	return SerializerPair{ToMessage: scalarToMessage(cast), FromMessage: scalarFromMessage(cast)}
}

// scalarToMessage assigns a scalar, casting it first when cast is enabled.
// Wrapper fields are assigned through their inner value.
func scalarToMessage(cast bool) ToMessageFunc {
	return func(_ context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, _ ExpandLevel) error {
		if value == nil {
			return fmt.Errorf("nil value for non-nullable field")
		}
		if IsWrapper(fd) {
			inner := wrapperInner(fd)
			v, err := castValue(inner.Kind(), value, cast)
			if err != nil {
				return err
			}
			msg.Mutable(fd).Message().Set(inner, v)
			return nil
		}
		if fd.IsList() || fd.IsMap() {
			return fmt.Errorf("cannot assign %T to repeated field", value)
		}
		if fd.Message() != nil {
			return fmt.Errorf("cannot assign %T to message field of type %s", value, fd.Message().FullName())
		}
		v, err := castValue(fd.Kind(), value, cast)
		if err != nil {
			return err
		}
		msg.Set(fd, v)
		return nil
	}
}

// scalarFromMessage reads a scalar back. With cast enabled the value goes
// through the local field type's coercion.
func scalarFromMessage(cast bool) FromMessageFunc {
	return func(_ context.Context, inst *Instance, fieldName string, fd protoreflect.FieldDescriptor, value protoreflect.Value, ft FieldType) error {
		if fd.IsList() || fd.IsMap() {
			return fmt.Errorf("cannot read repeated field into %v field %q", ft, fieldName)
		}
		if IsWrapper(fd) {
			value = value.Message().Get(wrapperInner(fd))
		} else if fd.Message() != nil {
			return fmt.Errorf("cannot read message %s into %v field %q", fd.Message().FullName(), ft, fieldName)
		}
		v := nativeValue(value)
		if cast {
			coerced, err := ft.Coerce(v)
			if err != nil {
				return err
			}
			v = coerced
		}
		return inst.Set(fieldName, v)
	}
}

// timestampToMessage writes a time.Time into a google.protobuf.Timestamp.
// Targets that are not timestamps are left alone.
func timestampToMessage(_ context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, _ ExpandLevel) error {
	if !IsTimestamp(fd) || value == nil {
		return nil
	}
	v, err := toTime(value)
	if err != nil {
		return err
	}
	ts := timestamppb.New(v.(time.Time).UTC())
	if err := ts.CheckValid(); err != nil {
		return err
	}
	return copyMessage(msg.Mutable(fd).Message(), ts.ProtoReflect())
}

func timestampFromMessage(_ context.Context, inst *Instance, fieldName string, fd protoreflect.FieldDescriptor, value protoreflect.Value, _ FieldType) error {
	if !IsTimestamp(fd) {
		return fmt.Errorf("field %s is not a timestamp", fd.Name())
	}
	ts := &timestamppb.Timestamp{}
	if err := copyMessage(ts.ProtoReflect(), value.Message()); err != nil {
		return err
	}
	t := ts.AsTime()
	if loc := inst.model.registry.cfg.location; loc != nil {
		t = t.In(loc)
	}
	return inst.Set(fieldName, t)
}

func uuidToMessage(_ context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, _ ExpandLevel) error {
	if value == nil {
		return nil
	}
	s, err := toString(value)
	if err != nil {
		return err
	}
	if fd.Kind() != protoreflect.StringKind || fd.IsList() {
		return fmt.Errorf("uuid needs a string field, got %v", fd.Kind())
	}
	msg.Set(fd, protoreflect.ValueOfString(s))
	return nil
}

func uuidFromMessage(_ context.Context, inst *Instance, fieldName string, fd protoreflect.FieldDescriptor, value protoreflect.Value, _ FieldType) error {
	if fd.Kind() != protoreflect.StringKind || fd.IsList() {
		return fmt.Errorf("uuid needs a string field, got %v", fd.Kind())
	}
	id, err := uuid.Parse(value.String())
	if err != nil {
		return err
	}
	return inst.Set(fieldName, id)
}

// fileToMessage stores file references by name. Values without a string
// form become "".
func fileToMessage(cast bool) ToMessageFunc {
	write := scalarToMessage(cast)
	return func(ctx context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, level ExpandLevel) error {
		s, err := toString(value)
		if err != nil || value == nil {
			s = ""
		}
		return write(ctx, msg, fd, s, level)
	}
}

func arrayToMessage(cast bool) ToMessageFunc {
	return func(_ context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, _ ExpandLevel) error {
		if value == nil {
			return nil
		}
		if !fd.IsList() || fd.Message() != nil {
			return fmt.Errorf("array needs a repeated scalar field")
		}
		items, err := toArray(value)
		if err != nil {
			return err
		}
		list := msg.Mutable(fd).List()
		for i, item := range items.([]any) {
			v, err := castValue(fd.Kind(), item, cast)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			list.Append(v)
		}
		return nil
	}
}

func arrayFromMessage(_ context.Context, inst *Instance, fieldName string, fd protoreflect.FieldDescriptor, value protoreflect.Value, _ FieldType) error {
	if !fd.IsList() {
		return fmt.Errorf("array needs a repeated field")
	}
	list := value.List()
	items := make([]any, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		items = append(items, nativeValue(list.Get(i)))
	}
	return inst.Set(fieldName, items)
}

func mapToMessage(cast bool) ToMessageFunc {
	return func(_ context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, _ ExpandLevel) error {
		if value == nil {
			return nil
		}
		if !isMapField(fd) || isMessageMapField(fd) {
			return fmt.Errorf("map needs a map field with scalar values")
		}
		entries, err := toMap(value)
		if err != nil {
			return err
		}
		items := entries.(map[string]any)
		keys := slices.Sorted(maps.Keys(items))

		if !fd.IsMap() {
			// A repeated message with only key and value fields.
			list := msg.Mutable(fd).List()
			entry := fd.Message()
			for _, k := range keys {
				elem := list.NewElement()
				// Keys are always strings locally, so they are parsed like mapKey does.
				key, err := castValue(entry.Fields().ByName("key").Kind(), k, true)
				if err != nil {
					return fmt.Errorf("key %q: %w", k, err)
				}
				v, err := castValue(entry.Fields().ByName("value").Kind(), items[k], cast)
				if err != nil {
					return fmt.Errorf("key %q: %w", k, err)
				}
				elem.Message().Set(entry.Fields().ByName("key"), key)
				elem.Message().Set(entry.Fields().ByName("value"), v)
				list.Append(elem)
			}
			return nil
		}

		target := msg.Mutable(fd).Map()
		for _, k := range keys {
			key, err := mapKey(fd.MapKey(), k)
			if err != nil {
				return err
			}
			v, err := castValue(fd.MapValue().Kind(), items[k], cast)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			target.Set(key, v)
		}
		return nil
	}
}

func mapFromMessage(_ context.Context, inst *Instance, fieldName string, fd protoreflect.FieldDescriptor, value protoreflect.Value, _ FieldType) error {
	if !isMapField(fd) {
		return fmt.Errorf("map needs a map field")
	}
	if !fd.IsMap() {
		list := value.List()
		key, val := fd.Message().Fields().ByName("key"), fd.Message().Fields().ByName("value")
		entries := make(map[string]any, list.Len())
		for n := 0; n < list.Len(); n++ {
			entry := list.Get(n).Message()
			k, err := toString(nativeValue(entry.Get(key)))
			if err != nil {
				return err
			}
			entries[k] = nativeValue(entry.Get(val))
		}
		return inst.Set(fieldName, entries)
	}
	entries := make(map[string]any, value.Map().Len())
	value.Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		entries[k.String()] = nativeValue(v)
		return true
	})
	return inst.Set(fieldName, entries)
}
