package protomodel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType identifies the kind of a local field. It plays the role of a
// column type and selects the serializer pair used for the field.
type FieldType int

const (
	TypeInvalid FieldType = iota
	TypeAutoID
	TypeBool
	TypeNullBool
	TypeInteger
	TypeBigInteger
	TypePositiveInteger
	TypeFloat
	TypeDecimal
	TypeText
	TypeBinary
	TypeDateTime
	TypeUUID
	TypeFile
	TypeArray
	TypeMap
	TypeIndex
	TypeForeignKey
	TypeManyToMany
	TypeReverseForeignKey
	TypeRepeatedMessage
	TypeMessageMap

	// TypeUser is the first value available for caller-defined field types.
	// Caller types coerce as identity and need a serializer pair registered
	// through Declaration.Serializers to be useful.
	TypeUser FieldType = 1000
)

var fieldTypeNames = map[FieldType]string{
	TypeAutoID:            "auto_id",
	TypeBool:              "bool",
	TypeNullBool:          "null_bool",
	TypeInteger:           "integer",
	TypeBigInteger:        "big_integer",
	TypePositiveInteger:   "positive_integer",
	TypeFloat:             "float",
	TypeDecimal:           "decimal",
	TypeText:              "text",
	TypeBinary:            "binary",
	TypeDateTime:          "datetime",
	TypeUUID:              "uuid",
	TypeFile:              "file",
	TypeArray:             "array",
	TypeMap:               "map",
	TypeIndex:             "index",
	TypeForeignKey:        "foreign_key",
	TypeManyToMany:        "many_to_many",
	TypeReverseForeignKey: "reverse_foreign_key",
	TypeRepeatedMessage:   "repeated_message",
	TypeMessageMap:        "message_map",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	if t >= TypeUser {
		return fmt.Sprintf("user(%d)", int(t))
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType returns the field type with the given name, as printed by
// FieldType.String.
func ParseFieldType(name string) (FieldType, error) {
	for t, n := range fieldTypeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeInvalid, fmt.Errorf("unknown field type %q", name)
}

// RelationKind describes how a field relates to another model.
type RelationKind int

const (
	RelationNone RelationKind = iota
	RelationToOne
	RelationToMany
)

func (k RelationKind) String() string {
	switch k {
	case RelationToOne:
		return "to_one"
	case RelationToMany:
		return "to_many"
	default:
		return "none"
	}
}

// Relation returns the relation kind implied by the field type.
func (t FieldType) Relation() RelationKind {
	switch t {
	case TypeForeignKey:
		return RelationToOne
	case TypeManyToMany, TypeReverseForeignKey, TypeRepeatedMessage, TypeMessageMap:
		return RelationToMany
	default:
		return RelationNone
	}
}

// IsContainer reports whether the field type carries its own serializer
// pair. Container pairs take precedence over every override.
func (t FieldType) IsContainer() bool {
	switch t {
	case TypeArray, TypeMap, TypeRepeatedMessage, TypeMessageMap:
		return true
	default:
		return false
	}
}

// stored reports whether values of this type live in an instance slot and
// are persisted as a column.
func (t FieldType) stored() bool {
	switch t {
	case TypeManyToMany, TypeReverseForeignKey:
		return false
	default:
		return true
	}
}

// Coerce converts v into the canonical Go representation of the field type:
// int64 for integers (uint64 above MaxInt64 for wide integers), float64 for floats, bool, string, []byte, time.Time,
// uuid.UUID, []any for arrays, map[string]any for maps, and []int64 or
// map[string]int64 for index fields. nil passes through unchanged.
func (t FieldType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeAutoID:
		return toInt64(v)
	case TypeInteger, TypeBigInteger:
		return toInteger(v)
	case TypePositiveInteger:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("value %d must be positive", n)
		}
		return n, nil
	case TypeFloat, TypeDecimal:
		return toFloat64(v)
	case TypeBool, TypeNullBool:
		return parseBool(v)
	case TypeText, TypeFile:
		return toString(v)
	case TypeBinary:
		return toBytes(v)
	case TypeDateTime:
		return toTime(v)
	case TypeUUID:
		return toUUID(v)
	case TypeArray:
		return toArray(v)
	case TypeMap:
		return toMap(v)
	case TypeIndex:
		return toIndex(v)
	default:
		return v, nil
	}
}

// zero returns the value a non-nullable field starts with when it has no
// default.
func (t FieldType) zero() any {
	switch t {
	case TypeArray:
		return []any{}
	case TypeMap:
		return map[string]any{}
	default:
		return nil
	}
}

// Field is a local field of a model. Fields are created by the caller for
// explicit declarations or synthesized by the auto-mapper; either way they
// are bound to their model once, at registration.
type Field struct {
	// Name is the local field name.
	Name string

	// Type selects coercion, storage column type and serializers.
	Type FieldType

	// Null marks the field nullable. Nil values of nullable fields are not
	// written to messages.
	Null bool

	// RelatedType names the related model for relation fields. Either a
	// registered model name or the full name of its message type.
	RelatedType string

	// RelatedName is the back-reference name. For reverse foreign keys it is
	// the name of the foreign key field on the related model.
	RelatedName string

	// Default produces the initial value for new instances.
	Default func() any

	model   *Model
	related *Model
	index   *Field
	owner   *Field // set on index fields
	slot    int
	auto    bool

	get func(*Instance) any
	set func(*Instance, any) error
}

// Relation returns the relation kind of the field.
func (f *Field) Relation() RelationKind { return f.Type.Relation() }

// IsRelation reports whether the field refers to another model.
func (f *Field) IsRelation() bool { return f.Relation() != RelationNone }

// Model returns the model the field is bound to.
func (f *Field) Model() *Model { return f.model }

// Index returns the companion index field of a container relation, or nil.
func (f *Field) Index() *Field { return f.index }

// Auto reports whether the field was synthesized by the auto-mapper.
func (f *Field) Auto() bool { return f.auto }

// Column returns the storage column name: foreign keys are stored as
// "<name>_id".
func (f *Field) Column() string {
	if f.Type == TypeForeignKey {
		return f.Name + "_id"
	}
	return f.Name
}

// Related resolves the related model of a relation field.
func (f *Field) Related() (*Model, error) {
	if f.related != nil {
		return f.related, nil
	}
	if !f.IsRelation() {
		return nil, configErr(f.model.Name(), f.Name, "field is not a relation")
	}
	m, ok := f.model.registry.lookup(f.RelatedType)
	if !ok {
		return nil, configErr(f.model.Name(), f.Name, "related type %q is not registered", f.RelatedType)
	}
	return m, nil
}

func (f *Field) clone() *Field {
	c := *f
	c.model, c.related, c.index, c.owner = nil, nil, nil, nil
	c.get, c.set = nil, nil
	return &c
}

func (f *Field) initial() any {
	if f.Default != nil {
		return f.Default()
	}
	if f.Null {
		return nil
	}
	return f.Type.zero()
}

func toArray(v any) (any, error) {
	switch val := v.(type) {
	case []any:
		return val, nil
	case string:
		var out []any
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return out, nil
	case []byte:
		return toArray(string(val))
	case []string:
		return anySlice(val), nil
	case []int64:
		return anySlice(val), nil
	case []int32:
		return anySlice(val), nil
	case []uint32:
		return anySlice(val), nil
	case []uint64:
		return anySlice(val), nil
	case []float64:
		return anySlice(val), nil
	case []bool:
		return anySlice(val), nil
	}
	return nil, fmt.Errorf("cannot use %T as array", v)
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func toMap(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		return val, nil
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, fmt.Errorf("decode map: %w", err)
		}
		return out, nil
	case []byte:
		return toMap(string(val))
	}
	return nil, fmt.Errorf("cannot use %T as map", v)
}

func toIndex(v any) (any, error) {
	switch val := v.(type) {
	case []int64, map[string]int64:
		return val, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return []int64{}, nil
		}
		var raw any
		if err := json.Unmarshal([]byte(val), &raw); err != nil {
			return nil, fmt.Errorf("decode index: %w", err)
		}
		return toIndex(raw)
	case []byte:
		return toIndex(string(val))
	case []any:
		ids := make([]int64, 0, len(val))
		for _, item := range val {
			id, err := toInt64(item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	case map[string]any:
		ids := make(map[string]int64, len(val))
		for k, item := range val {
			id, err := toInt64(item)
			if err != nil {
				return nil, err
			}
			ids[k] = id
		}
		return ids, nil
	}
	return nil, fmt.Errorf("cannot use %T as index", v)
}

func toTime(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return nil, fmt.Errorf("parse datetime: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("cannot use %T as datetime", v)
}

func toUUID(v any) (any, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, nil
	case string:
		return uuid.Parse(val)
	case []byte:
		if len(val) == 16 {
			return uuid.FromBytes(val)
		}
		return uuid.ParseBytes(val)
	}
	return nil, fmt.Errorf("cannot use %T as uuid", v)
}
