package protomodel

import (
	"context"
	"maps"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// allFieldsName is the Fields entry that selects every message field.
const allFieldsName = "__all__"

// AllFields maps every field of the declared message.
var AllFields = []string{allFieldsName}

// RelationMergeFunc reconciles a to-many relation with the repeated message
// field read by FromMessage. The default does nothing: the relation keeps
// whatever storage already holds.
type RelationMergeFunc func(ctx context.Context, inst *Instance, field *Field, list protoreflect.List) error

// NoMerge is the default RelationMergeFunc.
func NoMerge(context.Context, *Instance, *Field, protoreflect.List) error { return nil }

// Declaration describes how a model maps onto a message type.
type Declaration struct {
	// Name identifies the model in the registry.
	Name string

	// Parent names a registered declaration to inherit from. Maps and
	// overrides are merged, the parent's fields are copied.
	Parent string

	// Message is the target message type. Use MessageOf for generated types.
	Message protoreflect.MessageType

	// Fields lists the message fields to auto-map, or AllFields.
	// Fields with an explicit local counterpart are never auto-mapped.
	Fields []string

	// FieldMap renames message fields (key) to local fields (value).
	FieldMap map[string]string

	// Serializers overrides the pair used for a local field type.
	Serializers map[FieldType]SerializerPair

	// FieldSerializers overrides the pair used for a message field name.
	FieldSerializers map[string]SerializerPair

	// ScalarFieldTypes overrides the auto-mapping table for scalar kinds.
	ScalarFieldTypes map[protoreflect.Kind]FieldType

	// ContainerFieldTypes overrides the auto-mapping table for the other
	// classifications.
	ContainerFieldTypes map[Classification]FieldType

	// TypeCast toggles type casting of scalars. Nil inherits the parent or
	// the registry default.
	TypeCast *bool

	// LocalFields are the explicitly declared fields.
	LocalFields []*Field

	// MergeRelation handles to-many relations in FromMessage.
	MergeRelation RelationMergeFunc
}

// Bool returns a pointer to b, for Declaration.TypeCast.
func Bool(b bool) *bool { return &b }

// MessageOf returns the message type of a generated or dynamic message.
func MessageOf(m proto.Message) protoreflect.MessageType {
	return m.ProtoReflect().Type()
}

// inherit merges the parent's declaration into d. Maps extend the parent's
// entries; scalar settings fall back to the parent's when unset.
func (d Declaration) inherit(parent Declaration) Declaration {
	merged := d
	merged.FieldMap = mergeMap(parent.FieldMap, d.FieldMap)
	merged.Serializers = mergeMap(parent.Serializers, d.Serializers)
	merged.FieldSerializers = mergeMap(parent.FieldSerializers, d.FieldSerializers)
	merged.ScalarFieldTypes = mergeMap(parent.ScalarFieldTypes, d.ScalarFieldTypes)
	merged.ContainerFieldTypes = mergeMap(parent.ContainerFieldTypes, d.ContainerFieldTypes)
	if merged.Message == nil {
		merged.Message = parent.Message
	}
	if merged.TypeCast == nil {
		merged.TypeCast = parent.TypeCast
	}
	if merged.MergeRelation == nil {
		merged.MergeRelation = parent.MergeRelation
	}
	return merged
}

func mergeMap[K comparable, V any](parent, child map[K]V) map[K]V {
	out := make(map[K]V, len(parent)+len(child))
	maps.Copy(out, parent)
	maps.Copy(out, child)
	return out
}

func (d *Declaration) validate() error {
	if d.Name == "" {
		return configErr("<unnamed>", "", "declaration needs a name")
	}
	for ft, pair := range d.Serializers {
		if !pair.valid() {
			return configErr(d.Name, ft.String(), "custom serializers require a pair of functions")
		}
	}
	for name, pair := range d.FieldSerializers {
		if !pair.valid() {
			return configErr(d.Name, name, "custom serializers require a pair of functions")
		}
	}
	seen := make(map[string]bool, len(d.LocalFields))
	for _, f := range d.LocalFields {
		if f == nil || f.Name == "" {
			return configErr(d.Name, "", "local field needs a name")
		}
		if seen[f.Name] {
			return configErr(d.Name, f.Name, "duplicate local field")
		}
		seen[f.Name] = true
		if f.Type == TypeInvalid {
			return configErr(d.Name, f.Name, "local field needs a type")
		}
		if f.IsRelation() && f.RelatedType == "" {
			return configErr(d.Name, f.Name, "relation field needs a related type")
		}
		if f.Type == TypeReverseForeignKey && f.RelatedName == "" {
			return configErr(d.Name, f.Name, "reverse foreign key needs the name of the foreign key field")
		}
	}
	return nil
}
