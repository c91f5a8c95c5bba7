package protomodel

import (
	"fmt"
	"maps"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// DefaultScalarFieldTypes returns the field types synthesized for scalar
// message fields, keyed by the field kind. Wrapper fields use the kind of
// their inner value.
func DefaultScalarFieldTypes() map[protoreflect.Kind]FieldType {
	return map[protoreflect.Kind]FieldType{
		protoreflect.DoubleKind:   TypeFloat,
		protoreflect.FloatKind:    TypeFloat,
		protoreflect.Int64Kind:    TypeBigInteger,
		protoreflect.Uint64Kind:   TypeBigInteger,
		protoreflect.Int32Kind:    TypeInteger,
		protoreflect.Fixed64Kind:  TypeDecimal,
		protoreflect.Fixed32Kind:  TypeDecimal,
		protoreflect.BoolKind:     TypeNullBool,
		protoreflect.StringKind:   TypeText,
		protoreflect.BytesKind:    TypeBinary,
		protoreflect.Uint32Kind:   TypePositiveInteger,
		protoreflect.EnumKind:     TypeInteger,
		protoreflect.Sfixed32Kind: TypeDecimal,
		protoreflect.Sfixed64Kind: TypeDecimal,
		protoreflect.Sint32Kind:   TypeInteger,
		protoreflect.Sint64Kind:   TypeBigInteger,
	}
}

// DefaultContainerFieldTypes returns the field types synthesized for
// non-scalar classifications.
func DefaultContainerFieldTypes() map[Classification]FieldType {
	return map[Classification]FieldType{
		ClassTimestamp:       TypeDateTime,
		ClassRepeatedScalar:  TypeArray,
		ClassMapScalar:       TypeMap,
		ClassMessage:         TypeForeignKey,
		ClassRepeatedMessage: TypeRepeatedMessage,
		ClassMapMessage:      TypeMessageMap,
	}
}

// autoMapper synthesizes local fields for message fields that have no
// explicit counterpart.
type autoMapper struct {
	registry   *Registry
	model      string
	scalars    map[protoreflect.Kind]FieldType
	containers map[Classification]FieldType
}

func newAutoMapper(r *Registry, model string, decl *Declaration) *autoMapper {
	scalars := DefaultScalarFieldTypes()
	maps.Copy(scalars, decl.ScalarFieldTypes)
	containers := DefaultContainerFieldTypes()
	maps.Copy(containers, decl.ContainerFieldTypes)
	return &autoMapper{registry: r, model: model, scalars: scalars, containers: containers}
}

// createField returns the synthesized field for fd. The caller has already
// checked that no local field with the target name exists.
func (a *autoMapper) createField(fd protoreflect.FieldDescriptor, localName string) (*Field, error) {
	class := Classify(fd)
	field := &Field{Name: localName, auto: true}

	switch class {
	case ClassScalar, ClassWrapperScalar:
		kind := fd.Kind()
		if class == ClassWrapperScalar {
			kind = wrapperInner(fd).Kind()
		}
		ft, ok := a.scalars[kind]
		if !ok {
			return nil, configErr(a.model, string(fd.Name()), "no field type mapped for kind %v", kind)
		}
		field.Type = ft
		field.Null = true
		return field, nil
	}

	ft, ok := a.containers[class]
	if !ok {
		return nil, configErr(a.model, string(fd.Name()), "no field type mapped for %v", class)
	}
	field.Type = ft

	if !class.NeedsRelated() {
		return field, nil
	}

	var related protoreflect.MessageDescriptor
	switch class {
	case ClassMapMessage:
		related = mapValueField(fd).Message()
	default:
		related = fd.Message()
	}
	m, ok := a.registry.lookupMessage(related)
	if !ok {
		return nil, configErr(a.model, string(fd.Name()), "related type %q is not a registered model", related.FullName())
	}
	field.RelatedType = m.Name()
	field.RelatedName = fmt.Sprintf("%s_%s", fd.ContainingMessage().Name(), fd.Name())
	field.related = m
	if class == ClassMessage {
		field.Null = true
	}
	return field, nil
}
