package protomodel

import (
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Classification is the container kind of a message field. It is computed
// once per field descriptor when a declaration is registered.
type Classification int

const (
	ClassScalar Classification = iota
	ClassWrapperScalar
	ClassTimestamp
	ClassRepeatedScalar
	ClassMapScalar
	ClassMessage
	ClassRepeatedMessage
	ClassMapMessage
)

var classificationNames = map[Classification]string{
	ClassScalar:          "scalar",
	ClassWrapperScalar:   "wrapper_scalar",
	ClassTimestamp:       "timestamp",
	ClassRepeatedScalar:  "repeated_scalar",
	ClassMapScalar:       "map_scalar",
	ClassMessage:         "message",
	ClassRepeatedMessage: "repeated_message",
	ClassMapMessage:      "map_message",
}

func (c Classification) String() string {
	if name, ok := classificationNames[c]; ok {
		return name
	}
	return "unknown"
}

// NeedsRelated reports whether fields of this class point at another model.
func (c Classification) NeedsRelated() bool {
	switch c {
	case ClassMessage, ClassRepeatedMessage, ClassMapMessage:
		return true
	default:
		return false
	}
}

// Classify decides the container kind of a message field. The checks run in
// order and the first match wins: message maps, scalar maps, repeated
// messages, repeated scalars, singular messages (timestamps and wrappers are
// split out), scalars.
func Classify(fd protoreflect.FieldDescriptor) Classification {
	switch {
	case isMessageMapField(fd):
		return ClassMapMessage
	case isMapField(fd):
		return ClassMapScalar
	case isRepeatedField(fd) && isMessageField(fd):
		return ClassRepeatedMessage
	case isRepeatedField(fd):
		return ClassRepeatedScalar
	case isMessageField(fd):
		if IsTimestamp(fd) {
			return ClassTimestamp
		}
		if IsWrapper(fd) {
			return ClassWrapperScalar
		}
		return ClassMessage
	default:
		return ClassScalar
	}
}

func isMessageField(fd protoreflect.FieldDescriptor) bool {
	return fd.Message() != nil
}

func isRepeatedField(fd protoreflect.FieldDescriptor) bool {
	return fd.Cardinality() == protoreflect.Repeated
}

// isMapField checks for the map entry shape: a repeated message whose only
// fields are "key" and "value".
func isMapField(fd protoreflect.FieldDescriptor) bool {
	md := fd.Message()
	if md == nil || !isRepeatedField(fd) {
		return false
	}
	fields := md.Fields()
	return fields.Len() == 2 && fields.ByName("key") != nil && fields.ByName("value") != nil
}

func isMessageMapField(fd protoreflect.FieldDescriptor) bool {
	return isMapField(fd) && isMessageField(fd.Message().Fields().ByName("value"))
}

// mapValueField returns the descriptor of the value of a map field.
func mapValueField(fd protoreflect.FieldDescriptor) protoreflect.FieldDescriptor {
	if fd.IsMap() {
		return fd.MapValue()
	}
	return fd.Message().Fields().ByName("value")
}
