package protomodel

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	timestampName = (&timestamppb.Timestamp{}).ProtoReflect().Descriptor().FullName()

	// wrapperNames lists the well-known wrapper types. Each carries a single
	// scalar in a field named "value".
	wrapperNames = map[protoreflect.FullName]bool{
		(&wrapperspb.DoubleValue{}).ProtoReflect().Descriptor().FullName(): true,
		(&wrapperspb.FloatValue{}).ProtoReflect().Descriptor().FullName():  true,
		(&wrapperspb.Int64Value{}).ProtoReflect().Descriptor().FullName():  true,
		(&wrapperspb.UInt64Value{}).ProtoReflect().Descriptor().FullName(): true,
		(&wrapperspb.Int32Value{}).ProtoReflect().Descriptor().FullName():  true,
		(&wrapperspb.UInt32Value{}).ProtoReflect().Descriptor().FullName(): true,
		(&wrapperspb.BoolValue{}).ProtoReflect().Descriptor().FullName():   true,
		(&wrapperspb.StringValue{}).ProtoReflect().Descriptor().FullName(): true,
		(&wrapperspb.BytesValue{}).ProtoReflect().Descriptor().FullName():  true,
	}
)

// IsWrapper reports whether fd is a singular field of a well-known wrapper
// type such as google.protobuf.BoolValue.
func IsWrapper(fd protoreflect.FieldDescriptor) bool {
	md := fd.Message()
	return md != nil && !fd.IsList() && !fd.IsMap() && wrapperNames[md.FullName()]
}

// IsTimestamp reports whether fd is a singular google.protobuf.Timestamp.
func IsTimestamp(fd protoreflect.FieldDescriptor) bool {
	md := fd.Message()
	return md != nil && !fd.IsList() && !fd.IsMap() && md.FullName() == timestampName
}

func wrapperInner(fd protoreflect.FieldDescriptor) protoreflect.FieldDescriptor {
	return fd.Message().Fields().ByName("value")
}

// nativeValue returns the Go value carried by a scalar message value.
// Enum numbers are widened to int64.
func nativeValue(v protoreflect.Value) any {
	switch val := v.Interface().(type) {
	case protoreflect.EnumNumber:
		return int64(val)
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	default:
		return val
	}
}

// mapKey builds a map key of the key kind from its string form.
func mapKey(kd protoreflect.FieldDescriptor, key string) (protoreflect.MapKey, error) {
	switch kd.Kind() {
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(key).MapKey(), nil
	case protoreflect.BoolKind:
		b, err := parseBool(key)
		if err != nil {
			return protoreflect.MapKey{}, fmt.Errorf("map key %q: %w", key, err)
		}
		return protoreflect.ValueOfBool(b.(bool)).MapKey(), nil
	}
	v, err := castValue(kd.Kind(), key, true)
	if err != nil {
		return protoreflect.MapKey{}, fmt.Errorf("map key %q: %w", key, err)
	}
	return v.MapKey(), nil
}
