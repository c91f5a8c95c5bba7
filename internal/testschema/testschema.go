// Package testschema builds the message types used by the protomodel tests.
// The descriptors are assembled at run time, so the tests need no generated
// code.
package testschema

import (
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	// Register the imported well-known files.
	_ "google.golang.org/protobuf/types/known/timestamppb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

// Package is the proto package of the test messages.
const Package = "protomodel.test"

var (
	once  sync.Once
	file  protoreflect.FileDescriptor
	types *protoregistry.Types
)

type (
	fieldType  = descriptorpb.FieldDescriptorProto_Type
	fieldLabel = descriptorpb.FieldDescriptorProto_Label
)

const (
	tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	tInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	tInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM

	optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
)

func field(name string, number int32, typ fieldType, label fieldLabel, typeName string) *descriptorpb.FieldDescriptorProto {
	fd := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Type:     typ.Enum(),
		Label:    label.Enum(),
	}
	if typeName != "" {
		fd.TypeName = proto.String(typeName)
	}
	return fd
}

func scalar(name string, number int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return field(name, number, typ, optional, "")
}

func message(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return field(name, number, tMessage, optional, typeName)
}

func mapEntry(name string, key fieldType, value fieldType, valueTypeName string) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name: proto.String(name),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("key", 1, key),
			field("value", 2, value, optional, valueTypeName),
		},
		Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
	}
}

func local(name string) string { return "." + Package + "." + name }

func fileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("protomodel/test.proto"),
		Package: proto.String(Package),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/timestamp.proto",
			"google/protobuf/wrappers.proto",
		},
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Kind"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("KIND_UNSPECIFIED"), Number: proto.Int32(0)},
				{Name: proto.String("KIND_A"), Number: proto.Int32(1)},
				{Name: proto.String("KIND_B"), Number: proto.Int32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Relation"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("id", 1, tInt64),
					scalar("name", 2, tString),
				},
			},
			{
				Name: proto.String("M2MRelation"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("id", 1, tInt64),
					scalar("name", 2, tString),
				},
			},
			{
				Name: proto.String("Root"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("id", 1, tInt64),
					scalar("int32_field", 2, tInt32),
					scalar("int64_field", 3, tInt64),
					scalar("uint32_field", 4, tUint32),
					scalar("uint64_field", 5, tUint64),
					scalar("double_field", 6, tDouble),
					scalar("float_field", 7, tFloat),
					scalar("bool_field", 8, tBool),
					scalar("string_field", 9, tString),
					scalar("bytes_field", 10, tBytes),
					field("enum_field", 11, tEnum, optional, local("Kind")),
					message("timestamp_field", 12, ".google.protobuf.Timestamp"),
					message("bool_wrapper", 13, ".google.protobuf.BoolValue"),
					message("string_wrapper", 14, ".google.protobuf.StringValue"),
					field("repeated_string", 15, tString, repeated, ""),
					field("map_string_to_string_field", 16, tMessage, repeated, local("Root.MapStringToStringFieldEntry")),
					message("relation", 17, local("Relation")),
					field("m2m_relations", 18, tMessage, repeated, local("M2MRelation")),
					field("relation_map", 19, tMessage, repeated, local("Root.RelationMapEntry")),
					scalar("uuid_field", 20, tString),
				},
				NestedType: []*descriptorpb.DescriptorProto{
					mapEntry("MapStringToStringFieldEntry", tString, tString, ""),
					mapEntry("RelationMapEntry", tString, tMessage, local("Relation")),
				},
			},
			{
				Name: proto.String("Node"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("id", 1, tInt64),
					scalar("name", 2, tString),
					message("parent", 3, local("Node")),
					field("children", 4, tMessage, repeated, local("Node")),
				},
			},
			{
				Name: proto.String("Comfy"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("id", 1, tString),
					scalar("number", 2, tInt64),
					scalar("label", 3, tString),
				},
			},
			{
				Name: proto.String("Pair"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("key", 1, tString, optional, ""),
					field("value", 2, tString, optional, ""),
				},
			},
			{
				Name: proto.String("LegacyMap"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("entries", 1, tMessage, repeated, local("Pair")),
					message("single", 2, local("Pair")),
				},
			},
		},
	}
}

func build() {
	fd, err := protodesc.NewFile(fileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic("testschema: " + err.Error())
	}
	file = fd
	types = new(protoregistry.Types)
	msgs := fd.Messages()
	for i := 0; i < msgs.Len(); i++ {
		if err := types.RegisterMessage(dynamicpb.NewMessageType(msgs.Get(i))); err != nil {
			panic("testschema: " + err.Error())
		}
	}
}

// File returns the test file descriptor.
func File() protoreflect.FileDescriptor {
	once.Do(build)
	return file
}

// Types returns a resolver holding every top-level test message type.
func Types() *protoregistry.Types {
	once.Do(build)
	return types
}

// Message returns the message type with the given short name, such as "Root".
func Message(name string) protoreflect.MessageType {
	mt, err := Types().FindMessageByName(protoreflect.FullName(Package + "." + name))
	if err != nil {
		panic("testschema: " + err.Error())
	}
	return mt
}

// New returns an empty message with the given short name.
func New(name string) protoreflect.Message {
	return Message(name).New()
}
