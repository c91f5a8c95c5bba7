package protomodel_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/zero-day-ai/protomodel"
	"github.com/zero-day-ai/protomodel/internal/testschema"
	"github.com/zero-day-ai/protomodel/store/memstore"
)

type fixture struct {
	reg      *protomodel.Registry
	store    *memstore.Store
	relation *protomodel.Model
	m2m      *protomodel.Model
	root     *protomodel.Model
	node     *protomodel.Model
	comfy    *protomodel.Model
}

func newFixture(t *testing.T, opts ...protomodel.Option) *fixture {
	t.Helper()
	store := memstore.New()
	reg := protomodel.NewRegistry(append([]protomodel.Option{protomodel.WithStore(store)}, opts...)...)

	fx := &fixture{reg: reg, store: store}
	fx.relation = reg.MustRegister(protomodel.Declaration{
		Name:    "Relation",
		Message: testschema.Message("Relation"),
		Fields:  protomodel.AllFields,
	})
	fx.m2m = reg.MustRegister(protomodel.Declaration{
		Name:    "M2MRelation",
		Message: testschema.Message("M2MRelation"),
		Fields:  protomodel.AllFields,
	})
	fx.root = reg.MustRegister(protomodel.Declaration{
		Name:    "Root",
		Message: testschema.Message("Root"),
		Fields:  protomodel.AllFields,
	})
	fx.node = reg.MustRegister(protomodel.Declaration{
		Name:    "Node",
		Message: testschema.Message("Node"),
		Fields:  protomodel.AllFields,
	})
	fx.comfy = reg.MustRegister(protomodel.Declaration{
		Name:    "Comfy",
		Message: testschema.Message("Comfy"),
		Fields:  protomodel.AllFields,
	})
	return fx
}

// get reads a field of a message by name.
func get(t *testing.T, msg proto.Message, name string) protoreflect.Value {
	t.Helper()
	m := msg.ProtoReflect()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	require.NotNil(t, fd, "no field %s", name)
	return m.Get(fd)
}

// has reports whether a field of a message is populated.
func has(t *testing.T, msg protoreflect.Message, name string) bool {
	t.Helper()
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(name))
	require.NotNil(t, fd, "no field %s", name)
	return msg.Has(fd)
}

// set assigns a field of a message by name.
func set(t *testing.T, msg protoreflect.Message, name string, v protoreflect.Value) {
	t.Helper()
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(name))
	require.NotNil(t, fd, "no field %s", name)
	msg.Set(fd, v)
}

func named(m *protomodel.Model, name string) *protomodel.Instance {
	return m.New().MustSet("name", name)
}
