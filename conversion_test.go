package protomodel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/zero-day-ai/protomodel"
	"github.com/zero-day-ai/protomodel/internal/testschema"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	when := time.Date(2022, 1, 2, 3, 4, 5, 6000, time.UTC)

	root := fx.root.New().
		MustSet("int32_field", int64(-32)).
		MustSet("int64_field", int64(64)).
		MustSet("uint32_field", int64(32)).
		MustSet("uint64_field", int64(64)).
		MustSet("double_field", 1.25).
		MustSet("float_field", 0.5).
		MustSet("bool_field", true).
		MustSet("string_field", "text").
		MustSet("bytes_field", []byte("raw")).
		MustSet("enum_field", int64(2)).
		MustSet("timestamp_field", when).
		MustSet("bool_wrapper", true).
		MustSet("string_wrapper", "wrapped").
		MustSet("repeated_string", []any{"x", "y"}).
		MustSet("map_string_to_string_field", map[string]any{"k": "v"}).
		MustSet("relation", named(fx.relation, "one")).
		MustSet("m2m_relations", []*protomodel.Instance{named(fx.m2m, "a"), named(fx.m2m, "b")}).
		MustSet("relation_map", map[string]*protomodel.Instance{"key": named(fx.relation, "mapped")})

	msg, err := root.ToMessage(ctx, protomodel.Unlimited)
	require.NoError(t, err)

	back, err := fx.root.FromMessage(ctx, msg)
	require.NoError(t, err)

	for _, name := range []string{
		"int32_field", "int64_field", "uint32_field", "uint64_field",
		"double_field", "float_field", "bool_field", "string_field",
		"bytes_field", "enum_field", "bool_wrapper", "string_wrapper",
		"repeated_string", "map_string_to_string_field",
	} {
		assert.Equal(t, root.Value(name), back.Value(name), name)
	}
	assert.True(t, when.Equal(back.Value("timestamp_field").(time.Time)))

	related, err := back.Related("relation")
	require.NoError(t, err)
	require.NotNil(t, related)
	assert.Equal(t, "one", related.Value("name"))

	items, err := back.Repeated("m2m_relations")
	require.NoError(t, err)
	assert.Equal(t, protomodel.StateDirty, items.State())
	members, err := items.Get(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].Value("name"))
	assert.Equal(t, "b", members[1].Value("name"))

	entries, err := back.MessageMap("relation_map")
	require.NoError(t, err)
	mapped, err := entries.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mapped", mapped["key"].Value("name"))

	// Conversion never writes to storage.
	_, saved := members[0].ID()
	assert.False(t, saved)
}

func TestToMessageScalars(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	when := time.Date(2020, 5, 17, 8, 0, 0, 0, time.FixedZone("X", 2*3600))

	root := fx.root.New().
		MustSet("int32_field", "12").
		MustSet("double_field", 3).
		MustSet("string_field", 99).
		MustSet("timestamp_field", when).
		MustSet("string_wrapper", "w")

	msg, err := root.ToMessage(ctx, protomodel.Unlimited)
	require.NoError(t, err)

	assert.Equal(t, int64(12), get(t, msg, "int32_field").Int())
	assert.Equal(t, 3.0, get(t, msg, "double_field").Float())
	assert.Equal(t, "99", get(t, msg, "string_field").String())

	ts := get(t, msg, "timestamp_field").Message()
	assert.Equal(t, when.UTC().Unix(), ts.Get(ts.Descriptor().Fields().ByName("seconds")).Int())

	wrapper := get(t, msg, "string_wrapper").Message()
	assert.Equal(t, "w", wrapper.Get(wrapper.Descriptor().Fields().ByName("value")).String())
	assert.False(t, has(t, msg.ProtoReflect(), "bool_wrapper"))
}

func TestExpandDepth(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	grandparent := named(fx.node, "grandparent")
	parent := named(fx.node, "parent").MustSet("parent", grandparent)
	child := named(fx.node, "child").MustSet("parent", parent)
	child.MustSet("children", []*protomodel.Instance{named(fx.node, "kid")})

	t.Run("depth 0 follows no relation", func(t *testing.T) {
		msg, err := child.ToMessage(ctx, protomodel.Depth(0))
		require.NoError(t, err)
		assert.Equal(t, "child", get(t, msg, "name").String())
		assert.False(t, has(t, msg.ProtoReflect(), "parent"))
		assert.Equal(t, 0, get(t, msg, "children").List().Len())
	})

	t.Run("depth 1 follows one hop", func(t *testing.T) {
		msg, err := child.ToMessage(ctx, protomodel.Depth(1))
		require.NoError(t, err)
		require.True(t, has(t, msg.ProtoReflect(), "parent"))
		p := get(t, msg, "parent").Message()
		assert.Equal(t, "parent", p.Get(p.Descriptor().Fields().ByName("name")).String())
		assert.False(t, has(t, p, "parent"), "grandparent stays unset")

		kids := get(t, msg, "children").List()
		require.Equal(t, 1, kids.Len())
		kid := kids.Get(0).Message()
		assert.Equal(t, "kid", kid.Get(kid.Descriptor().Fields().ByName("name")).String())
	})

	t.Run("unlimited follows the whole chain", func(t *testing.T) {
		msg, err := child.ToMessage(ctx, protomodel.Unlimited)
		require.NoError(t, err)
		p := get(t, msg, "parent").Message()
		require.True(t, has(t, p, "parent"))
		gp := p.Get(p.Descriptor().Fields().ByName("parent")).Message()
		assert.Equal(t, "grandparent", gp.Get(gp.Descriptor().Fields().ByName("name")).String())
	})

	t.Run("caller level is unchanged", func(t *testing.T) {
		level := protomodel.Depth(2)
		_, err := child.ToMessage(ctx, level)
		require.NoError(t, err)
		assert.Equal(t, protomodel.Depth(2), level)
	})
}

func TestToMessageAggregatesErrors(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	root := fx.root.New().
		MustSet("int32_field", "abc").
		MustSet("double_field", "xyz").
		MustSet("string_field", "fine")

	msg, err := root.ToMessage(ctx, protomodel.Unlimited)
	require.Error(t, err)
	assert.Nil(t, msg)

	assert.Contains(t, err.Error(), "multiple errors found")
	assert.Contains(t, err.Error(), "failed to convert field 'int32_field'")
	assert.Contains(t, err.Error(), `invalid literal for int: "abc"`)
	assert.Contains(t, err.Error(), "failed to convert field 'double_field'")
	assert.Contains(t, err.Error(), "could not convert string to float: xyz")

	var conv *protomodel.ConversionError
	require.True(t, errors.As(err, &conv))
	assert.Len(t, conv.Errors, 2)
	assert.ErrorIs(t, err, protomodel.ErrFieldConversion)

	var field *protomodel.FieldConversionError
	require.True(t, errors.As(err, &field))
	assert.Equal(t, "Root", field.Model)
}

func TestFromMessageSkipsUnsetFields(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	msg := testschema.New("Root")
	set(t, msg, "string_field", protoreflect.ValueOfString("only"))

	inst := fx.root.New().MustSet("int64_field", int64(9)).MustSet("bool_wrapper", true)
	_, err := inst.FromMessage(ctx, msg.Interface())
	require.NoError(t, err)

	assert.Equal(t, "only", inst.Value("string_field"))
	assert.Equal(t, int64(9), inst.Value("int64_field"))
	assert.Equal(t, true, inst.Value("bool_wrapper"))
	assert.Nil(t, inst.Value("timestamp_field"))
}

func TestFromMessageFailsFast(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	msg := testschema.New("Comfy")
	set(t, msg, "id", protoreflect.ValueOfString("not-a-number"))

	_, err := fx.comfy.FromMessage(ctx, msg.Interface())
	require.Error(t, err)
	assert.ErrorIs(t, err, protomodel.ErrFieldConversion)
	assert.Contains(t, err.Error(), "failed to convert field 'id' of Comfy")
}

func TestWrapperRoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	t.Run("unset wrapper reads as literal false", func(t *testing.T) {
		msg, err := fx.root.New().ToMessage(ctx, protomodel.Unlimited)
		require.NoError(t, err)
		assert.False(t, has(t, msg.ProtoReflect(), "bool_wrapper"))

		wrapper := get(t, msg, "bool_wrapper").Message()
		assert.False(t, wrapper.Get(wrapper.Descriptor().Fields().ByName("value")).Bool())
	})

	t.Run("present default wrapper reads back as false, not nil", func(t *testing.T) {
		msg := testschema.New("Root")
		wrapper := msg.Mutable(msg.Descriptor().Fields().ByName("bool_wrapper")).Message()
		wrapper.Set(wrapper.Descriptor().Fields().ByName("value"), protoreflect.ValueOfBool(false))
		require.True(t, has(t, msg, "bool_wrapper"))

		inst, err := fx.root.FromMessage(ctx, msg.Interface())
		require.NoError(t, err)
		assert.Equal(t, false, inst.Value("bool_wrapper"))
	})

	t.Run("false survives a round trip as false", func(t *testing.T) {
		msg, err := fx.root.New().MustSet("bool_wrapper", false).ToMessage(ctx, protomodel.Unlimited)
		require.NoError(t, err)
		assert.True(t, has(t, msg.ProtoReflect(), "bool_wrapper"))

		inst, err := fx.root.FromMessage(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, false, inst.Value("bool_wrapper"))
	})
}

func TestTypeCasting(t *testing.T) {
	ctx := context.Background()

	t.Run("integer id cast to string field", func(t *testing.T) {
		fx := newFixture(t)
		inst := fx.comfy.New().MustSet("number", "5")
		inst.SetID(7)

		msg, err := inst.ToMessage(ctx, protomodel.Unlimited)
		require.NoError(t, err)
		assert.Equal(t, "7", get(t, msg, "id").String())
		assert.Equal(t, int64(5), get(t, msg, "number").Int())

		back, err := fx.comfy.FromMessage(ctx, msg)
		require.NoError(t, err)
		id, ok := back.ID()
		require.True(t, ok)
		assert.Equal(t, int64(7), id)
	})

	t.Run("casting disabled rejects other families", func(t *testing.T) {
		fx := newFixture(t, protomodel.WithTypeCast(false))
		inst := fx.comfy.New().MustSet("number", "5").MustSet("label", "ok")

		_, err := inst.ToMessage(ctx, protomodel.Unlimited)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "type string, but expected one of: int")
	})
}

func TestTypeCastingCoversContainerItems(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled casts items", func(t *testing.T) {
		fx := newFixture(t)
		msg, err := fx.root.New().
			MustSet("repeated_string", []any{"a", 1}).
			MustSet("map_string_to_string_field", map[string]any{"k": 2}).
			ToMessage(ctx, protomodel.Unlimited)
		require.NoError(t, err)
		assert.Equal(t, "1", get(t, msg, "repeated_string").List().Get(1).String())
	})

	t.Run("disabled rejects items of other types", func(t *testing.T) {
		fx := newFixture(t, protomodel.WithTypeCast(false))
		_, err := fx.root.New().
			MustSet("repeated_string", []any{"a", 1}).
			MustSet("map_string_to_string_field", map[string]any{"k": 2}).
			ToMessage(ctx, protomodel.Unlimited)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "item 1: type int, but expected one of: string")
		assert.Contains(t, err.Error(), `key "k": type int, but expected one of: string`)
	})
}

func TestUint64FullRange(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	const big = uint64(1) << 63

	msg := testschema.New("Root")
	set(t, msg, "uint64_field", protoreflect.ValueOfUint64(big))

	inst, err := fx.root.FromMessage(ctx, msg.Interface())
	require.NoError(t, err)
	assert.Equal(t, big, inst.Value("uint64_field"))

	out, err := inst.ToMessage(ctx, protomodel.Unlimited)
	require.NoError(t, err)
	assert.Equal(t, big, get(t, out, "uint64_field").Uint())
}

func TestUUIDField(t *testing.T) {
	ctx := context.Background()
	reg := protomodel.NewRegistry()
	ticket := reg.MustRegister(protomodel.Declaration{
		Name:        "Ticket",
		Message:     testschema.Message("Comfy"),
		Fields:      protomodel.AllFields,
		LocalFields: []*protomodel.Field{{Name: "label", Type: protomodel.TypeUUID, Null: true}},
	})
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	msg, err := ticket.New().MustSet("label", id).ToMessage(ctx, protomodel.Unlimited)
	require.NoError(t, err)
	assert.Equal(t, id.String(), get(t, msg, "label").String())

	back, err := ticket.FromMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, id, back.Value("label"))

	t.Run("nil is left unset", func(t *testing.T) {
		msg, err := ticket.New().ToMessage(ctx, protomodel.Unlimited)
		require.NoError(t, err)
		assert.Equal(t, "", get(t, msg, "label").String())
	})

	t.Run("malformed uuid fails", func(t *testing.T) {
		in := testschema.New("Comfy")
		set(t, in, "label", protoreflect.ValueOfString("not-a-uuid"))
		_, err := ticket.FromMessage(ctx, in.Interface())
		require.Error(t, err)
		assert.ErrorIs(t, err, protomodel.ErrFieldConversion)
		assert.Contains(t, err.Error(), "failed to convert field 'label' of Ticket")
	})
}

func TestFileField(t *testing.T) {
	ctx := context.Background()
	reg := protomodel.NewRegistry()
	upload := reg.MustRegister(protomodel.Declaration{
		Name:        "Upload",
		Message:     testschema.Message("Comfy"),
		Fields:      protomodel.AllFields,
		LocalFields: []*protomodel.Field{{Name: "label", Type: protomodel.TypeFile}},
	})

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "path", value: "reports/q3.pdf", want: "reports/q3.pdf"},
		{name: "no string form", value: struct{ Size int }{42}, want: ""},
		{name: "nil", value: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := upload.New().MustSet("label", tt.value).ToMessage(ctx, protomodel.Unlimited)
			require.NoError(t, err)
			assert.Equal(t, tt.want, get(t, msg, "label").String())

			back, err := upload.FromMessage(ctx, msg)
			require.NoError(t, err)
			if tt.want != "" {
				assert.Equal(t, tt.want, back.Value("label"))
			}
		})
	}
}

func TestTimeZone(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("Plus5", 5*3600)
	fx := newFixture(t, protomodel.WithTimeZone(loc))
	when := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

	msg, err := fx.root.New().MustSet("timestamp_field", when).ToMessage(ctx, protomodel.Unlimited)
	require.NoError(t, err)

	back, err := fx.root.FromMessage(ctx, msg)
	require.NoError(t, err)
	got := back.Value("timestamp_field").(time.Time)
	assert.True(t, when.Equal(got))
	assert.Equal(t, loc, got.Location())
}

func TestContainerOrderBeforeSave(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	root := fx.root.New()
	items, err := root.Repeated("m2m_relations")
	require.NoError(t, err)
	require.NoError(t, items.Append(ctx, named(fx.m2m, "c"), named(fx.m2m, "a")))
	require.NoError(t, items.Append(ctx, named(fx.m2m, "b")))

	msg, err := root.ToMessage(ctx, protomodel.Unlimited)
	require.NoError(t, err)
	list := get(t, msg, "m2m_relations").List()
	var got []string
	for i := 0; i < list.Len(); i++ {
		m := list.Get(i).Message()
		got = append(got, m.Get(m.Descriptor().Fields().ByName("name")).String())
	}
	assert.Equal(t, []string{"c", "a", "b"}, got)

	index, err := root.Get("m2m_relations_index")
	require.NoError(t, err)
	assert.Equal(t, []int64{}, index, "the index only changes on save")
}

func TestMissingLocalFieldIsSkipped(t *testing.T) {
	ctx := context.Background()
	reg := protomodel.NewRegistry()
	partial := reg.MustRegister(protomodel.Declaration{
		Name:    "Partial",
		Message: testschema.Message("Comfy"),
		Fields:  []string{"label"},
	})

	msg, err := partial.New().MustSet("label", "x").ToMessage(ctx, protomodel.Unlimited)
	require.NoError(t, err)
	assert.Equal(t, "x", get(t, msg, "label").String())
	assert.Equal(t, int64(0), get(t, msg, "number").Int())

	in := testschema.New("Comfy")
	set(t, in, "number", protoreflect.ValueOfInt64(4))
	set(t, in, "label", protoreflect.ValueOfString("y"))
	inst, err := partial.FromMessage(ctx, in.Interface())
	require.NoError(t, err)
	assert.Equal(t, "y", inst.Value("label"))
}

func TestToManyRelations(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	var merged []int
	tree := fx.reg.MustRegister(protomodel.Declaration{
		Name:    "Tree",
		Message: testschema.Message("Node"),
		Fields:  []string{"name", "children"},
		LocalFields: []*protomodel.Field{
			{Name: "children", Type: protomodel.TypeManyToMany, RelatedType: "Tree"},
		},
		MergeRelation: func(_ context.Context, _ *protomodel.Instance, f *protomodel.Field, list protoreflect.List) error {
			assert.Equal(t, "children", f.Name)
			merged = append(merged, list.Len())
			return nil
		},
	})

	top := named(tree, "top")
	require.NoError(t, top.Save(ctx))
	second := named(tree, "second")
	first := named(tree, "first")
	require.NoError(t, second.Save(ctx))
	require.NoError(t, first.Save(ctx))

	children, err := top.Relation("children")
	require.NoError(t, err)
	require.NoError(t, children.Add(ctx, first, second))

	t.Run("to message lists members by id", func(t *testing.T) {
		msg, err := top.ToMessage(ctx, protomodel.Depth(1))
		require.NoError(t, err)
		list := get(t, msg, "children").List()
		require.Equal(t, 2, list.Len())
		m := list.Get(0).Message()
		assert.Equal(t, "second", m.Get(m.Descriptor().Fields().ByName("name")).String())
	})

	t.Run("from message calls the merge hook", func(t *testing.T) {
		msg, err := top.ToMessage(ctx, protomodel.Depth(1))
		require.NoError(t, err)
		_, err = tree.FromMessage(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, merged)

		all, err := children.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2, "the default hook leaves storage alone")
	})

	t.Run("without a store to-many relations fail", func(t *testing.T) {
		bare := protomodel.NewRegistry()
		m := bare.MustRegister(protomodel.Declaration{
			Name:    "Tree",
			Message: testschema.Message("Node"),
			Fields:  []string{"name", "children"},
			LocalFields: []*protomodel.Field{
				{Name: "children", Type: protomodel.TypeManyToMany, RelatedType: "Tree"},
			},
		})
		_, err := named(m, "x").ToMessage(ctx, protomodel.Unlimited)
		require.Error(t, err)
		assert.ErrorIs(t, err, protomodel.ErrNoStore)

		_, err = named(m, "x").ToMessage(ctx, protomodel.Depth(0))
		assert.NoError(t, err)
	})
}

func TestSaveCommitsContainers(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	root := fx.root.New().MustSet("m2m_relations", []*protomodel.Instance{named(fx.m2m, "x"), named(fx.m2m, "y")})
	require.NoError(t, root.Save(ctx))

	index, err := root.Get("m2m_relations_index")
	require.NoError(t, err)
	assert.Len(t, index, 2)

	items, err := root.Repeated("m2m_relations")
	require.NoError(t, err)
	assert.Equal(t, protomodel.StateLoaded, items.State())

	rootID, _ := root.ID()
	reloaded, err := fx.store.Get(ctx, fx.root, rootID)
	require.NoError(t, err)
	reloadedIndex, err := reloaded.Get("m2m_relations_index")
	require.NoError(t, err)
	assert.Equal(t, index, reloadedIndex)
}

func TestSaveWithoutStore(t *testing.T) {
	reg := protomodel.NewRegistry()
	m := reg.MustRegister(protomodel.Declaration{
		Name:        "Plain",
		LocalFields: []*protomodel.Field{{Name: "name", Type: protomodel.TypeText}},
	})
	err := m.New().Save(context.Background())
	assert.ErrorIs(t, err, protomodel.ErrNoStore)
}

func TestLoaderResolvesCycles(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	a := named(fx.node, "a")
	require.NoError(t, a.Save(ctx))
	b := named(fx.node, "b").MustSet("parent", a)
	require.NoError(t, b.Save(ctx))
	a.MustSet("parent", b)
	require.NoError(t, a.Save(ctx))

	aID, _ := a.ID()
	loaded, err := fx.store.Get(ctx, fx.node, aID)
	require.NoError(t, err)

	parent, err := loaded.Related("parent")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "b", parent.Value("name"))

	grandparent, err := parent.Related("parent")
	require.NoError(t, err)
	assert.Same(t, loaded, grandparent, "one instance per stored row")

	msg, err := loaded.ToMessage(ctx, protomodel.Depth(3))
	require.NoError(t, err)
	p := get(t, msg, "parent").Message()
	gp := p.Get(p.Descriptor().Fields().ByName("parent")).Message()
	assert.Equal(t, "a", gp.Get(gp.Descriptor().Fields().ByName("name")).String())
}
