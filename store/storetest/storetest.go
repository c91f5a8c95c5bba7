// Package storetest is a conformance suite for protomodel.Store
// implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/protomodel"
	"github.com/zero-day-ai/protomodel/internal/testschema"
)

// Migrator is implemented by stores that need tables created up front.
type Migrator interface {
	Migrate(ctx context.Context, models ...*protomodel.Model) error
}

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) protomodel.Store

// Fixture is a registry wired to a fresh store.
type Fixture struct {
	Registry *protomodel.Registry
	Store    protomodel.Store

	Relation *protomodel.Model
	M2M      *protomodel.Model
	Root     *protomodel.Model
	Author   *protomodel.Model
	Book     *protomodel.Model
	Tag      *protomodel.Model
}

// NewFixture registers the suite's models on a registry using the store
// returned by newStore.
func NewFixture(t *testing.T, newStore Factory) *Fixture {
	t.Helper()

	store := newStore(t)
	reg := protomodel.NewRegistry(protomodel.WithStore(store))
	fx := &Fixture{Registry: reg, Store: store}

	fx.Relation = reg.MustRegister(protomodel.Declaration{
		Name:    "Relation",
		Message: testschema.Message("Relation"),
		Fields:  protomodel.AllFields,
	})
	fx.M2M = reg.MustRegister(protomodel.Declaration{
		Name:    "M2MRelation",
		Message: testschema.Message("M2MRelation"),
		Fields:  protomodel.AllFields,
	})
	fx.Root = reg.MustRegister(protomodel.Declaration{
		Name:    "Root",
		Message: testschema.Message("Root"),
		Fields:  protomodel.AllFields,
		LocalFields: []*protomodel.Field{
			{Name: "uuid_field", Type: protomodel.TypeUUID, Null: true},
		},
	})
	fx.Tag = reg.MustRegister(protomodel.Declaration{
		Name: "Tag",
		LocalFields: []*protomodel.Field{
			{Name: "name", Type: protomodel.TypeText},
		},
	})
	fx.Author = reg.MustRegister(protomodel.Declaration{
		Name: "Author",
		LocalFields: []*protomodel.Field{
			{Name: "name", Type: protomodel.TypeText},
			{Name: "books", Type: protomodel.TypeReverseForeignKey, RelatedType: "Book", RelatedName: "author"},
		},
	})
	fx.Book = reg.MustRegister(protomodel.Declaration{
		Name: "Book",
		LocalFields: []*protomodel.Field{
			{Name: "title", Type: protomodel.TypeText},
			{Name: "author", Type: protomodel.TypeForeignKey, RelatedType: "Author", Null: true},
			{Name: "tags", Type: protomodel.TypeManyToMany, RelatedType: "Tag"},
		},
	})
	require.NoError(t, reg.Validate())

	if m, ok := store.(Migrator); ok {
		require.NoError(t, m.Migrate(context.Background(), reg.Models()...))
	}
	return fx
}

func (fx *Fixture) named(t *testing.T, m *protomodel.Model, field, name string) *protomodel.Instance {
	t.Helper()
	inst := m.New()
	require.NoError(t, inst.Set(field, name))
	return inst
}

func names(t *testing.T, items []*protomodel.Instance) []string {
	t.Helper()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Value("name").(string))
	}
	return out
}

// Run executes the conformance suite against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("save assigns id and get round trips scalars", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		when := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)
		id := uuid.New()

		root := fx.Root.New()
		root.MustSet("int32_field", int64(-5)).
			MustSet("int64_field", int64(1)<<40).
			MustSet("uint32_field", int64(7)).
			MustSet("double_field", 2.5).
			MustSet("bool_field", true).
			MustSet("string_field", "hello").
			MustSet("bytes_field", []byte{0, 1, 2}).
			MustSet("timestamp_field", when).
			MustSet("repeated_string", []any{"a", "b"}).
			MustSet("map_string_to_string_field", map[string]any{"k": "v"}).
			MustSet("uuid_field", id)

		_, saved := root.ID()
		require.False(t, saved)
		require.NoError(t, root.Save(ctx))
		rootID, saved := root.ID()
		require.True(t, saved)

		got, err := fx.Store.Get(ctx, fx.Root, rootID)
		require.NoError(t, err)

		assert.Equal(t, int64(-5), got.Value("int32_field"))
		assert.Equal(t, int64(1)<<40, got.Value("int64_field"))
		assert.Equal(t, int64(7), got.Value("uint32_field"))
		assert.Equal(t, 2.5, got.Value("double_field"))
		assert.Equal(t, true, got.Value("bool_field"))
		assert.Equal(t, "hello", got.Value("string_field"))
		assert.Equal(t, []byte{0, 1, 2}, got.Value("bytes_field"))
		assert.True(t, when.Equal(got.Value("timestamp_field").(time.Time)))
		assert.Equal(t, []any{"a", "b"}, got.Value("repeated_string"))
		assert.Equal(t, map[string]any{"k": "v"}, got.Value("map_string_to_string_field"))
		assert.Equal(t, id, got.Value("uuid_field"))
		assert.Nil(t, got.Value("string_wrapper"))
	})

	t.Run("save twice updates in place", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		rel := fx.named(t, fx.Relation, "name", "before")
		require.NoError(t, rel.Save(ctx))
		first, _ := rel.ID()

		require.NoError(t, rel.Set("name", "after"))
		require.NoError(t, rel.Save(ctx))
		second, _ := rel.ID()
		assert.Equal(t, first, second)

		got, err := fx.Store.Get(ctx, fx.Relation, first)
		require.NoError(t, err)
		assert.Equal(t, "after", got.Value("name"))
	})

	t.Run("get missing instance", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		_, err := fx.Store.Get(ctx, fx.Relation, 4242)
		require.Error(t, err)
		assert.ErrorIs(t, err, protomodel.ErrNotFound)
	})

	t.Run("foreign key resolves on load", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		rel := fx.named(t, fx.Relation, "name", "target")
		require.NoError(t, rel.Save(ctx))

		root := fx.Root.New().MustSet("relation", rel)
		require.NoError(t, root.Save(ctx))
		rootID, _ := root.ID()

		got, err := fx.Store.Get(ctx, fx.Root, rootID)
		require.NoError(t, err)
		related, err := got.Related("relation")
		require.NoError(t, err)
		require.NotNil(t, related)
		assert.Equal(t, "target", related.Value("name"))
	})

	t.Run("dangling foreign key surfaces relation not found", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		rel := fx.named(t, fx.Relation, "name", "gone")
		require.NoError(t, rel.Save(ctx))
		root := fx.Root.New().MustSet("relation", rel)
		require.NoError(t, root.Save(ctx))
		require.NoError(t, rel.Delete(ctx))

		rootID, _ := root.ID()
		_, err := fx.Store.Get(ctx, fx.Root, rootID)
		require.Error(t, err)
		assert.ErrorIs(t, err, protomodel.ErrRelationNotFound)
	})

	t.Run("unsaved foreign key is rejected", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		root := fx.Root.New().MustSet("relation", fx.named(t, fx.Relation, "name", "new"))
		err := root.Save(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, protomodel.ErrFieldConversion)
	})

	t.Run("repeated message keeps cache order through save and reload", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		// Saved in reverse so ID order differs from list order.
		c := fx.named(t, fx.M2M, "name", "c")
		b := fx.named(t, fx.M2M, "name", "b")
		require.NoError(t, c.Save(ctx))
		require.NoError(t, b.Save(ctx))
		a := fx.named(t, fx.M2M, "name", "a")

		root := fx.Root.New()
		items, err := root.Repeated("m2m_relations")
		require.NoError(t, err)
		assert.Equal(t, protomodel.StateUnloaded, items.State())
		items.Set([]*protomodel.Instance{a, b, c})
		assert.Equal(t, protomodel.StateDirty, items.State())

		require.NoError(t, root.Save(ctx))
		assert.Equal(t, protomodel.StateLoaded, items.State())
		_, saved := a.ID()
		assert.True(t, saved, "unsaved members are saved on commit")

		rootID, _ := root.ID()
		got, err := fx.Store.Get(ctx, fx.Root, rootID)
		require.NoError(t, err)
		reloaded, err := got.Repeated("m2m_relations")
		require.NoError(t, err)
		assert.Equal(t, protomodel.StateUnloaded, reloaded.State())

		members, err := reloaded.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, names(t, members))
		assert.Equal(t, protomodel.StateLoaded, reloaded.State())

		msg, err := got.ToMessage(ctx, protomodel.Depth(1))
		require.NoError(t, err)
		list := msg.ProtoReflect().Get(msg.ProtoReflect().Descriptor().Fields().ByName("m2m_relations")).List()
		require.Equal(t, 3, list.Len())
		nameField := list.Get(0).Message().Descriptor().Fields().ByName("name")
		assert.Equal(t, "a", list.Get(0).Message().Get(nameField).String())
		assert.Equal(t, "c", list.Get(2).Message().Get(nameField).String())
	})

	t.Run("message map round trips by key", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		root := fx.Root.New()
		entries, err := root.MessageMap("relation_map")
		require.NoError(t, err)
		require.NoError(t, entries.Put(ctx, "x", fx.named(t, fx.Relation, "name", "first")))
		require.NoError(t, entries.Put(ctx, "y", fx.named(t, fx.Relation, "name", "second")))
		require.NoError(t, root.Save(ctx))

		rootID, _ := root.ID()
		got, err := fx.Store.Get(ctx, fx.Root, rootID)
		require.NoError(t, err)
		reloaded, err := got.MessageMap("relation_map")
		require.NoError(t, err)
		members, err := reloaded.Get(ctx)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "first", members["x"].Value("name"))
		assert.Equal(t, "second", members["y"].Value("name"))
	})

	t.Run("many to many links", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		book := fx.named(t, fx.Book, "title", "Go")
		require.NoError(t, book.Save(ctx))
		t1 := fx.named(t, fx.Tag, "name", "one")
		t2 := fx.named(t, fx.Tag, "name", "two")
		other := fx.named(t, fx.Tag, "name", "other")
		for _, tag := range []*protomodel.Instance{t2, t1, other} {
			require.NoError(t, tag.Save(ctx))
		}

		tags, err := book.Relation("tags")
		require.NoError(t, err)
		require.NoError(t, tags.Add(ctx, t1, t2))
		require.NoError(t, tags.Add(ctx, t1))

		all, err := tags.All(ctx)
		require.NoError(t, err)
		// All orders by ID; t2 was saved first.
		assert.Equal(t, []string{"two", "one"}, names(t, all))

		id1, _ := t1.ID()
		got, err := tags.Get(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, "one", got.Value("name"))

		otherID, _ := other.ID()
		_, err = tags.Get(ctx, otherID)
		require.Error(t, err)
		assert.ErrorIs(t, err, protomodel.ErrRelationNotFound)
	})

	t.Run("reverse foreign key", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		author := fx.named(t, fx.Author, "name", "Rob")
		require.NoError(t, author.Save(ctx))
		book := fx.named(t, fx.Book, "title", "Plan 9")

		books, err := author.Relation("books")
		require.NoError(t, err)
		require.NoError(t, books.Add(ctx, book))

		bookID, saved := book.ID()
		require.True(t, saved)
		all, err := books.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "Plan 9", all[0].Value("title"))

		got, err := books.Get(ctx, bookID)
		require.NoError(t, err)
		related, err := got.Related("author")
		require.NoError(t, err)
		assert.Equal(t, "Rob", related.Value("name"))
	})

	t.Run("delete removes instance", func(t *testing.T) {
		fx := NewFixture(t, newStore)
		rel := fx.named(t, fx.Relation, "name", "doomed")
		require.NoError(t, rel.Save(ctx))
		id, _ := rel.ID()
		require.NoError(t, rel.Delete(ctx))

		_, err := fx.Store.Get(ctx, fx.Relation, id)
		assert.ErrorIs(t, err, protomodel.ErrNotFound)
	})
}
