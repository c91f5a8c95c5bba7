package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/protomodel"
	"github.com/zero-day-ai/protomodel/store/storetest"
)

// setupTestStore creates a miniredis instance and returns a connected Store.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := New(Options{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		Prefix:         "test",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
		mr.Close()
	})

	return store, mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) protomodel.Store {
		store, _ := setupTestStore(t)
		return store
	})
}

func TestNew(t *testing.T) {
	t.Run("connection failure", func(t *testing.T) {
		_, err := New(Options{
			URL:            "redis://localhost:99999",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := New(Options{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestKeyLayout(t *testing.T) {
	store, mr := setupTestStore(t)
	fx := storetest.NewFixture(t, func(*testing.T) protomodel.Store { return store })
	ctx := context.Background()

	book := fx.Book.New().MustSet("title", "Go")
	require.NoError(t, book.Save(ctx))
	tag := fx.Tag.New().MustSet("name", "lang")
	require.NoError(t, tag.Save(ctx))
	tags, err := book.Relation("tags")
	require.NoError(t, err)
	require.NoError(t, tags.Add(ctx, tag))

	assert.True(t, mr.Exists("test:Book:1"))
	seq, err := mr.Get("test:Book:seq")
	require.NoError(t, err)
	assert.Equal(t, "1", seq)

	members, err := mr.Members("test:Book:ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, members)

	links, err := mr.List("test:link:Book:tags:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, links)

	require.NoError(t, book.Delete(ctx))
	assert.False(t, mr.Exists("test:Book:1"))
	assert.False(t, mr.Exists("test:link:Book:tags:1"))
}

func TestRecordCodec(t *testing.T) {
	rec := protomodel.Record{
		"name":  "x",
		"count": int64(-3),
		"ratio": 0.25,
		"blob":  []byte{1, 2},
		"flag":  true,
		"none":  nil,
	}
	data, err := encodeRecord(rec)
	require.NoError(t, err)

	again, err := encodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is deterministic")

	got, err := decodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "x", got["name"])
	assert.Equal(t, int64(-3), got["count"])
	assert.Equal(t, 0.25, got["ratio"])
	assert.Equal(t, []byte{1, 2}, got["blob"])
	assert.Equal(t, true, got["flag"])
	assert.Nil(t, got["none"])

	n, ok := asInt64(uint64(9))
	assert.True(t, ok)
	assert.Equal(t, int64(9), n)
}
