package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/zero-day-ai/protomodel"
	"github.com/zero-day-ai/protomodel/internal/testschema"
)

const sample = `
time_zone: UTC
type_cast: true
models:
  - name: Relation
    message: protomodel.test.Relation
    fields: ["__all__"]
  - name: Comfy
    message: protomodel.test.Comfy
    fields: [id, number, label]
    field_map:
      number: count
    type_cast: false
    auto_field_types:
      int64: integer
    field_serializers:
      label: upper
    local_fields:
      - name: count
        type: integer
        nullable: true
      - name: owner
        type: foreign_key
        related_type: Relation
        nullable: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.TimeZone)
	require.NotNil(t, cfg.TypeCast)
	assert.True(t, *cfg.TypeCast)
	require.Len(t, cfg.Models, 2)

	comfy := cfg.Models[1]
	assert.Equal(t, "Comfy", comfy.Name)
	assert.Equal(t, "protomodel.test.Comfy", comfy.Message)
	assert.Equal(t, []string{"id", "number", "label"}, comfy.Fields)
	assert.Equal(t, map[string]string{"number": "count"}, comfy.FieldMap)
	require.NotNil(t, comfy.TypeCast)
	assert.False(t, *comfy.TypeCast)
	assert.Equal(t, map[string]string{"label": "upper"}, comfy.FieldSerializers)
	require.Len(t, comfy.LocalFields, 2)
	assert.Equal(t, FieldConfig{Name: "owner", Type: "foreign_key", RelatedType: "Relation", Nullable: true}, comfy.LocalFields[1])
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("models: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad(t *testing.T) {
	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(sample), 0o644))

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Len(t, cfg.Models, 2)
	})

	t.Run("yml fallback", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "protomodel.yml"), []byte(sample), 0o644))

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Len(t, cfg.Models, 2)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Load(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no protomodel.yaml")
	})

	t.Run("parent directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(sample), 0o644))
		nested := filepath.Join(dir, "a", "b")
		require.NoError(t, os.MkdirAll(nested, 0o755))

		cfg, err := LoadFromDir(nested)
		require.NoError(t, err)
		assert.Len(t, cfg.Models, 2)
	})
}

func TestRegister(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	reg := protomodel.NewRegistry(opts...)

	upper := protomodel.SerializerPair{
		ToMessage: func(_ context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, value any, _ protomodel.ExpandLevel) error {
			msg.Set(fd, protoreflect.ValueOfString("<"+value.(string)+">"))
			return nil
		},
		FromMessage: func(_ context.Context, inst *protomodel.Instance, name string, _ protoreflect.FieldDescriptor, value protoreflect.Value, _ protomodel.FieldType) error {
			return inst.Set(name, value.String())
		},
	}

	models, err := cfg.Register(reg, testschema.Types(), map[string]protomodel.SerializerPair{"upper": upper})
	require.NoError(t, err)
	require.Len(t, models, 2)

	comfy := models[1]
	assert.False(t, comfy.TypeCast())
	count, ok := comfy.Field("count")
	require.True(t, ok)
	assert.Equal(t, protomodel.TypeInteger, count.Type)
	assert.False(t, count.Auto())
	label, ok := comfy.Field("label")
	require.True(t, ok)
	assert.True(t, label.Auto())

	inst := comfy.New().MustSet("label", "x").MustSet("count", int64(3))
	msg, err := inst.ToMessage(context.Background(), protomodel.Unlimited)
	require.NoError(t, err)
	fields := msg.ProtoReflect().Descriptor().Fields()
	assert.Equal(t, "<x>", msg.ProtoReflect().Get(fields.ByName("label")).String())
	assert.Equal(t, int64(3), msg.ProtoReflect().Get(fields.ByName("number")).Int())
	assert.True(t, count.Null)

	// A nullable local field left nil is skipped instead of failing.
	msg, err = comfy.New().MustSet("label", "y").ToMessage(context.Background(), protomodel.Unlimited)
	require.NoError(t, err)
	assert.False(t, msg.ProtoReflect().Has(fields.ByName("number")))
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown message",
			yaml:    "models:\n  - name: X\n    message: protomodel.test.Nope\n",
			wantErr: "protomodel.test.Nope",
		},
		{
			name:    "unknown field type",
			yaml:    "models:\n  - name: X\n    local_fields:\n      - name: a\n        type: blob\n",
			wantErr: `unknown field type "blob"`,
		},
		{
			name:    "unknown kind",
			yaml:    "models:\n  - name: X\n    auto_field_types:\n      int128: integer\n",
			wantErr: `unknown proto kind "int128"`,
		},
		{
			name:    "missing serializer",
			yaml:    "models:\n  - name: X\n    field_serializers:\n      a: nope\n",
			wantErr: `serializer "nope" is not provided`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = cfg.Register(protomodel.NewRegistry(), testschema.Types(), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOptionsInvalidTimeZone(t *testing.T) {
	cfg := &Config{TimeZone: "Mars/Olympus"}
	_, err := cfg.Options()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid time_zone")
}

func TestParseKind(t *testing.T) {
	k, ok := parseKind("uint32")
	assert.True(t, ok)
	assert.Equal(t, protoreflect.Uint32Kind, k)
	_, ok = parseKind("message")
	assert.True(t, ok)
	_, ok = parseKind("nope")
	assert.False(t, ok)
}
