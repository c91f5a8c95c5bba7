// Package config provides loading and parsing of protomodel.yaml declaration
// files. A declaration file lists models with the message types they map
// onto, so model wiring can live outside the program.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/protomodel"
)

// FileName is the declaration file looked up in directories.
const FileName = "protomodel.yaml"

// Config represents a protomodel.yaml file.
type Config struct {
	// TimeZone enables zone-aware timestamps (e.g., "Europe/Paris").
	TimeZone string `yaml:"time_zone,omitempty"`

	// TypeCast is the default for models that leave type_cast unset.
	// Default: true
	TypeCast *bool `yaml:"type_cast,omitempty"`

	// Models are registered in order; parents and related types first.
	Models []ModelConfig `yaml:"models"`
}

// ModelConfig declares one model.
type ModelConfig struct {
	Name    string `yaml:"name"`
	Message string `yaml:"message,omitempty"` // Full message name (e.g., "shop.v1.Order")
	Parent  string `yaml:"parent,omitempty"`

	// Fields lists message fields to auto-map; ["__all__"] maps every field.
	Fields []string `yaml:"fields,omitempty"`

	// FieldMap renames message fields to local fields.
	FieldMap map[string]string `yaml:"field_map,omitempty"`

	TypeCast *bool `yaml:"type_cast,omitempty"`

	// AutoFieldTypes overrides the auto-mapping of scalar kinds
	// (e.g., uint32: integer).
	AutoFieldTypes map[string]string `yaml:"auto_field_types,omitempty"`

	// FieldSerializers names a serializer pair per message field. Pairs are
	// supplied by the program when registering.
	FieldSerializers map[string]string `yaml:"field_serializers,omitempty"`

	LocalFields []FieldConfig `yaml:"local_fields,omitempty"`
}

// FieldConfig declares an explicit local field.
type FieldConfig struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"` // Field type name (e.g., "text", "foreign_key")
	Nullable    bool   `yaml:"nullable,omitempty"`
	RelatedType string `yaml:"related_type,omitempty"`
	RelatedName string `yaml:"related_name,omitempty"`
}

// Load reads and parses a protomodel.yaml file from the given path.
// If the path is a directory, it looks for protomodel.yaml or protomodel.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{FileName, "protomodel.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no protomodel.yaml or protomodel.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a declaration file.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// LoadFromDir searches for protomodel.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no protomodel.yaml found in %s or parent directories", dir)
		}
		absDir = parent
	}
}

// LoadFromCurrentDir loads protomodel.yaml from the current working directory.
func LoadFromCurrentDir() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFromDir(cwd)
}

// Options returns the registry options the file sets.
func (c *Config) Options() ([]protomodel.Option, error) {
	var opts []protomodel.Option
	if c.TimeZone != "" {
		loc, err := time.LoadLocation(c.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid time_zone: %w", err)
		}
		opts = append(opts, protomodel.WithTimeZone(loc))
	}
	if c.TypeCast != nil {
		opts = append(opts, protomodel.WithTypeCast(*c.TypeCast))
	}
	return opts, nil
}

// Declarations converts the models into declarations. Message names are
// resolved through resolver (protoregistry.GlobalTypes when nil); named
// field serializers through serializers.
func (c *Config) Declarations(resolver protoregistry.MessageTypeResolver, serializers map[string]protomodel.SerializerPair) ([]protomodel.Declaration, error) {
	if resolver == nil {
		resolver = protoregistry.GlobalTypes
	}
	decls := make([]protomodel.Declaration, 0, len(c.Models))
	for _, mc := range c.Models {
		decl, err := mc.declaration(resolver, serializers)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", mc.Name, err)
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// Register registers every model of the file on reg, in file order.
func (c *Config) Register(reg *protomodel.Registry, resolver protoregistry.MessageTypeResolver, serializers map[string]protomodel.SerializerPair) ([]*protomodel.Model, error) {
	decls, err := c.Declarations(resolver, serializers)
	if err != nil {
		return nil, err
	}
	models := make([]*protomodel.Model, 0, len(decls))
	for _, decl := range decls {
		m, err := reg.Register(decl)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func (mc ModelConfig) declaration(resolver protoregistry.MessageTypeResolver, serializers map[string]protomodel.SerializerPair) (protomodel.Declaration, error) {
	decl := protomodel.Declaration{
		Name:     mc.Name,
		Parent:   mc.Parent,
		Fields:   mc.Fields,
		FieldMap: mc.FieldMap,
		TypeCast: mc.TypeCast,
	}

	if mc.Message != "" {
		mt, err := resolver.FindMessageByName(protoreflect.FullName(mc.Message))
		if err != nil {
			return decl, fmt.Errorf("message %q: %w", mc.Message, err)
		}
		decl.Message = mt
	}

	if len(mc.AutoFieldTypes) > 0 {
		decl.ScalarFieldTypes = make(map[protoreflect.Kind]protomodel.FieldType, len(mc.AutoFieldTypes))
		for kindName, typeName := range mc.AutoFieldTypes {
			kind, ok := parseKind(kindName)
			if !ok {
				return decl, fmt.Errorf("unknown proto kind %q", kindName)
			}
			ft, err := protomodel.ParseFieldType(typeName)
			if err != nil {
				return decl, err
			}
			decl.ScalarFieldTypes[kind] = ft
		}
	}

	if len(mc.FieldSerializers) > 0 {
		decl.FieldSerializers = make(map[string]protomodel.SerializerPair, len(mc.FieldSerializers))
		for field, name := range mc.FieldSerializers {
			pair, ok := serializers[name]
			if !ok {
				return decl, fmt.Errorf("field %q: serializer %q is not provided", field, name)
			}
			decl.FieldSerializers[field] = pair
		}
	}

	for _, fc := range mc.LocalFields {
		ft, err := protomodel.ParseFieldType(fc.Type)
		if err != nil {
			return decl, fmt.Errorf("local field %q: %w", fc.Name, err)
		}
		decl.LocalFields = append(decl.LocalFields, &protomodel.Field{
			Name:        fc.Name,
			Type:        ft,
			Null:        fc.Nullable,
			RelatedType: fc.RelatedType,
			RelatedName: fc.RelatedName,
		})
	}
	return decl, nil
}

// parseKind maps a kind name as printed by protoreflect.Kind ("int32",
// "bool", ...) to the kind.
func parseKind(name string) (protoreflect.Kind, bool) {
	for k := protoreflect.DoubleKind; k <= protoreflect.Sint64Kind; k++ {
		if k.IsValid() && k.String() == name {
			return k, true
		}
	}
	return 0, false
}
