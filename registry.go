package protomodel

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Registry holds the models of a program. Models are registered once at
// start-up; afterwards the registry is only read and is safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	cfg       registryConfig
	metrics   conversionMetrics
	models    map[string]*Model
	byMessage map[protoreflect.FullName]*Model
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		cfg:       cfg,
		metrics:   newConversionMetrics(cfg.meter, cfg.logger),
		models:    make(map[string]*Model),
		byMessage: make(map[protoreflect.FullName]*Model),
	}
}

// Register materializes a declaration into a model: explicit fields are
// bound, the listed message fields without a local counterpart are
// auto-mapped, and the model becomes resolvable as a related type.
//
// Related types of auto-mapped relation fields must already be registered,
// except for self references. Returns a *ConfigurationError otherwise.
func (r *Registry) Register(decl Declaration) (*Model, error) {
	if err := decl.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[decl.Name]; exists {
		return nil, configErr(decl.Name, "", "model already registered")
	}

	var parent *Model
	if decl.Parent != "" {
		p, ok := r.models[decl.Parent]
		if !ok {
			return nil, configErr(decl.Name, "", "parent %q is not registered", decl.Parent)
		}
		parent = p
		decl = decl.inherit(p.decl)
	}

	m := newModel(r, decl)
	if parent != nil {
		for _, f := range parent.fields {
			if f.owner != nil {
				continue
			}
			m.addField(f.clone())
		}
	}
	for _, f := range decl.LocalFields {
		m.addField(f.clone())
	}
	if _, ok := m.byName["id"]; !ok {
		m.addField(&Field{Name: "id", Type: TypeAutoID, Null: true})
		m.moveFirst("id")
	}

	r.models[m.name] = m
	var fullName protoreflect.FullName
	if decl.Message != nil {
		fullName = decl.Message.Descriptor().FullName()
		if _, taken := r.byMessage[fullName]; !taken {
			r.byMessage[fullName] = m
		} else {
			fullName = ""
		}
	}
	rollback := func() {
		delete(r.models, m.name)
		if fullName != "" {
			delete(r.byMessage, fullName)
		}
	}

	if err := r.autoMap(m, &decl); err != nil {
		rollback()
		return nil, err
	}
	m.bind()

	r.cfg.logger.Debug("model registered",
		slog.String("model", m.name),
		slog.String("message", string(fullName)),
		slog.Int("fields", len(m.fields)))
	return m, nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(decl Declaration) *Model {
	m, err := r.Register(decl)
	if err != nil {
		panic(err)
	}
	return m
}

func (r *Registry) autoMap(m *Model, decl *Declaration) error {
	if decl.Message == nil {
		if len(decl.Fields) > 0 {
			return configErr(m.name, "", "fields listed without a message type")
		}
		return nil
	}

	desc := decl.Message.Descriptor()
	names := decl.Fields
	if len(names) == 1 && names[0] == allFieldsName {
		names = make([]string, 0, desc.Fields().Len())
		for i := 0; i < desc.Fields().Len(); i++ {
			names = append(names, string(desc.Fields().Get(i).Name()))
		}
	}

	mapper := newAutoMapper(r, m.name, decl)
	for _, name := range names {
		fd := desc.Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			return configErr(m.name, name, "message %s has no such field", desc.FullName())
		}
		local := m.LocalName(name)
		if _, exists := m.byName[local]; exists {
			continue
		}
		f, err := mapper.createField(fd, local)
		if err != nil {
			return err
		}
		m.addField(f)
	}
	return nil
}

// Model returns the model registered under name.
func (r *Registry) Model(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Models returns every registered model ordered by name.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Validate resolves the related type of every relation field.
func (r *Registry) Validate() error {
	var errs []error
	for _, m := range r.Models() {
		for _, f := range m.fields {
			if !f.IsRelation() {
				continue
			}
			if _, err := f.Related(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Store returns the configured persistence provider, or nil.
func (r *Registry) Store() Store { return r.cfg.store }

// Logger returns the registry logger.
func (r *Registry) Logger() *slog.Logger { return r.cfg.logger }

func (r *Registry) store() (Store, error) {
	if r.cfg.store == nil {
		return nil, ErrNoStore
	}
	return r.cfg.store, nil
}

// lookup resolves a related type by model name or message full name.
func (r *Registry) lookup(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[name]; ok {
		return m, true
	}
	m, ok := r.byMessage[protoreflect.FullName(name)]
	return m, ok
}

// lookupMessage resolves a message descriptor to its model: by full name
// first, then by the short message name as model name. The caller holds mu.
func (r *Registry) lookupMessage(md protoreflect.MessageDescriptor) (*Model, bool) {
	if m, ok := r.byMessage[md.FullName()]; ok {
		return m, true
	}
	m, ok := r.models[string(md.Name())]
	return m, ok
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry(%d models)", len(r.models))
}
