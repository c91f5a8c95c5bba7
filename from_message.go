package protomodel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// FromMessage reads every populated field of msg into the instance and
// returns it. Unset message fields leave their local field untouched.
// Conversion stops at the first failing field. Nothing is written to
// storage; call Save to persist the result.
func (i *Instance) FromMessage(ctx context.Context, msg proto.Message) (_ *Instance, err error) {
	start := time.Now()
	ctx, span := i.model.registry.cfg.tracer.Start(ctx, "protomodel.FromMessage")
	span.SetAttributes(attribute.String("protomodel.model", i.model.name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		i.model.registry.metrics.recordConversion(ctx, i.model.name, directionFromMessage, start, err)
	}()

	if err := i.fromMessage(ctx, msg.ProtoReflect()); err != nil {
		return i, err
	}
	return i, nil
}

// FromMessage builds a new instance from msg.
func (m *Model) FromMessage(ctx context.Context, msg proto.Message) (*Instance, error) {
	return m.New().FromMessage(ctx, msg)
}

func (i *Instance) fromMessage(ctx context.Context, msg protoreflect.Message) error {
	m := i.model
	fields := msg.Descriptor().Fields()
	for n := 0; n < fields.Len(); n++ {
		fd := fields.Get(n)
		if !msg.Has(fd) {
			continue
		}
		name := m.LocalName(string(fd.Name()))
		f, ok := m.byName[name]
		if !ok {
			m.registry.cfg.logger.Debug("message field has no local field",
				slog.String("model", m.name),
				slog.String("field", string(fd.Name())))
			continue
		}
		if err := i.fieldFromMessage(ctx, f, fd, msg.Get(fd)); err != nil {
			m.registry.metrics.recordFieldFailure(ctx, m.name, string(fd.Name()), directionFromMessage)
			return &FieldConversionError{Model: m.name, Field: string(fd.Name()), Err: err}
		}
	}
	return nil
}

func (i *Instance) fieldFromMessage(ctx context.Context, f *Field, fd protoreflect.FieldDescriptor, value protoreflect.Value) error {
	m := i.model
	pair, isDefault := m.Serializers(f.Type, fd)
	if !isDefault {
		return pair.FromMessage(ctx, i, f.Name, fd, value, f.Type)
	}

	if fd.Message() != nil && f.IsRelation() {
		switch f.Relation() {
		case RelationToMany:
			if !fd.IsList() {
				return fmt.Errorf("to-many relation needs a repeated message field")
			}
			return m.merge(ctx, i, f, value.List())
		case RelationToOne:
			if fd.IsList() || fd.IsMap() {
				return fmt.Errorf("to-one relation needs a singular message field")
			}
			related, err := f.Related()
			if err != nil {
				return err
			}
			child := related.New()
			if err := child.fromMessage(ctx, value.Message()); err != nil {
				return err
			}
			return i.Set(f.Name, child)
		}
	}

	return pair.FromMessage(ctx, i, f.Name, fd, value, f.Type)
}
