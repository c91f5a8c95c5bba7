package protomodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ToMessage converts the instance into a new message of the model's message
// type. Relations are followed while level allows; Depth(0) leaves every
// relation field empty.
//
// Every field of the message is attempted. When some fail, the returned
// error is a *ConversionError listing each failed field.
func (i *Instance) ToMessage(ctx context.Context, level ExpandLevel) (_ proto.Message, err error) {
	if i.model.message == nil {
		return nil, configErr(i.model.name, "", "model has no message type")
	}

	start := time.Now()
	ctx, span := i.model.registry.cfg.tracer.Start(ctx, "protomodel.ToMessage")
	span.SetAttributes(
		attribute.String("protomodel.model", i.model.name),
		attribute.String("protomodel.expand", level.String()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		i.model.registry.metrics.recordConversion(ctx, i.model.name, directionToMessage, start, err)
	}()

	msg := i.model.message.New()
	if err := i.writeMessage(ctx, msg, level); err != nil {
		return nil, err
	}
	return msg.Interface(), nil
}

// MustToMessage is like ToMessage with unlimited expansion and panics on
// error.
func (i *Instance) MustToMessage(ctx context.Context) proto.Message {
	msg, err := i.ToMessage(ctx, Unlimited)
	if err != nil {
		panic(err)
	}
	return msg
}

// writeMessage fills msg, whose type may be any message the model maps onto.
func (i *Instance) writeMessage(ctx context.Context, msg protoreflect.Message, level ExpandLevel) error {
	fields := msg.Descriptor().Fields()
	var errs []error
	for n := 0; n < fields.Len(); n++ {
		fd := fields.Get(n)
		err := i.fieldToMessage(ctx, msg, fd, level)
		if err == nil {
			continue
		}
		var missing *MissingLocalFieldError
		if errors.As(err, &missing) {
			i.model.registry.cfg.logger.Debug("message field has no local field",
				slog.String("model", i.model.name),
				slog.String("field", missing.MessageField))
			continue
		}
		i.model.registry.metrics.recordFieldFailure(ctx, i.model.name, string(fd.Name()), directionToMessage)
		errs = append(errs, &FieldConversionError{Model: i.model.name, Field: string(fd.Name()), Err: err})
	}
	if len(errs) > 0 {
		return &ConversionError{Model: i.model.name, Errors: errs}
	}
	return nil
}

func (i *Instance) fieldToMessage(ctx context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, level ExpandLevel) error {
	m := i.model
	name := m.LocalName(string(fd.Name()))
	f, ok := m.byName[name]
	if !ok {
		return &MissingLocalFieldError{Model: m.name, MessageField: string(fd.Name()), LocalField: name}
	}

	value := f.get(i)
	if value == nil && f.Null && f.Relation() != RelationToMany {
		return nil
	}

	pair, isDefault := m.Serializers(f.Type, fd)
	if !isDefault {
		return pair.ToMessage(ctx, msg, fd, value, level)
	}

	switch f.Relation() {
	case RelationToOne:
		if !level.Expand() {
			return nil
		}
		related, ok := value.(*Instance)
		if !ok || related == nil {
			return fmt.Errorf("nil value for non-nullable field")
		}
		if fd.Message() == nil || fd.IsList() || fd.IsMap() {
			return fmt.Errorf("to-one relation needs a singular message field, got %v", fd.Kind())
		}
		return related.writeMessage(ctx, msg.Mutable(fd).Message(), level.Next())

	case RelationToMany:
		if !level.Expand() {
			return nil
		}
		rel, ok := value.(RelationManager)
		if !ok {
			return ErrNoStore
		}
		if !fd.IsList() || fd.Message() == nil {
			return fmt.Errorf("to-many relation needs a repeated message field")
		}
		members, err := rel.All(ctx)
		if err != nil {
			return err
		}
		list := msg.Mutable(fd).List()
		for n, member := range members {
			elem := list.NewElement()
			if err := member.writeMessage(ctx, elem.Message(), level.Next()); err != nil {
				return fmt.Errorf("item %d: %w", n, err)
			}
			list.Append(elem)
		}
		return nil
	}

	return pair.ToMessage(ctx, msg, fd, value, level)
}

// copyMessage merges src into dst. Messages of different Go types but the
// same message name are copied through the wire format.
func copyMessage(dst, src protoreflect.Message) error {
	if dst.Descriptor().FullName() != src.Descriptor().FullName() {
		return fmt.Errorf("cannot copy %s into %s", src.Descriptor().FullName(), dst.Descriptor().FullName())
	}
	if dst.Descriptor() == src.Descriptor() && dst.Type() == src.Type() {
		proto.Merge(dst.Interface(), src.Interface())
		return nil
	}
	b, err := proto.Marshal(src.Interface())
	if err != nil {
		return err
	}
	return proto.UnmarshalOptions{Merge: true}.Unmarshal(b, dst.Interface())
}
