// Package protomodel maps relational objects onto Protocol Buffer messages
// and back.
//
// A model is declared once at start-up with a Declaration naming its message
// type and the message fields to map. Fields without an explicit local
// counterpart are classified and given a compatible local field
// automatically. Instances of the model are then converted on demand.
//
// # Core Concepts
//
//   - Registry: holds the models of a program and the shared configuration
//     (logger, tracer, store, time zone, type casting).
//   - Model: a registered object type with its fields and serializers.
//   - Instance: one object of a model.
//   - SerializerPair: the two functions converting one field in each
//     direction. Pairs can be overridden per local field type or per
//     message field name.
//   - Container relations: repeated message and message map fields keep an
//     ordered index of member IDs next to a cached member list.
//
// # Declaring Models
//
//	reg := protomodel.NewRegistry(
//		protomodel.WithLogger(logger),
//		protomodel.WithStore(memstore.New()),
//	)
//
//	reg.MustRegister(protomodel.Declaration{
//		Name:    "Sub",
//		Message: protomodel.MessageOf(&pb.Sub{}),
//		Fields:  protomodel.AllFields,
//	})
//	root := reg.MustRegister(protomodel.Declaration{
//		Name:     "Root",
//		Message:  protomodel.MessageOf(&pb.Root{}),
//		Fields:   protomodel.AllFields,
//		FieldMap: map[string]string{"uint32_field": "count"},
//	})
//
// Related message types must be registered before the models referring to
// them. Self references are allowed.
//
// # Converting
//
//	inst := root.New()
//	inst.MustSet("string_field", "hello")
//	msg, err := inst.ToMessage(ctx, protomodel.Depth(1))
//
//	back, err := root.FromMessage(ctx, msg)
//
// ToMessage attempts every field and reports all failures together in a
// *ConversionError. FromMessage stops at the first failure and only reads
// fields that are set on the message.
//
// # Persistence
//
// Conversion never writes to storage. Instance.Save persists an instance
// through the registry's Store and commits its container relations. Store
// implementations live in the store/ subpackages.
package protomodel
