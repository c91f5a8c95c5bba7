package protomodel

import (
	"context"
	"fmt"
	"slices"
)

// Store persists instances. Implementations live under store/.
type Store interface {
	// Save inserts or updates the instance. Inserting assigns its ID.
	Save(ctx context.Context, inst *Instance) error

	// Get loads the instance of model m with the given ID. Returns an error
	// matching ErrNotFound when there is none.
	Get(ctx context.Context, m *Model, id int64) (*Instance, error)

	// Delete removes the instance and its link rows.
	Delete(ctx context.Context, inst *Instance) error

	// Relation returns the manager of a to-many relation of inst.
	Relation(inst *Instance, field *Field) RelationManager
}

// RelationManager reaches the members of a to-many relation in storage.
type RelationManager interface {
	// Get returns the member with the given ID. Returns a
	// *RelationNotFoundError if it is not a member.
	Get(ctx context.Context, id int64) (*Instance, error)

	// Add links the given saved instances to the relation.
	Add(ctx context.Context, members ...*Instance) error

	// All returns every member ordered by ID.
	All(ctx context.Context) ([]*Instance, error)
}

// Links is the link table surface a Store exposes to NewRelationManager.
type Links interface {
	// AddLinks records owner -> ids for a many-to-many or container field.
	AddLinks(ctx context.Context, owner *Instance, field *Field, ids []int64) error

	// LinkedIDs returns the IDs linked from owner through field.
	LinkedIDs(ctx context.Context, owner *Instance, field *Field) ([]int64, error)

	// ReferencingIDs returns the IDs of instances of m whose column holds id.
	ReferencingIDs(ctx context.Context, m *Model, column string, id int64) ([]int64, error)
}

// NewRelationManager returns the generic RelationManager built on a store's
// instance and link primitives. Stores use it to implement Store.Relation.
func NewRelationManager(store Store, links Links, owner *Instance, field *Field) RelationManager {
	return &relationManager{store: store, links: links, owner: owner, field: field}
}

type relationManager struct {
	store Store
	links Links
	owner *Instance
	field *Field
}

func (r *relationManager) memberIDs(ctx context.Context) ([]int64, error) {
	ownerID, ok := r.owner.ID()
	if !ok {
		return nil, nil
	}
	if r.field.Type == TypeReverseForeignKey {
		related, err := r.field.Related()
		if err != nil {
			return nil, err
		}
		fk, ok := related.Field(r.field.RelatedName)
		if !ok {
			return nil, configErr(r.owner.model.name, r.field.Name, "%s has no foreign key %q", related.name, r.field.RelatedName)
		}
		return r.links.ReferencingIDs(ctx, related, fk.Column(), ownerID)
	}
	return r.links.LinkedIDs(ctx, r.owner, r.field)
}

func (r *relationManager) Get(ctx context.Context, id int64) (*Instance, error) {
	notFound := &RelationNotFoundError{Model: r.owner.model.name, Field: r.field.Name, ID: id}
	ids, err := r.memberIDs(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(ids, id) {
		return nil, notFound
	}
	related, err := r.field.Related()
	if err != nil {
		return nil, err
	}
	inst, err := r.store.Get(ctx, related, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notFound, err)
	}
	return inst, nil
}

func (r *relationManager) Add(ctx context.Context, members ...*Instance) error {
	if len(members) == 0 {
		return nil
	}
	if _, ok := r.owner.ID(); !ok {
		return fmt.Errorf("%s must be saved before adding to %q", r.owner.model.name, r.field.Name)
	}
	if r.field.Type == TypeReverseForeignKey {
		for _, member := range members {
			if err := member.Set(r.field.RelatedName, r.owner); err != nil {
				return err
			}
			if err := r.store.Save(ctx, member); err != nil {
				return err
			}
		}
		return nil
	}

	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, ok := member.ID()
		if !ok {
			return fmt.Errorf("%s must be saved before it is added to %q", member.model.name, r.field.Name)
		}
		ids = append(ids, id)
	}
	return r.links.AddLinks(ctx, r.owner, r.field, ids)
}

func (r *relationManager) All(ctx context.Context) ([]*Instance, error) {
	ids, err := r.memberIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	related, err := r.field.Related()
	if err != nil {
		return nil, err
	}
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	out := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		inst, err := r.store.Get(ctx, related, id)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}
