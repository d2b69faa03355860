// Package materialize turns flat result rows back into object graphs using the
// join plan that produced them, and models foreign-key attributes as either a
// nested object or a lazily resolved reference.
package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"relmap/internal/queryerr"
	"relmap/internal/schema"
)

// ErrNoLoader is returned when an unresolved reference has nothing to fetch through.
var ErrNoLoader = errors.New("reference has no loader")

// Loader fetches a single row of entity by primary key.
type Loader interface {
	LoadByPK(ctx context.Context, entity *schema.Entity, pk any) (*Object, error)
}

// Ref is the value of a foreign-key attribute: either a resolved object or the
// raw key of one that has not been fetched yet. A nil key is a NULL reference.
type Ref struct {
	target *schema.Entity
	key    any
	object *Object
	loader Loader
}

// Resolved wraps an already materialized related object.
func Resolved(obj *Object) *Ref {
	return &Ref{target: obj.entity, key: obj.PK(), object: obj, loader: obj.loader}
}

// Unresolved wraps a raw foreign-key value.
func Unresolved(target *schema.Entity, key any, loader Loader) *Ref {
	return &Ref{target: target, key: key, loader: loader}
}

// Target returns the referenced entity.
func (r *Ref) Target() *schema.Entity {
	return r.target
}

// Key returns the referenced primary key.
func (r *Ref) Key() any {
	if r.object != nil {
		return r.object.PK()
	}
	return r.key
}

// IsNull reports whether the reference points at nothing.
func (r *Ref) IsNull() bool {
	return r.object == nil && r.key == nil
}

// IsResolved reports whether the related object is available without a fetch.
func (r *Ref) IsResolved() bool {
	return r.object != nil || r.key == nil
}

// Object returns the related object if resolved, nil otherwise.
func (r *Ref) Object() *Object {
	return r.object
}

// Resolve returns the related object, fetching it by primary key on first use
// and caching it on the reference.
func (r *Ref) Resolve(ctx context.Context) (*Object, error) {
	if r.object != nil || r.key == nil {
		return r.object, nil
	}
	if r.loader == nil {
		return nil, fmt.Errorf("%s(%v): %w", r.target.Name, r.key, ErrNoLoader)
	}
	obj, err := r.loader.LoadByPK(ctx, r.target, r.key)
	if err != nil {
		return nil, err
	}
	r.object = obj
	return obj, nil
}

// Object is one materialized row. Scalar columns hold canonical Go values and
// foreign-key columns hold a *Ref.
type Object struct {
	entity *schema.Entity
	values map[string]any
	refs   map[string]*Ref
	loader Loader
}

// New returns an empty object of entity. Loader may be nil when references
// are never resolved lazily.
func New(entity *schema.Entity, loader Loader) *Object {
	return &Object{
		entity: entity,
		values: make(map[string]any, len(entity.Columns)),
		refs:   make(map[string]*Ref),
		loader: loader,
	}
}

// Entity returns the object's entity.
func (o *Object) Entity() *schema.Entity {
	return o.entity
}

// Get returns a column value. Foreign keys yield the referenced key.
func (o *Object) Get(column string) (any, bool) {
	col, ok := o.entity.Column(column)
	if !ok {
		return nil, false
	}
	if col.IsForeignKey() {
		ref, ok := o.refs[col.Name]
		if !ok {
			return nil, false
		}
		return ref.Key(), true
	}
	value, ok := o.values[col.Name]
	return value, ok
}

// Set assigns a column. A foreign key accepts a *Object of the target entity,
// a *Ref, or a raw key.
func (o *Object) Set(column string, value any) error {
	col, ok := o.entity.Column(column)
	if !ok {
		return queryerr.Invalid("%s has no column %s", o.entity.Name, column)
	}
	if !col.IsForeignKey() {
		o.values[col.Name] = value
		return nil
	}

	switch v := value.(type) {
	case *Object:
		if v == nil {
			o.refs[col.Name] = Unresolved(col.Target, nil, o.loader)
			return nil
		}
		if v.entity != col.Target {
			return queryerr.Invalid("%s.%s expects %s, got %s", o.entity.Name, col.Name, col.Target.Name, v.entity.Name)
		}
		o.refs[col.Name] = Resolved(v)
	case *Ref:
		if v == nil {
			o.refs[col.Name] = Unresolved(col.Target, nil, o.loader)
			return nil
		}
		o.refs[col.Name] = v
	default:
		o.refs[col.Name] = Unresolved(col.Target, value, o.loader)
	}
	return nil
}

// PK returns the primary key value, nil for an unsaved object.
func (o *Object) PK() any {
	return o.values[o.entity.PrimaryKey.Name]
}

// PrimaryKeyValue lets objects be used directly as lookup values.
func (o *Object) PrimaryKeyValue() any {
	if o == nil {
		return nil
	}
	return o.PK()
}

// Ref returns the reference held by a foreign-key column.
func (o *Object) Ref(column string) (*Ref, bool) {
	col, ok := o.entity.ForeignKey(column)
	if !ok {
		return nil, false
	}
	ref, ok := o.refs[col.Name]
	return ref, ok
}

// Related resolves a foreign-key column to its object. A NULL key yields nil.
func (o *Object) Related(ctx context.Context, column string) (*Object, error) {
	ref, ok := o.Ref(column)
	if !ok {
		if _, isFK := o.entity.ForeignKey(column); isFK {
			return nil, nil
		}
		return nil, queryerr.Invalid("%s.%s is not a foreign key", o.entity.Name, column)
	}
	return ref.Resolve(ctx)
}

// Values returns the set columns as a flat map. Foreign keys map to their key.
func (o *Object) Values() map[string]any {
	out := make(map[string]any, len(o.values)+len(o.refs))
	for name, value := range o.values {
		out[name] = value
	}
	for name, ref := range o.refs {
		out[name] = ref.Key()
	}
	return out
}

// AsMap is like Values but nests resolved related objects.
func (o *Object) AsMap() map[string]any {
	out := make(map[string]any, len(o.values)+len(o.refs))
	for name, value := range o.values {
		out[name] = value
	}
	for name, ref := range o.refs {
		if ref.object != nil {
			out[name] = ref.object.AsMap()
			continue
		}
		out[name] = ref.key
	}
	return out
}

// MarshalJSON encodes AsMap.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.AsMap())
}

func (o *Object) String() string {
	return fmt.Sprintf("%s(%v)", o.entity.Name, o.PK())
}
