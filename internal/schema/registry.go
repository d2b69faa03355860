package schema

import (
	"errors"
	"fmt"
	"strings"

	"relmap/internal/naming"
	"relmap/internal/sqltype"
)

// DefaultSchema is the schema used when neither the definition nor the registry sets one.
const DefaultSchema = "public"

var (
	// ErrInvalidDefinition reports an entity definition rejected at registration.
	ErrInvalidDefinition = errors.New("invalid entity definition")
	// ErrUnknownEntity is returned when looking up an entity that was never registered.
	ErrUnknownEntity = errors.New("unknown entity")
)

// Registry is the arena of registered entities, keyed by entity name.
type Registry struct {
	entities []*Entity
	byName   map[string]*Entity
}

type registryOptions struct {
	defaultSchema string
	namer         *naming.Namer
}

// Option customizes registry construction.
type Option func(*registryOptions)

// WithDefaultSchema sets the schema applied to definitions that leave it empty.
// An empty value leaves tables unqualified.
func WithDefaultSchema(schema string) Option {
	return func(o *registryOptions) {
		o.defaultSchema = schema
	}
}

// WithNamer sets the namer used to derive table names from entity names.
func WithNamer(n *naming.Namer) Option {
	return func(o *registryOptions) {
		if n != nil {
			o.namer = n
		}
	}
}

// NewRegistry validates the definitions and builds an immutable registry.
// Entities may reference each other in any order, including themselves.
func NewRegistry(defs []EntityDef, opts ...Option) (*Registry, error) {
	options := registryOptions{
		defaultSchema: DefaultSchema,
		namer:         naming.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	reg := &Registry{
		entities: make([]*Entity, 0, len(defs)),
		byName:   make(map[string]*Entity, len(defs)),
	}
	references := make(map[*Column]string)

	for _, def := range defs {
		entity, refs, err := buildEntity(def, options)
		if err != nil {
			return nil, err
		}
		if _, exists := reg.byName[entity.Name]; exists {
			return nil, fmt.Errorf("%w: entity %s declared twice", ErrInvalidDefinition, entity.Name)
		}
		reg.entities = append(reg.entities, entity)
		reg.byName[entity.Name] = entity
		for col, target := range refs {
			references[col] = target
		}
	}

	for _, entity := range reg.entities {
		for _, col := range entity.Columns {
			targetName, ok := references[col]
			if !ok {
				continue
			}
			target, ok := reg.byName[targetName]
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s references unknown entity %s", ErrInvalidDefinition, entity.Name, col.Name, targetName)
			}
			if col.Kind != sqltype.KindText && col.Kind != target.PrimaryKey.Kind {
				return nil, fmt.Errorf("%w: %s.%s is declared %s but %s.%s is %s", ErrInvalidDefinition,
					entity.Name, col.Name, col.Kind, target.Name, target.PrimaryKey.Name, target.PrimaryKey.Kind)
			}
			col.Target = target
			col.Kind = target.PrimaryKey.Kind
		}
	}

	return reg, nil
}

func buildEntity(def EntityDef, options registryOptions) (*Entity, map[*Column]string, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: entity name is required", ErrInvalidDefinition)
	}

	entity := &Entity{
		Name:   name,
		Schema: strings.TrimSpace(def.Schema),
		Table:  strings.TrimSpace(def.Table),
		byName: make(map[string]*Column, len(def.Columns)),
	}
	if entity.Schema == "" {
		entity.Schema = options.defaultSchema
	}
	if entity.Table == "" {
		entity.Table = options.namer.TableName(name)
	}

	refs := make(map[*Column]string)
	for _, cd := range def.Columns {
		colName := strings.ToLower(strings.TrimSpace(cd.Name))
		if colName == "" {
			return nil, nil, fmt.Errorf("%w: %s has a column without a name", ErrInvalidDefinition, name)
		}
		if colName == PKAlias {
			return nil, nil, fmt.Errorf("%w: %s: column name %q is reserved", ErrInvalidDefinition, name, PKAlias)
		}
		if strings.Contains(colName, "__") {
			return nil, nil, fmt.Errorf("%w: %s: column name %q contains the lookup separator", ErrInvalidDefinition, name, colName)
		}
		if _, exists := entity.byName[colName]; exists {
			return nil, nil, fmt.Errorf("%w: %s declares column %s twice", ErrInvalidDefinition, name, colName)
		}

		col := &Column{
			Name:       colName,
			Kind:       cd.Kind,
			Nullable:   cd.Nullable && !cd.PrimaryKey,
			Unique:     cd.Unique || cd.PrimaryKey,
			PrimaryKey: cd.PrimaryKey,
			MaxLength:  cd.MaxLength,
		}
		if ref := strings.TrimSpace(cd.References); ref != "" {
			if cd.PrimaryKey {
				return nil, nil, fmt.Errorf("%w: %s: primary key %s cannot be a foreign key", ErrInvalidDefinition, name, colName)
			}
			refs[col] = ref
		}
		if col.PrimaryKey {
			if entity.PrimaryKey != nil {
				return nil, nil, fmt.Errorf("%w: %s: multiple primary keys found (%s, %s)", ErrInvalidDefinition, name, entity.PrimaryKey.Name, colName)
			}
			entity.PrimaryKey = col
		}
		entity.Columns = append(entity.Columns, col)
		entity.byName[colName] = col
	}

	if entity.PrimaryKey == nil {
		return nil, nil, fmt.Errorf("%w: %s: no primary key found", ErrInvalidDefinition, name)
	}
	return entity, refs, nil
}

// Entity returns the registered entity with the given name.
func (r *Registry) Entity(name string) (*Entity, error) {
	if entity, ok := r.byName[name]; ok {
		return entity, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
}

// MustEntity is like Entity but panics when the entity is missing.
func (r *Registry) MustEntity(name string) *Entity {
	entity, err := r.Entity(name)
	if err != nil {
		panic(err)
	}
	return entity
}

// Entities returns all entities in registration order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, len(r.entities))
	copy(out, r.entities)
	return out
}
