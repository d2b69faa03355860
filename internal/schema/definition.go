package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"relmap/internal/sqltype"
)

// ColumnDef is the declaration of a column before registration.
type ColumnDef struct {
	Name       string       `yaml:"name"`
	Kind       sqltype.Kind `yaml:"kind"`
	Nullable   bool         `yaml:"nullable"`
	Unique     bool         `yaml:"unique"`
	PrimaryKey bool         `yaml:"primary_key"`
	MaxLength  int          `yaml:"max_length"`
	// References names the target entity of a foreign key. The column kind is
	// taken from the target's primary key.
	References string `yaml:"references"`
}

// EntityDef is the declaration of an entity before registration.
type EntityDef struct {
	Name    string      `yaml:"name"`
	Schema  string      `yaml:"schema"`
	Table   string      `yaml:"table"`
	Columns []ColumnDef `yaml:"columns"`
}

// Serial declares an integer primary key.
func Serial(name string) ColumnDef {
	return ColumnDef{Name: name, Kind: sqltype.KindInteger, PrimaryKey: true}
}

// Integer declares an integer column.
func Integer(name string) ColumnDef {
	return ColumnDef{Name: name, Kind: sqltype.KindInteger}
}

// Float declares a floating-point column.
func Float(name string) ColumnDef {
	return ColumnDef{Name: name, Kind: sqltype.KindFloat}
}

// Text declares a character column; maxLength 0 means unbounded.
func Text(name string, maxLength int) ColumnDef {
	return ColumnDef{Name: name, Kind: sqltype.KindText, MaxLength: maxLength}
}

// Date declares a date column.
func Date(name string) ColumnDef {
	return ColumnDef{Name: name, Kind: sqltype.KindDate}
}

// Timestamp declares a timestamp column.
func Timestamp(name string) ColumnDef {
	return ColumnDef{Name: name, Kind: sqltype.KindTimestamp}
}

// Boolean declares a boolean column.
func Boolean(name string) ColumnDef {
	return ColumnDef{Name: name, Kind: sqltype.KindBoolean}
}

// ForeignKey declares a column referencing the primary key of target.
func ForeignKey(name, target string) ColumnDef {
	return ColumnDef{Name: name, References: target}
}

// Null marks the column nullable.
func (c ColumnDef) Null() ColumnDef {
	c.Nullable = true
	return c
}

// AsUnique marks the column unique.
func (c ColumnDef) AsUnique() ColumnDef {
	c.Unique = true
	return c
}

type definitionFile struct {
	Entities []EntityDef `yaml:"entities"`
}

// LoadDefinitions decodes an entity definition document:
//
//	entities:
//	  - name: Bank
//	    schema: personal
//	    columns:
//	      - {name: id, kind: integer, primary_key: true}
//	      - {name: currency, references: Currency, nullable: true}
func LoadDefinitions(r io.Reader) ([]EntityDef, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc definitionFile
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty definition document", ErrInvalidDefinition)
		}
		return nil, fmt.Errorf("failed to decode entity definitions: %w", err)
	}
	return doc.Entities, nil
}

// LoadDefinitionsFile reads entity definitions from a YAML file.
func LoadDefinitionsFile(path string) ([]EntityDef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entity definitions: %w", err)
	}
	defer f.Close()
	return LoadDefinitions(f)
}
