// Package sqltype defines the scalar kinds a mapped column can hold and the coercion
// from scanned driver values into canonical Go values for each kind.
package sqltype

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Kind is the scalar category of a column.
type Kind int

const (
	// KindText is the default kind for character data and unknown SQL types.
	KindText Kind = iota
	// KindInteger represents integer numeric types, including serial keys.
	KindInteger
	// KindFloat represents floating-point and fixed-point numeric types.
	KindFloat
	// KindDate represents calendar dates.
	KindDate
	// KindTimestamp represents date-time values.
	KindTimestamp
	// KindBoolean represents boolean types.
	KindBoolean
)

// Parse converts a kind name ("integer", "text", ...) or a SQL data type
// ("VARCHAR(50)", "NUMERIC(15,6)", "SERIAL", ...) into a Kind.
// The input is case-insensitive. Size specifiers are stripped before matching.
func Parse(name string) (Kind, error) {
	raw := strings.TrimSpace(name)
	if idx := strings.Index(raw, "("); idx != -1 {
		raw = raw[:idx]
	}
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "INTEGER", "INT", "SMALLINT", "BIGINT", "TINYINT", "MEDIUMINT", "SERIAL", "BIGSERIAL":
		return KindInteger, nil
	case "FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return KindFloat, nil
	case "TEXT", "VARCHAR", "CHAR", "STRING":
		return KindText, nil
	case "DATE":
		return KindDate, nil
	case "TIMESTAMP", "DATETIME", "TIMESTAMPTZ":
		return KindTimestamp, nil
	case "BOOLEAN", "BOOL":
		return KindBoolean, nil
	default:
		return KindText, fmt.Errorf("unknown column kind %q", name)
	}
}

// String returns the canonical kind name used in entity definition files.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	case KindBoolean:
		return "boolean"
	default:
		return "text"
	}
}

// UnmarshalYAML decodes a kind from its name.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Convert coerces a scanned driver value into the canonical Go type for the kind:
// int64, float64, string, time.Time or bool. Nil stays nil.
func (k Kind) Convert(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	// MySQL returns DECIMAL and text as raw bytes.
	if b, ok := value.([]byte); ok {
		value = string(b)
	}

	switch k {
	case KindInteger:
		// cast reads "010" as octal; text input is always decimal here.
		if s, ok := value.(string); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unable to cast %q to int64: %w", s, err)
			}
			return n, nil
		}
		return cast.ToInt64E(value)
	case KindFloat:
		return cast.ToFloat64E(value)
	case KindBoolean:
		return cast.ToBoolE(value)
	case KindDate:
		t, err := cast.ToTimeE(value)
		if err != nil {
			return nil, err
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case KindTimestamp:
		return cast.ToTimeE(value)
	default:
		return cast.ToStringE(value)
	}
}
