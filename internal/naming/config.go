// Package naming derives SQL table names from entity names when an entity
// definition does not spell its table out.
package naming

// Config holds naming customization options
type Config struct {
	// PluralizeTables turns "Bank" into "banks" instead of "bank".
	PluralizeTables bool `mapstructure:"pluralize_tables"`

	// PluralOverrides maps singular -> custom plural
	// Example: {"person": "people", "status": "statuses"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PluralOverrides: make(map[string]string),
	}
}
