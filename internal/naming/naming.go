package naming

import (
	"strings"
	"unicode"
)

// Namer converts entity names into table names.
type Namer struct {
	config Config
}

// New creates a Namer with the given configuration
func New(cfg Config) *Namer {
	return &Namer{config: cfg}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig())
}

// TableName converts an entity name to its table name.
// Example: "InterBankStatus" -> "inter_bank_status" (or "inter_bank_statuses" when pluralizing)
func (n *Namer) TableName(entity string) string {
	name := ToSnakeCase(entity)
	if !n.config.PluralizeTables || name == "" {
		return name
	}
	parts := strings.Split(name, "_")
	last := len(parts) - 1
	parts[last] = n.Pluralize(parts[last])
	return strings.Join(parts, "_")
}

// ToSnakeCase lower-cases a PascalCase or camelCase identifier, inserting
// underscores at word boundaries. Acronyms stay together: "HTTPLog" -> "http_log".
func ToSnakeCase(s string) string {
	runes := []rune(strings.TrimSpace(s))
	var b strings.Builder
	for i, r := range runes {
		if r == '-' || r == ' ' {
			r = '_'
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prev != '_' && (unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
