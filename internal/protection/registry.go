package protection

import (
	"sync"

	"vaultrail/internal/masking"
)

// FieldConfig names one sensitive field and its semantic type.
type FieldConfig struct {
	Field string               `json:"field"`
	Type  masking.SemanticType `json:"type"`
}

// Registry maps table names to their sensitive-field configuration. Operators
// may add tables and fields at runtime; changes apply to subsequent
// operations only, never retroactively to stored rows.
type Registry struct {
	mu     sync.RWMutex
	tables map[string][]FieldConfig
}

// NewRegistry creates a registry seeded with the given per-table config.
func NewRegistry(seed map[string][]FieldConfig) *Registry {
	tables := make(map[string][]FieldConfig, len(seed))
	for table, fields := range seed {
		tables[table] = append([]FieldConfig(nil), fields...)
	}
	return &Registry{tables: tables}
}

// FieldsFor returns the sensitive-field configuration for a table. A table
// with no configuration has no protected fields.
func (r *Registry) FieldsFor(table string) []FieldConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]FieldConfig(nil), r.tables[table]...)
}

// SetFields replaces the configuration for a table.
func (r *Registry) SetFields(table string, fields []FieldConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[table] = append([]FieldConfig(nil), fields...)
}

// AddField appends one field to a table's configuration, replacing any
// existing entry for the same field name.
func (r *Registry) AddField(table string, field FieldConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fields := r.tables[table]
	for i, f := range fields {
		if f.Field == field.Field {
			fields[i] = field
			r.tables[table] = fields
			return
		}
	}
	r.tables[table] = append(fields, field)
}

// Tables lists all configured table names.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	return names
}
