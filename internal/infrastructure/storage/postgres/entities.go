package postgres

import "sort"

// EntityConfig maps one logical entity type onto its source and destination
// tables. The detector and the apply step never see table names directly.
type EntityConfig struct {
	EntityType string

	// Source side.
	SourceTable    string
	IDColumn       string
	ModifiedColumn string

	// Destination side.
	DestTable      string
	RefColumn      string
	SyncedAtColumn string
	HashColumn     string
}

// Registry resolves entity types to their table configuration.
type Registry struct {
	entities map[string]EntityConfig
}

// NewRegistry builds a registry from the given configs.
func NewRegistry(configs ...EntityConfig) *Registry {
	r := &Registry{entities: make(map[string]EntityConfig, len(configs))}
	for _, cfg := range configs {
		r.entities[cfg.EntityType] = cfg
	}
	return r
}

// DefaultRegistry covers the clinic migration entities.
func DefaultRegistry() *Registry {
	return NewRegistry(
		EntityConfig{
			EntityType:     "doctors",
			SourceTable:    "src_doctors",
			IDColumn:       "doctor_id",
			ModifiedColumn: "updated_at",
			DestTable:      "dst_doctors",
			RefColumn:      "legacy_reference",
			SyncedAtColumn: "last_synced_at",
			HashColumn:     "synced_hash",
		},
		EntityConfig{
			EntityType:     "patients",
			SourceTable:    "src_patients",
			IDColumn:       "patient_id",
			ModifiedColumn: "updated_at",
			DestTable:      "dst_patients",
			RefColumn:      "legacy_reference",
			SyncedAtColumn: "last_synced_at",
			HashColumn:     "synced_hash",
		},
		EntityConfig{
			EntityType:     "appointments",
			SourceTable:    "src_appointments",
			IDColumn:       "appointment_id",
			ModifiedColumn: "updated_at",
			DestTable:      "dst_appointments",
			RefColumn:      "legacy_reference",
			SyncedAtColumn: "last_synced_at",
			HashColumn:     "synced_hash",
		},
	)
}

// Lookup returns the config for an entity type.
func (r *Registry) Lookup(entityType string) (EntityConfig, bool) {
	cfg, ok := r.entities[entityType]
	return cfg, ok
}

// EntityTypes returns the registered entity types, sorted.
func (r *Registry) EntityTypes() []string {
	out := make([]string, 0, len(r.entities))
	for name := range r.entities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
