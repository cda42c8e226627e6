// Package upsert merges incoming domain records into canonical tables by
// natural key, with immutable-field protection and per-outcome audit logging.
package upsert

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Strategy is the closed set of per-table update policies. The engine handles
// every value exhaustively and rejects unknown strategies at config load, not
// deep inside the per-record loop.
type Strategy string

const (
	// StrategyUpsert inserts missing natural keys and updates mutable fields
	// of existing ones.
	StrategyUpsert Strategy = "upsert"
	// StrategyInsertOnly inserts missing natural keys; any change to an
	// existing row is rejected.
	StrategyInsertOnly Strategy = "insert_only"
	// StrategyUpdateOnly updates existing rows; missing natural keys are
	// rejected.
	StrategyUpdateOnly Strategy = "update_only"
)

func (s Strategy) validate() error {
	switch s {
	case StrategyUpsert, StrategyInsertOnly, StrategyUpdateOnly:
		return nil
	default:
		return fmt.Errorf("unknown strategy %q", string(s))
	}
}

// TableConfig declares how one canonical table is loaded. Loaded once,
// validated once, and treated as immutable for the lifetime of a run.
type TableConfig struct {
	Table string `json:"table"`
	// NaturalKey is the ordered field tuple identifying a record.
	NaturalKey []string `json:"natural_key"`
	// ImmutableFields may never change value once persisted for a natural
	// key. Natural-key fields are implicitly immutable and need not repeat
	// here.
	ImmutableFields []string `json:"immutable_fields,omitempty"`

	Strategy Strategy `json:"strategy"`

	immutableSet  map[string]struct{}
	naturalKeySet map[string]struct{}
}

func (c *TableConfig) compile() error {
	if c.Table == "" {
		return fmt.Errorf("table name is required")
	}
	if len(c.NaturalKey) == 0 {
		return fmt.Errorf("table %s: natural key must name at least one field", c.Table)
	}
	if err := c.Strategy.validate(); err != nil {
		return fmt.Errorf("table %s: %w", c.Table, err)
	}

	c.naturalKeySet = make(map[string]struct{}, len(c.NaturalKey))
	for _, field := range c.NaturalKey {
		if field == "" {
			return fmt.Errorf("table %s: empty natural key field", c.Table)
		}
		if _, dup := c.naturalKeySet[field]; dup {
			return fmt.Errorf("table %s: duplicate natural key field %q", c.Table, field)
		}
		c.naturalKeySet[field] = struct{}{}
	}

	c.immutableSet = make(map[string]struct{}, len(c.ImmutableFields))
	for _, field := range c.ImmutableFields {
		if field == "" {
			return fmt.Errorf("table %s: empty immutable field", c.Table)
		}
		c.immutableSet[field] = struct{}{}
	}
	return nil
}

func (c *TableConfig) isImmutable(field string) bool {
	if _, ok := c.naturalKeySet[field]; ok {
		return true
	}
	_, ok := c.immutableSet[field]
	return ok
}

// Registry holds the validated table configurations for a run.
type Registry struct {
	configs map[string]TableConfig
}

// NewRegistry validates every config up front so unknown tables and malformed
// declarations fail fast at load time.
func NewRegistry(configs []TableConfig) (*Registry, error) {
	r := &Registry{configs: make(map[string]TableConfig, len(configs))}
	for _, cfg := range configs {
		if err := cfg.compile(); err != nil {
			return nil, err
		}
		if _, dup := r.configs[cfg.Table]; dup {
			return nil, fmt.Errorf("duplicate table config %q", cfg.Table)
		}
		r.configs[cfg.Table] = cfg
	}
	return r, nil
}

// Lookup returns the config for a table, or an error naming the unknown table.
func (r *Registry) Lookup(table string) (TableConfig, error) {
	cfg, ok := r.configs[table]
	if !ok {
		known := make([]string, 0, len(r.configs))
		for name := range r.configs {
			known = append(known, name)
		}
		return TableConfig{}, fmt.Errorf("unknown table %q (configured: %s)", table, strings.Join(known, ", "))
	}
	return cfg, nil
}

// LoadRegistryFile reads a JSON array of table configurations. The file is
// pre-validated collaborator input; malformed declarations still fail fast
// here.
func LoadRegistryFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table config: %w", err)
	}
	var configs []TableConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("parse table config %s: %w", path, err)
	}
	return NewRegistry(configs)
}

// Tables returns the configured table names.
func (r *Registry) Tables() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}
