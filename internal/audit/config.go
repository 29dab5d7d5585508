package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hasura_meta_reconciler/internal/reconcile"
)

// ErrNoConfig marks a missing target config file. The CLI treats it as a
// warning and skips the audit subsystem instead of failing the process.
var ErrNoConfig = errors.New("audit target config not found")

// DiffTarget names one column whose textual changes are tracked in
// logs.diffs.
type DiffTarget struct {
	Schema string `json:"schema" yaml:"schema"`
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

// StateTarget names the columns of one table whose full values are
// snapshotted into logs.states on every write and delete.
type StateTarget struct {
	Schema  string   `json:"schema" yaml:"schema"`
	Table   string   `json:"table" yaml:"table"`
	Columns []string `json:"columns" yaml:"columns"`
}

// Config is the declarative audit-logging target list. It is passed
// explicitly into the apply functions; file loading happens only at the
// process boundary via LoadConfig.
type Config struct {
	Diffs  []DiffTarget  `json:"diffs" yaml:"diffs"`
	States []StateTarget `json:"states" yaml:"states"`
}

// LoadConfig reads a JSON or YAML target config, chosen by file extension.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrNoConfig, path)
		}
		return Config{}, fmt.Errorf("read audit config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse audit config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse audit config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for _, t := range c.Diffs {
		if err := validTarget(t.Schema, t.Table, t.Column); err != nil {
			return fmt.Errorf("diffs target: %w", err)
		}
	}
	for _, t := range c.States {
		if len(t.Columns) == 0 {
			return fmt.Errorf("states target %s.%s: at least one column required", t.Schema, t.Table)
		}
		idents := append([]string{t.Schema, t.Table}, t.Columns...)
		if err := validTarget(idents...); err != nil {
			return fmt.Errorf("states target: %w", err)
		}
	}
	return nil
}

func validTarget(idents ...string) error {
	for _, id := range idents {
		if err := reconcile.ValidIdent(id); err != nil {
			return err
		}
	}
	return nil
}

// KeyRegistry maps "schema.table" to its primary-key column. The generator
// resolves record-id columns from it at generation time; tables without an
// entry fall back to an id/uuid lookup baked into the generated function.
type KeyRegistry map[string]string

func (r KeyRegistry) Register(schema, table, column string) {
	r[schema+"."+table] = column
}

func (r KeyRegistry) Resolve(schema, table string) string {
	return r[schema+"."+table]
}

// DefaultKeys covers the tables shipped by this module's migrations.
func DefaultKeys() KeyRegistry {
	reg := KeyRegistry{}
	reg.Register("logs", "diffs", "id")
	reg.Register("logs", "states", "id")
	reg.Register("public", "users", "id")
	reg.Register("public", "user_notes", "id")
	return reg
}
