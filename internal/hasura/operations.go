package hasura

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Operation is a GraphQL permission operation.
type Operation string

const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// TableRef identifies a table in a schema.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// SQLResult is the run_sql response. The first row of Result holds column
// headers; DDL statements produce a CommandOk result with no rows.
type SQLResult struct {
	ResultType string     `json:"result_type"`
	Result     [][]string `json:"result"`
}

// RunSQL executes a raw SQL statement batch through the engine. The engine
// runs the whole batch in a single transaction, so multi-statement applies
// are atomic. Server-side SQL errors come back as *APIError.
func (c *Client) RunSQL(ctx context.Context, sql string) (*SQLResult, error) {
	var out SQLResult
	err := c.do(ctx, request{
		Type: "run_sql",
		Args: map[string]any{"sql": sql},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TrackTable exposes a table through the GraphQL schema. Tracking an
// already-tracked table is a no-op.
func (c *Client) TrackTable(ctx context.Context, schema, table string) error {
	err := c.do(ctx, request{
		Type: "track_table",
		Args: TableRef{Schema: schema, Name: table},
	}, nil)
	return absorbConflict(err)
}

// UntrackTable hides a table from the GraphQL schema.
func (c *Client) UntrackTable(ctx context.Context, schema, table string) error {
	err := c.do(ctx, request{
		Type: "untrack_table",
		Args: map[string]any{
			"table":   TableRef{Schema: schema, Name: table},
			"cascade": true,
		},
	}, nil)
	return absorbConflict(err)
}

// CreateObjectRelationship adds a many-to-one relationship keyed by a local
// foreign-key column.
func (c *Client) CreateObjectRelationship(ctx context.Context, schema, table, name, fkColumn string) error {
	err := c.do(ctx, request{
		Type: "create_object_relationship",
		Args: map[string]any{
			"table": TableRef{Schema: schema, Name: table},
			"name":  name,
			"using": map[string]any{"foreign_key_constraint_on": fkColumn},
		},
	}, nil)
	return absorbConflict(err)
}

// CreateArrayRelationship adds a one-to-many relationship keyed by the
// remote table's foreign-key column.
func (c *Client) CreateArrayRelationship(ctx context.Context, schema, table, name string, remote TableRef, remoteColumn string) error {
	err := c.do(ctx, request{
		Type: "create_array_relationship",
		Args: map[string]any{
			"table": TableRef{Schema: schema, Name: table},
			"name":  name,
			"using": map[string]any{
				"foreign_key_constraint_on": map[string]any{
					"table":  remote,
					"column": remoteColumn,
				},
			},
		},
	}, nil)
	return absorbConflict(err)
}

// DropRelationship removes a relationship by name.
func (c *Client) DropRelationship(ctx context.Context, schema, table, name string) error {
	err := c.do(ctx, request{
		Type: "drop_relationship",
		Args: map[string]any{
			"table":        TableRef{Schema: schema, Name: table},
			"relationship": name,
		},
	}, nil)
	return absorbNotFound(err)
}

// PermissionSpec is the per-role rule body. Insert permissions use Check,
// every other operation uses Filter; Columns is the allow-list.
type PermissionSpec struct {
	Filter  map[string]any
	Check   map[string]any
	Columns []string
}

// MarshalJSON keeps nil and empty maps distinct: the engine requires the
// filter (or check) key even for an unrestricted rule, so an empty map must
// reach the wire as {} while a nil map stays absent.
func (s PermissionSpec) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if s.Filter != nil {
		out["filter"] = s.Filter
	}
	if s.Check != nil {
		out["check"] = s.Check
	}
	if s.Columns != nil {
		out["columns"] = s.Columns
	}
	return json.Marshal(out)
}

// CreatePermission grants a role an operation on a table.
func (c *Client) CreatePermission(ctx context.Context, op Operation, schema, table, role string, spec PermissionSpec) error {
	err := c.do(ctx, request{
		Type: "create_" + string(op) + "_permission",
		Args: map[string]any{
			"table":      TableRef{Schema: schema, Name: table},
			"role":       role,
			"permission": spec,
		},
	}, nil)
	return absorbConflict(err)
}

// DropPermission revokes a role's operation on a table. Dropping a rule
// that does not exist is a no-op.
func (c *Client) DropPermission(ctx context.Context, op Operation, schema, table, role string) error {
	err := c.do(ctx, request{
		Type: "drop_" + string(op) + "_permission",
		Args: map[string]any{
			"table": TableRef{Schema: schema, Name: table},
			"role":  role,
		},
	}, nil)
	return absorbNotFound(err)
}

// ReloadMetadata forces the engine to rebuild its schema cache.
func (c *Client) ReloadMetadata(ctx context.Context) error {
	return c.do(ctx, request{Type: "reload_metadata", Args: map[string]any{}}, nil)
}

// conflict codes the engine reports when an operation has already been
// applied; these indicate converged state, not contradiction.
var conflictCodes = map[string]bool{
	"already-tracked":   true,
	"already-untracked": true,
	"already-exists":    true,
}

// IsConflict reports whether err is an engine conflict meaning the desired
// state already holds.
func IsConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if conflictCodes[apiErr.Code] {
		return true
	}
	return strings.Contains(apiErr.Message, "already exists")
}

// IsNotFound reports whether err says the target of a delete was absent.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == "not-exists" || apiErr.Code == "not-found" {
		return true
	}
	return strings.Contains(apiErr.Message, "does not exist")
}

func absorbConflict(err error) error {
	if err == nil || IsConflict(err) {
		return nil
	}
	return err
}

func absorbNotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}
