package reconcile

import (
	"fmt"
	"regexp"
	"strings"
)

// Identifiers come from developer-authored migration code and the audit
// target config, never from end users. They are still validated against a
// strict pattern before being interpolated into DDL text.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent rejects anything that is not a plain SQL identifier.
func ValidIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func validIdents(names ...string) error {
	for _, n := range names {
		if err := ValidIdent(n); err != nil {
			return err
		}
	}
	return nil
}

// QuoteIdent double-quotes an identifier for DDL text.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Qualify renders a schema-qualified table reference.
func Qualify(schema, table string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// QuoteLiteral escapes a string for use as a SQL literal. Used only for
// statements that must travel through run_sql, where driver-level parameter
// binding is unavailable; the materializer's queries bind through pgx.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
