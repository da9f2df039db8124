// Package dialect defines the SQL dialects supported by sqlkit and the
// rendering rules that differ between them: identifier quoting, parameter
// placeholders and the parameter binding style expected by the driver.
//
// # Supported Dialects
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.Spanner  = "spanner"
//
// Postgres double-quotes every identifier and binds positional $n
// parameters. Spanner leaves identifiers bare unless they collide with a
// reserved word or contain characters outside [A-Za-z_][A-Za-z0-9_]*, in
// which case they are wrapped in backticks; parameters are bound as @pN
// and may need to be remapped to named form at the driver boundary.
package dialect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// Dialect constants.
const (
	// Postgres is a relational engine with Postgres-style syntax.
	Postgres = "postgres"
	// Spanner is a distributed engine with backtick identifiers, @pN
	// parameters and batching restrictions on schema changes.
	Spanner = "spanner"
)

// Valid reports whether name is a supported dialect.
func Valid(name string) bool {
	return name == Postgres || name == Spanner
}

// bareIdent matches identifiers Spanner accepts without quoting.
var bareIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Quote quotes an identifier according to the dialect rules. Postgres
// identifiers are always double-quoted with embedded quotes doubled.
// Spanner identifiers are left bare unless quoting is required.
func Quote(dialect, ident string) string {
	if dialect == Spanner {
		if bareIdent.MatchString(ident) && !reservedWord(ident) {
			return ident
		}
		return "`" + ident + "`"
	}
	return pq.QuoteIdentifier(ident)
}

// Placeholder returns the n-th (1-based) bind parameter placeholder.
func Placeholder(dialect string, n int) string {
	if dialect == Spanner {
		return fmt.Sprintf("@p%d", n)
	}
	return fmt.Sprintf("$%d", n)
}

// NamedArgs converts a positional argument list into the named-parameter
// map ({p1: v1, p2: v2, ...}) used by wire protocols that bind @pN
// placeholders by name rather than position.
func NamedArgs(args []any) map[string]any {
	m := make(map[string]any, len(args))
	for i, v := range args {
		m[fmt.Sprintf("p%d", i+1)] = v
	}
	return m
}

// NormalizeExpr translates portable SQL expressions to the dialect's
// native syntax. The only normalized expression is the generic
// current-timestamp call; everything else passes through verbatim.
func NormalizeExpr(dialect, expr string) string {
	if strings.EqualFold(strings.TrimSpace(expr), "CURRENT_TIMESTAMP") {
		if dialect == Spanner {
			return "CURRENT_TIMESTAMP()"
		}
		return "CURRENT_TIMESTAMP"
	}
	return expr
}

// reservedWord reports whether the identifier collides with a GoogleSQL
// reserved keyword and therefore needs backticks.
func reservedWord(ident string) bool {
	_, ok := spannerReserved[strings.ToUpper(ident)]
	return ok
}

var spannerReserved = map[string]struct{}{}

func init() {
	for _, kw := range []string{
		"ALL", "AND", "ANY", "ARRAY", "AS", "ASC", "ASSERT_ROWS_MODIFIED",
		"AT", "BETWEEN", "BY", "CASE", "CAST", "COLLATE", "CONTAINS",
		"CREATE", "CROSS", "CUBE", "CURRENT", "DEFAULT", "DEFINE", "DESC",
		"DISTINCT", "ELSE", "END", "ENUM", "ESCAPE", "EXCEPT", "EXCLUDE",
		"EXISTS", "EXTRACT", "FALSE", "FETCH", "FOLLOWING", "FOR", "FROM",
		"FULL", "GROUP", "GROUPING", "GROUPS", "HASH", "HAVING", "IF",
		"IGNORE", "IN", "INNER", "INTERSECT", "INTERVAL", "INTO", "IS",
		"JOIN", "LATERAL", "LEFT", "LIKE", "LIMIT", "LOOKUP", "MERGE",
		"NATURAL", "NEW", "NO", "NOT", "NULL", "NULLS", "OF", "ON", "OR",
		"ORDER", "OUTER", "OVER", "PARTITION", "PRECEDING", "PROTO",
		"RANGE", "RECURSIVE", "RESPECT", "RIGHT", "ROLLUP", "ROWS",
		"SELECT", "SET", "SOME", "STRUCT", "TABLESAMPLE", "THEN", "TO",
		"TREAT", "TRUE", "UNBOUNDED", "UNION", "UNNEST", "USING", "WHEN",
		"WHERE", "WINDOW", "WITH", "WITHIN",
	} {
		spannerReserved[kw] = struct{}{}
	}
}
