package dialect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/sqlkit/dialect"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		dialect string
		ident   string
		want    string
	}{
		{dialect.Postgres, "users", `"users"`},
		{dialect.Postgres, "user_id", `"user_id"`},
		{dialect.Postgres, `we"ird`, `"we""ird"`},
		{dialect.Spanner, "users", "users"},
		{dialect.Spanner, "user_id", "user_id"},
		{dialect.Spanner, "Order", "`Order`"},
		{dialect.Spanner, "select", "`select`"},
		{dialect.Spanner, "user-name", "`user-name`"},
		{dialect.Spanner, "1col", "`1col`"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dialect.Quote(tt.dialect, tt.ident), "%s: %s", tt.dialect, tt.ident)
	}
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$1", dialect.Placeholder(dialect.Postgres, 1))
	assert.Equal(t, "$12", dialect.Placeholder(dialect.Postgres, 12))
	assert.Equal(t, "@p1", dialect.Placeholder(dialect.Spanner, 1))
	assert.Equal(t, "@p7", dialect.Placeholder(dialect.Spanner, 7))
}

func TestNamedArgs(t *testing.T) {
	m := dialect.NamedArgs([]any{"a", 2, true})
	assert.Equal(t, map[string]any{"p1": "a", "p2": 2, "p3": true}, m)
	assert.Empty(t, dialect.NamedArgs(nil))
}

func TestNormalizeExpr(t *testing.T) {
	assert.Equal(t, "CURRENT_TIMESTAMP", dialect.NormalizeExpr(dialect.Postgres, "CURRENT_TIMESTAMP"))
	assert.Equal(t, "CURRENT_TIMESTAMP()", dialect.NormalizeExpr(dialect.Spanner, "current_timestamp"))
	assert.Equal(t, "now() + interval '1 day'", dialect.NormalizeExpr(dialect.Postgres, "now() + interval '1 day'"))
}

func TestValid(t *testing.T) {
	assert.True(t, dialect.Valid(dialect.Postgres))
	assert.True(t, dialect.Valid(dialect.Spanner))
	assert.False(t, dialect.Valid("mysql"))
}
