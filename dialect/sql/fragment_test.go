package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
)

func TestFragmentRender(t *testing.T) {
	f := ColumnEQ("users", "status", "active")
	query, args, err := f.Render(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `"users"."status" = $1`, query)
	assert.Equal(t, []any{"active"}, args)

	query, args, err = f.Render(dialect.Spanner)
	require.NoError(t, err)
	assert.Equal(t, "users.status = @p1", query)
	assert.Equal(t, []any{"active"}, args)

	_, _, err = f.Render("mysql")
	assert.True(t, sqlkit.IsConfig(err))
}

func TestFragmentParamOrdering(t *testing.T) {
	// Placeholder numbering threads left to right through nested
	// fragments.
	inner := NewFragment().Column("users", "age").Text(" > ").Value(18)
	f := And(
		ColumnEQ("users", "status", "active"),
		inner,
		NewFragment().Column("users", "score").Text(" < ").Value(100),
	)
	query, args, err := f.Render(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `"users"."status" = $1 AND "users"."age" > $2 AND "users"."score" < $3`, query)
	assert.Equal(t, []any{"active", 18, 100}, args)
}

func TestFragmentRaw(t *testing.T) {
	// Raw text never consumes a placeholder; numbering continues across
	// it.
	f := NewFragment().
		Column("users", "created_at").Text(" > ").RawExpr("now() - interval '1 day'").
		Text(" AND ").Column("users", "id").Text(" = ").Value(7)
	query, args, err := f.Render(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `"users"."created_at" > now() - interval '1 day' AND "users"."id" = $1`, query)
	assert.Equal(t, []any{7}, args)

	query, args, err = Raw("1 = 1").Render(dialect.Spanner)
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", query)
	assert.Empty(t, args)
}

func TestFragmentColumnsEQ(t *testing.T) {
	query, args, err := ColumnsEQ("posts", "user_id", "users", "id").Render(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `"posts"."user_id" = "users"."id"`, query)
	assert.Empty(t, args)
}

func TestBuilderCounter(t *testing.T) {
	b := NewBuilder(dialect.Spanner)
	b.WriteString("SELECT * FROM t WHERE a = ")
	b.Arg(1)
	b.WriteString(" AND b = ")
	b.Arg("x")
	assert.Equal(t, "SELECT * FROM t WHERE a = @p1 AND b = @p2", b.String())
	assert.Equal(t, []any{1, "x"}, b.Args())
}
