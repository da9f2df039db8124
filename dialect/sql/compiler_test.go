package sql

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
	"github.com/syssam/sqlkit/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	users := schema.MustTable("users", []*schema.Column{
		{Key: "id", Type: schema.TypeInt64, Primary: true},
		{Key: "name", Type: schema.TypeString, NotNull: true},
		{Key: "createdAt", Type: schema.TypeTime},
	})
	posts := schema.MustTable("posts", []*schema.Column{
		{Key: "id", Type: schema.TypeInt64, Primary: true},
		{Key: "title", Type: schema.TypeString},
		{Key: "userID", Type: schema.TypeInt64, Ref: &schema.Ref{Table: "users", Column: "id"}},
	})
	tags := schema.MustTable("tags", []*schema.Column{
		{Key: "id", Type: schema.TypeInt64, Primary: true},
		{Key: "label", Type: schema.TypeString},
	})
	reg, err := schema.NewRegistry(users, posts, tags)
	require.NoError(t, err)
	return reg
}

func tbl(t *testing.T, reg *schema.Registry, name string) *schema.Table {
	t.Helper()
	tb, ok := reg.Table(name)
	require.True(t, ok)
	return tb
}

func TestSelectAll(t *testing.T) {
	reg := testRegistry(t)
	c, err := NewQuery(reg).Select(tbl(t, reg, "users")).Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t1"."id", "t1"."name", "t1"."created_at" FROM "users" AS "t1"`, c.SQL)
	assert.Empty(t, c.Args)
	assert.Equal(t, OpSelect, c.Op)
	assert.Equal(t, "users", c.Table)
	assert.Equal(t, []string{"id", "name", "created_at"}, c.Columns)
	assert.Nil(t, c.Plan)
}

func TestSelectWhereParams(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(reg).
		Select(tbl(t, reg, "users"), "id", "name").
		Where(ColumnEQ("users", "name", "ada")).
		Where(NewFragment().Column("users", "id").Text(" > ").Value(int64(10)))

	c, err := q.Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t1"."id", "t1"."name" FROM "users" AS "t1" WHERE "t1"."name" = $1 AND "t1"."id" > $2`, c.SQL)
	assert.Equal(t, []any{"ada", int64(10)}, c.Args)

	c, err = q.Compile(dialect.Spanner)
	require.NoError(t, err)
	assert.Equal(t, "SELECT t1.id, t1.name FROM users AS t1 WHERE t1.name = @p1 AND t1.id > @p2", c.SQL)
	assert.Equal(t, []any{"ada", int64(10)}, c.Args)
}

func TestSelectClauses(t *testing.T) {
	reg := testRegistry(t)
	c, err := NewQuery(reg).
		Select(tbl(t, reg, "users"), "id").
		OrderByDesc("createdAt").
		OrderBy("id").
		Limit(10).
		Offset(20).
		Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t1"."id" FROM "users" AS "t1" ORDER BY "t1"."created_at" DESC, "t1"."id" LIMIT 10 OFFSET 20`, c.SQL)
	assert.Empty(t, c.Args)
}

func TestSelectExprGroupBy(t *testing.T) {
	reg := testRegistry(t)
	users := tbl(t, reg, "users")
	posts := tbl(t, reg, "posts")
	c, err := NewQuery(reg).
		Select(users, "id").
		SelectExpr("post_count", Raw("count(*)")).
		Join(posts, ColumnsEQ("posts", "user_id", "users", "id")).
		GroupBy("id").
		Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t1"."id", count(*) AS "post_count" FROM "users" AS "t1" JOIN "posts" AS "t2" ON "t2"."user_id" = "t1"."id" GROUP BY "t1"."id"`, c.SQL)
	assert.Equal(t, []string{"id", "post_count"}, c.Columns)
}

func TestEagerLoad(t *testing.T) {
	reg := testRegistry(t)
	c, err := NewQuery(reg).
		Select(tbl(t, reg, "users")).
		Include("posts").
		Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."id", "t1"."name", "t1"."created_at", `+
			`"t2"."id" AS "posts__id", "t2"."title" AS "posts__title", "t2"."user_id" AS "posts__user_id" `+
			`FROM "users" AS "t1" LEFT JOIN "posts" AS "t2" ON "t2"."user_id" = "t1"."id"`,
		c.SQL)
	require.NotNil(t, c.Plan)
	require.Len(t, c.Plan.Relations, 1)
	rel := c.Plan.Relations[0]
	assert.Equal(t, "posts", rel.Name)
	assert.Equal(t, "posts__", rel.Prefix)
	assert.Equal(t, []string{"id", "title", "user_id"}, rel.Columns)
	assert.Empty(t, c.Diagnostics)
}

func TestEagerLoadColumns(t *testing.T) {
	reg := testRegistry(t)
	c, err := NewQuery(reg).
		Select(tbl(t, reg, "users"), "id").
		IncludeColumns("posts", "id", "title").
		Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."id", "t2"."id" AS "posts__id", "t2"."title" AS "posts__title" `+
			`FROM "users" AS "t1" LEFT JOIN "posts" AS "t2" ON "t2"."user_id" = "t1"."id"`,
		c.SQL)
	require.NotNil(t, c.Plan)
	assert.Equal(t, []string{"id", "title"}, c.Plan.Relations[0].Columns)
}

func TestEagerLoadSkipped(t *testing.T) {
	reg := testRegistry(t)

	// Not a registered table: the query still compiles, with a warning.
	c, err := NewQuery(reg).
		Select(tbl(t, reg, "users"), "id").
		Include("comments").
		Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t1"."id" FROM "users" AS "t1"`, c.SQL)
	require.Len(t, c.Diagnostics, 1)
	assert.Contains(t, c.Diagnostics[0].Message, "not a registered table")

	// Registered but no foreign key on either side.
	c, err = NewQuery(reg).
		Select(tbl(t, reg, "users"), "id").
		Include("tags").
		Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Nil(t, c.Plan)
	require.Len(t, c.Diagnostics, 1)
	assert.Contains(t, c.Diagnostics[0].Message, "no foreign key")
}

func TestEagerLoadReusesJoinAlias(t *testing.T) {
	reg := testRegistry(t)
	users := tbl(t, reg, "users")
	posts := tbl(t, reg, "posts")
	c, err := NewQuery(reg).
		Select(users, "id").
		Join(posts, ColumnsEQ("posts", "user_id", "users", "id")).
		Include("posts").
		Compile(dialect.Postgres)
	require.NoError(t, err)
	// posts is already joined explicitly; the eager load reuses its alias
	// instead of synthesizing a second join.
	assert.Equal(t,
		`SELECT "t1"."id", "t2"."id" AS "posts__id", "t2"."title" AS "posts__title", "t2"."user_id" AS "posts__user_id" `+
			`FROM "users" AS "t1" JOIN "posts" AS "t2" ON "t2"."user_id" = "t1"."id"`,
		c.SQL)
}

func TestCompileIdempotent(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(reg).
		Select(tbl(t, reg, "users")).
		Include("posts").
		Where(ColumnEQ("users", "name", "ada"))

	first, err := q.Compile(dialect.Postgres)
	require.NoError(t, err)
	second, err := q.Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Args, second.Args)
	assert.Equal(t, first.Plan, second.Plan)
}

func TestCompileConcurrent(t *testing.T) {
	reg := testRegistry(t)
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			c, err := NewQuery(reg).
				Select(tbl(t, reg, "users"), "id").
				Where(ColumnEQ("users", "id", int64(i))).
				Compile(dialect.Postgres)
			if err != nil {
				return err
			}
			want := `SELECT "t1"."id" FROM "users" AS "t1" WHERE "t1"."id" = $1`
			if c.SQL != want {
				return fmt.Errorf("unexpected SQL %q", c.SQL)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func insertRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	accounts := schema.MustTable("accounts", []*schema.Column{
		{Key: "id", Type: schema.TypeString, Primary: true, Default: schema.UUIDDefault()},
		{Key: "email", Type: schema.TypeString, NotNull: true},
		{Key: "nickname", Type: schema.TypeString},
		{Key: "role", Type: schema.TypeString, Default: schema.LiteralDefault("member")},
		{Key: "createdAt", Type: schema.TypeTime, Default: schema.ExprDefault(schema.CurrentTimestamp)},
	})
	reg, err := schema.NewRegistry(accounts)
	require.NoError(t, err)
	return reg
}

func TestInsertDefaults(t *testing.T) {
	reg := insertRegistry(t)
	q := NewQuery(reg).
		InsertInto(tbl(t, reg, "accounts")).
		Rows(
			map[string]any{"email": "a@example.com"},
			map[string]any{"email": "b@example.com"},
		)
	c, err := q.Compile(dialect.Postgres)
	require.NoError(t, err)

	// Column list is the sorted union across rows; the expression default
	// is inlined and consumes no placeholder. nickname has no default and
	// appears in no row, so it is absent.
	assert.Equal(t,
		`INSERT INTO "accounts" ("created_at", "email", "id", "role") `+
			`VALUES (CURRENT_TIMESTAMP, $1, $2, $3), (CURRENT_TIMESTAMP, $4, $5, $6)`,
		c.SQL)
	require.Len(t, c.Args, 6)
	assert.Equal(t, "a@example.com", c.Args[0])
	assert.Equal(t, "member", c.Args[2])
	assert.Equal(t, "b@example.com", c.Args[3])

	// The generator runs once per row.
	id1, ok := c.Args[1].(string)
	require.True(t, ok)
	id2, ok := c.Args[4].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id1)
	assert.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestInsertSpannerNormalizesExpr(t *testing.T) {
	reg := insertRegistry(t)
	c, err := NewQuery(reg).
		InsertInto(tbl(t, reg, "accounts")).
		Rows(map[string]any{"email": "a@example.com"}).
		Compile(dialect.Spanner)
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO accounts (created_at, email, id, role) "+
			"VALUES (CURRENT_TIMESTAMP(), @p1, @p2, @p3)",
		c.SQL)
}

func TestInsertMissingColumn(t *testing.T) {
	reg := insertRegistry(t)
	_, err := NewQuery(reg).
		InsertInto(tbl(t, reg, "accounts")).
		Rows(
			map[string]any{"email": "a@example.com", "nickname": "ada"},
			map[string]any{"email": "b@example.com"},
		).
		Compile(dialect.Postgres)
	require.Error(t, err)
	assert.True(t, sqlkit.IsConfig(err))
	assert.Contains(t, err.Error(), `missing a value for column "nickname"`)
}

func TestInsertReturning(t *testing.T) {
	reg := insertRegistry(t)
	q := NewQuery(reg).
		InsertInto(tbl(t, reg, "accounts")).
		Rows(map[string]any{"email": "a@example.com"}).
		Returning("id", "createdAt")

	c, err := q.Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, ` RETURNING "id", "created_at"`)

	c, err = q.Compile(dialect.Spanner)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, " THEN RETURN id, created_at")
}

func TestUpdate(t *testing.T) {
	reg := testRegistry(t)
	c, err := NewQuery(reg).
		Update(tbl(t, reg, "users")).
		Set(map[string]any{
			"name":      "Ada",
			"createdAt": Raw("now()"),
		}).
		Where(ColumnEQ("users", "id", int64(7))).
		Compile(dialect.Postgres)
	require.NoError(t, err)
	// SET entries render in physical column order; fragment values are
	// inlined.
	assert.Equal(t, `UPDATE "users" SET "created_at" = now(), "name" = $1 WHERE "id" = $2`, c.SQL)
	assert.Equal(t, []any{"Ada", int64(7)}, c.Args)
}

func TestDelete(t *testing.T) {
	reg := testRegistry(t)
	q := NewQuery(reg).
		DeleteFrom(tbl(t, reg, "users")).
		Where(ColumnEQ("users", "id", int64(7))).
		Returning()

	c, err := q.Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" WHERE "id" = $1 RETURNING *`, c.SQL)

	c, err = q.Compile(dialect.Spanner)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = @p1 THEN RETURN *", c.SQL)
}

func TestConfigErrors(t *testing.T) {
	reg := testRegistry(t)
	users := tbl(t, reg, "users")
	tests := []struct {
		name  string
		build func() *Query
		want  string
	}{
		{
			name:  "clause before operation",
			build: func() *Query { return NewQuery(reg).Rows(map[string]any{"id": 1}) },
			want:  "requires an operation",
		},
		{
			name:  "conflicting operations",
			build: func() *Query { return NewQuery(reg).Select(users).Update(users) },
			want:  "operation already configured as select",
		},
		{
			name:  "unknown select column",
			build: func() *Query { return NewQuery(reg).Select(users, "nope") },
			want:  `unknown column "nope"`,
		},
		{
			name:  "where on insert",
			build: func() *Query { return NewQuery(reg).InsertInto(users).Where(Raw("1 = 1")) },
			want:  "not valid for a insert operation",
		},
		{
			name:  "insert without rows",
			build: func() *Query { return NewQuery(reg).InsertInto(users) },
			want:  "requires at least one row",
		},
		{
			name:  "update without sets",
			build: func() *Query { return NewQuery(reg).Update(users) },
			want:  "requires SET values",
		},
		{
			name:  "no operation",
			build: func() *Query { return NewQuery(reg) },
			want:  "no operation configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Compile(dialect.Postgres)
			require.Error(t, err)
			assert.True(t, sqlkit.IsConfig(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestErrSticky(t *testing.T) {
	reg := testRegistry(t)
	users := tbl(t, reg, "users")
	q := NewQuery(reg).Select(users, "nope").Where(Raw("1 = 1")).Limit(1)
	require.Error(t, q.Err())
	// The first error wins and later clauses do not overwrite it.
	assert.Contains(t, q.Err().Error(), `unknown column "nope"`)
	_, err := q.Compile(dialect.Postgres)
	assert.Equal(t, q.Err(), err)
}

func TestCompileUnknownDialect(t *testing.T) {
	reg := testRegistry(t)
	_, err := NewQuery(reg).Select(tbl(t, reg, "users")).Compile("mysql")
	require.Error(t, err)
	assert.True(t, sqlkit.IsConfig(err))
	assert.Contains(t, err.Error(), `unknown dialect "mysql"`)
}
