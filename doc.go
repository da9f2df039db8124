// Package sqlkit is a multi-dialect relational data-access core: a typed
// schema model, a query compiler that renders parameterized SQL for
// PostgreSQL and Cloud Spanner, a result shaper that rebuilds nested
// records from flat joined rows, and a migration engine that turns a
// structural schema diff into ordered, dialect-correct DDL.
//
// # Packages
//
// The root package holds the shared error and diagnostic types. The
// functional pieces live in sub-packages:
//
//   - schema: table, column, index and foreign-key definitions, the table
//     registry and serializable schema snapshots
//   - dialect: dialect constants and the per-dialect rendering rules
//     (identifier quoting, parameter placeholders)
//   - dialect/sql: the query compiler, SQL fragments, the result shaper
//     and the database/sql driver adapter
//   - dialect/sql/migrate: the migration DDL engine and the Spanner
//     statement batcher
//
// # Building a query
//
//	users, _ := schema.NewTable("users", []*schema.Column{
//	    {Key: "id", Type: schema.TypeInt64, Primary: true},
//	    {Key: "email", Type: schema.TypeString, Unique: true},
//	})
//	reg, _ := schema.NewRegistry(users)
//
//	c, err := sql.NewQuery(reg).
//	    Select(users).
//	    Where(sql.ColumnEQ("users", "email", "a@b.c")).
//	    Compile(dialect.Postgres)
//	// c.SQL  == `SELECT "t1"."id", "t1"."email" FROM "users" AS "t1" WHERE "t1"."email" = $1`
//	// c.Args == []any{"a@b.c"}
//
// # Diagnostics
//
// Operations that a dialect cannot express faithfully (for example,
// altering the primary key of a Spanner table) are reported as
// diagnostics alongside best-effort output instead of aborting the whole
// run. Callers that require strict correctness must inspect the
// Diagnostics slice on the compiled query or migration plan.
package sqlkit
