package sql

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
	"github.com/syssam/sqlkit/schema"
)

// Op is the operation kind of a query. It is fixed by the first
// operation call on a Query and cannot change afterwards.
type Op uint8

// Operation kinds.
const (
	OpNone Op = iota
	OpSelect
	OpInsert
	OpUpdate
	OpDelete
)

var opNames = [...]string{
	OpNone:   "none",
	OpSelect: "select",
	OpInsert: "insert",
	OpUpdate: "update",
	OpDelete: "delete",
}

// String returns the lower-case name of the operation.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return opNames[OpNone]
}

// Join kinds.
const (
	InnerJoin = "JOIN"
	LeftJoin  = "LEFT JOIN"
)

type joinClause struct {
	kind  string
	table *schema.Table
	on    *Fragment
}

type projection struct {
	alias  string
	table  string
	column string
	frag   *Fragment
}

type orderTerm struct {
	column string
	desc   bool
}

type includeReq struct {
	relation string
	columns  []string // logical keys; nil selects all
}

type returning struct {
	all     bool
	columns []string
}

// A Query accumulates the logical description of one operation and
// renders it on demand. Chained calls mutate and return the same
// instance; the first configuration error is recorded and surfaced by
// Compile. A Query is not safe for concurrent use, but distinct
// instances are fully independent.
type Query struct {
	registry *schema.Registry
	op       Op
	table    *schema.Table
	joins    []joinClause
	wheres   []*Fragment
	selects  []projection
	orders   []orderTerm
	groups   []string
	limit    *int
	offset   *int
	rows     []map[string]any
	sets     map[string]any
	includes []includeReq
	ret      *returning
	err      error
}

// NewQuery returns a query bound to the given table registry.
func NewQuery(registry *schema.Registry) *Query {
	return &Query{registry: registry}
}

// Err returns the first configuration error recorded so far.
func (q *Query) Err() error { return q.err }

func (q *Query) fail(format string, args ...any) *Query {
	if q.err == nil {
		q.err = sqlkit.Configf(format, args...)
	}
	return q
}

// setOp fixes the operation kind; setting a conflicting kind is a
// configuration error.
func (q *Query) setOp(op Op, t *schema.Table) bool {
	if q.err != nil {
		return false
	}
	if q.op != OpNone && q.op != op {
		q.fail("operation already configured as %s, cannot switch to %s", q.op, op)
		return false
	}
	if t == nil {
		q.fail("%s requires a target table", op)
		return false
	}
	q.op = op
	q.table = t
	return true
}

// requireOp checks the clause named by what is valid for the current
// operation.
func (q *Query) requireOp(what string, ops ...Op) bool {
	if q.err != nil {
		return false
	}
	if q.op == OpNone {
		q.fail("%s requires an operation to be configured first", what)
		return false
	}
	for _, op := range ops {
		if q.op == op {
			return true
		}
	}
	q.fail("%s is not valid for a %s operation", what, q.op)
	return false
}

// Select starts a select operation on t, projecting the given column
// keys. With no columns, all columns of t are projected.
func (q *Query) Select(t *schema.Table, columns ...string) *Query {
	if !q.setOp(OpSelect, t) {
		return q
	}
	for _, key := range columns {
		c, ok := t.Column(key)
		if !ok {
			return q.fail("select: unknown column %q on table %q", key, t.Name)
		}
		q.selects = append(q.selects, projection{
			alias:  c.StorageName(),
			table:  t.Name,
			column: c.StorageName(),
		})
	}
	return q
}

// SelectExpr projects an arbitrary fragment under the given output alias.
func (q *Query) SelectExpr(alias string, f *Fragment) *Query {
	if !q.requireOp("select expression", OpSelect) {
		return q
	}
	q.selects = append(q.selects, projection{alias: alias, frag: f})
	return q
}

// InsertInto starts an insert operation on t.
func (q *Query) InsertInto(t *schema.Table) *Query {
	q.setOp(OpInsert, t)
	return q
}

// Rows adds insert payload rows keyed by logical column key.
func (q *Query) Rows(rows ...map[string]any) *Query {
	if !q.requireOp("VALUES", OpInsert) {
		return q
	}
	q.rows = append(q.rows, rows...)
	return q
}

// Update starts an update operation on t.
func (q *Query) Update(t *schema.Table) *Query {
	q.setOp(OpUpdate, t)
	return q
}

// Set merges SET payload values keyed by logical column key. A value may
// be a *Fragment, which is rendered inline.
func (q *Query) Set(values map[string]any) *Query {
	if !q.requireOp("SET", OpUpdate) {
		return q
	}
	if q.sets == nil {
		q.sets = make(map[string]any, len(values))
	}
	for k, v := range values {
		q.sets[k] = v
	}
	return q
}

// DeleteFrom starts a delete operation on t.
func (q *Query) DeleteFrom(t *schema.Table) *Query {
	q.setOp(OpDelete, t)
	return q
}

// Join adds an inner join against t with the given ON fragment.
func (q *Query) Join(t *schema.Table, on *Fragment) *Query {
	if !q.requireOp("JOIN", OpSelect) {
		return q
	}
	q.joins = append(q.joins, joinClause{kind: InnerJoin, table: t, on: on})
	return q
}

// LeftJoin adds a left join against t with the given ON fragment.
func (q *Query) LeftJoin(t *schema.Table, on *Fragment) *Query {
	if !q.requireOp("JOIN", OpSelect) {
		return q
	}
	q.joins = append(q.joins, joinClause{kind: LeftJoin, table: t, on: on})
	return q
}

// Where adds a condition; multiple conditions are ANDed.
func (q *Query) Where(f *Fragment) *Query {
	if !q.requireOp("WHERE", OpSelect, OpUpdate, OpDelete) {
		return q
	}
	q.wheres = append(q.wheres, f)
	return q
}

// OrderBy orders the result by the given column key, ascending.
func (q *Query) OrderBy(column string) *Query {
	return q.order(column, false)
}

// OrderByDesc orders the result by the given column key, descending.
func (q *Query) OrderByDesc(column string) *Query {
	return q.order(column, true)
}

func (q *Query) order(column string, desc bool) *Query {
	if !q.requireOp("ORDER BY", OpSelect) {
		return q
	}
	q.orders = append(q.orders, orderTerm{column: column, desc: desc})
	return q
}

// GroupBy groups the result by the given column keys.
func (q *Query) GroupBy(columns ...string) *Query {
	if !q.requireOp("GROUP BY", OpSelect) {
		return q
	}
	q.groups = append(q.groups, columns...)
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	if !q.requireOp("LIMIT", OpSelect) {
		return q
	}
	q.limit = &n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	if !q.requireOp("OFFSET", OpSelect) {
		return q
	}
	q.offset = &n
	return q
}

// Include eager-loads all columns of the related table. The relation
// name is the related table's physical name; the foreign key linking the
// two tables is inferred from either side of the relation.
func (q *Query) Include(relation string) *Query {
	return q.include(relation, nil)
}

// IncludeColumns eager-loads a subset of the related table's columns,
// given by logical key.
func (q *Query) IncludeColumns(relation string, columns ...string) *Query {
	return q.include(relation, columns)
}

func (q *Query) include(relation string, columns []string) *Query {
	if !q.requireOp("eager load", OpSelect) {
		return q
	}
	for i := range q.includes {
		if q.includes[i].relation == relation {
			q.includes[i].columns = columns
			return q
		}
	}
	q.includes = append(q.includes, includeReq{relation: relation, columns: columns})
	return q
}

// Returning requests the given columns back from a mutation. With no
// columns, all columns are returned.
func (q *Query) Returning(columns ...string) *Query {
	if !q.requireOp("RETURNING", OpInsert, OpUpdate, OpDelete) {
		return q
	}
	q.ret = &returning{all: len(columns) == 0, columns: columns}
	return q
}

// EagerRelation is one eager-loaded relation in a compiled plan: the
// relation name, the output column prefix ("<relation>__") and the
// physical columns pulled from the related table.
type EagerRelation struct {
	Name    string
	Prefix  string
	Columns []string
}

// EagerPlan describes how eager-loaded columns are laid out in the flat
// result set, for consumption by Shape.
type EagerPlan struct {
	Relations []EagerRelation
}

// Compiled is the rendered form of a query: SQL text and its bind
// parameters in placeholder order, plus the metadata the execution
// adapter and the result shaper need.
type Compiled struct {
	SQL         string
	Args        []any
	Op          Op
	Dialect     string
	Table       string
	Columns     []string
	Plan        *EagerPlan
	Diagnostics []sqlkit.Diagnostic
}

// queryPlan is the output of the planning pass: alias assignments, the
// full join list (explicit joins plus joins synthesized from eager-load
// requests) and the projection list.
type queryPlan struct {
	aliases map[string]string
	joins   []joinClause
	projs   []projection
	eager   *EagerPlan
	diags   []sqlkit.Diagnostic
}

// Compile renders the accumulated state for the given dialect. It is
// pure with respect to the query: compiling twice yields byte-identical
// SQL and identical parameter lists.
func (q *Query) Compile(d string) (*Compiled, error) {
	if q.err != nil {
		return nil, q.err
	}
	if !dialect.Valid(d) {
		return nil, sqlkit.Configf("unknown dialect %q", d)
	}
	if q.op == OpNone || q.table == nil {
		return nil, sqlkit.Configf("no operation configured")
	}
	switch q.op {
	case OpInsert:
		if len(q.rows) == 0 {
			return nil, sqlkit.Configf("insert into %q requires at least one row", q.table.Name)
		}
	case OpUpdate:
		if len(q.sets) == 0 {
			return nil, sqlkit.Configf("update of %q requires SET values", q.table.Name)
		}
	}
	switch q.op {
	case OpSelect:
		return q.compileSelect(d)
	case OpInsert:
		return q.compileInsert(d)
	case OpUpdate:
		return q.compileUpdate(d)
	default:
		return q.compileDelete(d)
	}
}

// plan assigns aliases in first-reference order (target table, explicit
// joins, eager-load joins) and synthesizes one LEFT JOIN plus prefixed
// projections per resolvable eager-load request.
func (q *Query) plan() (*queryPlan, error) {
	p := &queryPlan{aliases: make(map[string]string)}
	next := 0
	alias := func(table string) string {
		if a, ok := p.aliases[table]; ok {
			return a
		}
		next++
		a := fmt.Sprintf("t%d", next)
		p.aliases[table] = a
		return a
	}
	alias(q.table.Name)
	for _, j := range q.joins {
		alias(j.table.Name)
		p.joins = append(p.joins, j)
	}

	// Base projections: explicit ones, or every column of the target.
	if len(q.selects) > 0 {
		p.projs = append(p.projs, q.selects...)
	} else {
		for _, c := range q.table.Columns {
			p.projs = append(p.projs, projection{
				alias:  c.StorageName(),
				table:  q.table.Name,
				column: c.StorageName(),
			})
		}
	}

	for _, inc := range q.includes {
		rel, ok := q.registry.Table(inc.relation)
		if !ok {
			p.diags = append(p.diags, sqlkit.Diagnostic{
				Table:   inc.relation,
				Message: "eager load skipped: relation is not a registered table",
			})
			continue
		}
		on, ok := inferJoin(q.table, rel)
		if !ok {
			p.diags = append(p.diags, sqlkit.Diagnostic{
				Table:   inc.relation,
				Message: fmt.Sprintf("eager load skipped: no foreign key between %q and %q", q.table.Name, rel.Name),
			})
			continue
		}
		if _, joined := p.aliases[rel.Name]; !joined {
			alias(rel.Name)
			p.joins = append(p.joins, joinClause{kind: LeftJoin, table: rel, on: on})
		}
		var cols []*schema.Column
		if inc.columns == nil {
			cols = rel.Columns
		} else {
			for _, key := range inc.columns {
				c, ok := rel.Column(key)
				if !ok {
					return nil, sqlkit.Configf("eager load %q: unknown column %q", rel.Name, key)
				}
				cols = append(cols, c)
			}
		}
		er := EagerRelation{Name: rel.Name, Prefix: rel.Name + "__"}
		for _, c := range cols {
			name := c.StorageName()
			er.Columns = append(er.Columns, name)
			p.projs = append(p.projs, projection{
				alias:  er.Prefix + name,
				table:  rel.Name,
				column: name,
			})
		}
		if p.eager == nil {
			p.eager = &EagerPlan{}
		}
		p.eager.Relations = append(p.eager.Relations, er)
	}
	return p, nil
}

// inferJoin locates the foreign key linking target and rel, on either
// side of the relation, and returns the LEFT JOIN ON fragment.
func inferJoin(target, rel *schema.Table) (*Fragment, bool) {
	for _, c := range rel.Columns {
		if c.Ref != nil && c.Ref.Table == target.Name {
			return ColumnsEQ(rel.Name, c.StorageName(), target.Name, c.Ref.Column), true
		}
	}
	for _, c := range target.Columns {
		if c.Ref != nil && c.Ref.Table == rel.Name {
			return ColumnsEQ(rel.Name, c.Ref.Column, target.Name, c.StorageName()), true
		}
	}
	return nil, false
}

func (q *Query) compileSelect(d string) (*Compiled, error) {
	p, err := q.plan()
	if err != nil {
		return nil, err
	}
	b := NewBuilder(d)
	b.qualify = func(table string) (string, error) {
		a, ok := p.aliases[table]
		if !ok {
			return "", sqlkit.Configf("no alias assigned for table %q", table)
		}
		return dialect.Quote(d, a), nil
	}

	b.WriteString("SELECT ")
	columns := make([]string, 0, len(p.projs))
	for i, pr := range p.projs {
		b.Comma(i)
		columns = append(columns, pr.alias)
		if pr.frag != nil {
			if err := pr.frag.render(b); err != nil {
				return nil, err
			}
			b.WriteString(" AS ")
			b.Ident(pr.alias)
			continue
		}
		if err := b.Qualified(pr.table, pr.column); err != nil {
			return nil, err
		}
		if pr.alias != pr.column {
			b.WriteString(" AS ")
			b.Ident(pr.alias)
		}
	}
	b.WriteString(" FROM ")
	b.Ident(q.table.Name)
	b.WriteString(" AS ")
	b.Ident(p.aliases[q.table.Name])
	for _, j := range p.joins {
		b.WriteString(" ")
		b.WriteString(j.kind)
		b.WriteString(" ")
		b.Ident(j.table.Name)
		b.WriteString(" AS ")
		b.Ident(p.aliases[j.table.Name])
		b.WriteString(" ON ")
		if err := j.on.render(b); err != nil {
			return nil, err
		}
	}
	if err := q.renderWheres(b); err != nil {
		return nil, err
	}
	if len(q.groups) > 0 {
		b.WriteString(" GROUP BY ")
		for i, key := range q.groups {
			c, ok := q.table.Column(key)
			if !ok {
				return nil, sqlkit.Configf("group by: unknown column %q on table %q", key, q.table.Name)
			}
			b.Comma(i)
			if err := b.Qualified(q.table.Name, c.StorageName()); err != nil {
				return nil, err
			}
		}
	}
	if len(q.orders) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.orders {
			c, ok := q.table.Column(o.column)
			if !ok {
				return nil, sqlkit.Configf("order by: unknown column %q on table %q", o.column, q.table.Name)
			}
			b.Comma(i)
			if err := b.Qualified(q.table.Name, c.StorageName()); err != nil {
				return nil, err
			}
			if o.desc {
				b.WriteString(" DESC")
			}
		}
	}
	if q.limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*q.limit))
	}
	if q.offset != nil {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(*q.offset))
	}
	return &Compiled{
		SQL:         b.String(),
		Args:        b.Args(),
		Op:          OpSelect,
		Dialect:     d,
		Table:       q.table.Name,
		Columns:     columns,
		Plan:        p.eager,
		Diagnostics: p.diags,
	}, nil
}

// insertVal is one resolved cell of an insert row: either a bind value
// or raw SQL text inlined without a placeholder.
type insertVal struct {
	value any
	raw   string
	isRaw bool
}

// resolveRows applies column defaults to every insert row in definition
// order, then computes the sorted union of column names across all rows.
// A row still missing a column present in another row is an error.
func (q *Query) resolveRows(d string) ([]map[string]insertVal, []string, error) {
	resolved := make([]map[string]insertVal, len(q.rows))
	nameSet := make(map[string]struct{})
	for i, row := range q.rows {
		out := make(map[string]insertVal, len(row))
		for key, v := range row {
			c, ok := q.table.Column(key)
			if !ok {
				return nil, nil, sqlkit.Configf("insert row %d: unknown column %q on table %q", i, key, q.table.Name)
			}
			out[c.StorageName()] = insertVal{value: v}
		}
		for _, c := range q.table.Columns {
			name := c.StorageName()
			if _, ok := out[name]; ok {
				continue
			}
			def := c.Default
			if def == nil {
				continue
			}
			switch def.Kind {
			case schema.DefaultGenerator:
				out[name] = insertVal{value: def.Func()}
			case schema.DefaultExpr:
				out[name] = insertVal{raw: dialect.NormalizeExpr(d, def.Expr), isRaw: true}
			default:
				out[name] = insertVal{value: def.Value}
			}
		}
		for name := range out {
			nameSet[name] = struct{}{}
		}
		resolved[i] = out
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, out := range resolved {
		for _, name := range names {
			if _, ok := out[name]; !ok {
				return nil, nil, sqlkit.Configf("insert row %d is missing a value for column %q", i, name)
			}
		}
	}
	return resolved, names, nil
}

func (q *Query) compileInsert(d string) (*Compiled, error) {
	rows, names, err := q.resolveRows(d)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(d)
	b.qualify = q.bareQualify(d)
	b.WriteString("INSERT INTO ")
	b.Ident(q.table.Name)
	b.WriteString(" (")
	for i, name := range names {
		b.Comma(i)
		b.Ident(name)
	}
	b.WriteString(") VALUES ")
	for i, row := range rows {
		b.Comma(i)
		b.WriteString("(")
		for j, name := range names {
			b.Comma(j)
			v := row[name]
			if v.isRaw {
				b.WriteString(v.raw)
			} else {
				b.Arg(v.value)
			}
		}
		b.WriteString(")")
	}
	if err := q.renderReturning(b, d); err != nil {
		return nil, err
	}
	return &Compiled{
		SQL:     b.String(),
		Args:    b.Args(),
		Op:      OpInsert,
		Dialect: d,
		Table:   q.table.Name,
		Columns: names,
	}, nil
}

func (q *Query) compileUpdate(d string) (*Compiled, error) {
	type setEntry struct {
		name  string
		value any
	}
	entries := make([]setEntry, 0, len(q.sets))
	for key, v := range q.sets {
		c, ok := q.table.Column(key)
		if !ok {
			return nil, sqlkit.Configf("update: unknown column %q on table %q", key, q.table.Name)
		}
		entries = append(entries, setEntry{name: c.StorageName(), value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	b := NewBuilder(d)
	b.qualify = q.bareQualify(d)
	b.WriteString("UPDATE ")
	b.Ident(q.table.Name)
	b.WriteString(" SET ")
	for i, e := range entries {
		b.Comma(i)
		b.Ident(e.name)
		b.WriteString(" = ")
		if f, ok := e.value.(*Fragment); ok {
			if err := f.render(b); err != nil {
				return nil, err
			}
		} else {
			b.Arg(e.value)
		}
	}
	if err := q.renderWheres(b); err != nil {
		return nil, err
	}
	if err := q.renderReturning(b, d); err != nil {
		return nil, err
	}
	return &Compiled{
		SQL:     b.String(),
		Args:    b.Args(),
		Op:      OpUpdate,
		Dialect: d,
		Table:   q.table.Name,
	}, nil
}

func (q *Query) compileDelete(d string) (*Compiled, error) {
	b := NewBuilder(d)
	b.qualify = q.bareQualify(d)
	b.WriteString("DELETE FROM ")
	b.Ident(q.table.Name)
	if err := q.renderWheres(b); err != nil {
		return nil, err
	}
	if err := q.renderReturning(b, d); err != nil {
		return nil, err
	}
	return &Compiled{
		SQL:     b.String(),
		Args:    b.Args(),
		Op:      OpDelete,
		Dialect: d,
		Table:   q.table.Name,
	}, nil
}

// bareQualify resolves column references for single-table mutations:
// columns of the target table render unqualified, anything else is a
// configuration error.
func (q *Query) bareQualify(string) func(string) (string, error) {
	return func(table string) (string, error) {
		if table == q.table.Name {
			return "", nil
		}
		return "", sqlkit.Configf("no alias assigned for table %q", table)
	}
}

func (q *Query) renderWheres(b *Builder) error {
	if len(q.wheres) == 0 {
		return nil
	}
	b.WriteString(" WHERE ")
	for i, f := range q.wheres {
		if i > 0 {
			b.WriteString(" AND ")
		}
		if err := f.render(b); err != nil {
			return err
		}
	}
	return nil
}

func (q *Query) renderReturning(b *Builder, d string) error {
	if q.ret == nil {
		return nil
	}
	if d == dialect.Spanner {
		b.WriteString(" THEN RETURN ")
	} else {
		b.WriteString(" RETURNING ")
	}
	if q.ret.all {
		b.WriteString("*")
		return nil
	}
	for i, key := range q.ret.columns {
		c, ok := q.table.Column(key)
		if !ok {
			return sqlkit.Configf("returning: unknown column %q on table %q", key, q.table.Name)
		}
		b.Comma(i)
		b.Ident(c.StorageName())
	}
	return nil
}
