// Package migrate turns a structural schema diff into an ordered,
// dialect-correct sequence of DDL statements. It consumes an
// already-computed diff together with the new-state schema snapshot; it
// never computes the diff itself. Statements are grouped into fixed
// emission classes (drops before creates, foreign keys last) so that a
// dependency is never dropped before its dependents or created after
// them. For Spanner the ordered statements are further partitioned into
// execution batches that never mix validating and non-validating schema
// changes.
package migrate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
	"github.com/syssam/sqlkit/schema"
)

// Action tags a diff entry.
type Action string

// Diff actions.
const (
	Add    Action = "add"
	Remove Action = "remove"
	Change Action = "change"
)

// TableChange is one per-table entry of a schema diff. For removals,
// Before optionally carries the old table state so dependent indexes and
// foreign keys can be dropped first; without it only the table itself is
// dropped.
type TableChange struct {
	Action     Action
	Name       string
	Before     *schema.TableSnapshot
	Columns    []ColumnChange
	Indexes    []IndexChange
	PrimaryKey *PrimaryKeyChange
	Interleave *InterleaveChange
}

// ColumnChange is an added, removed or changed column. Name is the
// physical column name; the new state is read from the snapshot. Before
// optionally carries the old column so dropped foreign keys and unique
// constraints can be named. The *Changed flags narrow a change to the
// aspects that actually differ.
type ColumnChange struct {
	Action         Action
	Name           string
	Before         *schema.ColumnSnapshot
	TypeChanged    bool
	NullChanged    bool
	DefaultChanged bool
}

// IndexChange is an added, removed or changed index.
type IndexChange struct {
	Action Action
	Name   string
	Before *schema.Index
}

// PrimaryKeyChange is a primary-key set, remove or change.
type PrimaryKeyChange struct {
	Action Action
}

// InterleaveChange is an interleave set, remove or change.
type InterleaveChange struct {
	Action Action
}

// DefaultBatchSize is the maximum number of statements per Spanner
// execution batch.
const DefaultBatchSize = 5

// An Engine generates DDL for one dialect.
type Engine struct {
	dialect   string
	batchSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize overrides the maximum statement count per Spanner batch.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// NewEngine returns a DDL engine for the given dialect.
func NewEngine(d string, opts ...Option) (*Engine, error) {
	if !dialect.Valid(d) {
		return nil, sqlkit.Configf("unknown dialect %q", d)
	}
	e := &Engine{dialect: d, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize < 1 {
		return nil, sqlkit.Configf("batch size must be positive, got %d", e.batchSize)
	}
	return e, nil
}

// A Plan is the generated DDL: Statements in dependency-safe order for
// both dialects, and for Spanner additionally partitioned into Batches
// to be submitted as separate schema-change operations.
type Plan struct {
	Dialect     string
	Statements  []string
	Batches     [][]string
	Diagnostics []sqlkit.Diagnostic
}

// Statement emission classes, in output order. Drops come first so a
// dependency is never removed after something new starts depending on
// it; foreign keys are added last so every referenced table and column
// already exists.
type stmtClass int

const (
	classDropForeignKey stmtClass = iota
	classDropIndex
	classDropColumn
	classDropTable
	classCreateTable
	classAddColumn
	classAlterColumn
	classCreateIndex
	classAddForeignKey
	classAlterOther
	classCount
)

// statement carries the DDL text and its Spanner batching classification.
type statement struct {
	text       string
	validating bool
}

type planner struct {
	e       *Engine
	snap    *schema.Snapshot
	classes [classCount][]statement
	diags   []sqlkit.Diagnostic
}

func (p *planner) add(c stmtClass, text string, validating bool) {
	p.classes[c] = append(p.classes[c], statement{text: text, validating: validating})
}

func (p *planner) warn(table, column, format string, args ...any) {
	p.diags = append(p.diags, sqlkit.Diagnostic{
		Table:   table,
		Column:  column,
		Message: fmt.Sprintf(format, args...),
	})
}

// Generate emits DDL for the given diff. snapshot is the new ("after")
// schema state used to resolve added tables and columns. Unsupported
// dialect changes surface as diagnostics and never abort the rest of the
// plan.
func (e *Engine) Generate(diff []TableChange, snapshot *schema.Snapshot) (*Plan, error) {
	p := &planner{e: e, snap: snapshot}
	for _, tc := range diff {
		switch tc.Action {
		case Add:
			t, ok := snapshot.Table(tc.Name)
			if !ok {
				return nil, sqlkit.Configf("diff adds table %q but the snapshot does not contain it", tc.Name)
			}
			if err := p.createTable(t); err != nil {
				return nil, err
			}
		case Remove:
			p.dropTable(tc)
		case Change:
			t, ok := snapshot.Table(tc.Name)
			if !ok {
				return nil, sqlkit.Configf("diff changes table %q but the snapshot does not contain it", tc.Name)
			}
			if err := p.changeTable(tc, t); err != nil {
				return nil, err
			}
		default:
			return nil, sqlkit.Configf("unknown diff action %q for table %q", tc.Action, tc.Name)
		}
	}
	plan := &Plan{Dialect: e.dialect, Diagnostics: p.diags}
	var stmts []statement
	for c := stmtClass(0); c < classCount; c++ {
		stmts = append(stmts, p.classes[c]...)
	}
	for _, s := range stmts {
		plan.Statements = append(plan.Statements, s.text)
	}
	if e.dialect == dialect.Spanner {
		plan.Batches = e.batch(stmts)
	}
	return plan, nil
}

func (p *planner) createTable(t *schema.TableSnapshot) error {
	d := p.e.dialect
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(dialect.Quote(d, t.Name))
	sb.WriteString(" (")
	for i, c := range t.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		def, err := p.columnDef(t, c)
		if err != nil {
			return err
		}
		sb.WriteString(def)
	}
	pk := t.PKColumns()
	if d == dialect.Spanner {
		sb.WriteString(")")
		if len(pk) > 0 {
			sb.WriteString(" PRIMARY KEY (")
			sb.WriteString(quoteJoin(d, pk))
			sb.WriteString(")")
		}
		if il := t.Interleave; il != nil {
			sb.WriteString(", INTERLEAVE IN PARENT ")
			sb.WriteString(dialect.Quote(d, il.Parent))
			if il.OnDelete != "" {
				sb.WriteString(" ON DELETE ")
				sb.WriteString(string(il.OnDelete))
			}
		}
	} else {
		if len(pk) > 0 {
			sb.WriteString(", PRIMARY KEY (")
			sb.WriteString(quoteJoin(d, pk))
			sb.WriteString(")")
		}
		sb.WriteString(")")
		if t.Interleave != nil {
			p.warn(t.Name, "", "interleave is not supported on %s and was ignored", d)
		}
	}
	p.add(classCreateTable, sb.String(), false)

	// Single-column unique constraints are never inlined in the table
	// definition; they follow as separate statements.
	for _, c := range t.Columns {
		if c.Unique {
			p.addUnique(t.Name, c.Name)
		}
	}
	for _, idx := range t.Indexes {
		p.addIndex(t.Name, idx)
	}
	for _, c := range t.Columns {
		if c.Ref != nil {
			p.addForeignKey(t.Name, c)
		}
	}
	return nil
}

func (p *planner) dropTable(tc TableChange) {
	d := p.e.dialect
	if t := tc.Before; t != nil {
		for _, c := range t.Columns {
			if c.Ref != nil {
				p.dropForeignKey(t.Name, c.Name)
			}
		}
		for _, idx := range t.Indexes {
			p.dropIndex(idx.Name)
		}
	}
	p.add(classDropTable, "DROP TABLE "+dialect.Quote(d, tc.Name), false)
}

func (p *planner) changeTable(tc TableChange, t *schema.TableSnapshot) error {
	d := p.e.dialect
	for _, cc := range tc.Columns {
		switch cc.Action {
		case Add:
			c, ok := t.Column(cc.Name)
			if !ok {
				return sqlkit.Configf("diff adds column %q.%q but the snapshot does not contain it", tc.Name, cc.Name)
			}
			def, err := p.columnDef(t, c)
			if err != nil {
				return err
			}
			p.add(classAddColumn, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
				dialect.Quote(d, t.Name), def), true)
			if c.Unique {
				p.addUnique(t.Name, c.Name)
			}
			if c.Ref != nil {
				p.addForeignKey(t.Name, c)
			}
		case Remove:
			if b := cc.Before; b != nil {
				if b.Ref != nil {
					p.dropForeignKey(tc.Name, cc.Name)
				}
				if b.Unique {
					p.dropUnique(tc.Name, cc.Name)
				}
			}
			p.add(classDropColumn, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
				dialect.Quote(d, tc.Name), dialect.Quote(d, cc.Name)), false)
		case Change:
			c, ok := t.Column(cc.Name)
			if !ok {
				return sqlkit.Configf("diff changes column %q.%q but the snapshot does not contain it", tc.Name, cc.Name)
			}
			if err := p.alterColumn(t, c, cc); err != nil {
				return err
			}
		}
	}
	for _, ic := range tc.Indexes {
		switch ic.Action {
		case Add:
			idx, ok := indexByName(t, ic.Name)
			if !ok {
				return sqlkit.Configf("diff adds index %q on %q but the snapshot does not contain it", ic.Name, tc.Name)
			}
			p.addIndex(t.Name, idx)
		case Remove:
			p.dropIndex(ic.Name)
		case Change:
			idx, ok := indexByName(t, ic.Name)
			if !ok {
				return sqlkit.Configf("diff changes index %q on %q but the snapshot does not contain it", ic.Name, tc.Name)
			}
			p.dropIndex(ic.Name)
			p.addIndex(t.Name, idx)
		}
	}
	if pc := tc.PrimaryKey; pc != nil {
		p.alterPrimaryKey(t, pc)
	}
	if tc.Interleave != nil {
		if d == dialect.Spanner {
			p.warn(tc.Name, "", "the interleave relationship of an existing table cannot be changed")
		} else {
			p.warn(tc.Name, "", "interleave is not supported on %s and was ignored", d)
		}
	}
	return nil
}

func (p *planner) alterColumn(t *schema.TableSnapshot, c *schema.ColumnSnapshot, cc ColumnChange) error {
	d := p.e.dialect
	typ, err := columnType(d, c)
	if err != nil {
		return err
	}
	if d == dialect.Spanner {
		if cc.TypeChanged || cc.NullChanged {
			def := dialect.Quote(d, c.Name) + " " + typ
			if c.NotNull {
				def += " NOT NULL"
			}
			p.add(classAlterColumn, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s",
				dialect.Quote(d, t.Name), def), true)
		}
		if cc.DefaultChanged {
			p.warn(t.Name, c.Name, "a default value cannot be set on an existing column")
		}
		return nil
	}
	table := dialect.Quote(d, t.Name)
	col := dialect.Quote(d, c.Name)
	if cc.TypeChanged {
		p.add(classAlterColumn, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", table, col, typ), true)
	}
	if cc.NullChanged {
		if c.NotNull {
			p.add(classAlterColumn, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", table, col), true)
		} else {
			p.add(classAlterColumn, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", table, col), true)
		}
	}
	if cc.DefaultChanged {
		if expr, ok := defaultSQL(d, c.Default); ok {
			p.add(classAlterColumn, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", table, col, expr), true)
		} else if c.Default == nil {
			p.add(classAlterColumn, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, col), true)
		}
		// A generator default lives in the application, not the database:
		// no DDL.
	}
	return nil
}

func (p *planner) alterPrimaryKey(t *schema.TableSnapshot, pc *PrimaryKeyChange) {
	d := p.e.dialect
	if d == dialect.Spanner {
		p.warn(t.Name, "", "the primary key of an existing table cannot be changed")
		return
	}
	table := dialect.Quote(d, t.Name)
	switch pc.Action {
	case Add:
		p.add(classAlterOther, fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)",
			table, quoteJoin(d, t.PKColumns())), false)
	case Remove:
		p.add(classAlterOther, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
			table, dialect.Quote(d, t.Name+"_pkey")), false)
	case Change:
		p.add(classAlterOther, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
			table, dialect.Quote(d, t.Name+"_pkey")), false)
		p.add(classAlterOther, fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)",
			table, quoteJoin(d, t.PKColumns())), false)
	}
}

// columnDef renders "name type [NOT NULL] [DEFAULT ...]".
func (p *planner) columnDef(t *schema.TableSnapshot, c *schema.ColumnSnapshot) (string, error) {
	d := p.e.dialect
	typ, err := columnType(d, c)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(dialect.Quote(d, c.Name))
	sb.WriteString(" ")
	sb.WriteString(typ)
	if c.NotNull {
		sb.WriteString(" NOT NULL")
	}
	if expr, ok := defaultSQL(d, c.Default); ok {
		if d == dialect.Spanner {
			sb.WriteString(" DEFAULT (")
			sb.WriteString(expr)
			sb.WriteString(")")
		} else {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(expr)
		}
	}
	return sb.String(), nil
}

func (p *planner) addIndex(table string, idx *schema.Index) {
	d := p.e.dialect
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if idx.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	sb.WriteString(dialect.Quote(d, idx.Name))
	sb.WriteString(" ON ")
	sb.WriteString(dialect.Quote(d, table))
	sb.WriteString(" (")
	sb.WriteString(quoteJoin(d, idx.Columns))
	sb.WriteString(")")
	p.add(classCreateIndex, sb.String(), true)
}

func (p *planner) dropIndex(name string) {
	p.add(classDropIndex, "DROP INDEX "+dialect.Quote(p.e.dialect, name), false)
}

func (p *planner) addUnique(table, column string) {
	d := p.e.dialect
	if d == dialect.Spanner {
		p.addIndex(table, &schema.Index{
			Name:    uniqueIndexName(d, table, column),
			Columns: []string{column},
			Unique:  true,
		})
		return
	}
	p.add(classCreateIndex, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
		dialect.Quote(d, table),
		dialect.Quote(d, uniqueIndexName(d, table, column)),
		dialect.Quote(d, column)), true)
}

// dropUnique drops a unique constraint by its conventional name. The
// exact constraint name is not tracked in the diff, so the statement may
// fail if the database used a different one.
func (p *planner) dropUnique(table, column string) {
	d := p.e.dialect
	name := uniqueIndexName(d, table, column)
	if d == dialect.Spanner {
		p.add(classDropIndex, "DROP INDEX "+dialect.Quote(d, name), false)
	} else {
		p.add(classDropIndex, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
			dialect.Quote(d, table), dialect.Quote(d, name)), false)
	}
	p.warn(table, column, "dropping unique constraint by inferred name %q; the statement may fail if the actual name differs", name)
}

func (p *planner) addForeignKey(table string, c *schema.ColumnSnapshot) {
	d := p.e.dialect
	var sb strings.Builder
	sb.WriteString("ALTER TABLE ")
	sb.WriteString(dialect.Quote(d, table))
	sb.WriteString(" ADD CONSTRAINT ")
	sb.WriteString(dialect.Quote(d, foreignKeyName(d, table, c.Name)))
	sb.WriteString(" FOREIGN KEY (")
	sb.WriteString(dialect.Quote(d, c.Name))
	sb.WriteString(") REFERENCES ")
	sb.WriteString(dialect.Quote(d, c.Ref.Table))
	sb.WriteString(" (")
	sb.WriteString(dialect.Quote(d, c.Ref.Column))
	sb.WriteString(")")
	if c.OnDelete != "" {
		if d == dialect.Spanner {
			p.warn(table, c.Name, "foreign keys cannot carry a delete action; use an interleaved table instead")
		} else {
			sb.WriteString(" ON DELETE ")
			sb.WriteString(c.OnDelete)
		}
	}
	p.add(classAddForeignKey, sb.String(), true)
}

// dropForeignKey drops a foreign key by its conventional name, with the
// same caveat as dropUnique.
func (p *planner) dropForeignKey(table, column string) {
	d := p.e.dialect
	name := foreignKeyName(d, table, column)
	p.add(classDropForeignKey, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
		dialect.Quote(d, table), dialect.Quote(d, name)), false)
	p.warn(table, column, "dropping foreign key by inferred name %q; the statement may fail if the actual name differs", name)
}

func uniqueIndexName(d, table, column string) string {
	if d == dialect.Spanner {
		return "IDX_" + table + "_" + column
	}
	return table + "_" + column + "_key"
}

func foreignKeyName(d, table, column string) string {
	if d == dialect.Spanner {
		return "FK_" + table + "_" + column
	}
	return table + "_" + column + "_fkey"
}

func indexByName(t *schema.TableSnapshot, name string) (*schema.Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return nil, false
}

func quoteJoin(d string, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = dialect.Quote(d, n)
	}
	return strings.Join(quoted, ", ")
}

// defaultSQL renders a column default for DDL. Generator defaults are an
// application-level behavior and produce no DDL.
func defaultSQL(d string, def *schema.DefaultSnapshot) (string, bool) {
	if def == nil {
		return "", false
	}
	switch def.Kind {
	case schema.SnapshotGenerator:
		return "", false
	case schema.SnapshotExpr:
		return dialect.NormalizeExpr(d, def.Expr), true
	default:
		return formatValue(def.Value), true
	}
}

// formatValue renders a literal value as dialect-neutral SQL text.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return "'" + v.UTC().Format(time.RFC3339Nano) + "'"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// columnType resolves the physical column type: the per-dialect override
// when one is declared, otherwise the default mapping for the scalar
// type tag.
func columnType(d string, c *schema.ColumnSnapshot) (string, error) {
	if typ, ok := c.SchemaType[d]; ok {
		return typ, nil
	}
	types, ok := defaultTypes[d]
	if !ok {
		return "", sqlkit.Configf("unknown dialect %q", d)
	}
	typ, ok := types[schema.TypeFromString(c.Type)]
	if !ok {
		return "", sqlkit.Configf("no %s type mapping for column %q (%s)", d, c.Name, c.Type)
	}
	return typ, nil
}

var defaultTypes = map[string]map[schema.Type]string{
	dialect.Postgres: {
		schema.TypeBool:    "boolean",
		schema.TypeInt64:   "bigint",
		schema.TypeFloat64: "double precision",
		schema.TypeDecimal: "numeric",
		schema.TypeString:  "text",
		schema.TypeBytes:   "bytea",
		schema.TypeTime:    "timestamptz",
		schema.TypeJSON:    "jsonb",
		schema.TypeUUID:    "uuid",
	},
	dialect.Spanner: {
		schema.TypeBool:    "BOOL",
		schema.TypeInt64:   "INT64",
		schema.TypeFloat64: "FLOAT64",
		schema.TypeDecimal: "NUMERIC",
		schema.TypeString:  "STRING(MAX)",
		schema.TypeBytes:   "BYTES(MAX)",
		schema.TypeTime:    "TIMESTAMP",
		schema.TypeJSON:    "JSON",
		schema.TypeUUID:    "STRING(36)",
	},
}

