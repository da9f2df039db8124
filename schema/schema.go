// Package schema describes database tables for the sqlkit query compiler
// and migration engine: columns with per-dialect type strings, indexes,
// composite primary keys, foreign-key references and Spanner interleave
// relationships.
//
// Tables are defined with struct literals and constructed once through
// NewTable; after construction the model is immutable and safe for
// unsynchronized concurrent reads. Foreign keys are expressed as a
// (table, column) name pair resolved against a Registry at use time, so
// definition order never matters and reference cycles are harmless:
//
//	users, _ := schema.NewTable("users", []*schema.Column{
//	    {Key: "id", Type: schema.TypeInt64, Primary: true},
//	    {Key: "email", Type: schema.TypeString, Unique: true, NotNull: true},
//	})
//	posts, _ := schema.NewTable("posts", []*schema.Column{
//	    {Key: "id", Type: schema.TypeInt64, Primary: true},
//	    {Key: "userID", Type: schema.TypeInt64, Ref: &schema.Ref{Table: "users", Column: "id"}},
//	})
//	reg, _ := schema.NewRegistry(users, posts)
package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"
)

// A Type is the scalar type tag of a column. The physical database type
// is derived from it per dialect unless overridden with Column.SchemaType.
type Type uint8

// Column type tags.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt64
	TypeFloat64
	TypeDecimal
	TypeString
	TypeBytes
	TypeTime
	TypeJSON
	TypeUUID
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeDecimal: "decimal",
	TypeString:  "string",
	TypeBytes:   "bytes",
	TypeTime:    "time",
	TypeJSON:    "json",
	TypeUUID:    "uuid",
}

// String returns the textual tag of the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// TypeFromString returns the type tag for its textual form.
func TypeFromString(s string) Type {
	for t, name := range typeNames {
		if name == s {
			return Type(t)
		}
	}
	return TypeInvalid
}

// ReferenceOption is the action taken when a referenced row is deleted.
type ReferenceOption string

// Reference options.
const (
	NoAction ReferenceOption = "NO ACTION"
	Cascade  ReferenceOption = "CASCADE"
)

// Ref names the column a foreign key points at. Storing the names instead
// of a resolved *Column breaks definition-order cycles; resolution happens
// against the Registry when the reference is used.
type Ref struct {
	Table  string `msgpack:"table" yaml:"table"`
	Column string `msgpack:"column" yaml:"column"`
}

// DefaultKind discriminates the three default-value forms a column can
// carry.
type DefaultKind uint8

// Default kinds.
const (
	// DefaultLiteral is a plain value bound as a parameter on insert and
	// rendered as a literal in DDL.
	DefaultLiteral DefaultKind = iota
	// DefaultGenerator is a zero-argument function invoked once per
	// inserted row. It is an application-level behavior and produces no
	// DDL.
	DefaultGenerator
	// DefaultExpr is an SQL expression inlined verbatim, never bound as a
	// parameter.
	DefaultExpr
)

// CurrentTimestamp is the portable current-timestamp expression. The
// renderers translate it to each dialect's native call.
const CurrentTimestamp = "CURRENT_TIMESTAMP"

// A Default is the default value of a column.
type Default struct {
	Kind  DefaultKind
	Value any
	Func  func() any
	Expr  string
}

// LiteralDefault returns a literal default value.
func LiteralDefault(v any) *Default {
	return &Default{Kind: DefaultLiteral, Value: v}
}

// FuncDefault returns a generator default invoked once per inserted row.
func FuncDefault(fn func() any) *Default {
	return &Default{Kind: DefaultGenerator, Func: fn}
}

// ExprDefault returns an SQL-expression default inlined verbatim.
func ExprDefault(expr string) *Default {
	return &Default{Kind: DefaultExpr, Expr: expr}
}

// UUIDDefault returns a generator default producing a random UUID string
// per inserted row.
func UUIDDefault() *Default {
	return FuncDefault(func() any { return uuid.NewString() })
}

// A Column is one column of a table. Key is the logical name used in
// query payloads; the physical database name defaults to the underscored
// form of Key and can be overridden with Name.
type Column struct {
	Key        string
	Name       string
	Type       Type
	SchemaType map[string]string
	NotNull    bool
	Primary    bool
	Unique     bool
	Default    *Default
	Ref        *Ref
	OnDelete   ReferenceOption

	table string
}

// StorageName returns the physical column name.
func (c *Column) StorageName() string {
	if c.Name != "" {
		return c.Name
	}
	return inflect.Underscore(c.Key)
}

// Table returns the physical name of the owning table. It is set once at
// table construction.
func (c *Column) Table() string { return c.table }

// An Index is a named index over an ordered list of physical column
// names.
type Index struct {
	Name    string   `msgpack:"name" yaml:"name"`
	Columns []string `msgpack:"columns" yaml:"columns"`
	Unique  bool     `msgpack:"unique" yaml:"unique"`
}

// A PrimaryKey is a composite primary key over an ordered list of
// physical column names.
type PrimaryKey struct {
	Name    string   `msgpack:"name,omitempty" yaml:"name,omitempty"`
	Columns []string `msgpack:"columns" yaml:"columns"`
}

// An Interleave co-locates a table inside its parent. Spanner only.
type Interleave struct {
	Parent   string          `msgpack:"parent" yaml:"parent"`
	OnDelete ReferenceOption `msgpack:"on_delete,omitempty" yaml:"on_delete,omitempty"`
}

// A Table is an immutable table definition.
type Table struct {
	Name       string
	Columns    []*Column
	Indexes    []*Index
	PrimaryKey *PrimaryKey
	Interleave *Interleave

	byKey map[string]*Column
}

// TableOption configures a table at construction time.
type TableOption func(*Table)

// WithIndexes adds index definitions to the table.
func WithIndexes(indexes ...*Index) TableOption {
	return func(t *Table) {
		t.Indexes = append(t.Indexes, indexes...)
	}
}

// WithPrimaryKey sets a composite primary key over the given physical
// column names.
func WithPrimaryKey(columns ...string) TableOption {
	return func(t *Table) {
		t.PrimaryKey = &PrimaryKey{Columns: columns}
	}
}

// WithNamedPrimaryKey sets a named composite primary key.
func WithNamedPrimaryKey(name string, columns ...string) TableOption {
	return func(t *Table) {
		t.PrimaryKey = &PrimaryKey{Name: name, Columns: columns}
	}
}

// WithInterleave declares the table interleaved in parent.
func WithInterleave(parent string, onDelete ReferenceOption) TableOption {
	return func(t *Table) {
		t.Interleave = &Interleave{Parent: parent, OnDelete: onDelete}
	}
}

// NewTable builds an immutable table definition. It rejects duplicate
// column keys and a composite primary key combined with individually
// flagged primary-key columns.
func NewTable(name string, columns []*Column, opts ...TableOption) (*Table, error) {
	t := &Table{
		Name:    name,
		Columns: columns,
		byKey:   make(map[string]*Column, len(columns)),
	}
	for _, opt := range opts {
		opt(t)
	}
	flagged := 0
	for _, c := range columns {
		if c.Key == "" {
			return nil, fmt.Errorf("schema: table %q: column with empty key", name)
		}
		if _, ok := t.byKey[c.Key]; ok {
			return nil, fmt.Errorf("schema: table %q: duplicate column key %q", name, c.Key)
		}
		t.byKey[c.Key] = c
		c.table = name
		if c.Primary {
			flagged++
		}
	}
	if t.PrimaryKey != nil {
		if flagged > 0 {
			return nil, fmt.Errorf("schema: table %q: composite primary key conflicts with primary-flagged columns", name)
		}
		for _, pc := range t.PrimaryKey.Columns {
			if t.columnByName(pc) == nil {
				return nil, fmt.Errorf("schema: table %q: primary key references unknown column %q", name, pc)
			}
		}
	}
	for _, idx := range t.Indexes {
		for _, ic := range idx.Columns {
			if t.columnByName(ic) == nil {
				return nil, fmt.Errorf("schema: table %q: index %q references unknown column %q", name, idx.Name, ic)
			}
		}
	}
	return t, nil
}

// MustTable is like NewTable but panics on error. Intended for package
// level table variables.
func MustTable(name string, columns []*Column, opts ...TableOption) *Table {
	t, err := NewTable(name, columns, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Column returns the column with the given logical key.
func (t *Table) Column(key string) (*Column, bool) {
	c, ok := t.byKey[key]
	return c, ok
}

// columnByName returns the column with the given physical name.
func (t *Table) columnByName(name string) *Column {
	for _, c := range t.Columns {
		if c.StorageName() == name {
			return c
		}
	}
	return nil
}

// ColumnByName returns the column with the given physical name.
func (t *Table) ColumnByName(name string) (*Column, bool) {
	c := t.columnByName(name)
	return c, c != nil
}

// PKColumns returns the primary-key columns in key order: the composite
// key columns when one is declared, otherwise the primary-flagged columns
// in definition order.
func (t *Table) PKColumns() []*Column {
	if t.PrimaryKey != nil {
		cols := make([]*Column, 0, len(t.PrimaryKey.Columns))
		for _, name := range t.PrimaryKey.Columns {
			if c := t.columnByName(name); c != nil {
				cols = append(cols, c)
			}
		}
		return cols
	}
	var cols []*Column
	for _, c := range t.Columns {
		if c.Primary {
			cols = append(cols, c)
		}
	}
	return cols
}

// A Registry resolves table names and foreign-key references. It replaces
// the ambient global table registry of older designs with an explicit
// object handed to the query compiler at construction.
type Registry struct {
	tables map[string]*Table
	order  []string
}

// NewRegistry builds a registry over the given tables. Duplicate table
// names are rejected.
func NewRegistry(tables ...*Table) (*Registry, error) {
	r := &Registry{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		if _, ok := r.tables[t.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		r.tables[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// Table returns the table with the given physical name.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns all tables in registration order.
func (r *Registry) Tables() []*Table {
	ts := make([]*Table, 0, len(r.order))
	for _, name := range r.order {
		ts = append(ts, r.tables[name])
	}
	return ts
}

// Resolve returns the table and column a reference points at.
func (r *Registry) Resolve(ref Ref) (*Table, *Column, error) {
	t, ok := r.tables[ref.Table]
	if !ok {
		return nil, nil, fmt.Errorf("schema: reference to unknown table %q", ref.Table)
	}
	c := t.columnByName(ref.Column)
	if c == nil {
		return nil, nil, fmt.Errorf("schema: reference to unknown column %q.%q", ref.Table, ref.Column)
	}
	return t, c, nil
}
