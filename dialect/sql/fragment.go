// Package sql provides the query compilation pipeline: composable SQL
// fragments, the per-operation query compiler, the eager-load result
// shaper and a thin database/sql driver adapter. SQL text is rendered per
// dialect only at compile time so that parameter placeholder numbering
// stays globally consistent across the whole statement.
package sql

import (
	"strings"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
)

// A Builder assembles one SQL statement. It buffers statement text,
// collects bind parameters and keeps a single 1-based placeholder counter
// threaded through every fragment render call, so numbering is strictly
// increasing and unique within the statement, including inside nested
// fragments and JOIN ON clauses.
type Builder struct {
	dialect string
	sb      strings.Builder
	args    []any
	total   int
	// qualify maps a table name to the quoted qualifier prefixing its
	// columns. An empty qualifier renders bare column names. Set by the
	// compiler; standalone fragment rendering quotes the table name.
	qualify func(table string) (string, error)
}

// NewBuilder returns a Builder for the given dialect. Column references
// are qualified with their quoted table name.
func NewBuilder(d string) *Builder {
	b := &Builder{dialect: d}
	b.qualify = func(table string) (string, error) {
		return dialect.Quote(d, table), nil
	}
	return b
}

// Dialect returns the dialect the builder renders for.
func (b *Builder) Dialect() string { return b.dialect }

// WriteString appends raw SQL text.
func (b *Builder) WriteString(s string) { b.sb.WriteString(s) }

// Ident appends a quoted identifier.
func (b *Builder) Ident(name string) {
	b.sb.WriteString(dialect.Quote(b.dialect, name))
}

// Qualified appends a column reference qualified per the builder's alias
// resolution.
func (b *Builder) Qualified(table, column string) error {
	q, err := b.qualify(table)
	if err != nil {
		return err
	}
	if q != "" {
		b.sb.WriteString(q)
		b.sb.WriteString(".")
	}
	b.Ident(column)
	return nil
}

// Arg appends the next placeholder and records its value.
func (b *Builder) Arg(v any) {
	b.total++
	b.sb.WriteString(dialect.Placeholder(b.dialect, b.total))
	b.args = append(b.args, v)
}

// Comma writes a separator before every element but the first.
func (b *Builder) Comma(i int) {
	if i > 0 {
		b.sb.WriteString(", ")
	}
}

// String returns the statement text accumulated so far.
func (b *Builder) String() string { return b.sb.String() }

// Args returns the bind parameters in placeholder order.
func (b *Builder) Args() []any { return b.args }

type partKind uint8

const (
	partText partKind = iota
	partValue
	partColumn
	partRaw
	partSub
)

type part struct {
	kind          partKind
	text          string
	value         any
	table, column string
	sub           *Fragment
}

// A Fragment is an immutable tree of literal SQL text interleaved with
// bind values, column references, raw dialect text and nested fragments.
// It resolves to placeholder text plus an ordered value list only when
// the enclosing statement is rendered.
type Fragment struct {
	parts []part
}

// NewFragment returns an empty fragment.
func NewFragment() *Fragment { return &Fragment{} }

// Raw returns a fragment holding dialect SQL text inlined verbatim. It
// never consumes a placeholder.
func Raw(text string) *Fragment {
	return &Fragment{parts: []part{{kind: partRaw, text: text}}}
}

// Text appends literal SQL text.
func (f *Fragment) Text(s string) *Fragment {
	f.parts = append(f.parts, part{kind: partText, text: s})
	return f
}

// Value appends a bind parameter.
func (f *Fragment) Value(v any) *Fragment {
	f.parts = append(f.parts, part{kind: partValue, value: v})
	return f
}

// Column appends a reference to table.column, resolved to the table's
// alias when the enclosing query is rendered.
func (f *Fragment) Column(table, column string) *Fragment {
	f.parts = append(f.parts, part{kind: partColumn, table: table, column: column})
	return f
}

// RawExpr appends dialect SQL text inlined verbatim.
func (f *Fragment) RawExpr(s string) *Fragment {
	f.parts = append(f.parts, part{kind: partRaw, text: s})
	return f
}

// Sub appends a nested fragment.
func (f *Fragment) Sub(sub *Fragment) *Fragment {
	f.parts = append(f.parts, part{kind: partSub, sub: sub})
	return f
}

// render writes the fragment into the builder, threading its parameter
// counter.
func (f *Fragment) render(b *Builder) error {
	for _, p := range f.parts {
		switch p.kind {
		case partText, partRaw:
			b.WriteString(p.text)
		case partValue:
			b.Arg(p.value)
		case partColumn:
			if err := b.Qualified(p.table, p.column); err != nil {
				return err
			}
		case partSub:
			if err := p.sub.render(b); err != nil {
				return err
			}
		}
	}
	return nil
}

// Render renders the fragment standalone for the given dialect. Column
// references are qualified with their quoted table name.
func (f *Fragment) Render(d string) (string, []any, error) {
	if !dialect.Valid(d) {
		return "", nil, sqlkit.Configf("unknown dialect %q", d)
	}
	b := NewBuilder(d)
	if err := f.render(b); err != nil {
		return "", nil, err
	}
	return b.String(), b.Args(), nil
}

// ColumnEQ returns the predicate table.column = value.
func ColumnEQ(table, column string, v any) *Fragment {
	return NewFragment().Column(table, column).Text(" = ").Value(v)
}

// ColumnsEQ returns the join predicate left.lc = right.rc.
func ColumnsEQ(left, lc, right, rc string) *Fragment {
	return NewFragment().Column(left, lc).Text(" = ").Column(right, rc)
}

// And joins the given fragments with AND.
func And(fs ...*Fragment) *Fragment {
	out := NewFragment()
	for i, f := range fs {
		if i > 0 {
			out.Text(" AND ")
		}
		out.Sub(f)
	}
	return out
}
