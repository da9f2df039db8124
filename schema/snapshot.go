package schema

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// GeneratorMarker is the opaque default marker a snapshot stores in place
// of a generator function, since executable code cannot be serialized.
const GeneratorMarker = "__generated__"

// A Snapshot is a dialect-agnostic, serializable projection of a schema:
// the migration engine's "after" state.
type Snapshot struct {
	Version string                    `msgpack:"version" yaml:"version"`
	Tables  map[string]*TableSnapshot `msgpack:"tables" yaml:"tables"`
}

// A TableSnapshot is the serializable projection of one table. Columns
// keep definition order.
type TableSnapshot struct {
	Name       string            `msgpack:"name" yaml:"name"`
	Columns    []*ColumnSnapshot `msgpack:"columns" yaml:"columns"`
	Indexes    []*Index          `msgpack:"indexes,omitempty" yaml:"indexes,omitempty"`
	PrimaryKey *PrimaryKey       `msgpack:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Interleave *Interleave       `msgpack:"interleave,omitempty" yaml:"interleave,omitempty"`
}

// A ColumnSnapshot is the serializable projection of one column.
type ColumnSnapshot struct {
	Key        string            `msgpack:"key" yaml:"key"`
	Name       string            `msgpack:"name" yaml:"name"`
	Type       string            `msgpack:"type" yaml:"type"`
	SchemaType map[string]string `msgpack:"schema_type,omitempty" yaml:"schema_type,omitempty"`
	NotNull    bool              `msgpack:"not_null,omitempty" yaml:"not_null,omitempty"`
	Primary    bool              `msgpack:"primary,omitempty" yaml:"primary,omitempty"`
	Unique     bool              `msgpack:"unique,omitempty" yaml:"unique,omitempty"`
	Default    *DefaultSnapshot  `msgpack:"default,omitempty" yaml:"default,omitempty"`
	Ref        *Ref              `msgpack:"ref,omitempty" yaml:"ref,omitempty"`
	OnDelete   string            `msgpack:"on_delete,omitempty" yaml:"on_delete,omitempty"`
}

// A DefaultSnapshot normalizes column defaults to a serializable form:
// generator functions become the opaque GeneratorMarker, SQL-expression
// defaults keep their raw text.
type DefaultSnapshot struct {
	Kind  string `msgpack:"kind" yaml:"kind"`
	Value any    `msgpack:"value,omitempty" yaml:"value,omitempty"`
	Expr  string `msgpack:"expr,omitempty" yaml:"expr,omitempty"`
}

// Default kinds as stored in snapshots.
const (
	SnapshotLiteral   = "literal"
	SnapshotGenerator = "generator"
	SnapshotExpr      = "expression"
)

// Capture projects the registry into a snapshot tagged with version.
func Capture(r *Registry, version string) *Snapshot {
	s := &Snapshot{Version: version, Tables: make(map[string]*TableSnapshot)}
	for _, t := range r.Tables() {
		s.Tables[t.Name] = captureTable(t)
	}
	return s
}

func captureTable(t *Table) *TableSnapshot {
	ts := &TableSnapshot{
		Name:       t.Name,
		Indexes:    t.Indexes,
		PrimaryKey: t.PrimaryKey,
		Interleave: t.Interleave,
	}
	for _, c := range t.Columns {
		cs := &ColumnSnapshot{
			Key:        c.Key,
			Name:       c.StorageName(),
			Type:       c.Type.String(),
			SchemaType: c.SchemaType,
			NotNull:    c.NotNull,
			Primary:    c.Primary,
			Unique:     c.Unique,
			Ref:        c.Ref,
			OnDelete:   string(c.OnDelete),
		}
		if d := c.Default; d != nil {
			switch d.Kind {
			case DefaultGenerator:
				cs.Default = &DefaultSnapshot{Kind: SnapshotGenerator, Value: GeneratorMarker}
			case DefaultExpr:
				cs.Default = &DefaultSnapshot{Kind: SnapshotExpr, Expr: d.Expr}
			default:
				cs.Default = &DefaultSnapshot{Kind: SnapshotLiteral, Value: d.Value}
			}
		}
		ts.Columns = append(ts.Columns, cs)
	}
	return ts
}

// Table returns the snapshot of the named table.
func (s *Snapshot) Table(name string) (*TableSnapshot, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// Column returns the column snapshot with the given physical name.
func (t *TableSnapshot) Column(name string) (*ColumnSnapshot, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// PKColumns returns the physical primary-key column names in key order.
func (t *TableSnapshot) PKColumns() []string {
	if t.PrimaryKey != nil {
		return t.PrimaryKey.Columns
	}
	var names []string
	for _, c := range t.Columns {
		if c.Primary {
			names = append(names, c.Name)
		}
	}
	return names
}

// Encode serializes the snapshot to its binary form.
func (s *Snapshot) Encode() ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema: encoding snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot deserializes a binary snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: decoding snapshot: %w", err)
	}
	return &s, nil
}

// EncodeYAML serializes the snapshot to a human-readable YAML form.
func (s *Snapshot) EncodeYAML() ([]byte, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema: encoding snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshotYAML deserializes a YAML snapshot.
func DecodeSnapshotYAML(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: decoding snapshot: %w", err)
	}
	return &s, nil
}
