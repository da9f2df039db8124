package sql

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/schema"
)

// groupKeySep separates the primary-key values inside a grouping key, so
// composite keys group correctly.
const groupKeySep = "\x1f"

// Shape regroups flat rows produced by a compiled eager-load join into a
// primary-table row list with related records nested as arrays, keyed by
// the relation name. Rows are grouped by the primary table's primary-key
// value; columns prefixed "<relation>__" feed the relation's array, all
// remaining columns are copied onto the primary row.
//
// Shape is a no-op when there is no plan or no rows. When the primary
// table has no primary key, grouping is impossible: the input is
// returned unchanged with a diagnostic.
func Shape(rows []map[string]any, table *schema.Table, plan *EagerPlan) ([]map[string]any, []sqlkit.Diagnostic) {
	if plan == nil || len(plan.Relations) == 0 || len(rows) == 0 {
		return rows, nil
	}
	pk := table.PKColumns()
	if len(pk) == 0 {
		return rows, []sqlkit.Diagnostic{{
			Table:   table.Name,
			Message: "cannot shape rows: table has no primary key",
		}}
	}
	pkNames := make([]string, len(pk))
	for i, c := range pk {
		pkNames[i] = c.StorageName()
	}

	var out []map[string]any
	index := make(map[string]int)
	for _, row := range rows {
		key := groupKey(row, pkNames)
		i, seen := index[key]
		if !seen {
			base := make(map[string]any)
			for col, v := range row {
				if relationOf(plan, col) == "" {
					base[col] = v
				}
			}
			for _, rel := range plan.Relations {
				base[rel.Name] = []map[string]any{}
			}
			out = append(out, base)
			i = len(out) - 1
			index[key] = i
		}
		for _, rel := range plan.Relations {
			record, ok := relatedRecord(row, rel)
			if !ok {
				// The LEFT JOIN found no match; the array stays empty.
				continue
			}
			list := out[i][rel.Name].([]map[string]any)
			if !containsRecord(list, record) {
				out[i][rel.Name] = append(list, record)
			}
		}
	}
	return out, nil
}

func groupKey(row map[string]any, pkNames []string) string {
	parts := make([]string, len(pkNames))
	for i, name := range pkNames {
		parts[i] = fmt.Sprintf("%v", row[name])
	}
	return strings.Join(parts, groupKeySep)
}

// relationOf returns the relation a prefixed column belongs to, or "".
func relationOf(plan *EagerPlan, column string) string {
	for _, rel := range plan.Relations {
		if strings.HasPrefix(column, rel.Prefix) {
			return rel.Name
		}
	}
	return ""
}

// relatedRecord strips the relation prefix off the row's columns and
// reports whether any of them is non-null.
func relatedRecord(row map[string]any, rel EagerRelation) (map[string]any, bool) {
	record := make(map[string]any)
	nonNull := false
	for col, v := range row {
		if !strings.HasPrefix(col, rel.Prefix) {
			continue
		}
		record[strings.TrimPrefix(col, rel.Prefix)] = v
		if v != nil {
			nonNull = true
		}
	}
	return record, nonNull
}

// containsRecord reports whether an equal record was already collected.
func containsRecord(list []map[string]any, record map[string]any) bool {
	for _, r := range list {
		if reflect.DeepEqual(r, record) {
			return true
		}
	}
	return false
}
