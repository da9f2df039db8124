package schema

import (
	"fmt"
	"strings"
)

// ValidationError reports a single schema validation finding.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking indicates a change that can fail or lose data when applied.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the findings of a validation pass.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if any finding is a breaking change.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			if w.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// ValidateOption configures snapshot-diff validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	allowDropColumn    bool
	allowDropTable     bool
	allowNullToNotNull bool
}

// AllowDropColumn downgrades dropped columns from error to warning.
func AllowDropColumn() ValidateOption {
	return func(c *validateConfig) { c.allowDropColumn = true }
}

// AllowDropTable downgrades dropped tables from error to warning.
func AllowDropTable() ValidateOption {
	return func(c *validateConfig) { c.allowDropTable = true }
}

// AllowNullToNotNull downgrades NULL to NOT NULL changes from error to
// warning.
func AllowNullToNotNull() ValidateOption {
	return func(c *validateConfig) { c.allowNullToNotNull = true }
}

// ValidateTable validates a single table definition: duplicate physical
// names, index references and presence of a primary key.
func ValidateTable(t *Table) *ValidationResult {
	result := &ValidationResult{}
	if len(t.PKColumns()) == 0 {
		result.Warnings = append(result.Warnings, &ValidationError{
			Table:   t.Name,
			Message: "table has no primary key",
		})
	}
	names := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		name := c.StorageName()
		if names[name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Column:  name,
				Message: "duplicate column name",
			})
		}
		names[name] = true
	}
	idxNames := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		if idxNames[idx.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Message: fmt.Sprintf("duplicate index name: %s", idx.Name),
			})
		}
		idxNames[idx.Name] = true
	}
	return result
}

// ValidateRegistry validates every table in the registry and checks that
// all foreign-key references resolve.
func ValidateRegistry(r *Registry) *ValidationResult {
	result := &ValidationResult{}
	for _, t := range r.Tables() {
		tr := ValidateTable(t)
		result.Errors = append(result.Errors, tr.Errors...)
		result.Warnings = append(result.Warnings, tr.Warnings...)
		for _, c := range t.Columns {
			if c.Ref == nil {
				continue
			}
			if _, _, err := r.Resolve(*c.Ref); err != nil {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Column:  c.StorageName(),
					Message: fmt.Sprintf("unresolvable foreign key: %v", err),
				})
			}
		}
		if t.Interleave != nil {
			if _, ok := r.Table(t.Interleave.Parent); !ok {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("interleave parent %q does not exist", t.Interleave.Parent),
				})
			}
		}
	}
	return result
}

// ValidateSnapshotDiff classifies the changes between two snapshots,
// flagging operations that can fail or lose data when applied.
func ValidateSnapshotDiff(current, desired *Snapshot, opts ...ValidateOption) *ValidationResult {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &ValidationResult{}
	for name := range current.Tables {
		if _, ok := desired.Tables[name]; !ok {
			err := &ValidationError{
				Table:    name,
				Message:  "table will be dropped",
				Breaking: true,
			}
			if cfg.allowDropTable {
				result.Warnings = append(result.Warnings, err)
			} else {
				result.Errors = append(result.Errors, err)
			}
		}
	}
	for name, want := range desired.Tables {
		have, ok := current.Tables[name]
		if !ok {
			continue
		}
		validateTableDiff(have, want, cfg, result)
	}
	return result
}

func validateTableDiff(current, desired *TableSnapshot, cfg *validateConfig, result *ValidationResult) {
	for _, c := range current.Columns {
		if _, ok := desired.Column(c.Name); !ok {
			err := &ValidationError{
				Table:    current.Name,
				Column:   c.Name,
				Message:  "column will be dropped",
				Breaking: true,
			}
			if cfg.allowDropColumn {
				result.Warnings = append(result.Warnings, err)
			} else {
				result.Errors = append(result.Errors, err)
			}
		}
	}
	for _, want := range desired.Columns {
		have, ok := current.Column(want.Name)
		if !ok {
			if want.NotNull && want.Default == nil {
				result.Warnings = append(result.Warnings, &ValidationError{
					Table:   current.Name,
					Column:  want.Name,
					Message: "new NOT NULL column without default value may fail if table has data",
				})
			}
			continue
		}
		if have.Type != want.Type {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   current.Name,
				Column:  want.Name,
				Message: fmt.Sprintf("column type changing from %s to %s", have.Type, want.Type),
			})
		}
		if !have.NotNull && want.NotNull {
			err := &ValidationError{
				Table:    current.Name,
				Column:   want.Name,
				Message:  "column changing from NULL to NOT NULL may fail if column has NULL values",
				Breaking: true,
			}
			if cfg.allowNullToNotNull {
				result.Warnings = append(result.Warnings, err)
			} else {
				result.Errors = append(result.Errors, err)
			}
		}
		if !have.Unique && want.Unique {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   current.Name,
				Column:  want.Name,
				Message: "adding UNIQUE constraint may fail if duplicate values exist",
			})
		}
	}
}
