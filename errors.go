package sqlkit

import (
	"errors"
	"fmt"
)

// ErrConfig is the sentinel all configuration errors match against.
// Configuration errors report invalid or missing builder state: a clause
// used with the wrong operation, a missing target table, conflicting
// primary-key declarations. They are always fatal and never defaulted.
var ErrConfig = errors.New("sqlkit: invalid configuration")

// ConfigError describes a misconfigured query or schema definition.
type ConfigError struct {
	msg string
}

// Configf returns a new ConfigError with a formatted message.
func Configf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	return "sqlkit: " + e.msg
}

// Is reports whether the target error matches ErrConfig.
func (e *ConfigError) Is(err error) bool {
	return err == ErrConfig
}

// IsConfig returns true if the error is a ConfigError.
func IsConfig(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigError
	return errors.As(err, &e) || errors.Is(err, ErrConfig)
}

// Diagnostic is a non-fatal warning attached to compiled queries and
// migration plans: an eager-load relation whose foreign key could not be
// inferred, a DDL change the target dialect cannot express, a constraint
// dropped by a guessed name. Diagnostics never abort the operation that
// produced them.
type Diagnostic struct {
	Table   string
	Column  string
	Message string
}

// String returns a human-readable form of the diagnostic.
func (d Diagnostic) String() string {
	switch {
	case d.Table != "" && d.Column != "":
		return fmt.Sprintf("%s.%s: %s", d.Table, d.Column, d.Message)
	case d.Table != "":
		return fmt.Sprintf("%s: %s", d.Table, d.Message)
	default:
		return d.Message
	}
}
