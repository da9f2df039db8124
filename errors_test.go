package sqlkit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigf(t *testing.T) {
	err := Configf("unknown column %q", "nope")
	assert.Equal(t, `sqlkit: unknown column "nope"`, err.Error())
	assert.True(t, IsConfig(err))
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestIsConfig(t *testing.T) {
	assert.False(t, IsConfig(nil))
	assert.False(t, IsConfig(errors.New("other")))
	assert.True(t, IsConfig(fmt.Errorf("compile: %w", Configf("bad"))))
	assert.True(t, IsConfig(ErrConfig))
}

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{Table: "users", Column: "email", Message: "m"}
	assert.Equal(t, "users.email: m", d.String())
	d = Diagnostic{Table: "users", Message: "m"}
	assert.Equal(t, "users: m", d.String())
	d = Diagnostic{Message: "m"}
	assert.Equal(t, "m", d.String())
}
