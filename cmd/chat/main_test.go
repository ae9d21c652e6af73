package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickHandle(t *testing.T) {
	assert.Equal(t, "Nova", pickHandle("Nova", ""))
	assert.Equal(t, "Nova", pickHandle(" Nova ", "#room=alpha&name=Rex"))

	assert.Equal(t, "Rex", pickHandle("", "#room=alpha&name=Rex"),
		"invite name fills in when no handle is configured")
	assert.Equal(t, "Rex", pickHandle("x", "#room=alpha&name=Rex"),
		"too-short configured handles fall through to the invite name")

	guest := pickHandle("", "#room=alpha")
	assert.True(t, strings.HasPrefix(guest, "guest-"), "handle %q", guest)

	guest = pickHandle("", "not an invite at all;;;%%%=")
	assert.True(t, strings.HasPrefix(guest, "guest-"))
}
