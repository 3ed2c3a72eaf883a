package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashUserIDIsStableAndOpaque(t *testing.T) {
	a := HashUserID("u1")
	assert.Equal(t, a, HashUserID("u1"))
	assert.NotEqual(t, a, HashUserID("u2"))
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "u1")
}

func TestUserAndDeviceDomainsAreSeparated(t *testing.T) {
	// The same raw value must not collide across the two hash domains.
	assert.NotEqual(t, HashUserID("x"), HashDeviceFingerprint("x"))
}
