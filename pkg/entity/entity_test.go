package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRightsHas(t *testing.T) {
	r := Rights{Permissions: []Permission{PermissionRead}}
	assert.True(t, r.Has(PermissionRead))
	assert.False(t, r.Has(PermissionWrite))
	assert.False(t, Rights{}.Has(PermissionRead))
}

func TestCreationOutcomeString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "already-exists", AlreadyExists.String())
	assert.Equal(t, "failed", Failed.String())
}
