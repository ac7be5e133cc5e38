package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGranted(t *testing.T) {
	assert.Equal(t, []string{FramesRead}, Granted(false))
	assert.Equal(t, []string{FramesRead, FramesIngest, FramesDelete}, Granted(true))
}

func TestHas(t *testing.T) {
	assert.True(t, Has(false, FramesRead))
	assert.False(t, Has(false, FramesDelete))
	assert.True(t, Has(true, FramesIngest))
	assert.False(t, Has(true, "album.create"))
	assert.True(t, IsValidPermissionKey(FramesIngest))
	assert.Len(t, GetAllPermissionKeys(), 3)
}
