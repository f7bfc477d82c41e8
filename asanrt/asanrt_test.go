//go:build linux && arm64

package asanrt

import (
	"testing"

	"github.com/joeycumines/go-asanrt/checkgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesAllBlobWidths(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	require.NotNil(t, r)

	for _, w := range checkgen.Widths {
		assert.NotEmpty(t, r.Blob(w))
	}
}

func TestGetReturnsLastConstructedRuntime(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	assert.Same(t, r, Get())
}

func TestRegisterThreadAndUnpoisonAllExistingMemory(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	assert.NoError(t, r.RegisterThread())
	assert.NoError(t, r.UnpoisonAllExistingMemory())
}
