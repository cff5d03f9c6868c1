package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_alignValue(t *testing.T) {
	assert.Equal(t, uint32(0), AlignValue4(uint32(0)))
	assert.Equal(t, uint32(4), AlignValue4(uint32(1)))
	assert.Equal(t, uint32(4), AlignValue4(uint32(4)))
	assert.Equal(t, uint64(8), AlignValue4(uint64(5)))
	assert.Equal(t, uint64(16), AlignValue(uint64(9), 8))
}

func Test_parseWidths(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		widths, err := ParseWidths(" 8, 4,1 ")
		require.NoError(t, err)
		assert.Equal(t, []uint16{8, 4, 1}, widths)
		assert.Equal(t, "8,4,1", FormatWidths(widths))
	})
	t.Run("empty", func(t *testing.T) {
		_, err := ParseWidths("  ")
		assert.Error(t, err)
	})
	t.Run("bad number", func(t *testing.T) {
		_, err := ParseWidths("8,x")
		assert.Error(t, err)
		_, err = ParseWidths("70000")
		assert.Error(t, err)
	})
}
