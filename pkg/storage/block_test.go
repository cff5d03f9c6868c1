package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_initializeRawBlock(t *testing.T) {
	layout := MustComputeBlockLayout([]uint16{8, 4, 1}, 4096)
	block := NewRawBlock(INVALID_BLOCK, 4096)
	//dirty every byte as if the buffer had a previous user
	for i := range block.Data() {
		block.Data()[i] = 0xAB
	}
	InitializeRawBlock(block, layout, 42)

	assert.Equal(t, BlockID(42), block.ID())
	assert.Equal(t, BlockID(42), block.HeaderID())
	assert.Equal(t, layout.Tag(), block.Tag())
	assert.Equal(t, layout.NumSlots(), block.NumSlots())
	require.NoError(t, CheckLayout(block, layout))

	data := block.Data()
	bb := layout.BitmapBytes()
	alloc := layout.AllocationBitmapOffset()
	assert.Equal(t, make([]byte, bb), data[alloc:alloc+bb])
	for col := 0; col < layout.NumColumns(); col++ {
		off := layout.NullBitmapOffset(col)
		assert.Equal(t, make([]byte, bb), data[off:off+bb], "null bitmap %d", col)
		//values are not touched
		assert.Equal(t, byte(0xAB), data[layout.ColumnStart(col)])
	}

	tas := NewTupleAccessStrategy(layout)
	assert.Equal(t, 0, tas.NumAllocated(block))
	slot, ok := tas.Allocate(block)
	require.True(t, ok)
	for col := 0; col < layout.NumColumns(); col++ {
		assert.True(t, tas.IsNull(block, col, slot))
	}
}

func Test_initializeRawBlockMismatch(t *testing.T) {
	layout := MustComputeBlockLayout([]uint16{8}, 4096)
	assert.Panics(t, func() {
		InitializeRawBlock(NewRawBlock(1, 8192), layout, 1)
	})
	assert.Panics(t, func() {
		InitializeRawBlock(NewRawBlock(1, 4096), layout, 2)
	})
	block := NewRawBlock(3, 4096)
	InitializeRawBlock(block, layout, 3)
	assert.NoError(t, CheckLayout(block, layout))
}

func Test_checkLayout(t *testing.T) {
	layout := MustComputeBlockLayout([]uint16{8, 4}, 4096)
	other := MustComputeBlockLayout([]uint16{4, 8}, 4096)
	block := NewRawBlock(7, 4096)
	assert.Error(t, CheckLayout(block, layout), "uninitialized block")
	InitializeRawBlock(block, layout, 7)
	assert.NoError(t, CheckLayout(block, layout))
	assert.Error(t, CheckLayout(block, other))
	assert.Error(t, CheckLayout(NewRawBlock(7, 8192), layout))
}

func Test_tupleSlotString(t *testing.T) {
	block := NewRawBlock(5, 64)
	assert.Equal(t, "{block 5, 3}", TupleSlot{Block: block, Offset: 3}.String())
	assert.Equal(t, "{nil block, 1}", TupleSlot{Offset: 1}.String())
}
