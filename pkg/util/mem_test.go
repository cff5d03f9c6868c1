package util

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_alloc_aligned(t *testing.T) {
	for _, sz := range []int{1, 3, 7, 8, 13, 1024, 4096, 1 << 20} {
		buf := GAlloc.Alloc(sz)
		require.Len(t, buf, sz)
		assert.True(t, IsAligned(unsafe.Pointer(&buf[0]), 8))
		assert.Equal(t, sz, bytes.Count(buf, []byte{0}))
		GAlloc.Free(buf)
	}
	assert.Nil(t, GAlloc.Alloc(0))
}
