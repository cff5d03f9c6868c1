package util

import (
	"fmt"
	"unsafe"
)

type BytesAllocator interface {
	Alloc(sz int) []byte
	Free([]byte)
}

// DefaultAllocator hands out word aligned buffers. make([]byte, n) does
// not promise any alignment, so the bytes are carved from a []uint64.
type DefaultAllocator struct {
}

func (alloc *DefaultAllocator) Alloc(sz int) []byte {
	if sz == 0 {
		return nil
	}
	backing := make([]uint64, (sz+7)/8)
	ptr := unsafe.Pointer(&backing[0])
	if !IsAligned(ptr, unsafe.Sizeof(uint64(0))) {
		panic(fmt.Sprintf("allocated []uint64 not 8-aligned: pointer %p", ptr))
	}
	return PointerToSlice[byte](ptr, sz)
}

func (alloc *DefaultAllocator) Free(bytes []byte) {
}

var GAlloc BytesAllocator = &DefaultAllocator{}
