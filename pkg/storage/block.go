// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package storage

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/daviszhen/tuplestore/pkg/util"
)

// RawBlock is an opaque, word aligned byte arena. Its geometry comes from
// the BlockLayout it was initialized with; the block itself stores no
// pointers into its own memory.
type RawBlock struct {
	_id     BlockID
	_buffer []byte
}

// NewRawBlock allocates a zeroed block of size bytes outside of any store.
func NewRawBlock(id BlockID, size uint32) *RawBlock {
	return &RawBlock{
		_id:     id,
		_buffer: util.GAlloc.Alloc(int(size)),
	}
}

func (block *RawBlock) ID() BlockID {
	return block._id
}

func (block *RawBlock) Size() uint32 {
	return uint32(len(block._buffer))
}

// Data exposes the whole arena.
func (block *RawBlock) Data() []byte {
	return block._buffer
}

func (block *RawBlock) HeaderID() BlockID {
	return BlockID(binary.LittleEndian.Uint64(block._buffer[BLOCK_ID_OFFSET:]))
}

func (block *RawBlock) Tag() uint32 {
	return binary.LittleEndian.Uint32(block._buffer[BLOCK_LAYOUT_TAG_OFFSET:])
}

func (block *RawBlock) NumSlots() uint32 {
	return binary.LittleEndian.Uint32(block._buffer[BLOCK_NUM_SLOTS_OFFSET:])
}

func (block *RawBlock) region(begin, end uint32) []byte {
	return block._buffer[begin:end:end]
}

// InitializeRawBlock makes every slot free and every field null, then
// stamps id and the layout tag into the header. Value arrays are left as
// they are. Must run before the block is shared.
//
// id must be the id the block was handed out under, if it has one.
func InitializeRawBlock(block *RawBlock, layout BlockLayout, id BlockID) {
	if block.Size() != layout.BlockSize() {
		panic(errors.AssertionFailedf("block %d has %d bytes, layout wants %d",
			id, block.Size(), layout.BlockSize()))
	}
	switch block._id {
	case INVALID_BLOCK:
		block._id = id
	case id:
	default:
		panic(errors.AssertionFailedf("block %d initialized as %d", block._id, id))
	}
	binary.LittleEndian.PutUint64(block._buffer[BLOCK_ID_OFFSET:], uint64(id))
	binary.LittleEndian.PutUint32(block._buffer[BLOCK_LAYOUT_TAG_OFFSET:], layout.Tag())
	binary.LittleEndian.PutUint32(block._buffer[BLOCK_NUM_SLOTS_OFFSET:], layout.NumSlots())

	bb := layout.BitmapBytes()
	slots := int(layout.NumSlots())
	begin := layout.AllocationBitmapOffset()
	util.NewAtomicBitmap(block.region(begin, begin+bb), slots).SetAllInvalid()
	for col := 0; col < layout.NumColumns(); col++ {
		begin = layout.NullBitmapOffset(col)
		util.NewAtomicBitmap(block.region(begin, begin+bb), slots).SetAllInvalid()
	}
}

// CheckLayout reports whether block was initialized with layout.
func CheckLayout(block *RawBlock, layout BlockLayout) error {
	if block.Size() != layout.BlockSize() {
		return errors.Newf("block %d has %d bytes, layout wants %d",
			block.ID(), block.Size(), layout.BlockSize())
	}
	if block.Tag() != layout.Tag() || block.NumSlots() != layout.NumSlots() {
		return errors.Newf("block %d carries tag %08x slots %d, layout has tag %08x slots %d",
			block.ID(), block.Tag(), block.NumSlots(), layout.Tag(), layout.NumSlots())
	}
	if block.HeaderID() != block.ID() {
		return errors.Newf("block %d header says id %d", block.ID(), block.HeaderID())
	}
	return nil
}
