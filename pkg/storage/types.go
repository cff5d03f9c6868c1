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
	"fmt"
)

const (
	// BLOCK_SIZE is the size of every block handed out by a default
	// BlockStore.
	BLOCK_SIZE uint32 = 1 << 20

	// header: block id | layout tag | num slots | allocation bitmap
	BLOCK_ID_OFFSET         uint32 = 0
	BLOCK_LAYOUT_TAG_OFFSET uint32 = 8
	BLOCK_NUM_SLOTS_OFFSET  uint32 = 12
	BLOCK_HEADER_FIXED_SIZE uint32 = 16

	INVALID_BLOCK BlockID = 0
)

// BlockID is unique within the process. Ids are never reused, even when
// the underlying buffer is.
type BlockID int64

// TupleSlot addresses one tuple inside a block.
type TupleSlot struct {
	Block  *RawBlock
	Offset uint32
}

func (slot TupleSlot) String() string {
	if slot.Block == nil {
		return fmt.Sprintf("{nil block, %d}", slot.Offset)
	}
	return fmt.Sprintf("{block %d, %d}", slot.Block.ID(), slot.Offset)
}
