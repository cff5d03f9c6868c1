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
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/xlab/treeprint"

	"github.com/daviszhen/tuplestore/pkg/util"
)

// ErrInvalidLayout marks every error returned while computing a layout.
var ErrInvalidLayout = errors.New("invalid block layout")

// BlockLayout is the geometry of a block for one column width schema.
//
//	| id | tag | slots | alloc bitmap | null0 | values0 | null1 | values1 | ...
//
// Every bitmap starts on a 4 byte boundary and covers whole 32-bit words
// so that atomic updates never touch bytes outside of it. The fit and
// tightness guarantees hold for this word rounded geometry: the slot count
// is the largest that fits it, which can be below what byte sized bitmaps
// would allow ([8,4,1] in 4096 bytes holds 301 slots, not 302).
//
// Column 0 is the control column and is never set to null by callers.
//
// BlockLayout is immutable and safe to copy.
type BlockLayout struct {
	_blockSize   uint32
	_numSlots    uint32
	_bitmapBytes uint32
	_tupleSize   uint32
	_tag         uint32
	_widths      []uint16
	_nullOffsets []uint32
	_end         uint32
}

type Region struct {
	Name  string
	Begin uint32
	End   uint32
}

func (r Region) Len() uint32 {
	return r.End - r.Begin
}

func (r Region) Overlaps(o Region) bool {
	return r.Begin < o.End && o.Begin < r.End
}

func (r Region) String() string {
	return fmt.Sprintf("%s [%d, %d)", r.Name, r.Begin, r.End)
}

func bitmapBytes(numSlots uint64) uint64 {
	return uint64(util.WordBytes(int(numSlots)))
}

// layoutEnd returns the first byte past the last value array when the
// block holds numSlots tuples.
func layoutEnd(widths []uint16, numSlots uint64) uint64 {
	bb := bitmapBytes(numSlots)
	off := uint64(BLOCK_HEADER_FIXED_SIZE) + bb
	for _, w := range widths {
		off = util.AlignValue4(off)
		off += bb
		off += numSlots * uint64(w)
	}
	return off
}

func layoutTag(widths []uint16, blockSize uint32) uint32 {
	buf := make([]byte, 0, 8+2*len(widths))
	buf = binary.LittleEndian.AppendUint32(buf, blockSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(widths)))
	for _, w := range widths {
		buf = binary.LittleEndian.AppendUint16(buf, w)
	}
	h := xxhash.Sum64(buf)
	return uint32(h) ^ uint32(h>>32)
}

// ComputeBlockLayout lays out widths in a BLOCK_SIZE block.
func ComputeBlockLayout(widths []uint16) (BlockLayout, error) {
	return ComputeBlockLayoutWithSize(widths, BLOCK_SIZE)
}

// ComputeBlockLayoutWithSize picks the largest slot count whose geometry
// fits in blockSize bytes. Columns keep the order given.
func ComputeBlockLayoutWithSize(widths []uint16, blockSize uint32) (BlockLayout, error) {
	if len(widths) == 0 {
		return BlockLayout{}, errors.Mark(
			errors.New("layout needs at least one column"), ErrInvalidLayout)
	}
	sum := uint64(0)
	for i, w := range widths {
		if w == 0 {
			return BlockLayout{}, errors.Mark(
				errors.Newf("column %d has zero width", i), ErrInvalidLayout)
		}
		sum += uint64(w)
	}
	if blockSize%util.BYTES_PER_WORD != 0 {
		return BlockLayout{}, errors.Mark(
			errors.Newf("block size %d is not a multiple of %d", blockSize, util.BYTES_PER_WORD),
			ErrInvalidLayout)
	}
	if blockSize <= BLOCK_HEADER_FIXED_SIZE {
		return BlockLayout{}, errors.Mark(
			errors.Newf("block size %d leaves no room after the header", blockSize),
			ErrInvalidLayout)
	}

	//the linear part of the cost alone bounds the answer from above:
	//  n * sum + (numColumns+1) * n/8 <= blockSize - fixed header
	numCols := uint64(len(widths))
	space := uint64(blockSize - BLOCK_HEADER_FIXED_SIZE)
	numSlots := space * 8 / (8*sum + numCols + 1)
	for numSlots > 0 && layoutEnd(widths, numSlots) > uint64(blockSize) {
		numSlots--
	}
	if numSlots == 0 {
		return BlockLayout{}, errors.Mark(
			errors.Newf("columns of total width %d do not fit one slot in a %d byte block",
				sum, blockSize),
			ErrInvalidLayout)
	}

	layout := BlockLayout{
		_blockSize:   blockSize,
		_numSlots:    uint32(numSlots),
		_bitmapBytes: uint32(bitmapBytes(numSlots)),
		_tupleSize:   uint32(sum),
		_tag:         layoutTag(widths, blockSize),
		_widths:      append([]uint16(nil), widths...),
		_nullOffsets: make([]uint32, len(widths)),
	}
	off := BLOCK_HEADER_FIXED_SIZE + layout._bitmapBytes
	for i, w := range widths {
		off = util.AlignValue4(off)
		layout._nullOffsets[i] = off
		off += layout._bitmapBytes + layout._numSlots*uint32(w)
	}
	layout._end = off
	return layout, nil
}

// MustComputeBlockLayout panics on configuration errors. For schemas that
// are fixed at compile time.
func MustComputeBlockLayout(widths []uint16, blockSize uint32) BlockLayout {
	layout, err := ComputeBlockLayoutWithSize(widths, blockSize)
	if err != nil {
		panic(err)
	}
	return layout
}

func (layout BlockLayout) Valid() bool {
	return layout._numSlots > 0
}

func (layout BlockLayout) BlockSize() uint32 {
	return layout._blockSize
}

func (layout BlockLayout) NumSlots() uint32 {
	return layout._numSlots
}

func (layout BlockLayout) NumColumns() int {
	return len(layout._widths)
}

func (layout BlockLayout) ColumnWidth(col int) uint32 {
	return uint32(layout._widths[col])
}

func (layout BlockLayout) ColumnWidths() []uint16 {
	return append([]uint16(nil), layout._widths...)
}

// TupleSize is the sum of all column widths.
func (layout BlockLayout) TupleSize() uint32 {
	return layout._tupleSize
}

// BitmapBytes is the size of the allocation bitmap and of every null bitmap.
func (layout BlockLayout) BitmapBytes() uint32 {
	return layout._bitmapBytes
}

// HeaderSize covers the fixed header fields and the allocation bitmap.
func (layout BlockLayout) HeaderSize() uint32 {
	return BLOCK_HEADER_FIXED_SIZE + layout._bitmapBytes
}

// Tag identifies the schema and block size. It is stamped into the header
// of every block initialized with this layout.
func (layout BlockLayout) Tag() uint32 {
	return layout._tag
}

func (layout BlockLayout) AllocationBitmapOffset() uint32 {
	return BLOCK_HEADER_FIXED_SIZE
}

func (layout BlockLayout) NullBitmapOffset(col int) uint32 {
	return layout._nullOffsets[col]
}

func (layout BlockLayout) ColumnStart(col int) uint32 {
	return layout._nullOffsets[col] + layout._bitmapBytes
}

// ColumnEnd is one past the last value byte of col.
func (layout BlockLayout) ColumnEnd(col int) uint32 {
	return layout.ColumnStart(col) + layout._numSlots*uint32(layout._widths[col])
}

// ValueOffset is where the value of (col, slot) starts.
func (layout BlockLayout) ValueOffset(col int, slot uint32) uint32 {
	return layout.ColumnStart(col) + slot*uint32(layout._widths[col])
}

// End is one past the last byte the layout uses.
func (layout BlockLayout) End() uint32 {
	return layout._end
}

// Regions lists the header, allocation bitmap and, per column, the null
// bitmap and value array as half-open byte ranges in address order.
func (layout BlockLayout) Regions() []Region {
	ret := make([]Region, 0, 2+2*len(layout._widths))
	ret = append(ret,
		Region{
			Name:  "header",
			Begin: 0,
			End:   BLOCK_HEADER_FIXED_SIZE,
		},
		Region{
			Name:  "allocation bitmap",
			Begin: layout.AllocationBitmapOffset(),
			End:   layout.AllocationBitmapOffset() + layout._bitmapBytes,
		},
	)
	for i := range layout._widths {
		ret = append(ret,
			Region{
				Name:  fmt.Sprintf("null bitmap %d", i),
				Begin: layout.NullBitmapOffset(i),
				End:   layout.NullBitmapOffset(i) + layout._bitmapBytes,
			},
			Region{
				Name:  fmt.Sprintf("values %d", i),
				Begin: layout.ColumnStart(i),
				End:   layout.ColumnEnd(i),
			},
		)
	}
	return ret
}

func (layout BlockLayout) String() string {
	return fmt.Sprintf("layout{cols %d, slots %d, tuple %d, block %d, tag %08x}",
		layout.NumColumns(), layout._numSlots, layout._tupleSize, layout._blockSize, layout._tag)
}

func (layout BlockLayout) Print(tree treeprint.Tree) {
	tree.AddNode(fmt.Sprintf("block size %d", layout._blockSize))
	tree.AddNode(fmt.Sprintf("slots %d", layout._numSlots))
	tree.AddNode(fmt.Sprintf("tuple size %d", layout._tupleSize))
	tree.AddNode(fmt.Sprintf("tag %08x", layout._tag))
	header := tree.AddBranch(fmt.Sprintf("header [0, %d)", layout.HeaderSize()))
	header.AddNode(fmt.Sprintf("id [%d, %d)", BLOCK_ID_OFFSET, BLOCK_LAYOUT_TAG_OFFSET))
	header.AddNode(fmt.Sprintf("tag [%d, %d)", BLOCK_LAYOUT_TAG_OFFSET, BLOCK_NUM_SLOTS_OFFSET))
	header.AddNode(fmt.Sprintf("slots [%d, %d)", BLOCK_NUM_SLOTS_OFFSET, BLOCK_HEADER_FIXED_SIZE))
	header.AddNode(fmt.Sprintf("allocation bitmap [%d, %d)",
		BLOCK_HEADER_FIXED_SIZE, layout.HeaderSize()))
	cols := tree.AddBranch("columns")
	for i, w := range layout._widths {
		sub := cols.AddBranch(fmt.Sprintf("%d width %d", i, w))
		sub.AddNode(fmt.Sprintf("null bitmap [%d, %d)",
			layout.NullBitmapOffset(i), layout.ColumnStart(i)))
		sub.AddNode(fmt.Sprintf("values [%d, %d)",
			layout.ColumnStart(i), layout.ColumnEnd(i)))
	}
	tree.AddNode(fmt.Sprintf("end %d", layout._end))
}

// Format renders the layout as a tree.
func (layout BlockLayout) Format() string {
	tree := treeprint.NewWithRoot(layout.String())
	layout.Print(tree)
	return tree.String()
}
