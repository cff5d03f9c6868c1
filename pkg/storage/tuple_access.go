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
	"github.com/cockroachdb/errors"
	"github.com/petermattis/goid"

	"github.com/daviszhen/tuplestore/pkg/util"
)

// StartHint picks the allocation bitmap word a scan starts from.
type StartHint int

const (
	// StartLowest always scans from slot 0.
	StartLowest StartHint = iota
	// StartGoroutine starts at a word derived from the calling goroutine
	// id and wraps around. Spreads contention when many goroutines fill
	// the same block.
	StartGoroutine
)

func (hint StartHint) String() string {
	switch hint {
	case StartLowest:
		return "lowest"
	case StartGoroutine:
		return "goroutine"
	default:
		return "unknown"
	}
}

func ParseStartHint(s string) (StartHint, error) {
	switch s {
	case "", "lowest":
		return StartLowest, nil
	case "goroutine":
		return StartGoroutine, nil
	default:
		return StartLowest, errors.Newf("unknown start hint %q", s)
	}
}

type AccessOption func(*TupleAccessStrategy)

func WithStartHint(hint StartHint) AccessOption {
	return func(tas *TupleAccessStrategy) {
		tas._startHint = hint
	}
}

// TupleAccessStrategy reads and writes tuples of every block that shares
// one layout. It keeps no per-block state, so one instance is shared by
// any number of goroutines over any number of blocks.
//
// Only the goroutine that allocated a slot (or forced one of its fields
// not null) writes that field's bytes. Readers trust bytes only after they
// observe the not-null bit.
type TupleAccessStrategy struct {
	_layout    BlockLayout
	_startHint StartHint
}

func NewTupleAccessStrategy(layout BlockLayout, opts ...AccessOption) *TupleAccessStrategy {
	if !layout.Valid() {
		panic(errors.AssertionFailedf("tuple access strategy needs a computed layout"))
	}
	tas := &TupleAccessStrategy{
		_layout: layout,
	}
	for _, opt := range opts {
		opt(tas)
	}
	return tas
}

func (tas *TupleAccessStrategy) Layout() BlockLayout {
	return tas._layout
}

func (tas *TupleAccessStrategy) checkSlot(slot uint32) {
	if slot >= tas._layout.NumSlots() {
		panic(errors.AssertionFailedf("slot %d out of range [0, %d)", slot, tas._layout.NumSlots()))
	}
}

func (tas *TupleAccessStrategy) checkColumn(col int) {
	if col < 0 || col >= tas._layout.NumColumns() {
		panic(errors.AssertionFailedf("column %d out of range [0, %d)", col, tas._layout.NumColumns()))
	}
}

func (tas *TupleAccessStrategy) checkBlock(block *RawBlock) {
	if err := CheckLayout(block, tas._layout); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "block does not match accessor layout"))
	}
}

func (tas *TupleAccessStrategy) allocationBitmap(block *RawBlock) util.AtomicBitmap {
	begin := tas._layout.AllocationBitmapOffset()
	return util.NewAtomicBitmap(
		block.region(begin, begin+tas._layout.BitmapBytes()),
		int(tas._layout.NumSlots()))
}

func (tas *TupleAccessStrategy) nullBitmap(block *RawBlock, col int) util.AtomicBitmap {
	return util.NewAtomicBitmap(
		tas.ColumnNullBitmap(block, col),
		int(tas._layout.NumSlots()))
}

func (tas *TupleAccessStrategy) value(block *RawBlock, col int, slot uint32) []byte {
	begin := tas._layout.ValueOffset(col, slot)
	return block.region(begin, begin+tas._layout.ColumnWidth(col))
}

func (tas *TupleAccessStrategy) startWord(words int) int {
	if tas._startHint != StartGoroutine || words <= 1 {
		return 0
	}
	h := uint64(goid.Get()) * 0x9E3779B97F4A7C15
	return int((h >> 32) % uint64(words))
}

// Allocate claims a free slot. It returns false when the block is full;
// the caller should move on to another block.
func (tas *TupleAccessStrategy) Allocate(block *RawBlock) (uint32, bool) {
	if util.InvariantsEnabled {
		tas.checkBlock(block)
	}
	bm := tas.allocationBitmap(block)
	idx, ok := bm.ClaimFirstClear(tas.startWord(bm.Words()))
	return uint32(idx), ok
}

// AllocateSlot is Allocate returning the slot address.
func (tas *TupleAccessStrategy) AllocateSlot(block *RawBlock) (TupleSlot, bool) {
	offset, ok := tas.Allocate(block)
	if !ok {
		return TupleSlot{}, false
	}
	return TupleSlot{Block: block, Offset: offset}, true
}

// Deallocate frees slot for reuse. Its fields become null before the slot
// is released. Returns false if the slot was not allocated.
func (tas *TupleAccessStrategy) Deallocate(block *RawBlock, slot uint32) bool {
	if util.InvariantsEnabled {
		tas.checkSlot(slot)
	}
	for col := 0; col < tas._layout.NumColumns(); col++ {
		tas.nullBitmap(block, col).Clear(uint64(slot))
	}
	return tas.allocationBitmap(block).Clear(uint64(slot))
}

func (tas *TupleAccessStrategy) IsAllocated(block *RawBlock, slot uint32) bool {
	if util.InvariantsEnabled {
		tas.checkSlot(slot)
	}
	return tas.allocationBitmap(block).IsSet(uint64(slot))
}

// NumAllocated is a snapshot count of occupied slots.
func (tas *TupleAccessStrategy) NumAllocated(block *RawBlock) int {
	return tas.allocationBitmap(block).CountSet()
}

// ForEachAllocated visits occupied slots in ascending order until fn
// returns false.
func (tas *TupleAccessStrategy) ForEachAllocated(block *RawBlock, fn func(slot TupleSlot) bool) {
	tas.allocationBitmap(block).ForEachSet(func(idx uint64) bool {
		return fn(TupleSlot{Block: block, Offset: uint32(idx)})
	})
}

// IsNull reports whether (col, slot) is null.
func (tas *TupleAccessStrategy) IsNull(block *RawBlock, col int, slot uint32) bool {
	if util.InvariantsEnabled {
		tas.checkColumn(col)
		tas.checkSlot(slot)
	}
	return !tas.nullBitmap(block, col).IsSet(uint64(slot))
}

// AccessWithNullCheck returns the value bytes of (col, slot), or false if
// the field is null.
func (tas *TupleAccessStrategy) AccessWithNullCheck(block *RawBlock, col int, slot uint32) ([]byte, bool) {
	if tas.IsNull(block, col, slot) {
		return nil, false
	}
	return tas.value(block, col, slot), true
}

// AccessForceNotNull marks (col, slot) present and returns its value
// bytes, whatever they held before.
//
// The bit is set before the caller writes. Use Insert when another
// goroutine may read the field concurrently.
func (tas *TupleAccessStrategy) AccessForceNotNull(block *RawBlock, col int, slot uint32) []byte {
	if util.InvariantsEnabled {
		tas.checkColumn(col)
		tas.checkSlot(slot)
	}
	tas.nullBitmap(block, col).Set(uint64(slot))
	return tas.value(block, col, slot)
}

// Insert copies val into (col, slot) and then marks it present. A reader
// that observes the field as not null also observes val.
func (tas *TupleAccessStrategy) Insert(block *RawBlock, col int, slot uint32, val []byte) {
	if util.InvariantsEnabled {
		tas.checkColumn(col)
		tas.checkSlot(slot)
		if uint32(len(val)) != tas._layout.ColumnWidth(col) {
			panic(errors.AssertionFailedf("column %d wants %d bytes, got %d",
				col, tas._layout.ColumnWidth(col), len(val)))
		}
	}
	copy(tas.value(block, col, slot), val)
	tas.nullBitmap(block, col).Set(uint64(slot))
}

// SetNull marks (col, slot) null. The value bytes are left alone.
func (tas *TupleAccessStrategy) SetNull(block *RawBlock, col int, slot uint32) {
	if util.InvariantsEnabled {
		tas.checkColumn(col)
		tas.checkSlot(slot)
	}
	tas.nullBitmap(block, col).Clear(uint64(slot))
}

// ColumnNullBitmap is the null bitmap region of col.
func (tas *TupleAccessStrategy) ColumnNullBitmap(block *RawBlock, col int) []byte {
	begin := tas._layout.NullBitmapOffset(col)
	return block.region(begin, begin+tas._layout.BitmapBytes())
}

// ColumnStart is the value array region of col.
func (tas *TupleAccessStrategy) ColumnStart(block *RawBlock, col int) []byte {
	return block.region(tas._layout.ColumnStart(col), tas._layout.ColumnEnd(col))
}
