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

package util

import (
	"math/bits"
	"sync/atomic"
)

const (
	BITS_PER_WORD  = 32
	BYTES_PER_WORD = 4
	fullWord       = ^uint32(0)
)

// AtomicBitmap is a view over a word aligned region of a byte arena.
// Bit i lives in word i/32 at position i%32. Every mutation is a
// compare-and-swap on the containing word, so bits of neighbouring
// entries can be flipped by different goroutines concurrently.
//
// Set bit means valid/occupied, clear bit means null/free.
type AtomicBitmap struct {
	words []uint32
	count int
}

// NewAtomicBitmap wraps region, which must be word aligned and hold at
// least WordBytes(count) bytes.
func NewAtomicBitmap(region []byte, count int) AtomicBitmap {
	need := WordBytes(count)
	if len(region) < need {
		panic("bitmap region too small")
	}
	if need == 0 {
		return AtomicBitmap{}
	}
	AssertFunc(IsAligned(BytesSliceToPointer(region), BYTES_PER_WORD))
	return AtomicBitmap{
		words: ToSlice[uint32](region[:need], BYTES_PER_WORD),
		count: count,
	}
}

// EntryCount is the number of bytes needed for cnt bits.
func EntryCount(cnt int) int {
	return (cnt + 7) / 8
}

// WordCount is the number of 32-bit words needed for cnt bits.
func WordCount(cnt int) int {
	return (cnt + BITS_PER_WORD - 1) / BITS_PER_WORD
}

// WordBytes is the size in bytes of cnt bits rounded up to whole words.
func WordBytes(cnt int) int {
	return WordCount(cnt) * BYTES_PER_WORD
}

func GetWordIndex(idx uint64) (uint64, uint64) {
	return idx / BITS_PER_WORD, idx % BITS_PER_WORD
}

func (bm AtomicBitmap) Count() int {
	return bm.count
}

func (bm AtomicBitmap) Words() int {
	return len(bm.words)
}

// wordMask returns the bits of word w that address real entries.
func (bm AtomicBitmap) wordMask(w int) uint32 {
	if w == len(bm.words)-1 {
		if rest := bm.count % BITS_PER_WORD; rest != 0 {
			return (uint32(1) << rest) - 1
		}
	}
	return fullWord
}

func (bm AtomicBitmap) IsSet(idx uint64) bool {
	eIdx, pos := GetWordIndex(idx)
	return atomic.LoadUint32(&bm.words[eIdx])&(1<<pos) != 0
}

// Set sets the bit and reports whether this call changed it.
func (bm AtomicBitmap) Set(idx uint64) bool {
	eIdx, pos := GetWordIndex(idx)
	addr := &bm.words[eIdx]
	mask := uint32(1) << pos
	for {
		old := atomic.LoadUint32(addr)
		if old&mask != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(addr, old, old|mask) {
			return true
		}
	}
}

// Clear clears the bit and reports whether this call changed it.
func (bm AtomicBitmap) Clear(idx uint64) bool {
	eIdx, pos := GetWordIndex(idx)
	addr := &bm.words[eIdx]
	mask := uint32(1) << pos
	for {
		old := atomic.LoadUint32(addr)
		if old&mask == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(addr, old, old&^mask) {
			return true
		}
	}
}

// ClaimFirstClear scans from word startWord, wrapping around, and sets
// the lowest clear bit it can win. It returns false when every bit is set.
func (bm AtomicBitmap) ClaimFirstClear(startWord int) (uint64, bool) {
	n := len(bm.words)
	if n == 0 {
		return 0, false
	}
	startWord %= n
	for k := 0; k < n; k++ {
		w := startWord + k
		if w >= n {
			w -= n
		}
		addr := &bm.words[w]
		valid := bm.wordMask(w)
		for {
			old := atomic.LoadUint32(addr)
			free := ^old & valid
			if free == 0 {
				break
			}
			pos := bits.TrailingZeros32(free)
			if atomic.CompareAndSwapUint32(addr, old, old|(uint32(1)<<pos)) {
				return uint64(w)*BITS_PER_WORD + uint64(pos), true
			}
		}
	}
	return 0, false
}

// CountSet counts set bits. The result is a snapshot under concurrency.
func (bm AtomicBitmap) CountSet() int {
	total := 0
	for w := range bm.words {
		total += bits.OnesCount32(atomic.LoadUint32(&bm.words[w]) & bm.wordMask(w))
	}
	return total
}

// ForEachSet calls fn for each set bit in ascending order until fn
// returns false.
func (bm AtomicBitmap) ForEachSet(fn func(idx uint64) bool) {
	for w := range bm.words {
		word := atomic.LoadUint32(&bm.words[w]) & bm.wordMask(w)
		for word != 0 {
			pos := bits.TrailingZeros32(word)
			if !fn(uint64(w)*BITS_PER_WORD + uint64(pos)) {
				return
			}
			word &= word - 1
		}
	}
}

// SetAllInvalid clears every word. Not safe against concurrent users.
func (bm AtomicBitmap) SetAllInvalid() {
	for i := range bm.words {
		bm.words[i] = 0
	}
}
