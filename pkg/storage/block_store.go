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
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/daviszhen/tuplestore/pkg/util"
)

// ErrNoBlockAvailable is returned by NewBlock when every pooled buffer is
// in use.
var ErrNoBlockAvailable = errors.New("no block available")

const FAULT_NEW_BLOCK = "store.newBlock"

type BlockStoreOptions struct {
	// BlockSize defaults to BLOCK_SIZE.
	BlockSize uint32
	MaxBlocks int
	Metrics   *StoreMetrics
}

// BlockStore owns a fixed pool of block buffers and hands them out by id.
type BlockStore struct {
	_blockSize  uint32
	_maxBlocks  int
	_metrics    *StoreMetrics
	_blocksLock sync.Mutex
	_free       []*RawBlock
	_inUse      *btree.BTreeG[*RawBlock]
	_nextId     BlockID
}

func blockLess(a, b *RawBlock) bool {
	return a._id < b._id
}

// NewBlockStore allocates all MaxBlocks buffers up front.
func NewBlockStore(opts BlockStoreOptions) *BlockStore {
	if opts.BlockSize == 0 {
		opts.BlockSize = BLOCK_SIZE
	}
	if opts.MaxBlocks < 0 {
		opts.MaxBlocks = 0
	}
	store := &BlockStore{
		_blockSize: opts.BlockSize,
		_maxBlocks: opts.MaxBlocks,
		_metrics:   opts.Metrics,
		_free:      make([]*RawBlock, 0, opts.MaxBlocks),
		_inUse:     btree.NewBTreeGOptions[*RawBlock](blockLess, btree.Options{NoLocks: true}),
	}
	for i := 0; i < opts.MaxBlocks; i++ {
		store._free = append(store._free, NewRawBlock(INVALID_BLOCK, opts.BlockSize))
	}
	util.Info("block store created",
		zap.Uint32("blockSize", opts.BlockSize),
		zap.Int("maxBlocks", opts.MaxBlocks))
	return store
}

func (store *BlockStore) BlockSize() uint32 {
	return store._blockSize
}

func (store *BlockStore) Capacity() int {
	return store._maxBlocks
}

// NewBlock hands out a pooled block under a fresh id. The block content is
// whatever its last user left; call InitializeRawBlock before use.
func (store *BlockStore) NewBlock() (*RawBlock, error) {
	if err := util.CheckFault(util.FAULTS_SCOPE_STORE, FAULT_NEW_BLOCK).Run(); err != nil {
		return nil, err
	}

	store._blocksLock.Lock()
	defer store._blocksLock.Unlock()
	n := len(store._free)
	if n == 0 {
		store._metrics.exhausted()
		util.Warn("block store exhausted",
			zap.Int("maxBlocks", store._maxBlocks))
		return nil, errors.Wrapf(ErrNoBlockAvailable, "all %d blocks in use", store._maxBlocks)
	}
	block := store._free[n-1]
	store._free[n-1] = nil
	store._free = store._free[:n-1]

	store._nextId++
	block._id = store._nextId
	store._inUse.Set(block)
	store._metrics.allocated()
	util.Debug("block allocated", zap.Int64("id", int64(block._id)))
	return block, nil
}

// NewBlockID is NewBlock returning the id alongside the block.
func (store *BlockStore) NewBlockID() (BlockID, *RawBlock, error) {
	block, err := store.NewBlock()
	if err != nil {
		return INVALID_BLOCK, nil, err
	}
	return block.ID(), block, nil
}

// UnsafeDeallocate returns the block with id to the pool.
//
// Nothing checks that the block is no longer referenced. The caller must
// guarantee no goroutine touches the block or its id afterwards.
func (store *BlockStore) UnsafeDeallocate(id BlockID) {
	store._blocksLock.Lock()
	defer store._blocksLock.Unlock()
	block, ok := store._inUse.Delete(&RawBlock{_id: id})
	if !ok {
		util.Warn("deallocate unknown block", zap.Int64("id", int64(id)))
		return
	}
	block._id = INVALID_BLOCK
	store._free = append(store._free, block)
	util.Debug("block deallocated", zap.Int64("id", int64(id)))
	store._metrics.deallocated()
}

// Get finds a block handed out by this store.
func (store *BlockStore) Get(id BlockID) (*RawBlock, bool) {
	store._blocksLock.Lock()
	defer store._blocksLock.Unlock()
	return store._inUse.Get(&RawBlock{_id: id})
}

func (store *BlockStore) InUse() int {
	store._blocksLock.Lock()
	defer store._blocksLock.Unlock()
	return store._inUse.Len()
}

func (store *BlockStore) Free() int {
	store._blocksLock.Lock()
	defer store._blocksLock.Unlock()
	return len(store._free)
}

// ForEach visits in-use blocks in id order until fn returns false. fn
// must not call back into the store.
func (store *BlockStore) ForEach(fn func(block *RawBlock) bool) {
	store._blocksLock.Lock()
	defer store._blocksLock.Unlock()
	store._inUse.Scan(fn)
}
