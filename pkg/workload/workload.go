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
package workload

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/tuplestore/pkg/storage"
	"github.com/daviszhen/tuplestore/pkg/util"
)

const (
	minLatency = time.Nanosecond
	maxLatency = 10 * time.Second
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 3)
}

type Options struct {
	Widths          []uint16
	Workers         int
	Blocks          int
	TuplesPerWorker int
	StartHint       storage.StartHint
}

func OptionsFromConfig(cfg *util.Config) (Options, error) {
	widths, err := util.ParseWidths(cfg.Schema.Widths)
	if err != nil {
		return Options{}, err
	}
	hint, err := storage.ParseStartHint(cfg.Stress.StartHint)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Widths:          widths,
		Workers:         cfg.Stress.Workers,
		Blocks:          cfg.Stress.Blocks,
		TuplesPerWorker: cfg.Stress.TuplesPerWorker,
		StartHint:       hint,
	}, nil
}

type Result struct {
	Layout     storage.BlockLayout
	Inserted   int
	Requested  int
	BlocksUsed int
	Elapsed    time.Duration
	Latency    *hdrhistogram.Histogram
}

// blockCursor hands out the block workers currently fill. When a block is
// full the first worker to notice asks the store for the next one.
type blockCursor struct {
	mu     sync.Mutex
	store  *storage.BlockStore
	layout storage.BlockLayout
	cur    *storage.RawBlock
	budget int
	used   int
}

func (c *blockCursor) current() *storage.RawBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// advance moves past full. It returns nil when the block budget or the
// store is exhausted.
func (c *blockCursor) advance(full *storage.RawBlock) (*storage.RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != full {
		return c.cur, nil
	}
	if c.used >= c.budget {
		c.cur = nil
		return nil, nil
	}
	block, err := c.store.NewBlock()
	if errors.Is(err, storage.ErrNoBlockAvailable) {
		c.cur = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	storage.InitializeRawBlock(block, c.layout, block.ID())
	c.used++
	c.cur = block
	return block, nil
}

// Run has Workers goroutines insert tuples into blocks from store until
// each inserted TuplesPerWorker tuples or no block is left.
func Run(ctx context.Context, store *storage.BlockStore, opts Options) (*Result, error) {
	layout, err := storage.ComputeBlockLayoutWithSize(opts.Widths, store.BlockSize())
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		return nil, errors.Newf("need at least one worker, got %d", opts.Workers)
	}
	tas := storage.NewTupleAccessStrategy(layout, storage.WithStartHint(opts.StartHint))
	cursor := &blockCursor{
		store:  store,
		layout: layout,
		budget: opts.Blocks,
	}
	if _, err = cursor.advance(nil); err != nil {
		return nil, err
	}

	util.Info("workload start",
		zap.Stringer("layout", layout),
		zap.String("widths", util.FormatWidths(opts.Widths)),
		zap.Int("workers", opts.Workers),
		zap.Int("blocks", opts.Blocks),
		zap.Int("tuplesPerWorker", opts.TuplesPerWorker),
		zap.Stringer("startHint", opts.StartHint))

	hists := make([]*hdrhistogram.Histogram, opts.Workers)
	inserted := make([]int, opts.Workers)
	start := time.Now()
	grp, gCtx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Workers; w++ {
		w := w
		hists[w] = newHistogram()
		grp.Go(func() error {
			return worker(gCtx, w, tas, cursor, opts.TuplesPerWorker, hists[w], &inserted[w])
		})
	}
	err = grp.Wait()
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Layout:     layout,
		Requested:  opts.Workers * opts.TuplesPerWorker,
		BlocksUsed: cursor.used,
		Elapsed:    elapsed,
		Latency:    newHistogram(),
	}
	for w := range hists {
		res.Latency.Merge(hists[w])
		res.Inserted += inserted[w]
	}
	util.Info("workload done",
		zap.Int("inserted", res.Inserted),
		zap.Int("blocksUsed", res.BlocksUsed),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func worker(
	ctx context.Context,
	id int,
	tas *storage.TupleAccessStrategy,
	cursor *blockCursor,
	quota int,
	hist *hdrhistogram.Histogram,
	inserted *int,
) error {
	layout := tas.Layout()
	row := make([][]byte, layout.NumColumns())
	for col := range row {
		row[col] = make([]byte, layout.ColumnWidth(col))
	}
	block := cursor.current()
	for n := 0; n < quota && block != nil; {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		begin := time.Now()
		slot, ok := tas.Allocate(block)
		if !ok {
			var err error
			block, err = cursor.advance(block)
			if err != nil {
				return err
			}
			continue
		}
		fillRow(row, id, n)
		for col := range row {
			tas.Insert(block, col, slot, row[col])
		}
		_ = hist.RecordValue(time.Since(begin).Nanoseconds())
		n++
		*inserted = n
	}
	return nil
}

// fillRow writes a recognizable value: column 0 carries the worker id and
// sequence number, the rest repeat a byte derived from them.
func fillRow(row [][]byte, worker, seq int) {
	ctrl := row[0]
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(worker)<<32|uint64(uint32(seq)))
	copy(ctrl, buf[:])
	for col := 1; col < len(row); col++ {
		b := byte(worker*31 + seq + col)
		for i := range row[col] {
			row[col][i] = b
		}
	}
}

func (res *Result) Print(w io.Writer) {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader([]string{"Slots/Block", "Blocks", "Requested", "Inserted", "Elapsed", "Ops/s", "p50", "p99", "Max"})
	opsPerSec := float64(0)
	if res.Elapsed > 0 {
		opsPerSec = float64(res.Inserted) / res.Elapsed.Seconds()
	}
	tbl.Append([]string{
		fmt.Sprintf("%d", res.Layout.NumSlots()),
		fmt.Sprintf("%d", res.BlocksUsed),
		fmt.Sprintf("%d", res.Requested),
		fmt.Sprintf("%d", res.Inserted),
		res.Elapsed.String(),
		fmt.Sprintf("%.0f", opsPerSec),
		time.Duration(res.Latency.ValueAtQuantile(50)).String(),
		time.Duration(res.Latency.ValueAtQuantile(99)).String(),
		time.Duration(res.Latency.Max()).String(),
	})
	tbl.Render()
}

// PrintLayout renders the geometry tree and a table of byte regions.
func PrintLayout(w io.Writer, layout storage.BlockLayout) {
	fmt.Fprintln(w, layout.Format())
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader([]string{"Region", "Begin", "End", "Bytes"})
	for _, r := range layout.Regions() {
		tbl.Append([]string{
			r.Name,
			fmt.Sprintf("%d", r.Begin),
			fmt.Sprintf("%d", r.End),
			fmt.Sprintf("%d", r.Len()),
		})
	}
	tbl.SetFooter([]string{"", "", "unused", fmt.Sprintf("%d", layout.BlockSize()-layout.End())})
	tbl.Render()
}
