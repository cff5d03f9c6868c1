package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/daviszhen/tuplestore/pkg/util"
)

func Test_layoutDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/layout", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "compute":
			var widths []uint16
			blockSize := BLOCK_SIZE
			for _, arg := range d.CmdArgs {
				switch arg.Key {
				case "widths":
					for _, v := range arg.Vals {
						w, err := strconv.ParseUint(v, 10, 16)
						require.NoError(t, err)
						widths = append(widths, uint16(w))
					}
				case "block-size":
					sz, err := strconv.ParseUint(arg.Vals[0], 10, 32)
					require.NoError(t, err)
					blockSize = uint32(sz)
				default:
					t.Fatalf("unknown argument %s", arg.Key)
				}
			}
			layout, err := ComputeBlockLayoutWithSize(widths, blockSize)
			if err != nil {
				require.True(t, errors.Is(err, ErrInvalidLayout))
				return "error: invalid block layout\n"
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "slots=%d bitmap=%d header=%d tuple=%d end=%d\n",
				layout.NumSlots(), layout.BitmapBytes(), layout.HeaderSize(),
				layout.TupleSize(), layout.End())
			for i := 0; i < layout.NumColumns(); i++ {
				fmt.Fprintf(&sb, "col %d: width=%d null=[%d,%d) values=[%d,%d)\n",
					i, layout.ColumnWidth(i),
					layout.NullBitmapOffset(i), layout.ColumnStart(i),
					layout.ColumnStart(i), layout.ColumnEnd(i))
			}
			return sb.String()
		default:
			return fmt.Sprintf("unknown command: %s", d.Cmd)
		}
	})
}

func Test_layout4096(t *testing.T) {
	layout, err := ComputeBlockLayoutWithSize([]uint16{8, 4, 1}, 4096)
	require.NoError(t, err)
	n := layout.NumSlots()
	assert.Equal(t, uint32(301), n)
	assert.Equal(t, 3, layout.NumColumns())
	assert.Equal(t, uint32(13), layout.TupleSize())
	assert.Equal(t, layout.BitmapBytes(), layout.ColumnStart(0)-layout.NullBitmapOffset(0))
	assert.Equal(t, layout.HeaderSize(), layout.NullBitmapOffset(0))
	assert.GreaterOrEqual(t, layout.BitmapBytes(), uint32(util.EntryCount(int(n))))

	//tight: the geometry for one more slot does not fit
	assert.LessOrEqual(t, layoutEnd([]uint16{8, 4, 1}, uint64(n)), uint64(4096))
	assert.Greater(t, layoutEnd([]uint16{8, 4, 1}, uint64(n)+1), uint64(4096))
	assert.Equal(t, uint64(layout.End()), layoutEnd([]uint16{8, 4, 1}, uint64(n)))
}

func Test_layoutErrors(t *testing.T) {
	cases := []struct {
		name      string
		widths    []uint16
		blockSize uint32
	}{
		{"no columns", nil, 4096},
		{"zero width", []uint16{8, 0, 4}, 4096},
		{"too wide", []uint16{4096}, 4096},
		{"tiny block", []uint16{1}, BLOCK_HEADER_FIXED_SIZE},
		{"unaligned block", []uint16{1}, 4097},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			layout, err := ComputeBlockLayoutWithSize(c.widths, c.blockSize)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidLayout))
			assert.False(t, layout.Valid())
		})
	}
	assert.Panics(t, func() {
		MustComputeBlockLayout([]uint16{0}, 4096)
	})
}

func Test_layoutImmutable(t *testing.T) {
	widths := []uint16{8, 4}
	layout := MustComputeBlockLayout(widths, 4096)
	widths[0] = 100
	assert.Equal(t, uint32(8), layout.ColumnWidth(0))
	got := layout.ColumnWidths()
	got[1] = 100
	assert.Equal(t, uint32(4), layout.ColumnWidth(1))
}

func Test_layoutTag(t *testing.T) {
	a := MustComputeBlockLayout([]uint16{8, 4, 1}, 4096)
	b := MustComputeBlockLayout([]uint16{8, 4, 1}, 4096)
	c := MustComputeBlockLayout([]uint16{8, 1, 4}, 4096)
	d := MustComputeBlockLayout([]uint16{8, 4, 1}, 8192)
	assert.Equal(t, a.Tag(), b.Tag())
	assert.NotEqual(t, a.Tag(), c.Tag())
	assert.NotEqual(t, a.Tag(), d.Tag())
}

func Test_layoutDefaultSize(t *testing.T) {
	layout, err := ComputeBlockLayout([]uint16{8, 4, 1})
	require.NoError(t, err)
	assert.Equal(t, BLOCK_SIZE, layout.BlockSize())
	assert.Equal(t, uint32(77670), layout.NumSlots())
}

func Test_layoutFormat(t *testing.T) {
	layout := MustComputeBlockLayout([]uint16{8, 4, 1}, 4096)
	out := layout.Format()
	assert.Contains(t, out, "slots 301")
	assert.Contains(t, out, "allocation bitmap [16, 56)")
	assert.Contains(t, out, "2 width 1")
	assert.Contains(t, out, "values [3788, 4089)")
	assert.Contains(t, layout.String(), "slots 301")
}

// checkRegions verifies that every region of layout lies in the block and
// that no two regions overlap.
func checkRegions(t *testing.T, layout BlockLayout) {
	regions := layout.Regions()
	require.Len(t, regions, 2+2*layout.NumColumns())
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Begin < regions[j].Begin
	})
	for i, r := range regions {
		require.Less(t, r.Begin, r.End, "%s is empty", r)
		require.LessOrEqual(t, r.End, layout.BlockSize(), "%s overruns block of %d", r, layout.BlockSize())
		if i > 0 {
			require.False(t, regions[i-1].Overlaps(r), "%s overlaps %s", regions[i-1], r)
		}
		if strings.Contains(r.Name, "bitmap") {
			require.Zero(t, r.Begin%util.BYTES_PER_WORD, "%s not word aligned", r)
			require.Zero(t, r.Len()%util.BYTES_PER_WORD, "%s not whole words", r)
			require.GreaterOrEqual(t, r.Len(), uint32(util.EntryCount(int(layout.NumSlots()))))
		}
	}
	require.LessOrEqual(t, layout.End(), layout.BlockSize())
	require.Equal(t, regions[len(regions)-1].End, layout.End())
}

func Test_layoutMemorySafety(t *testing.T) {
	rnd := rand.New(rand.NewSource(20241014))
	blockSizes := []uint32{64, 256, 4096, 65536, BLOCK_SIZE}
	for iter := 0; iter < 2000; iter++ {
		blockSize := blockSizes[rnd.Intn(len(blockSizes))]
		numCols := 1 + rnd.Intn(64)
		widths := make([]uint16, numCols)
		for i := range widths {
			switch rnd.Intn(4) {
			case 0:
				widths[i] = uint16(1 + rnd.Intn(8))
			case 1:
				widths[i] = []uint16{1, 2, 4, 8, 16}[rnd.Intn(5)]
			case 2:
				widths[i] = uint16(1 + rnd.Intn(256))
			default:
				widths[i] = uint16(1 + rnd.Intn(4096))
			}
		}
		layout, err := ComputeBlockLayoutWithSize(widths, blockSize)
		if err != nil {
			require.True(t, errors.Is(err, ErrInvalidLayout))
			//nothing fits: even one slot overruns
			require.Greater(t, layoutEnd(widths, 1), uint64(blockSize))
			continue
		}
		checkRegions(t, layout)
		n := uint64(layout.NumSlots())
		require.Greater(t, layoutEnd(widths, n+1), uint64(blockSize), "layout %s is not tight", layout)
	}
}

func Test_layoutWorstCase(t *testing.T) {
	//many one byte columns maximize alignment padding
	widths := make([]uint16, 1000)
	for i := range widths {
		widths[i] = 1
	}
	layout, err := ComputeBlockLayoutWithSize(widths, BLOCK_SIZE)
	require.NoError(t, err)
	checkRegions(t, layout)

	//one slot of the widest columns
	layout, err = ComputeBlockLayoutWithSize([]uint16{65535, 65535}, 1<<17+64)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), layout.NumSlots())
	checkRegions(t, layout)
}
