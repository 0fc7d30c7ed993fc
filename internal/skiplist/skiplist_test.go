package skiplist

import (
	"bytes"
	"testing"

	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBlocks simulates a posting list of n blocks where block i ends at
// doc (i+1)*10 and occupies 100 bytes of postings and 50 of positions.
func buildBlocks(t *testing.T, w *Writer, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		w.AddSkipPoint(model.DocID(i*10), uint64(i*100), uint64(i*50))
	}
}

func TestWriter_LevelCounts(t *testing.T) {
	w := NewWriter(4, 8)
	buildBlocks(t, w, 70)

	assert.Equal(t, 70, w.NumPoints())
	// 70 level-0, 17 level-1, 4 level-2, 1 level-3.
	assert.Equal(t, 4, w.NumLevels())

	r, err := NewReader(w.AppendTo(nil), 4)
	require.NoError(t, err)
	counts := make([]int, r.NumLevels())
	for level := range r.levels {
		for r.levels[level].nextDoc != eof {
			require.NoError(t, r.consume(level))
			counts[level]++
		}
	}
	assert.Equal(t, []int{70, 17, 4, 1}, counts)
}

func TestWriter_RealLength(t *testing.T) {
	w := NewWriter(8, 8)
	assert.Equal(t, 0, w.RealLength())
	buildBlocks(t, w, 100)

	var buf bytes.Buffer
	n, err := w.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(w.RealLength()), n)
	assert.Equal(t, w.AppendTo(nil), buf.Bytes())

	w.Reset()
	assert.Equal(t, 0, w.NumPoints())
	assert.Equal(t, 0, w.RealLength())
}

func TestReader_SkipTo(t *testing.T) {
	w := NewWriter(4, 8)
	buildBlocks(t, w, 200)
	r, err := NewReader(w.AppendTo(nil), 4)
	require.NoError(t, err)

	tests := []struct {
		target model.DocID
		doc    model.DocID
		blocks int
	}{
		{target: 0, doc: 0, blocks: 0},
		{target: 10, doc: 0, blocks: 0},
		{target: 11, doc: 10, blocks: 1},
		{target: 655, doc: 650, blocks: 65},
		{target: 660, doc: 650, blocks: 65},
		{target: 1999, doc: 1990, blocks: 199},
		{target: 5000, doc: 2000, blocks: 200},
	}
	for _, tt := range tests {
		p, err := r.SkipTo(tt.target)
		require.NoError(t, err)
		assert.Equal(t, tt.doc, p.Doc, "target %d", tt.target)
		assert.Equal(t, tt.blocks, p.Blocks, "target %d", tt.target)
		assert.Equal(t, uint64(tt.blocks*100), p.PostingOffset)
		assert.Equal(t, uint64(tt.blocks*50), p.PositionOffset)
	}
}

func TestReader_Monotonic(t *testing.T) {
	w := NewWriter(3, 5)
	buildBlocks(t, w, 500)
	r, err := NewReader(w.AppendTo(nil), 3)
	require.NoError(t, err)

	var last model.DocID
	for target := model.DocID(0); target < 5200; target += 37 {
		p, err := r.SkipTo(target)
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Doc, target)
		assert.GreaterOrEqual(t, p.Doc, last)
		last = p.Doc
	}
}

func TestReader_Empty(t *testing.T) {
	r, err := NewReader(nil, 8)
	require.NoError(t, err)
	p, err := r.SkipTo(100)
	require.NoError(t, err)
	assert.Equal(t, Point{}, p)
}

func TestReader_Corrupt(t *testing.T) {
	w := NewWriter(4, 8)
	buildBlocks(t, w, 50)
	data := w.AppendTo(nil)

	_, err := NewReader(data[:len(data)/2], 4)
	assert.ErrorIs(t, err, codec.ErrCorruptData)

	_, err = NewReader([]byte{0}, 4)
	assert.ErrorIs(t, err, codec.ErrCorruptData)
}
