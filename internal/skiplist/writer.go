package skiplist

import (
	"encoding/binary"
	"io"

	"github.com/hupe1980/barrel/model"
)

const (
	// DefaultInterval is the fan-out between adjacent levels.
	DefaultInterval = 8
	// DefaultMaxLevels caps the number of levels.
	DefaultMaxLevels = 8
	// DefaultThreshold is the document frequency above which a posting list
	// gets a skip list.
	DefaultThreshold = 4096
)

type levelBuffer struct {
	buf     []byte
	lastDoc model.DocID
	lastPst uint64
	lastPos uint64
}

// Writer accumulates skip points for one posting list.
type Writer struct {
	interval  int
	maxLevels int
	levels    []levelBuffer
	points    int
}

// NewWriter returns a Writer. Non-positive arguments select the defaults.
func NewWriter(interval, maxLevels int) *Writer {
	if interval < 2 {
		interval = DefaultInterval
	}
	if maxLevels <= 0 {
		maxLevels = DefaultMaxLevels
	}
	if maxLevels > 255 {
		maxLevels = 255
	}
	return &Writer{interval: interval, maxLevels: maxLevels}
}

// AddSkipPoint records the end of a posting block. doc is the last doc id of
// the block; the offsets point at the start of the next block in the
// posting and position sections.
func (w *Writer) AddSkipPoint(doc model.DocID, postingOffset, positionOffset uint64) {
	w.points++
	child := w.appendEntry(0, doc, postingOffset, positionOffset, 0)

	k := w.points
	for level := 1; level < w.maxLevels && k%w.interval == 0; level++ {
		k /= w.interval
		child = w.appendEntry(level, doc, postingOffset, positionOffset, child)
	}
}

// appendEntry writes one entry and returns the offset at which it starts.
func (w *Writer) appendEntry(level int, doc model.DocID, pst, pos uint64, child int) int {
	if level == len(w.levels) {
		w.levels = append(w.levels, levelBuffer{})
	}
	lb := &w.levels[level]
	start := len(lb.buf)

	lb.buf = binary.AppendUvarint(lb.buf, uint64(doc-lb.lastDoc))
	lb.buf = binary.AppendUvarint(lb.buf, pst-lb.lastPst)
	lb.buf = binary.AppendUvarint(lb.buf, pos-lb.lastPos)
	if level > 0 {
		lb.buf = binary.AppendUvarint(lb.buf, uint64(child))
	}
	lb.lastDoc, lb.lastPst, lb.lastPos = doc, pst, pos
	return start
}

// NumPoints returns the number of level-0 points.
func (w *Writer) NumPoints() int { return w.points }

// NumLevels returns the number of non-empty levels.
func (w *Writer) NumLevels() int { return len(w.levels) }

// RealLength returns the serialized size including the level length prefixes.
func (w *Writer) RealLength() int {
	if len(w.levels) == 0 {
		return 0
	}
	n := 1
	var tmp [binary.MaxVarintLen64]byte
	for _, lb := range w.levels {
		n += binary.PutUvarint(tmp[:], uint64(len(lb.buf))) + len(lb.buf)
	}
	return n
}

// AppendTo appends the serialized skip list to dst. An empty writer appends
// nothing.
func (w *Writer) AppendTo(dst []byte) []byte {
	if len(w.levels) == 0 {
		return dst
	}
	dst = append(dst, byte(len(w.levels)))
	for level := len(w.levels) - 1; level >= 0; level-- {
		dst = binary.AppendUvarint(dst, uint64(len(w.levels[level].buf)))
		dst = append(dst, w.levels[level].buf...)
	}
	return dst
}

// WriteTo writes the serialized skip list to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	n, err := out.Write(w.AppendTo(make([]byte, 0, w.RealLength())))
	return int64(n), err
}

// Reset clears the writer for reuse.
func (w *Writer) Reset() {
	w.levels = w.levels[:0]
	w.points = 0
}
