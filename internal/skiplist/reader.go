package skiplist

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/model"
)

// eof marks an exhausted level; it compares greater than every doc id.
const eof = math.MaxUint64

// Point is the position a SkipTo call resolved to.
type Point struct {
	// Doc is the last doc id of the last skipped block, or 0 if nothing was skipped.
	Doc model.DocID
	// Blocks is the number of whole posting blocks that can be skipped.
	Blocks int
	// PostingOffset and PositionOffset locate the first block not skipped.
	PostingOffset  uint64
	PositionOffset uint64
}

type levelReader struct {
	data   []byte
	stride int

	// last consumed entry
	points int
	doc    model.DocID
	pst    uint64
	pos    uint64
	child  int

	// next entry
	off       int
	nextDoc   uint64
	nextPst   uint64
	nextPos   uint64
	nextChild int
	nextEnd   int
}

// Reader walks a serialized skip list.
type Reader struct {
	levels []levelReader
}

// NewReader parses the level directory of a serialized skip list.
func NewReader(data []byte, interval int) (*Reader, error) {
	if interval < 2 {
		interval = DefaultInterval
	}
	if len(data) == 0 {
		return &Reader{}, nil
	}
	n := int(data[0])
	if n == 0 {
		return nil, fmt.Errorf("%w: skip list with zero levels", codec.ErrCorruptData)
	}
	r := &Reader{levels: make([]levelReader, n)}
	off := 1
	stride := 1
	for i := 0; i < n-1; i++ {
		stride *= interval
	}
	for level := n - 1; level >= 0; level-- {
		length, k := binary.Uvarint(data[off:])
		if k <= 0 || length > uint64(len(data)-off-k) {
			return nil, fmt.Errorf("%w: bad skip list header at level %d", codec.ErrCorruptData, level)
		}
		off += k
		r.levels[level] = levelReader{data: data[off : off+int(length)], stride: stride}
		off += int(length)
		stride /= interval
	}
	for level := range r.levels {
		if err := r.peek(level); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NumLevels returns the number of levels.
func (r *Reader) NumLevels() int { return len(r.levels) }

// SkipTo moves forward to the furthest block boundary whose doc id is
// strictly less than target. Successive calls must use non-decreasing
// targets.
func (r *Reader) SkipTo(target model.DocID) (Point, error) {
	if len(r.levels) == 0 {
		return Point{}, nil
	}
	top := len(r.levels) - 1
	for level := top; level >= 0; level-- {
		lv := &r.levels[level]
		if level < top {
			if up := &r.levels[level+1]; up.points > lv.points {
				if err := r.seekChild(level, up); err != nil {
					return Point{}, err
				}
			}
		}
		for lv.nextDoc < uint64(target) {
			if err := r.consume(level); err != nil {
				return Point{}, err
			}
		}
	}
	l0 := &r.levels[0]
	return Point{Doc: l0.doc, Blocks: l0.points, PostingOffset: l0.pst, PositionOffset: l0.pos}, nil
}

func (r *Reader) consume(level int) error {
	lv := &r.levels[level]
	lv.points += lv.stride
	lv.doc = model.DocID(lv.nextDoc)
	lv.pst, lv.pos, lv.child = lv.nextPst, lv.nextPos, lv.nextChild
	lv.off = lv.nextEnd
	return r.peek(level)
}

func (r *Reader) peek(level int) error {
	lv := &r.levels[level]
	if lv.off >= len(lv.data) {
		lv.nextDoc = eof
		return nil
	}
	docDelta, pstDelta, posDelta, child, end, err := decodeEntry(lv.data, lv.off, level > 0)
	if err != nil {
		return fmt.Errorf("level %d: %w", level, err)
	}
	lv.nextDoc = uint64(lv.doc) + docDelta
	lv.nextPst = lv.pst + pstDelta
	lv.nextPos = lv.pos + posDelta
	lv.nextChild = child
	lv.nextEnd = end
	if lv.nextDoc > uint64(model.MaxDocID) {
		return fmt.Errorf("%w: skip doc overflow at level %d", codec.ErrCorruptData, level)
	}
	return nil
}

// seekChild repositions level on the entry mirrored by up's last entry.
func (r *Reader) seekChild(level int, up *levelReader) error {
	lv := &r.levels[level]
	if up.child < 0 || up.child >= len(lv.data) {
		return fmt.Errorf("%w: child pointer %d out of range at level %d", codec.ErrCorruptData, up.child, level)
	}
	_, _, _, child, end, err := decodeEntry(lv.data, up.child, level > 0)
	if err != nil {
		return fmt.Errorf("level %d: %w", level, err)
	}
	lv.points = up.points
	lv.doc, lv.pst, lv.pos = up.doc, up.pst, up.pos
	lv.child = child
	lv.off = end
	return r.peek(level)
}

func decodeEntry(data []byte, off int, hasChild bool) (doc, pst, pos uint64, child, end int, err error) {
	var vals [4]uint64
	fields := 3
	if hasChild {
		fields = 4
	}
	for i := 0; i < fields; i++ {
		v, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return 0, 0, 0, 0, 0, fmt.Errorf("%w: truncated skip entry at offset %d", codec.ErrCorruptData, off)
		}
		vals[i] = v
		off += n
	}
	if vals[3] > math.MaxInt32 {
		return 0, 0, 0, 0, 0, fmt.Errorf("%w: child pointer overflow", codec.ErrCorruptData)
	}
	return vals[0], vals[1], vals[2], int(vals[3]), off, nil
}
