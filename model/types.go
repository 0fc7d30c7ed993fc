package model

import (
	"fmt"
	"strings"
)

// DocID is the global document identifier. Posting lists store DocIDs in
// strictly ascending order.
type DocID uint32

// MaxDocID is the largest representable DocID.
const MaxDocID = DocID(^uint32(0))

// BarrelID is the monotonic number a barrel name is derived from.
type BarrelID uint64

// BarrelName returns the canonical blob name prefix for id.
func BarrelName(id BarrelID) string {
	return fmt.Sprintf("barrel_%06d", id)
}

// CompressionKind selects how a barrel's posting blocks are encoded.
type CompressionKind uint8

const (
	// ByteAlign encodes every block with variable-byte integers.
	ByteAlign CompressionKind = iota
	// Block encodes fixed 128-value blocks with PForDelta and a VByte tail.
	Block
	// Chunk is like Block but with a configurable chunk size.
	Chunk
)

func (k CompressionKind) String() string {
	switch k {
	case ByteAlign:
		return "bytealign"
	case Block:
		return "block"
	case Chunk:
		return "chunk"
	default:
		return fmt.Sprintf("CompressionKind(%d)", k)
	}
}

// ParseCompressionKind parses the textual form used in configuration files.
func ParseCompressionKind(s string) (CompressionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bytealign", "byte_align", "vbyte":
		return ByteAlign, nil
	case "block", "":
		return Block, nil
	case "chunk":
		return Chunk, nil
	default:
		return 0, fmt.Errorf("unknown compression kind %q", s)
	}
}

// BarrelInfo describes one immutable barrel.
//
// Doc ids of a barrel lie within [BaseDocID, LastDocID]. DocCount counts
// live documents and may be smaller than the span after a merge has dropped
// deleted documents.
type BarrelInfo struct {
	ID        BarrelID
	Name      string
	DocCount  uint64
	BaseDocID uint64
	LastDocID uint64
	Kind      CompressionKind
	CTF       uint64
	TermCount uint64
	Size      int64
	// Level is the tier the barrel was produced for; informational only.
	Level int
}

// BlobName returns the name of the blob holding the barrel data.
func (b BarrelInfo) BlobName() string {
	return b.Name + ".brl"
}

// Contains reports whether doc falls inside the barrel's doc id span.
func (b BarrelInfo) Contains(doc uint64) bool {
	return b.DocCount > 0 && doc >= b.BaseDocID && doc <= b.LastDocID
}

// String returns a compact representation for logs.
func (b BarrelInfo) String() string {
	return fmt.Sprintf("%s[docs=%d base=%d last=%d kind=%s]", b.Name, b.DocCount, b.BaseDocID, b.LastDocID, b.Kind)
}

// TermInfo holds the per-term statistics and section pointers of a barrel.
// Pointers are byte offsets into the barrel blob.
type TermInfo struct {
	DF              uint64
	CTF             uint64
	LastDocID       DocID
	SkipLevels      uint8
	SkipPointer     int64
	SkipLength      int64
	PostingPointer  int64
	PostingLength   int64
	PositionPointer int64
	PositionLength  int64
}

// HasSkipList reports whether a skip list was built for the term.
func (t TermInfo) HasSkipList() bool {
	return t.SkipLength > 0
}

// Posting is one entry of a posting list. Positions, when present, are
// absolute, ascending and len(Positions) == Freq.
type Posting struct {
	Doc       DocID
	Freq      uint32
	Positions []uint32
}
