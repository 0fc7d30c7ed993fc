package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/barrel/internal/hash"
	"github.com/hupe1980/barrel/model"
)

const (
	// Magic identifies barrel blobs ("BRL1").
	Magic = 0x42524C31
	// Version is the current barrel format version.
	Version = 1

	footerSize = 96

	flagPositions = 1 << 0
)

// footer is the fixed-size trailer of a barrel blob.
//
//	0  magic u32       4  version u16     6  kind u8        7  dict compression u8
//	8  flags u8        9  skip interval u8 10 reserved u16  12 block size u32
//	16 doc count u64   24 base doc u64    32 last doc u64   40 ctf u64
//	48 term count u64  56 dict off u64    64 dict len u64   72 docs off u64
//	80 docs len u64    88 dict crc u32    92 footer crc u32
type footer struct {
	Kind         model.CompressionKind
	Dictionary   Compression
	Positions    bool
	SkipInterval uint8
	BlockSize    uint32
	DocCount     uint64
	BaseDocID    uint64
	LastDocID    uint64
	CTF          uint64
	TermCount    uint64
	DictOffset   uint64
	DictLength   uint64
	DocsOffset   uint64
	DocsLength   uint64
	DictCRC      uint32
}

func (f *footer) encode() []byte {
	b := make([]byte, footerSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], Magic)
	le.PutUint16(b[4:], Version)
	b[6] = byte(f.Kind)
	b[7] = byte(f.Dictionary)
	if f.Positions {
		b[8] |= flagPositions
	}
	b[9] = f.SkipInterval
	le.PutUint32(b[12:], f.BlockSize)
	le.PutUint64(b[16:], f.DocCount)
	le.PutUint64(b[24:], f.BaseDocID)
	le.PutUint64(b[32:], f.LastDocID)
	le.PutUint64(b[40:], f.CTF)
	le.PutUint64(b[48:], f.TermCount)
	le.PutUint64(b[56:], f.DictOffset)
	le.PutUint64(b[64:], f.DictLength)
	le.PutUint64(b[72:], f.DocsOffset)
	le.PutUint64(b[80:], f.DocsLength)
	le.PutUint32(b[88:], f.DictCRC)
	le.PutUint32(b[92:], hash.CRC32C(b[:92]))
	return b
}

func decodeFooter(b []byte, size int64) (footer, error) {
	var f footer
	if len(b) != footerSize {
		return f, fmt.Errorf("%w: short footer", ErrCorruptSegment)
	}
	le := binary.LittleEndian
	if le.Uint32(b[0:]) != Magic {
		return f, fmt.Errorf("%w: bad magic", ErrCorruptSegment)
	}
	if v := le.Uint16(b[4:]); v != Version {
		return f, fmt.Errorf("%w: unsupported version %d", ErrCorruptSegment, v)
	}
	if le.Uint32(b[92:]) != hash.CRC32C(b[:92]) {
		return f, fmt.Errorf("%w: footer checksum mismatch", ErrCorruptSegment)
	}
	f = footer{
		Kind:         model.CompressionKind(b[6]),
		Dictionary:   Compression(b[7]),
		Positions:    b[8]&flagPositions != 0,
		SkipInterval: b[9],
		BlockSize:    le.Uint32(b[12:]),
		DocCount:     le.Uint64(b[16:]),
		BaseDocID:    le.Uint64(b[24:]),
		LastDocID:    le.Uint64(b[32:]),
		CTF:          le.Uint64(b[40:]),
		TermCount:    le.Uint64(b[48:]),
		DictOffset:   le.Uint64(b[56:]),
		DictLength:   le.Uint64(b[64:]),
		DocsOffset:   le.Uint64(b[72:]),
		DocsLength:   le.Uint64(b[80:]),
		DictCRC:      le.Uint32(b[88:]),
	}
	limit := uint64(size - footerSize)
	if f.DictOffset+f.DictLength > limit || f.DocsOffset+f.DocsLength > f.DictOffset {
		return f, fmt.Errorf("%w: section pointers out of range", ErrCorruptSegment)
	}
	if f.BlockSize == 0 {
		return f, fmt.Errorf("%w: zero block size", ErrCorruptSegment)
	}
	return f, nil
}

// appendDictEntry appends one prefix-compressed dictionary entry.
func appendDictEntry(dst []byte, prev, term string, ti model.TermInfo) []byte {
	shared := 0
	for shared < len(prev) && shared < len(term) && prev[shared] == term[shared] {
		shared++
	}
	dst = binary.AppendUvarint(dst, uint64(shared))
	dst = binary.AppendUvarint(dst, uint64(len(term)-shared))
	dst = append(dst, term[shared:]...)
	for _, v := range [...]uint64{
		ti.DF, ti.CTF, uint64(ti.LastDocID), uint64(ti.SkipLevels),
		uint64(ti.SkipPointer), uint64(ti.SkipLength),
		uint64(ti.PostingPointer), uint64(ti.PostingLength),
		uint64(ti.PositionPointer), uint64(ti.PositionLength),
	} {
		dst = binary.AppendUvarint(dst, v)
	}
	return dst
}

// decodeDictionary parses count entries. Section pointers are validated
// against dataEnd, the end of the term sections.
func decodeDictionary(data []byte, count uint64, dataEnd int64) ([]string, []model.TermInfo, error) {
	if count > uint64(len(data)) {
		return nil, nil, fmt.Errorf("%w: term count %d exceeds dictionary", ErrCorruptSegment, count)
	}
	terms := make([]string, 0, count)
	infos := make([]model.TermInfo, 0, count)

	off := 0
	next := func() (uint64, error) {
		v, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return 0, fmt.Errorf("%w: truncated dictionary at offset %d", ErrCorruptSegment, off)
		}
		off += n
		return v, nil
	}

	prev := ""
	for i := uint64(0); i < count; i++ {
		shared, err := next()
		if err != nil {
			return nil, nil, err
		}
		suffix, err := next()
		if err != nil {
			return nil, nil, err
		}
		if shared > uint64(len(prev)) || suffix > uint64(len(data)-off) {
			return nil, nil, fmt.Errorf("%w: bad term entry %d", ErrCorruptSegment, i)
		}
		term := prev[:shared] + string(data[off:off+int(suffix)])
		off += int(suffix)
		if i > 0 && term <= prev {
			return nil, nil, fmt.Errorf("%w: dictionary not sorted at %q", ErrCorruptSegment, term)
		}

		var vals [10]uint64
		for j := range vals {
			if vals[j], err = next(); err != nil {
				return nil, nil, err
			}
		}
		ti := model.TermInfo{
			DF:              vals[0],
			CTF:             vals[1],
			LastDocID:       model.DocID(vals[2]),
			SkipLevels:      uint8(vals[3]),
			SkipPointer:     int64(vals[4]),
			SkipLength:      int64(vals[5]),
			PostingPointer:  int64(vals[6]),
			PostingLength:   int64(vals[7]),
			PositionPointer: int64(vals[8]),
			PositionLength:  int64(vals[9]),
		}
		if ti.DF == 0 || !sectionOK(ti.SkipPointer, ti.SkipLength, dataEnd) ||
			!sectionOK(ti.PostingPointer, ti.PostingLength, dataEnd) ||
			!sectionOK(ti.PositionPointer, ti.PositionLength, dataEnd) {
			return nil, nil, fmt.Errorf("%w: bad pointers for term %q", ErrCorruptSegment, term)
		}
		terms = append(terms, term)
		infos = append(infos, ti)
		prev = term
	}
	if off != len(data) {
		return nil, nil, fmt.Errorf("%w: %d trailing dictionary bytes", ErrCorruptSegment, len(data)-off)
	}
	return terms, infos, nil
}

func sectionOK(ptr, length, end int64) bool {
	return ptr >= 0 && length >= 0 && ptr+length <= end
}
