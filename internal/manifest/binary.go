package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/barrel/internal/hash"
	"github.com/hupe1980/barrel/model"
)

const (
	binaryMagic   = 0x42524D46 // "BRMF"
	binaryVersion = 1
	headerSize    = 16
)

// MarshalBinary encodes the manifest as
// [magic:u32][version:u32][crc32c:u32][length:u32][payload].
// Payload integers are uvarints; strings are uvarint length-prefixed.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	pb := &payloadBuffer{buf: make([]byte, 0, 64+len(m.Barrels)*48)}

	pb.putUvarint(m.ID)
	pb.putUvarint(uint64(m.CreatedAt.UnixNano()))
	pb.putUvarint(uint64(m.NextBarrelID))
	pb.putUvarint(uint64(m.Kind))
	pb.putUvarint(uint64(len(m.Barrels)))
	for _, b := range m.Barrels {
		pb.putUvarint(uint64(b.ID))
		pb.putString(b.Name)
		pb.putUvarint(b.DocCount)
		pb.putUvarint(b.BaseDocID)
		pb.putUvarint(b.LastDocID)
		pb.putUvarint(uint64(b.Kind))
		pb.putUvarint(b.CTF)
		pb.putUvarint(b.TermCount)
		pb.putUvarint(uint64(b.Size))
		pb.putUvarint(uint64(b.Level))
	}
	pb.putUvarint(uint64(len(m.MergeCounts)))
	for _, c := range m.MergeCounts {
		pb.putUvarint(c)
	}

	out := make([]byte, headerSize, headerSize+len(pb.buf))
	binary.LittleEndian.PutUint32(out[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(out[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(pb.buf))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(pb.buf)))
	return append(out, pb.buf...), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (m *Manifest) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != binaryMagic {
		return fmt.Errorf("%w: invalid magic %#x", ErrCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != binaryVersion {
		return fmt.Errorf("%w: %d", ErrIncompatibleVersion, v)
	}
	length := binary.LittleEndian.Uint32(data[12:16])
	payload := data[headerSize:]
	if uint64(len(payload)) != uint64(length) {
		return fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(payload), length)
	}
	if hash.CRC32C(payload) != binary.LittleEndian.Uint32(data[8:12]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := &payloadBuffer{buf: payload}
	m.Version = binaryVersion
	m.ID = pb.uvarint()
	m.CreatedAt = time.Unix(0, int64(pb.uvarint()))
	m.NextBarrelID = model.BarrelID(pb.uvarint())
	m.Kind = model.CompressionKind(pb.uvarint())

	n := pb.count()
	m.Barrels = make([]model.BarrelInfo, 0, n)
	for i := 0; i < n && pb.err == nil; i++ {
		var b model.BarrelInfo
		b.ID = model.BarrelID(pb.uvarint())
		b.Name = pb.string()
		b.DocCount = pb.uvarint()
		b.BaseDocID = pb.uvarint()
		b.LastDocID = pb.uvarint()
		b.Kind = model.CompressionKind(pb.uvarint())
		b.CTF = pb.uvarint()
		b.TermCount = pb.uvarint()
		b.Size = int64(pb.uvarint())
		b.Level = int(pb.uvarint())
		m.Barrels = append(m.Barrels, b)
	}
	levels := pb.count()
	m.MergeCounts = make([]uint64, 0, levels)
	for i := 0; i < levels && pb.err == nil; i++ {
		m.MergeCounts = append(m.MergeCounts, pb.uvarint())
	}
	if pb.err == nil && pb.pos != len(pb.buf) {
		pb.err = fmt.Errorf("%d trailing bytes", len(pb.buf)-pb.pos)
	}
	if pb.err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, pb.err)
	}
	return nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func (p *payloadBuffer) putUvarint(v uint64) {
	p.buf = binary.AppendUvarint(p.buf, v)
}

func (p *payloadBuffer) putString(s string) {
	p.putUvarint(uint64(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) uvarint() uint64 {
	if p.err != nil {
		return 0
	}
	v, n := binary.Uvarint(p.buf[p.pos:])
	if n <= 0 {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	p.pos += n
	return v
}

// count reads a length and rejects values that cannot fit the remaining payload.
func (p *payloadBuffer) count() int {
	v := p.uvarint()
	if v > uint64(len(p.buf)-p.pos) {
		if p.err == nil {
			p.err = fmt.Errorf("count %d exceeds payload", v)
		}
		return 0
	}
	return int(v)
}

func (p *payloadBuffer) string() string {
	l := p.count()
	if p.err != nil {
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}
