package posting

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePostings(n int, step model.DocID, withPositions bool) []model.Posting {
	out := make([]model.Posting, n)
	doc := model.DocID(0)
	for i := range out {
		freq := uint32(i%3 + 1)
		p := model.Posting{Doc: doc, Freq: freq}
		if withPositions {
			for j := range freq {
				p.Positions = append(p.Positions, uint32(i)+j*7)
			}
		}
		out[i] = p
		doc += step + model.DocID(i%5)
	}
	return out
}

func encode(t *testing.T, opts Options, postings []model.Posting) Encoded {
	t.Helper()
	w := NewWriter(opts)
	for _, p := range postings {
		require.NoError(t, w.Add(p))
	}
	enc := w.Finish()
	// Detach from the writer's buffers.
	return Encoded{
		Skip:       append([]byte(nil), enc.Skip...),
		Postings:   append([]byte(nil), enc.Postings...),
		Positions:  append([]byte(nil), enc.Positions...),
		DF:         enc.DF,
		CTF:        enc.CTF,
		LastDoc:    enc.LastDoc,
		SkipLevels: enc.SkipLevels,
	}
}

func open(opts Options, enc Encoded) *Reader {
	return NewReader(opts, model.TermInfo{DF: enc.DF, CTF: enc.CTF}, enc.Skip, enc.Postings, enc.Positions)
}

func TestWriterReader_RoundTrip(t *testing.T) {
	kinds := []model.CompressionKind{model.ByteAlign, model.Block, model.Chunk}
	sizes := []int{1, 10, 128, 129, 1000}

	for _, kind := range kinds {
		c, err := codec.ForKind(kind, 0)
		require.NoError(t, err)
		opts := Options{Codec: c, Positions: true, SkipThreshold: 256}

		for _, n := range sizes {
			postings := makePostings(n, 3, true)
			enc := encode(t, opts, postings)

			var ctf uint64
			for _, p := range postings {
				ctf += uint64(p.Freq)
			}
			assert.Equal(t, uint64(n), enc.DF)
			assert.Equal(t, ctf, enc.CTF)
			assert.Equal(t, postings[n-1].Doc, enc.LastDoc)
			assert.Equal(t, n > 256, len(enc.Skip) > 0)

			r := open(opts, enc)
			i := 0
			for r.Next() {
				require.Less(t, i, n)
				assert.Equal(t, postings[i].Doc, r.Doc())
				assert.Equal(t, postings[i].Freq, r.Freq())
				pos, err := r.Positions()
				require.NoError(t, err)
				assert.Equal(t, postings[i].Positions, pos)
				i++
			}
			require.NoError(t, r.Err())
			assert.Equal(t, n, i, "%s n=%d", kind, n)
			assert.Equal(t, NoMoreDocs, r.Doc())
		}
	}
}

func TestWriter_RejectsBadInput(t *testing.T) {
	w := NewWriter(Options{Positions: true})
	require.NoError(t, w.Add(model.Posting{Doc: 5, Positions: []uint32{1}}))

	err := w.Add(model.Posting{Doc: 5, Positions: []uint32{1}})
	assert.ErrorIs(t, err, codec.ErrIllegalArgument)

	err = w.Add(model.Posting{Doc: 6})
	assert.ErrorIs(t, err, codec.ErrIllegalArgument)

	err = w.Add(model.Posting{Doc: 7, Freq: 2, Positions: []uint32{1}})
	assert.ErrorIs(t, err, codec.ErrIllegalArgument)

	err = w.Add(model.Posting{Doc: 8, Positions: []uint32{4, 4}})
	assert.ErrorIs(t, err, codec.ErrIllegalArgument)

	err = w.Add(model.Posting{Doc: NoMoreDocs, Freq: 1})
	assert.ErrorIs(t, err, codec.ErrIllegalArgument)
}

func TestReader_SkipTo(t *testing.T) {
	opts := Options{SkipThreshold: 512, SkipInterval: 4}
	postings := makePostings(20000, 2, false)
	enc := encode(t, opts, postings)
	require.NotEmpty(t, enc.Skip)

	r := open(opts, enc)
	last := model.DocID(0)
	for _, idx := range []int{0, 1, 300, 301, 5000, 12000, 19999} {
		target := postings[idx].Doc
		doc, err := r.SkipTo(target)
		require.NoError(t, err)
		assert.Equal(t, target, doc)
		assert.GreaterOrEqual(t, doc, last)
		last = doc
	}

	// Targets between postings land on the next one.
	r = open(opts, enc)
	doc, err := r.SkipTo(postings[700].Doc + 1)
	require.NoError(t, err)
	assert.Equal(t, postings[701].Doc, doc)
	assert.Equal(t, postings[701].Freq, r.Freq())

	doc, err = r.SkipTo(postings[19999].Doc + 1)
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
	assert.False(t, r.Next())
}

func TestReader_SkipToWithoutSkipList(t *testing.T) {
	opts := Options{}
	postings := makePostings(300, 4, false)
	enc := encode(t, opts, postings)
	require.Empty(t, enc.Skip)

	r := open(opts, enc)
	doc, err := r.SkipTo(postings[250].Doc)
	require.NoError(t, err)
	assert.Equal(t, postings[250].Doc, doc)
	require.True(t, r.Next())
	assert.Equal(t, postings[251].Doc, r.Doc())
}

func TestReader_DecodeNext(t *testing.T) {
	opts := Options{}
	postings := makePostings(300, 1, false)
	enc := encode(t, opts, postings)

	r := open(opts, enc)
	var b Batch
	total := 0
	for {
		n, err := r.DecodeNext(&b)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, 300, total)
	require.Equal(t, 300, b.Len())
	for i, p := range postings {
		assert.Equal(t, p.Doc, b.Docs[i])
		assert.Equal(t, p.Freq, b.Freqs[i])
	}
}

func TestReader_Corrupt(t *testing.T) {
	opts := Options{Positions: true}
	enc := encode(t, opts, makePostings(200, 3, true))

	r := NewReader(opts, model.TermInfo{DF: enc.DF}, nil, enc.Postings[:len(enc.Postings)/3], enc.Positions)
	for r.Next() {
	}
	assert.ErrorIs(t, r.Err(), codec.ErrCorruptData)

	r = NewReader(opts, model.TermInfo{DF: enc.DF}, nil, enc.Postings, enc.Positions[:1])
	assert.False(t, r.Next())
	assert.ErrorIs(t, r.Err(), codec.ErrCorruptData)

	// A block claiming far more positions than its position bytes can hold.
	vopts := Options{Codec: codec.VByte{}, Positions: true}
	gaps := make([]uint32, DefaultBlockSize)
	freqs := make([]uint32, DefaultBlockSize)
	for i := range gaps {
		gaps[i], freqs[i] = 1, 1
	}
	freqs[0] = math.MaxUint32
	pst, _ := codec.VByte{}.Compress(nil, gaps)
	pst, _ = codec.VByte{}.Compress(pst, freqs)
	pos := binary.AppendUvarint(nil, 4)
	pos = append(pos, 0, 1, 2, 3)

	r = NewReader(vopts, model.TermInfo{DF: DefaultBlockSize}, nil, pst, pos)
	require.True(t, r.Next())
	_, err := r.Positions()
	assert.ErrorIs(t, err, codec.ErrCorruptData)
	assert.ErrorIs(t, r.Err(), codec.ErrCorruptData)
}
