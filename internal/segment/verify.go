package segment

import (
	"context"
	"fmt"

	"github.com/hupe1980/barrel/internal/posting"
)

// VerifyStats summarizes a verified barrel.
type VerifyStats struct {
	Terms    int
	Postings uint64
	CTF      uint64
}

// Verify decodes every posting list of the barrel and checks it against the
// dictionary statistics and the live doc set. Inconsistencies are reported
// as ErrCorruptSegment; undecodable blocks keep the codec's error.
func (r *Reader) Verify(ctx context.Context) (VerifyStats, error) {
	var st VerifyStats
	for i, term := range r.terms {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		ti := r.infos[i]
		pr, err := r.PostingsFor(ctx, ti)
		if err != nil {
			return st, fmt.Errorf("term %q: %w", term, err)
		}

		var df, ctf uint64
		prev := posting.NoMoreDocs
		for pr.Next() {
			doc := pr.Doc()
			if prev != posting.NoMoreDocs && doc <= prev {
				return st, fmt.Errorf("%w: term %q: doc %d after %d", ErrCorruptSegment, term, doc, prev)
			}
			if !r.docs.Contains(uint32(doc)) {
				return st, fmt.Errorf("%w: term %q: doc %d missing from doc set", ErrCorruptSegment, term, doc)
			}
			if r.popts.Positions {
				pos, err := pr.Positions()
				if err != nil {
					return st, fmt.Errorf("term %q: positions: %w", term, err)
				}
				if uint32(len(pos)) != pr.Freq() {
					return st, fmt.Errorf("%w: term %q: doc %d has %d positions, freq %d", ErrCorruptSegment, term, doc, len(pos), pr.Freq())
				}
			}
			prev = doc
			df++
			ctf += uint64(pr.Freq())
		}
		if err := pr.Err(); err != nil {
			return st, fmt.Errorf("term %q: %w", term, err)
		}
		if df != ti.DF || ctf != ti.CTF {
			return st, fmt.Errorf("%w: term %q: decoded df=%d ctf=%d, dictionary df=%d ctf=%d",
				ErrCorruptSegment, term, df, ctf, ti.DF, ti.CTF)
		}
		st.Terms++
		st.Postings += df
		st.CTF += ctf
	}
	if st.CTF != r.info.CTF {
		return st, fmt.Errorf("%w: decoded ctf %d, footer %d", ErrCorruptSegment, st.CTF, r.info.CTF)
	}
	return st, nil
}
