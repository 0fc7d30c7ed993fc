// Package barrel provides an embedded inverted index built from immutable
// barrels that are merged in the background.
//
// Documents are indexed in batches. Each committed batch becomes a barrel:
// an immutable blob holding the compressed posting lists of its terms.
// A tiered merge policy combines barrels of similar size so the number of
// barrels stays logarithmic in the number of documents.
//
// # Quick Start
//
//	ctx := context.Background()
//	store := blobstore.NewLocalStore("./data")
//	ix, _ := barrel.Open(ctx, store)
//	defer ix.Close()
//
//	b := ix.NewBatch()
//	b.AddDocument(1, []string{"the", "quick", "brown", "fox"})
//	b.AddDocument(2, []string{"the", "lazy", "dog"})
//	b.Commit(ctx)
//
//	snap, _ := ix.Snapshot()
//	defer snap.Close()
//	p, _ := snap.Postings(ctx, "the")
//	for p.Next() {
//	    fmt.Println(p.Doc(), p.Freq())
//	}
//
// # Compaction
//
// A barrel of n documents belongs to tier floor(log_C(n)), where C is the
// collision factor (3 by default). Once a tier collects C barrels they are
// merged into one barrel of the next tier, which can cascade upwards. Merges
// run on a background goroutine unless the index is opened with
// WithMergeMode("sync").
//
//	ix.Pause()          // no new merges start
//	ix.Resume()
//	ix.WaitForFinish()  // drain queued merges
//	ix.Optimize(ctx)    // merge everything into one barrel
//
// # Deletions
//
// Delete hides documents from snapshots taken afterwards. Merges drop
// deleted documents physically and recompute document frequencies.
//
// # Durability
//
// The set of live barrels is recorded in a versioned manifest. A new barrel
// becomes visible only after the manifest naming it was written, and
// replaced barrels are deleted once the last snapshot using them is closed.
//
// # Errors
//
// Errors can be matched with errors.Is against ErrCorruptData,
// ErrCorruptSegment, ErrOutOfMemory, ErrIllegalArgument, ErrEmptySegment and
// ErrClosed. Failed merges are reported as *MergeError.
package barrel
