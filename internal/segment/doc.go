// Package segment reads and writes barrels, the immutable on-disk units of
// the inverted index.
//
// A barrel is a single blob:
//
//	[term sections][live doc bitmap][dictionary block][footer]
//
// Each term section is [skip list][posting blocks][position blocks] as
// produced by package posting. The live doc bitmap is a serialized roaring
// bitmap of every document in the barrel. The dictionary maps terms, in
// ascending order, to their statistics and section pointers; it is
// prefix-compressed and optionally block-compressed with LZ4 or ZSTD. The
// fixed-size footer locates the other parts and carries checksums.
//
// Writers publish a barrel atomically: data goes to "<name>.brl.tmp" which
// is renamed to "<name>.brl" on Commit and deleted on Abort.
package segment
