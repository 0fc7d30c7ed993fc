// Package posting encodes and decodes the posting list of a single term.
//
// A posting list is split into blocks of BlockSize postings. Every block
// stores its doc id gaps followed by its term frequencies, both encoded by
// the barrel's codec. When positions are kept, a parallel position section
// holds one length-prefixed block of position gaps per posting block.
// Posting lists whose document frequency exceeds the skip threshold also
// carry a skip list with one level-0 entry per full block.
package posting
