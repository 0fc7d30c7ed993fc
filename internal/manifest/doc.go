// Package manifest persists the committed barrel set of an index.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x42524D46 ("BRMF")
//	  Version  (4 bytes) - format version (currently 1)
//	  Checksum (4 bytes) - CRC32C of payload
//	  Length   (4 bytes) - payload length in bytes
//
//	Payload (uvarints):
//	  ID, CreatedAt (unix nanos), NextBarrelID, Kind
//	  NumBarrels, then per barrel:
//	    ID, Name, DocCount, BaseDocID, LastDocID, Kind, CTF, TermCount, Size, Level
//	  NumTiers, then the merge count of each tier
//
// # Atomic Protocol
//
// Save writes MANIFEST-NNNNNN.bin and then rewrites CURRENT to name it.
// Both writes go through BlobStore.Put, which is atomic for every backend,
// so a crash leaves CURRENT naming either the old or the new version.
package manifest
