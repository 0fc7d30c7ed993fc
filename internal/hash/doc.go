// Package hash holds the checksum shared by the on-disk formats.
//
// Barrel footers, term dictionaries, manifests and the persisted deletion
// filter are all guarded by CRC32C (Castagnoli), which the standard library
// computes with SSE4.2 or ARMv8 CRC instructions where available.
package hash
