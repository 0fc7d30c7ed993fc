// Package blobstore is the storage collaborator of the barrel index.
//
// A BlobStore exposes named, immutable byte ranges (barrels, manifests,
// deletion filters). Blobs are written once through Create or Put and
// published under their final name with Rename. Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem, mmap-backed reads, atomic rename
//   - MemoryStore: In-memory store for tests
//   - minio.Store: MinIO / S3-compatible object storage
//   - s3.Store: Amazon S3 with range reads and streaming uploads
//
// Object stores have no rename primitive; Rename is a server-side copy
// followed by a delete of the source.
package blobstore
