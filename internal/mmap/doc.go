// Package mmap maps barrel and manifest files read-only into memory.
//
// The local blob store serves reads straight from the mapping, so a barrel
// reader decodes posting blocks without copying them. Mappings stay valid
// until Close; snapshots keep their barrels open, so a merge that deletes a
// barrel file does not invalidate readers still holding it.
//
// Unix builds use mmap(2) and madvise(2). Windows uses MapViewOfFile and
// ignores access advice.
package mmap
