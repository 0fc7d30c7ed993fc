// Package fs abstracts the file operations of the local blob store so that
// tests can inject write, sync, close and rename failures with FaultyFS.
package fs
