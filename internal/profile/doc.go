// Package profile manages the persisted browser profile directory.
//
// A single writer works on the master copy under an OS file lock taken with
// TryLock; a second writer fails with ErrWriteLocked instead of waiting.
// Readers never touch the lock: each gets its own copy of master under
// clones/, deleted again on release. Readers may therefore see a master that
// a concurrent writer is still changing.
package profile
