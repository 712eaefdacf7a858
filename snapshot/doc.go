// Package snapshot persists the path to digest mapping that represents the
// known-good state of tracked files.
//
// Snapshot is the in-memory mapping. Store binds a Snapshot to one document
// on disk: Open acquires it (optionally with an exclusive lock file), Load
// and Save read and replace the whole document, Close releases it. The
// document format is chosen by a Codec: YAML by default, JSON when the
// document path ends in ".json".
package snapshot
