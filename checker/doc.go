// Package checker implements the init, check and update commands on top of
// a digester, a snapshot store and a walker.
//
// Init replaces the stored snapshot with the digests of every file under a
// tracked path. Check compares current digests with the stored ones and
// classifies each file. Update recomputes and upserts a single file.
// Failures on individual files become Error results so one unreadable file
// never aborts a walk; only store and root failures are returned as errors.
package checker
