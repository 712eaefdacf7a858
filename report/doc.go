// Package report collects per-file outcomes of the init, check and update
// commands and renders them. Text reproduces the classic console output,
// JSON emits a machine-readable document, and Template formats one line per
// result with {tag} placeholders.
package report
