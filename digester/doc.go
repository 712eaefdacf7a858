// Package digester calculates and verifies content digests of regular files.
// Files are streamed through a 256-bit hash in fixed-size chunks so memory
// use does not depend on file size. SHA256 is the default algorithm; BLAKE3
// is available for large trees.
package digester
