// Package walk expands a tracked path into the regular files it covers.
// A file root is itself the only entry; a directory root is walked
// recursively in lexical order. Symbolic links, directories and special
// files are never entries. Directories that cannot be read are reported as
// failed items so a walk always runs to completion.
package walk
