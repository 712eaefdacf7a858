package snapshot

import (
	"maps"
	"slices"
)

// Snapshot maps a tracked file path to its lowercase hex
// digest.
type Snapshot map[string]string

// New returns an empty snapshot.
func New() Snapshot {
	return make(Snapshot)
}

// Get returns the stored digest for path.
func (s Snapshot) Get(path string) (string, bool) {
	dg, ok := s[path]

	return dg, ok
}

// Set stores digest for path, replacing any previous value.
func (s Snapshot) Set(path string, digest string) {
	s[path] = digest
}

// Paths returns every key in lexical order.
func (s Snapshot) Paths() []string {
	return slices.Sorted(maps.Keys(s))
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	maps.Copy(out, s)

	return out
}

// Equal reports whether both snapshots hold the same
// entries.
func (s Snapshot) Equal(other Snapshot) bool {
	return maps.Equal(s, other)
}
