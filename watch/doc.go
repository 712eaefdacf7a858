// Package watch re-checks tracked files as they change. It watches a tree
// with fsnotify, coalesces bursts of events per path for a debounce
// interval, then classifies every touched regular file against the stored
// snapshot. The snapshot is reloaded on every flush and never written.
package watch
