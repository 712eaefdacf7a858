package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/byte4ever/integrity/checker"
	"github.com/byte4ever/integrity/report"
)

// DefaultDebounce is used when Config.Debounce is not
// positive.
const DefaultDebounce = 100 * time.Millisecond

// Config holds the settings of a Watcher.
type Config struct {
	// Checker classifies changed files.
	Checker *checker.Checker

	// Debounce is how long a path must stay quiet before
	// it is checked.
	Debounce time.Duration
}

// Watcher emits check results for files changing under a
// tracked path.
type Watcher struct {
	checker  *checker.Checker
	debounce time.Duration
}

// New validates cfg and returns a Watcher.
func New(cfg Config) (*Watcher, error) {
	const errCtx = "creating watcher"

	if cfg.Checker == nil {
		return nil, fmt.Errorf(
			"%s: checker must be set", errCtx,
		)
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	return &Watcher{
		checker:  cfg.Checker,
		debounce: cfg.Debounce,
	}, nil
}

// Run watches root until ctx is done, calling emit for each
// classified file. A file root is watched through its
// parent directory.
func (w *Watcher) Run(
	ctx context.Context,
	root string,
	emit func(report.Result),
) error {
	const errCtx = "watching files"

	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	defer fsw.Close() //nolint:errcheck // best-effort close

	isDir := info.IsDir()
	checkRoot := root

	if isDir {
		if err := addTree(fsw, root); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	} else {
		checkRoot = filepath.Dir(root)

		if err := fsw.Add(checkRoot); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	slog.Info(
		"watching",
		"root", root,
		"debounce", w.debounce,
	)

	pending := make(map[string]struct{})

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			name := filepath.Clean(ev.Name)

			if !isDir && name != root {
				continue
			}

			// Metadata is not tracked.
			if ev.Op == fsnotify.Chmod {
				continue
			}

			if isDir && ev.Has(fsnotify.Create) {
				w.addCreated(fsw, name, pending)
			}

			pending[name] = struct{}{}
			timer.Reset(w.debounce)

		case werr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			slog.Warn("watch error", "error", werr)

		case <-timer.C:
			if err := w.flush(checkRoot, pending, emit); err != nil {
				return fmt.Errorf("%s: %w", errCtx, err)
			}

			clear(pending)
		}
	}
}

// flush checks every pending path in lexical order.
func (w *Watcher) flush(
	root string,
	pending map[string]struct{},
	emit func(report.Result),
) error {
	paths := make([]string, 0, len(pending))
	for pa := range pending {
		paths = append(paths, pa)
	}

	slices.Sort(paths)

	results, err := w.checker.CheckChanged(root, paths)
	if err != nil {
		return err
	}

	slog.Debug(
		"flushed changes",
		"paths", len(paths),
		"results", len(results),
	)

	for _, res := range results {
		emit(res)
	}

	return nil
}

// addCreated starts watching a newly created directory and
// queues the files it already holds.
func (w *Watcher) addCreated(
	fsw *fsnotify.Watcher,
	name string,
	pending map[string]struct{},
) {
	fi, err := os.Lstat(name)
	if err != nil || !fi.IsDir() {
		return
	}

	if err := addTree(fsw, name); err != nil {
		slog.Warn("cannot watch directory", "path", name, "error", err)
	}

	_ = filepath.WalkDir( //nolint:errcheck // best-effort scan
		name,
		func(pa string, de fs.DirEntry, err error) error {
			if err == nil && de.Type().IsRegular() {
				pending[pa] = struct{}{}
			}

			return nil
		},
	)
}

// addTree watches root and every directory below it.
func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(
		root,
		func(pa string, de fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrPermission) {
					slog.Warn("cannot watch directory", "path", pa, "error", err)

					return nil
				}

				return err
			}

			if !de.IsDir() {
				return nil
			}

			if err := fsw.Add(pa); err != nil {
				return fmt.Errorf("adding %s: %w", pa, err)
			}

			return nil
		},
	)
}
