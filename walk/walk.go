package walk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrUnsupported is returned for roots that are neither a
// regular file nor a directory.
var ErrUnsupported = errors.New("not a regular file or directory")

// Options configures a Walker.
type Options struct {
	// Ignore skips matching files and directories. Nil
	// ignores nothing.
	Ignore *Ignore

	// Exclude lists paths that are never reported, such
	// as the snapshot document itself.
	Exclude []string
}

// Target describes a resolved tracked path.
type Target struct {
	// Root is the cleaned path as given by the caller.
	Root string
	// IsDir is true when Root is walked recursively.
	IsDir bool
}

// Item is one walked file. Err is set when the entry could
// not be listed; Path is still the entry location.
type Item struct {
	Path string
	Err  error
}

// Walker enumerates regular files on an afero filesystem.
type Walker struct {
	fs      afero.Fs
	ignore  *Ignore
	exclude map[string]struct{}
}

// New returns a Walker over fs.
func New(fs afero.Fs, opts Options) *Walker {
	ex := make(map[string]struct{}, len(opts.Exclude))

	for _, p := range opts.Exclude {
		if p == "" {
			continue
		}

		ex[absKey(p)] = struct{}{}
	}

	return &Walker{
		fs:      fs,
		ignore:  opts.Ignore,
		exclude: ex,
	}
}

// Resolve stats root, following symbolic links, and tells
// whether it is a file or a directory.
func (w *Walker) Resolve(root string) (Target, error) {
	const errCtx = "resolving tracked path"

	clean := filepath.Clean(root)

	info, err := w.fs.Stat(clean)
	if err != nil {
		return Target{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	switch {
	case info.Mode().IsRegular():
		return Target{Root: clean}, nil
	case info.IsDir():
		return Target{Root: clean, IsDir: true}, nil
	default:
		return Target{}, fmt.Errorf(
			"%s: %s: %w", errCtx, clean, ErrUnsupported,
		)
	}
}

// Files returns the items covered by root. The error is
// non-nil only when root itself cannot be resolved or ctx
// is cancelled.
func (w *Walker) Files(
	ctx context.Context,
	root string,
) ([]Item, error) {
	const errCtx = "walking files"

	tg, err := w.Resolve(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if !tg.IsDir {
		return []Item{{Path: tg.Root}}, nil
	}

	var items []Item

	err = afero.Walk(
		w.fs, w.walkRoot(tg.Root),
		func(path string, info os.FileInfo, walkErr error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if walkErr != nil {
				slog.Warn(
					"cannot read entry",
					"path", path,
					"error", walkErr,
				)

				items = append(items, Item{Path: path, Err: walkErr})

				return nil
			}

			if filepath.Clean(path) != tg.Root &&
				w.Skips(tg.Root, path, info.IsDir()) {
				if info.IsDir() {
					return filepath.SkipDir
				}

				return nil
			}

			if !info.Mode().IsRegular() {
				return nil
			}

			items = append(items, Item{Path: path})

			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Debug(
		"walk complete",
		"root", tg.Root,
		"items", len(items),
	)

	return items, nil
}

// Contains reports whether path lies under the directory
// root, comparing cleaned path strings.
func Contains(root string, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)

	if root == "." {
		return !filepath.IsAbs(path) &&
			path != ".." &&
			!strings.HasPrefix(path, ".."+string(filepath.Separator))
	}

	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// Key returns the snapshot key for path: the cleaned path,
// or its absolute form when absolute is set.
func Key(path string, absolute bool) (string, error) {
	if !absolute {
		return filepath.Clean(path), nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("making %s absolute: %w", path, err)
	}

	return abs, nil
}

// walkRoot appends a separator to a symlinked directory
// root so the walk descends into its target.
func (w *Walker) walkRoot(root string) string {
	lst, ok := w.fs.(afero.Lstater)
	if !ok {
		return root
	}

	info, _, err := lst.LstatIfPossible(root)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return root
	}

	return root + string(filepath.Separator)
}

// Skips reports whether path, found below root, is
// excluded or ignored.
func (w *Walker) Skips(root string, path string, isDir bool) bool {
	if _, ok := w.exclude[absKey(path)]; ok {
		return true
	}

	if w.ignore == nil {
		return false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return w.ignore.Match(rel, isDir)
}

func absKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}

	return abs
}
