package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/byte4ever/integrity/digester"
	"github.com/byte4ever/integrity/report"
	"github.com/byte4ever/integrity/snapshot"
	"github.com/byte4ever/integrity/walk"
)

// ErrNotFile is returned by Update when the path is not an
// existing regular file.
var ErrNotFile = errors.New("not a valid file path")

// Config holds the collaborators and options of a Checker.
type Config struct {
	// Store persists the snapshot.
	Store *snapshot.Store

	// Digester hashes file content.
	Digester *digester.Digester

	// Walker expands tracked paths.
	Walker *walk.Walker

	// AbsolutePaths keys the snapshot by absolute path
	// instead of the path as given.
	AbsolutePaths bool

	// ReportMissing makes Check report stored paths under
	// the checked directory that no longer exist.
	ReportMissing bool
}

// Checker runs the snapshot commands.
type Checker struct {
	cfg Config
}

// New validates cfg and returns a Checker.
func New(cfg Config) (*Checker, error) {
	const errCtx = "creating checker"

	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: store must be set", errCtx)
	}

	if cfg.Digester == nil {
		return nil, fmt.Errorf("%s: digester must be set", errCtx)
	}

	if cfg.Walker == nil {
		return nil, fmt.Errorf("%s: walker must be set", errCtx)
	}

	return &Checker{cfg: cfg}, nil
}

// Init hashes every file under path and replaces the stored
// snapshot with exactly those entries. Files that cannot be
// hashed are reported as Error results and left out; the
// remaining entries are still saved.
func (c *Checker) Init(
	ctx context.Context,
	path string,
) (*report.Report, error) {
	const errCtx = "initializing snapshot"

	tg, err := c.cfg.Walker.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	items, err := c.cfg.Walker.Files(ctx, tg.Root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	rep := &report.Report{
		Kind:  report.KindInit,
		Root:  tg.Root,
		IsDir: tg.IsDir,
	}

	snap := snapshot.New()

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		if it.Err != nil {
			rep.Add(errorResult(it.Path, it.Err))

			continue
		}

		key, err := walk.Key(it.Path, c.cfg.AbsolutePaths)
		if err != nil {
			rep.Add(errorResult(it.Path, err))

			continue
		}

		if err := snapshot.ValidKey(key); err != nil {
			rep.Add(errorResult(key, err))

			continue
		}

		dg, err := c.cfg.Digester.CalculateDigest(it.Path)
		if err != nil {
			rep.Add(errorResult(key, err))

			continue
		}

		snap.Set(key, dg)
		rep.Add(report.Result{
			Path:   key,
			Status: report.Stored,
			Digest: dg,
		})
	}

	if err := c.cfg.Store.Save(snap); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Info(
		"snapshot initialized",
		"root", tg.Root,
		"entries", len(snap),
		"failed", rep.Counts()[report.Error],
	)

	return rep, nil
}

// Check classifies every file under path against the stored
// snapshot. Digests are recomputed on every call. The store
// is never written.
func (c *Checker) Check(
	ctx context.Context,
	path string,
) (*report.Report, error) {
	const errCtx = "checking files"

	tg, err := c.cfg.Walker.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	snap, err := c.cfg.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	items, err := c.cfg.Walker.Files(ctx, tg.Root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	rep := &report.Report{
		Kind:  report.KindCheck,
		Root:  tg.Root,
		IsDir: tg.IsDir,
	}

	seen := make(map[string]struct{}, len(items))

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		if it.Err != nil {
			rep.Add(errorResult(it.Path, it.Err))

			continue
		}

		res := c.CheckFile(snap, it.Path)
		seen[res.Path] = struct{}{}
		rep.Add(res)
	}

	if c.cfg.ReportMissing && tg.IsDir {
		missing, err := c.missing(snap, tg.Root, seen)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, res := range missing {
			rep.Add(res)
		}
	}

	slog.Info("check complete", "summary", rep.String())

	return rep, nil
}

// Update recomputes the digest of a single regular file and
// upserts it into the stored snapshot. Other entries are
// untouched. Paths that are not regular files yield
// ErrNotFile before the store is read.
func (c *Checker) Update(
	ctx context.Context,
	path string,
) (*report.Report, error) {
	const errCtx = "updating snapshot"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	tg, err := c.cfg.Walker.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w: %w", errCtx, ErrNotFile, err,
		)
	}

	if tg.IsDir {
		return nil, fmt.Errorf(
			"%s: %s: %w", errCtx, tg.Root, ErrNotFile,
		)
	}

	key, err := walk.Key(tg.Root, c.cfg.AbsolutePaths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := snapshot.ValidKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	dg, err := c.cfg.Digester.CalculateDigest(tg.Root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	snap, err := c.cfg.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	prev, _ := snap.Get(key)
	snap.Set(key, dg)

	if err := c.cfg.Store.Save(snap); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Info(
		"snapshot entry updated",
		"path", key,
		"changed", prev != dg,
	)

	return &report.Report{
		Kind: report.KindUpdate,
		Root: tg.Root,
		Results: []report.Result{{
			Path:   key,
			Status: report.Stored,
			Digest: dg,
			Stored: prev,
		}},
	}, nil
}

// CheckFile classifies one file against snap. Untracked
// files are Unknown without being hashed; tracked files are
// always rehashed.
func (c *Checker) CheckFile(
	snap snapshot.Snapshot,
	path string,
) report.Result {
	key, err := walk.Key(path, c.cfg.AbsolutePaths)
	if err != nil {
		return errorResult(path, err)
	}

	stored, ok := snap.Get(key)
	if !ok {
		return report.Result{Path: key, Status: report.Unknown}
	}

	dg, err := c.cfg.Digester.CalculateDigest(path)
	if errors.Is(err, os.ErrNotExist) {
		return report.Result{
			Path:   key,
			Status: report.Missing,
			Stored: stored,
		}
	}

	if err != nil {
		res := errorResult(key, err)
		res.Stored = stored

		return res
	}

	res := report.Result{
		Path:   key,
		Status: report.Modified,
		Digest: dg,
		Stored: stored,
	}

	if dg == stored {
		res.Status = report.Unmodified
	}

	return res
}

// CheckChanged loads the snapshot once and classifies the
// given paths found below root. Directories, excluded or
// ignored paths, and vanished untracked paths are skipped.
func (c *Checker) CheckChanged(
	root string,
	paths []string,
) ([]report.Result, error) {
	const errCtx = "checking changed files"

	snap, err := c.cfg.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var out []report.Result

	for _, pa := range paths {
		tg, err := c.cfg.Walker.Resolve(pa)

		switch {
		case errors.Is(err, os.ErrNotExist):
			key, keyErr := walk.Key(pa, c.cfg.AbsolutePaths)
			if keyErr != nil {
				continue
			}

			if stored, ok := snap.Get(key); ok {
				out = append(out, report.Result{
					Path:   key,
					Status: report.Missing,
					Stored: stored,
				})
			}

			continue
		case err != nil:
			out = append(out, errorResult(pa, err))

			continue
		case tg.IsDir:
			continue
		}

		if c.cfg.Walker.Skips(root, tg.Root, false) {
			continue
		}

		out = append(out, c.CheckFile(snap, tg.Root))
	}

	return out, nil
}

// missing returns Missing results for stored paths under
// root that were not walked and no longer exist.
func (c *Checker) missing(
	snap snapshot.Snapshot,
	root string,
	seen map[string]struct{},
) ([]report.Result, error) {
	rootKey, err := walk.Key(root, c.cfg.AbsolutePaths)
	if err != nil {
		return nil, err
	}

	var out []report.Result

	for _, key := range snap.Paths() {
		if _, ok := seen[key]; ok {
			continue
		}

		if !walk.Contains(rootKey, key) {
			continue
		}

		if _, err := c.cfg.Walker.Resolve(key); !errors.Is(err, os.ErrNotExist) {
			continue
		}

		stored, _ := snap.Get(key)
		out = append(out, report.Result{
			Path:   key,
			Status: report.Missing,
			Stored: stored,
		})
	}

	return out, nil
}

func errorResult(path string, err error) report.Result {
	slog.Warn("cannot hash file", "path", path, "error", err)

	return report.Result{
		Path:   path,
		Status: report.Error,
		Err:    err,
	}
}
