package checker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/integrity/checker"
	"github.com/byte4ever/integrity/digester"
	"github.com/byte4ever/integrity/report"
	"github.com/byte4ever/integrity/snapshot"
	"github.com/byte4ever/integrity/walk"
)

const storePath = "state/hashes.yml"

type fixture struct {
	fs      afero.Fs
	store   *snapshot.Store
	checker *checker.Checker
}

func newFixture(
	tb testing.TB,
	fs afero.Fs,
	mutate func(cfg *checker.Config),
) *fixture {
	tb.Helper()

	return newFixtureAt(tb, fs, storePath, mutate)
}

func newFixtureAt(
	tb testing.TB,
	fs afero.Fs,
	store string,
	mutate func(cfg *checker.Config),
) *fixture {
	tb.Helper()

	require.NoError(tb, fs.MkdirAll(filepath.Dir(store), 0o755))

	st, err := snapshot.Open(fs, snapshot.Config{Path: store})
	require.NoError(tb, err)

	tb.Cleanup(func() { _ = st.Close() })

	dg, err := digester.New(fs, digester.SHA256)
	require.NoError(tb, err)

	cfg := checker.Config{
		Store:    st,
		Digester: dg,
		Walker: walk.New(fs, walk.Options{
			Exclude: []string{store},
		}),
	}

	if mutate != nil {
		mutate(&cfg)
	}

	ch, err := checker.New(cfg)
	require.NoError(tb, err)

	return &fixture{fs: fs, store: st, checker: ch}
}

func (fx *fixture) write(tb testing.TB, path string, content string) {
	tb.Helper()

	require.NoError(tb, fx.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(tb, afero.WriteFile(fx.fs, path, []byte(content), 0o600))
}

func (fx *fixture) load(tb testing.TB) snapshot.Snapshot {
	tb.Helper()

	snap, err := fx.store.Load()
	require.NoError(tb, err)

	return snap
}

func statuses(rep *report.Report) map[string]report.Status {
	out := make(map[string]report.Status, len(rep.Results))
	for _, res := range rep.Results {
		out[res.Path] = res.Status
	}

	return out
}

func TestNew_requires_collaborators(t *testing.T) {
	t.Parallel()

	_, err := checker.New(checker.Config{})

	assert.Error(t, err)
}

func TestInit_then_check_is_unmodified(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "alpha")
	fx.write(t, "tree/sub/b.txt", "beta")

	rep, err := fx.checker.Init(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, map[string]report.Status{
		"tree/a.txt":     report.Stored,
		"tree/sub/b.txt": report.Stored,
	}, statuses(rep))

	rep, err = fx.checker.Check(ctx, "tree")
	require.NoError(t, err)

	assert.True(t, rep.IsDir)
	assert.Equal(t, map[string]report.Status{
		"tree/a.txt":     report.Unmodified,
		"tree/sub/b.txt": report.Unmodified,
	}, statuses(rep))
	assert.False(t, rep.Changed())
}

func TestInit_replaces_previous_snapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "one/a.txt", "a")
	fx.write(t, "two/b.txt", "b")

	_, err := fx.checker.Init(ctx, "one")
	require.NoError(t, err)

	_, err = fx.checker.Init(ctx, "two")
	require.NoError(t, err)

	assert.Equal(t, []string{"two/b.txt"}, fx.load(t).Paths())
}

func TestInit_single_file(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "a.txt", "hello")

	rep, err := fx.checker.Init(context.Background(), "./a.txt")
	require.NoError(t, err)
	assert.False(t, rep.IsDir)

	assert.Equal(t, snapshot.Snapshot{
		"a.txt": "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
	}, fx.load(t))
}

func TestInit_missing_root_keeps_store(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "a.txt", "a")

	_, err := fx.checker.Init(ctx, "a.txt")
	require.NoError(t, err)

	_, err = fx.checker.Init(ctx, "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Equal(t, []string{"a.txt"}, fx.load(t).Paths())
}

// flakyFs fails to open one file for reading.
type flakyFs struct {
	afero.Fs
	broken string
}

var errDenied = errors.New("permission denied")

func (f flakyFs) Open(name string) (afero.File, error) {
	if filepath.Clean(name) == f.broken {
		return nil, &os.PathError{Op: "open", Path: name, Err: errDenied}
	}

	return f.Fs.Open(name)
}

func TestInit_reports_unstorable_names(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "a")
	fx.write(t, "tree/bad\xffname", "b")

	rep, err := fx.checker.Init(context.Background(), "tree")
	require.NoError(t, err)

	assert.Equal(t, map[string]report.Status{
		"tree/a.txt":       report.Stored,
		"tree/bad\xffname": report.Error,
	}, statuses(rep))
	assert.ErrorIs(t, rep.Results[1].Err, snapshot.ErrInvalidKey)
	assert.Equal(t, []string{"tree/a.txt"}, fx.load(t).Paths())
}

func TestUpdate_rejects_unstorable_name(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "bad\xffname", "b")

	_, err := fx.checker.Update(context.Background(), "bad\xffname")

	require.ErrorIs(t, err, snapshot.ErrInvalidKey)
	assert.Empty(t, fx.load(t))
}

func TestInit_isolates_per_file_failures(t *testing.T) {
	t.Parallel()

	fs := flakyFs{Fs: afero.NewMemMapFs(), broken: "tree/b.txt"}
	fx := newFixture(t, fs, nil)
	fx.write(t, "tree/a.txt", "a")
	fx.write(t, "tree/b.txt", "b")
	fx.write(t, "tree/c.txt", "c")

	rep, err := fx.checker.Init(context.Background(), "tree")
	require.NoError(t, err)

	assert.True(t, rep.Failed())
	assert.Equal(t, map[string]report.Status{
		"tree/a.txt": report.Stored,
		"tree/b.txt": report.Error,
		"tree/c.txt": report.Stored,
	}, statuses(rep))

	assert.Equal(t, []string{"tree/a.txt", "tree/c.txt"}, fx.load(t).Paths())
}

func TestCheck_isolates_per_file_failures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := afero.NewMemMapFs()
	fx := newFixture(t, base, nil)
	fx.write(t, "tree/a.txt", "a")
	fx.write(t, "tree/b.txt", "b")

	_, err := fx.checker.Init(ctx, "tree")
	require.NoError(t, err)

	broken := newFixture(t, flakyFs{Fs: base, broken: "tree/a.txt"}, nil)

	rep, err := broken.checker.Check(ctx, "tree")
	require.NoError(t, err)

	assert.Equal(t, map[string]report.Status{
		"tree/a.txt": report.Error,
		"tree/b.txt": report.Unmodified,
	}, statuses(rep))
	assert.ErrorIs(t, rep.Results[0].Err, errDenied)
}

func TestCheck_detects_modification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "alpha")
	fx.write(t, "tree/b.txt", "beta")

	_, err := fx.checker.Init(ctx, "tree")
	require.NoError(t, err)

	fx.write(t, "tree/a.txt", "alpha!")

	rep, err := fx.checker.Check(ctx, "tree")
	require.NoError(t, err)

	assert.Equal(t, map[string]report.Status{
		"tree/a.txt": report.Modified,
		"tree/b.txt": report.Unmodified,
	}, statuses(rep))
	assert.True(t, rep.Changed())

	mod := rep.Results[0]
	assert.NotEqual(t, mod.Stored, mod.Digest)
	assert.Len(t, mod.Digest, 64)
}

func TestCheck_unknown_file(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tracked.txt", "x")
	fx.write(t, "new.txt", "y")

	_, err := fx.checker.Init(ctx, "tracked.txt")
	require.NoError(t, err)

	rep, err := fx.checker.Check(ctx, "new.txt")
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, report.Result{
		Path:   "new.txt",
		Status: report.Unknown,
	}, rep.Results[0])
}

func TestCheck_keys_are_exact_strings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	fx := newFixtureAt(t, afero.NewOsFs(), filepath.Join(dir, "hashes.yml"), nil)

	realDir := filepath.Join(dir, "real")
	fx.write(t, filepath.Join(realDir, "a.txt"), "a")

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(realDir, link))

	_, err := fx.checker.Init(ctx, realDir)
	require.NoError(t, err)

	rep, err := fx.checker.Check(ctx, link)
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, filepath.Join(link, "a.txt"), rep.Results[0].Path)
	assert.Equal(t, report.Unknown, rep.Results[0].Status)
}

func TestCheck_absolute_keys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	t.Chdir(dir)

	fx := newFixtureAt(t, afero.NewOsFs(), "hashes.yml", func(cfg *checker.Config) {
		cfg.AbsolutePaths = true
	})
	fx.write(t, "tree/a.txt", "a")

	_, err := fx.checker.Init(ctx, "tree")
	require.NoError(t, err)

	abs, err := filepath.Abs("tree/a.txt")
	require.NoError(t, err)

	assert.Equal(t, []string{abs}, fx.load(t).Paths())

	for _, pa := range []string{abs, "tree/a.txt", "./tree/a.txt"} {
		rep, err := fx.checker.Check(ctx, pa)
		require.NoError(t, err)

		require.Len(t, rep.Results, 1)
		assert.Equal(t, report.Unmodified, rep.Results[0].Status, pa)
	}
}

func TestCheck_does_not_write_store(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "a.txt", "a")

	_, err := fx.checker.Check(ctx, "a.txt")
	require.NoError(t, err)

	exists, err := afero.Exists(fx.fs, storePath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCheck_malformed_store_is_fatal(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "a.txt", "a")
	fx.write(t, storePath, "a.txt: not-a-digest\n")

	_, err := fx.checker.Check(context.Background(), "a.txt")

	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrMalformed)
}

func TestCheck_report_missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), func(cfg *checker.Config) {
		cfg.ReportMissing = true
	})
	fx.write(t, "tree/a.txt", "a")
	fx.write(t, "tree/gone.txt", "g")
	fx.write(t, "other/c.txt", "c")

	_, err := fx.checker.Init(ctx, "tree")
	require.NoError(t, err)

	_, err = fx.checker.Update(ctx, "other/c.txt")
	require.NoError(t, err)

	require.NoError(t, fx.fs.Remove("tree/gone.txt"))
	require.NoError(t, fx.fs.Remove("other/c.txt"))

	rep, err := fx.checker.Check(ctx, "tree")
	require.NoError(t, err)

	assert.Equal(t, map[string]report.Status{
		"tree/a.txt":    report.Unmodified,
		"tree/gone.txt": report.Missing,
	}, statuses(rep))
}

func TestCheck_missing_not_reported_by_default(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "a")
	fx.write(t, "tree/gone.txt", "g")

	_, err := fx.checker.Init(ctx, "tree")
	require.NoError(t, err)

	require.NoError(t, fx.fs.Remove("tree/gone.txt"))

	rep, err := fx.checker.Check(ctx, "tree")
	require.NoError(t, err)

	assert.Equal(t, map[string]report.Status{
		"tree/a.txt": report.Unmodified,
	}, statuses(rep))
}

func TestUpdate_changes_only_target(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "a")
	fx.write(t, "tree/b.txt", "b")

	_, err := fx.checker.Init(ctx, "tree")
	require.NoError(t, err)

	before := fx.load(t)

	fx.write(t, "tree/a.txt", "a2")
	fx.write(t, "tree/b.txt", "b2")

	rep, err := fx.checker.Update(ctx, "tree/a.txt")
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, report.Stored, rep.Results[0].Status)
	assert.Equal(t, before["tree/a.txt"], rep.Results[0].Stored)

	after := fx.load(t)
	assert.NotEqual(t, before["tree/a.txt"], after["tree/a.txt"])
	assert.Equal(t, before["tree/b.txt"], after["tree/b.txt"])

	check, err := fx.checker.Check(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, map[string]report.Status{
		"tree/a.txt": report.Unmodified,
		"tree/b.txt": report.Modified,
	}, statuses(check))
}

func TestUpdate_adds_new_entry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "a.txt", "a")
	fx.write(t, "b.txt", "b")

	_, err := fx.checker.Init(ctx, "a.txt")
	require.NoError(t, err)

	_, err = fx.checker.Update(ctx, "b.txt")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt"}, fx.load(t).Paths())
}

func TestUpdate_rejects_directory_without_touching_store(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "a")

	_, err := fx.checker.Update(ctx, "tree")
	require.ErrorIs(t, err, checker.ErrNotFile)

	_, err = fx.checker.Update(ctx, "absent.txt")
	require.ErrorIs(t, err, checker.ErrNotFile)

	exists, err := afero.Exists(fx.fs, storePath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdate_does_not_read_store_for_directory(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "a")
	fx.write(t, storePath, "::: broken")

	_, err := fx.checker.Update(context.Background(), "tree")

	require.ErrorIs(t, err, checker.ErrNotFile)
	assert.NotErrorIs(t, err, snapshot.ErrMalformed)
}

func TestInit_cancelled_context(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.checker.Init(ctx, "tree")

	require.ErrorIs(t, err, context.Canceled)

	exists, err := afero.Exists(fx.fs, storePath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCheckChanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, afero.NewMemMapFs(), nil)
	fx.write(t, "tree/a.txt", "a")
	fx.write(t, "tree/b.txt", "b")

	_, err := fx.checker.Init(ctx, "tree")
	require.NoError(t, err)

	fx.write(t, "tree/a.txt", "changed")
	fx.write(t, "tree/new.txt", "n")
	require.NoError(t, fx.fs.Remove("tree/b.txt"))
	require.NoError(t, fx.fs.MkdirAll("tree/dir", 0o755))

	got, err := fx.checker.CheckChanged("tree", []string{
		"tree/a.txt",
		"tree/b.txt",
		"tree/new.txt",
		"tree/dir",
		"tree/vanished-untracked.txt",
		storePath,
	})
	require.NoError(t, err)

	rep := &report.Report{Results: got}
	assert.Equal(t, map[string]report.Status{
		"tree/a.txt":   report.Modified,
		"tree/b.txt":   report.Missing,
		"tree/new.txt": report.Unknown,
	}, statuses(rep))
}
