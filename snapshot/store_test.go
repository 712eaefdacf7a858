package snapshot_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/integrity/snapshot"
)

func openStore(
	tb testing.TB,
	fs afero.Fs,
	cfg snapshot.Config,
) *snapshot.Store {
	tb.Helper()

	st, err := snapshot.Open(fs, cfg)
	require.NoError(tb, err)

	tb.Cleanup(func() {
		assert.NoError(tb, st.Close())
	})

	return st
}

func TestStore_default_path(t *testing.T) {
	t.Parallel()

	st := openStore(t, afero.NewMemMapFs(), snapshot.Config{})

	assert.Equal(t, snapshot.DefaultPath, st.Path())
}

func TestStore_Load_missing_document_is_empty(t *testing.T) {
	t.Parallel()

	st := openStore(t, afero.NewMemMapFs(), snapshot.Config{})

	snap, err := st.Load()

	require.NoError(t, err)
	assert.Empty(t, snap)
	assert.NotNil(t, snap)
}

func TestStore_Load_empty_document_is_empty(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, snapshot.DefaultPath, nil, 0o644))

	st := openStore(t, fs, snapshot.Config{})

	snap, err := st.Load()

	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestStore_Load_malformed_document(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(
		fs, snapshot.DefaultPath, []byte("[unterminated"), 0o644,
	))

	st := openStore(t, fs, snapshot.Config{})

	_, err := st.Load()

	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrMalformed)
	assert.Contains(t, err.Error(), "loading snapshot")
}

func TestStore_save_load_roundtrip(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"state/hashes.yml", "state/hashes.json"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll("state", 0o755))

			st := openStore(t, fs, snapshot.Config{Path: path})

			want := snapshot.Snapshot{"a": digestA, "b/c": digestB}
			require.NoError(t, st.Save(want))

			first, err := st.Load()
			require.NoError(t, err)
			assert.Equal(t, want, first)

			require.NoError(t, st.Save(first))

			second, err := st.Load()
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestStore_Save_replaces_and_leaves_no_temp_files(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	st := openStore(t, fs, snapshot.Config{})

	require.NoError(t, st.Save(snapshot.Snapshot{"old": digestA}))
	require.NoError(t, st.Save(snapshot.Snapshot{"new": digestB}))

	got, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{"new": digestB}, got)

	entries, err := afero.ReadDir(fs, ".")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, snapshot.DefaultPath, entries[0].Name())
}

func TestStore_Save_nil_writes_empty_document(t *testing.T) {
	t.Parallel()

	st := openStore(t, afero.NewMemMapFs(), snapshot.Config{})

	require.NoError(t, st.Save(nil))

	got, err := st.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_closed(t *testing.T) {
	t.Parallel()

	st, err := snapshot.Open(afero.NewMemMapFs(), snapshot.Config{})
	require.NoError(t, err)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, err = st.Load()
	require.ErrorIs(t, err, snapshot.ErrClosed)

	err = st.Save(snapshot.New())
	assert.ErrorIs(t, err, snapshot.ErrClosed)
}

func TestStore_lock_is_exclusive(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	first, err := snapshot.Open(fs, snapshot.Config{Lock: true})
	require.NoError(t, err)

	exists, err := afero.Exists(fs, snapshot.LockPath(""))
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = snapshot.Open(fs, snapshot.Config{Lock: true})
	require.ErrorIs(t, err, snapshot.ErrLocked)

	require.NoError(t, first.Close())

	exists, err = afero.Exists(fs, snapshot.LockPath(""))
	require.NoError(t, err)
	assert.False(t, exists)

	second, err := snapshot.Open(fs, snapshot.Config{Lock: true})
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestStore_break_lock(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(
		fs, snapshot.LockPath("h.yml"), []byte("pid=1\n"), 0o600,
	))

	_, err := snapshot.Open(fs, snapshot.Config{Path: "h.yml", Lock: true})
	require.ErrorIs(t, err, snapshot.ErrLocked)

	st, err := snapshot.Open(fs, snapshot.Config{
		Path: "h.yml", Lock: true, BreakLock: true,
	})
	require.NoError(t, err)
	assert.NoError(t, st.Close())
}

func TestOpen_requires_filesystem(t *testing.T) {
	t.Parallel()

	_, err := snapshot.Open(nil, snapshot.Config{})

	assert.Error(t, err)
}
