package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DefaultPath is the document used when no path is
// configured, resolved against the working directory.
const DefaultPath = ".file_hashes.yml"

// ErrClosed is returned by Load and Save after Close.
var ErrClosed = errors.New("snapshot store is closed")

// Config holds the settings for opening a Store.
type Config struct {
	// Path is the snapshot document location. Empty
	// means DefaultPath.
	Path string

	// Lock takes an exclusive lock file next to the
	// document for the lifetime of the Store.
	Lock bool

	// BreakLock removes an existing lock file before
	// acquiring it. Only meaningful with Lock.
	BreakLock bool
}

// Store reads and replaces one snapshot document. Create
// with Open and release with Close.
type Store struct {
	fs     afero.Fs
	path   string
	codec  Codec
	lock   *fileLock
	closed bool
}

// Open returns a Store bound to cfg.Path. The document is
// not read until Load.
func Open(fs afero.Fs, cfg Config) (*Store, error) {
	const errCtx = "opening snapshot store"

	if fs == nil {
		return nil, fmt.Errorf(
			"%s: filesystem must be set", errCtx,
		)
	}

	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}

	st := &Store{
		fs:    fs,
		path:  path,
		codec: CodecFor(path),
	}

	if cfg.Lock {
		lk, err := acquireLock(
			fs, LockPath(path), cfg.BreakLock,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		st.lock = lk
	}

	slog.Debug(
		"snapshot store opened",
		"path", path,
		"codec", st.codec.Name(),
		"locked", cfg.Lock,
	)

	return st, nil
}

// Path returns the document location.
func (st *Store) Path() string {
	return st.path
}

// Load reads the document. A missing document yields an
// empty Snapshot.
func (st *Store) Load() (Snapshot, error) {
	const errCtx = "loading snapshot"

	if st.closed {
		return nil, fmt.Errorf("%s: %w", errCtx, ErrClosed)
	}

	data, err := afero.ReadFile(st.fs, st.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	snap, err := st.codec.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %s: %w", errCtx, st.path, err,
		)
	}

	slog.Debug(
		"snapshot loaded",
		"path", st.path,
		"entries", len(snap),
	)

	return snap, nil
}

// Save replaces the document with snap. The content is
// written to a temporary file in the same directory and
// renamed over the document.
func (st *Store) Save(snap Snapshot) (retErr error) {
	const errCtx = "saving snapshot"

	if st.closed {
		return fmt.Errorf("%s: %w", errCtx, ErrClosed)
	}

	if snap == nil {
		snap = New()
	}

	data, err := st.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	tmp, err := afero.TempFile(
		st.fs,
		filepath.Dir(st.path),
		filepath.Base(st.path)+".tmp-*",
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	tmpName := tmp.Name()

	defer func() {
		if retErr != nil {
			_ = st.fs.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck // write error wins

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // sync error wins

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := st.fs.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := st.fs.Rename(tmpName, st.path); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Debug(
		"snapshot saved",
		"path", st.path,
		"entries", len(snap),
	)

	return nil
}

// Close releases the lock file if one was taken. Calling
// Close more than once is a no-op.
func (st *Store) Close() error {
	const errCtx = "closing snapshot store"

	if st.closed {
		return nil
	}

	st.closed = true

	if st.lock == nil {
		return nil
	}

	if err := st.lock.release(); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
