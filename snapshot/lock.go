package snapshot

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

// ErrLocked is returned by Open when another process holds
// the lock file.
var ErrLocked = errors.New("snapshot store is locked")

// LockPath returns the lock file used for the document at
// path.
func LockPath(path string) string {
	if path == "" {
		path = DefaultPath
	}

	return path + ".lock"
}

type fileLock struct {
	fs   afero.Fs
	path string
	file afero.File
}

// acquireLock creates the lock file exclusively and records
// the owning pid and time in it.
func acquireLock(
	fs afero.Fs,
	path string,
	breakLock bool,
) (*fileLock, error) {
	const errCtx = "acquiring lock"

	if breakLock {
		if err := fs.Remove(path); err != nil &&
			!errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf(
				"%s: breaking %s: %w", errCtx, path, err,
			)
		}
	}

	fi, err := fs.OpenFile(
		path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600,
	)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf(
			"%s: %s: %w", errCtx, path, ErrLocked,
		)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	body := "pid=" + strconv.Itoa(os.Getpid()) + "\n" +
		"time=" + time.Now().UTC().Format(time.RFC3339Nano) + "\n"

	if _, err := fi.WriteString(body); err != nil {
		_ = fi.Close()      //nolint:errcheck // write error wins
		_ = fs.Remove(path) //nolint:errcheck // best-effort cleanup

		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &fileLock{fs: fs, path: path, file: fi}, nil
}

func (lk *fileLock) release() error {
	closeErr := lk.file.Close()

	if err := lk.fs.Remove(lk.path); err != nil &&
		!errors.Is(err, os.ErrNotExist) {
		return err
	}

	return closeErr
}
