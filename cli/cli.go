package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/afero"

	"github.com/byte4ever/integrity/checker"
	"github.com/byte4ever/integrity/digester"
	"github.com/byte4ever/integrity/snapshot"
	"github.com/byte4ever/integrity/walk"
)

var (
	// ErrUsage reports a malformed command line.
	ErrUsage = errors.New("usage error")

	// ErrPartial reports that some files could not be
	// processed. Everything else was still handled.
	ErrPartial = errors.New("some files could not be processed")

	// ErrChanged reports differences found by a strict
	// check.
	ErrChanged = errors.New("files differ from the snapshot")
)

// Exit statuses returned by ExitCode.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitUsage   = 2
	ExitPartial = 3
	ExitChanged = 4
)

const usage = `integrity tracks file content digests.

Usage:
  integrity [global flags] <command> [flags] <path>

Commands:
  init    Hash every file under path and replace the snapshot
  check   Compare files under path with the snapshot
  update  Rehash one file and store its digest
  watch   Check files under path as they change
  help    Print this help

A missing path makes init and check exit 1 without touching
the snapshot.

Global flags:
`

// Env carries the process resources used by Run.
type Env struct {
	// Fs is the filesystem holding the tracked files and
	// the snapshot document.
	Fs afero.Fs

	// Stdout receives reports.
	Stdout io.Writer

	// Stderr receives logs and usage messages.
	Stderr io.Writer
}

// Config holds the global settings shared by every command.
type Config struct {
	StorePath  string
	Algorithm  string
	IgnoreFile string
	Absolute   bool
	Lock       bool
	BreakLock  bool
	LogLevel   string
}

// ExitCode maps an error returned by Run to a process exit
// status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrPartial):
		return ExitPartial
	case errors.Is(err, ErrChanged):
		return ExitChanged
	default:
		return ExitFatal
	}
}

// Run parses args, without the program name, and runs the
// selected command.
func Run(ctx context.Context, args []string, env Env) error {
	if env.Fs == nil {
		env.Fs = afero.NewOsFs()
	}

	if env.Stdout == nil {
		env.Stdout = io.Discard
	}

	if env.Stderr == nil {
		env.Stderr = io.Discard
	}

	var cfg Config

	global := flag.NewFlagSet("integrity", flag.ContinueOnError)
	global.SetOutput(env.Stderr)
	global.Usage = func() { printUsage(env.Stderr, global) }

	global.StringVar(
		&cfg.StorePath, "store", snapshot.DefaultPath,
		"Snapshot document path (.json selects JSON)",
	)
	global.StringVar(
		&cfg.Algorithm, "algo", string(digester.SHA256),
		"Digest algorithm: sha256 or blake3",
	)
	global.StringVar(
		&cfg.IgnoreFile, "ignore-file", "",
		"File of gitignore patterns to skip",
	)
	global.BoolVar(
		&cfg.Absolute, "abs", false,
		"Key the snapshot by absolute path",
	)
	global.BoolVar(
		&cfg.Lock, "lock", false,
		"Hold a lock file while the store is open",
	)
	global.BoolVar(
		&cfg.BreakLock, "break-lock", false,
		"Remove a stale lock file before locking",
	)
	global.StringVar(
		&cfg.LogLevel, "log-level", "warn",
		"Log level: debug, info, warn or error",
	)

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}

		return fmt.Errorf("parsing global flags: %w: %w", err, ErrUsage)
	}

	if err := setupLogging(env.Stderr, cfg.LogLevel); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(env.Stdout, global)

		return nil
	}

	a := &app{cfg: cfg, env: env}

	switch rest[0] {
	case "help", "-h", "--help":
		printUsage(env.Stdout, global)

		return nil
	case "init":
		return a.runInit(ctx, rest[1:])
	case "check":
		return a.runCheck(ctx, rest[1:])
	case "update":
		return a.runUpdate(ctx, rest[1:])
	case "watch":
		return a.runWatch(ctx, rest[1:])
	default:
		printUsage(env.Stderr, global)

		return fmt.Errorf("unknown command %q: %w", rest[0], ErrUsage)
	}
}

func printUsage(w io.Writer, global *flag.FlagSet) {
	_, _ = io.WriteString(w, usage) //nolint:errcheck // usage output

	global.SetOutput(w)
	global.PrintDefaults()
}

// setupLogging installs a text logger on w at the named
// level as the default slog logger.
func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level

	if err := lvl.UnmarshalText(
		[]byte(strings.TrimSpace(level)),
	); err != nil {
		return fmt.Errorf("parsing log level: %w: %w", err, ErrUsage)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(
		w, &slog.HandlerOptions{Level: lvl},
	)))

	return nil
}

// app holds the parsed global configuration while a command
// runs.
type app struct {
	cfg Config
	env Env
}

// checkerOptions tweaks the checker built by openChecker.
type checkerOptions struct {
	reportMissing bool
}

// openChecker opens the snapshot store and wires a checker
// around it. The caller must close the returned store.
func (a *app) openChecker(
	opts checkerOptions,
) (*checker.Checker, *snapshot.Store, error) {
	const errCtx = "opening snapshot"

	algo, err := digester.ParseAlgorithm(a.cfg.Algorithm)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %w", errCtx, err, ErrUsage)
	}

	dg, err := digester.New(a.env.Fs, algo)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var ignore *walk.Ignore

	if a.cfg.IgnoreFile != "" {
		ignore, err = walk.LoadIgnore(a.env.Fs, a.cfg.IgnoreFile)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	st, err := snapshot.Open(a.env.Fs, snapshot.Config{
		Path:      a.cfg.StorePath,
		Lock:      a.cfg.Lock,
		BreakLock: a.cfg.BreakLock,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	wk := walk.New(a.env.Fs, walk.Options{
		Ignore: ignore,
		Exclude: []string{
			st.Path(),
			snapshot.LockPath(st.Path()),
		},
	})

	ch, err := checker.New(checker.Config{
		Store:         st,
		Digester:      dg,
		Walker:        wk,
		AbsolutePaths: a.cfg.Absolute,
		ReportMissing: opts.reportMissing,
	})
	if err != nil {
		_ = st.Close() //nolint:errcheck // already failing

		return nil, nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Debug(
		"snapshot opened",
		"store", st.Path(),
		"algorithm", algo,
		"ignore_patterns", ignore.Len(),
	)

	return ch, st, nil
}

// parseCommand parses fset and returns its single
// positional path. A help request yields flag.ErrHelp.
func parseCommand(fset *flag.FlagSet, args []string) (string, error) {
	if err := fset.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return "", err
		}

		return "", fmt.Errorf(
			"parsing %s flags: %w: %w", fset.Name(), err, ErrUsage,
		)
	}

	if fset.NArg() != 1 {
		return "", fmt.Errorf(
			"%s requires exactly one path argument: %w",
			fset.Name(), ErrUsage,
		)
	}

	return fset.Arg(0), nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	fset.SetOutput(stderr)

	return fset
}

// ignoreHelp turns a help request into success.
func ignoreHelp(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}

	return err
}
