package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/byte4ever/integrity/checker"
	"github.com/byte4ever/integrity/report"
	"github.com/byte4ever/integrity/watch"
)

// updateInvalidPath is printed when update is given
// anything but a regular file.
const updateInvalidPath = "Error: Please provide a valid file path\n"

func (a *app) runInit(ctx context.Context, args []string) (retErr error) {
	const errCtx = "running init"

	fset := newFlagSet("init", a.env.Stderr)
	asJSON := fset.Bool("json", false, "Print the report as JSON")

	path, err := parseCommand(fset, args)
	if err != nil {
		return ignoreHelp(err)
	}

	ch, st, err := a.openChecker(checkerOptions{})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if err := st.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("%s: %w", errCtx, err)
		}
	}()

	rep, err := ch.Init(ctx, path)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	var rd report.Renderer = report.Text{}
	if *asJSON {
		rd = report.JSON{}
	}

	return a.finish(errCtx, rd, rep, false)
}

func (a *app) runCheck(ctx context.Context, args []string) (retErr error) {
	const errCtx = "running check"

	fset := newFlagSet("check", a.env.Stderr)
	asJSON := fset.Bool("json", false, "Print the report as JSON")
	format := fset.String(
		"format", "",
		"Per-file line template with {path} {status} {digest} {stored} {error}",
	)
	missing := fset.Bool(
		"missing", false,
		"Report stored files that no longer exist",
	)
	strict := fset.Bool(
		"strict", false,
		"Fail when any file is modified, unknown or missing",
	)

	path, err := parseCommand(fset, args)
	if err != nil {
		return ignoreHelp(err)
	}

	if *asJSON && *format != "" {
		return fmt.Errorf(
			"%s: -json and -format are exclusive: %w", errCtx, ErrUsage,
		)
	}

	ch, st, err := a.openChecker(checkerOptions{reportMissing: *missing})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if err := st.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("%s: %w", errCtx, err)
		}
	}()

	rep, err := ch.Check(ctx, path)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	var rd report.Renderer = report.Text{}

	switch {
	case *asJSON:
		rd = report.JSON{}
	case *format != "":
		rd = report.Template{Format: *format}
	}

	return a.finish(errCtx, rd, rep, *strict)
}

func (a *app) runUpdate(ctx context.Context, args []string) (retErr error) {
	const errCtx = "running update"

	fset := newFlagSet("update", a.env.Stderr)

	path, err := parseCommand(fset, args)
	if err != nil {
		return ignoreHelp(err)
	}

	ch, st, err := a.openChecker(checkerOptions{})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if err := st.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("%s: %w", errCtx, err)
		}
	}()

	rep, err := ch.Update(ctx, path)
	if errors.Is(err, checker.ErrNotFile) {
		slog.Debug("update refused", "path", path, "error", err)

		if _, err := io.WriteString(a.env.Stdout, updateInvalidPath); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		return nil
	}

	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return a.finish(errCtx, report.Text{}, rep, false)
}

func (a *app) runWatch(ctx context.Context, args []string) (retErr error) {
	const errCtx = "running watch"

	fset := newFlagSet("watch", a.env.Stderr)
	debounce := fset.Duration(
		"debounce", watch.DefaultDebounce,
		"Quiet period before a changed file is checked",
	)
	format := fset.String(
		"format", "",
		"Per-file line template with {path} {status} {digest} {stored} {error}",
	)

	path, err := parseCommand(fset, args)
	if err != nil {
		return ignoreHelp(err)
	}

	ch, st, err := a.openChecker(checkerOptions{})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if err := st.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("%s: %w", errCtx, err)
		}
	}()

	wa, err := watch.New(watch.Config{
		Checker:  ch,
		Debounce: *debounce,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	emit := a.watchEmitter(*format)

	start := time.Now()

	if err := wa.Run(ctx, path, emit); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Info("watch stopped", "elapsed", time.Since(start))

	return nil
}

// watchEmitter prints each watch result as it arrives,
// through the template when one is given.
func (a *app) watchEmitter(format string) func(report.Result) {
	if format != "" {
		tp := report.Template{Format: format}

		return func(res report.Result) {
			if err := tp.RenderResult(a.env.Stdout, res); err != nil {
				slog.Warn("cannot print result", "error", err)
			}
		}
	}

	return func(res report.Result) {
		rep := &report.Report{
			Kind:    report.KindCheck,
			IsDir:   true,
			Results: []report.Result{res},
		}

		if err := (report.Text{}).Render(a.env.Stdout, rep); err != nil {
			slog.Warn("cannot print result", "error", err)
		}
	}
}

// finish renders rep and turns per-file failures and, when
// strict, differences into the matching sentinel error.
func (a *app) finish(
	errCtx string,
	rd report.Renderer,
	rep *report.Report,
	strict bool,
) error {
	if err := rd.Render(a.env.Stdout, rep); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	switch {
	case rep.Failed():
		return fmt.Errorf("%s: %s: %w", errCtx, rep, ErrPartial)
	case strict && rep.Changed():
		return fmt.Errorf("%s: %s: %w", errCtx, rep, ErrChanged)
	default:
		return nil
	}
}
