// Command integrity records file content digests and reports
// files whose content changed since they were recorded.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/byte4ever/integrity/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	err := cli.Run(ctx, os.Args[1:], cli.Env{
		Fs:     afero.NewOsFs(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})

	code := cli.ExitCode(err)

	switch code {
	case cli.ExitOK:
	case cli.ExitFatal:
		slog.Error("fatal", "error", err)
	default:
		slog.Warn("exiting", "code", code, "error", err)
	}

	return code
}
