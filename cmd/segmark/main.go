// Package main provides the segmark CLI entrypoint.
//
// Usage:
//
//	segmark [global options] <command> [options]
//
// Exit codes for orchestration commands:
//   - 0: success
//   - 1: unexpected error
//   - 2: invalid input or unknown image
//   - 3: tool failure
//   - 4: protocol failure
//   - 5: storage failure
//   - 6: image busy
//   - 7: tool timeout
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := cmd.App(commit)
	app.ExitErrHandler = exitErrHandler

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		stop()
		os.Exit(1)
	}
}

// exitErrHandler prints the error message when there is one and exits
// with the code carried by err.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the exit code for err and the message worth printing.
// cli.Exit("", N) carries no message; its Error() is "exit status N".
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
