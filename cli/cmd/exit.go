package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/cli/render"
	"github.com/babi2707/segmark/types"
)

// Exit codes for orchestration commands.
const (
	exitOK              = 0
	exitUnexpected      = 1
	exitInvalidInput    = 2
	exitToolFailure     = 3
	exitProtocolFailure = 4
	exitIOFailure       = 5
	exitBusy            = 6
	exitTimeout         = 7
)

// exitCode maps a run error to the process exit code.
// NotFound shares the invalid input code: both are caller mistakes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrNotFound):
		return exitInvalidInput
	case errors.Is(err, types.ErrToolTimeout):
		return exitTimeout
	case errors.Is(err, types.ErrToolFailure):
		return exitToolFailure
	case errors.Is(err, types.ErrProtocolFailure):
		return exitProtocolFailure
	case errors.Is(err, types.ErrBusy):
		return exitBusy
	case errors.Is(err, types.ErrIOFailure):
		return exitIOFailure
	default:
		return exitUnexpected
	}
}

// fail renders the error response for err and exits with its code.
func fail(r *render.Renderer, err error) error {
	if rerr := r.Render(types.ErrorResponse(err)); rerr != nil {
		return cli.Exit(err.Error(), exitCode(err))
	}
	return cli.Exit("", exitCode(err))
}
