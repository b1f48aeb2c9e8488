package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/cli/render"
	"github.com/babi2707/segmark/types"
)

// App returns the segmark application with every command registered.
// The caller sets ExitErrHandler and the writers.
func App(commit string) *cli.App {
	return &cli.App{
		Name:    "segmark",
		Usage:   "Run the segmentation and marker tools and keep their artifacts",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   GlobalFlags(),
		Commands: []*cli.Command{
			SegmentCommand(),
			MarkersCommand(),
			BatchMarkersCommand(),
			AnnotationCommand(),
			ImageCommand(),
			InspectCommand(),
			VersionCommand(commit),
		},
	}
}

// envAction is an action that needs a renderer and wired collaborators.
type envAction func(c *cli.Context, r *render.Renderer, e *env) error

// withEnv builds the renderer and env for fn and closes the env afterwards.
func withEnv(fn envAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		e, err := newEnv(c)
		if err != nil {
			return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitUnexpected)
		}
		defer e.close()
		return fn(c, r, e)
	}
}
