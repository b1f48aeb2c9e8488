package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/cli/render"
	"github.com/babi2707/segmark/types"
)

// ImageCommand returns the image command with subcommands.
func ImageCommand() *cli.Command {
	return &cli.Command{
		Name:  "image",
		Usage: "Manage the image registry",
		Subcommands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Register a source image",
				ArgsUsage: "<path>",
				Flags: withOutput(&cli.Int64Flag{
					Name:  "id",
					Usage: "Explicit image id (default: next free id)",
				}),
				Action: withEnv(imageRegisterAction),
			},
			{
				Name:   "list",
				Usage:  "List registered images",
				Flags:  OutputFlags(),
				Action: withEnv(imageListAction),
			},
		},
	}
}

func imageRegisterAction(c *cli.Context, r *render.Renderer, e *env) error {
	if c.NArg() < 1 {
		return cli.Exit("image path required", exitInvalidInput)
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid path: %v", err), exitInvalidInput)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fail(r, types.NewRunError(types.ErrInvalidInput, "image_register", fmt.Sprintf("%s is not a readable file", path), err))
	}

	ref := &types.ImageRef{ID: c.Int64("id"), Path: path}
	if err := e.records.SaveImage(c.Context, ref); err != nil {
		return fail(r, types.NewRunError(types.ErrIOFailure, "image_register", "failed to save image", err))
	}
	e.logger.Info("image registered", map[string]any{"image_id": ref.ID, "path": ref.Path})
	return r.Render(ref)
}

func imageListAction(c *cli.Context, r *render.Renderer, e *env) error {
	images, err := e.records.ListImages(c.Context)
	if err != nil {
		return fail(r, types.NewRunError(types.ErrIOFailure, "image_list", "failed to list images", err))
	}
	return r.Render(images)
}
