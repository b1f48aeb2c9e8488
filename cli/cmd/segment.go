package cmd

import (
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/artifact"
	"github.com/babi2707/segmark/cli/render"
	"github.com/babi2707/segmark/iox"
	"github.com/babi2707/segmark/runtime"
	"github.com/babi2707/segmark/types"
)

// SegmentCommand returns the segment command.
//
// With --image-id the output is kept as the image's segmented record and
// its filename is reused across runs. Without it the inputs are staged in
// the uploads directory, removed afterwards, and no record is written.
func SegmentCommand() *cli.Command {
	return &cli.Command{
		Name:  "segment",
		Usage: "Segment an image from its seed markers",
		Flags: withOutput(
			&cli.StringFlag{
				Name:     "image",
				Usage:    "Path to the source image",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "markers",
				Usage:    "Path to the seed-marker image",
				Required: true,
			},
			&cli.Int64Flag{
				Name:  "image-id",
				Usage: "Registered image id (omit for an unregistered upload)",
			},
		),
		Action: withEnv(segmentAction),
	}
}

func segmentAction(c *cli.Context, r *render.Renderer, e *env) error {
	runner, err := e.runner(e.cfg.Tools.Segmentation)
	if err != nil {
		return cli.Exit("segmentation tool: "+err.Error(), exitUnexpected)
	}
	seg, err := runtime.NewSegmenter(runner, e.deps())
	if err != nil {
		return cli.Exit(err.Error(), exitUnexpected)
	}

	req := runtime.SegmentRequest{
		ImagePath:   c.String("image"),
		MarkersPath: c.String("markers"),
	}
	if c.IsSet("image-id") {
		req.Identity = types.ByImageID(c.Int64("image-id"))
	} else {
		req.Identity = types.ByFilename(filepath.Base(req.ImagePath))
		release, err := stageInputs(e.artifacts, &req.ImagePath, &req.MarkersPath)
		if err != nil {
			return fail(r, err)
		}
		defer release()
	}

	res, err := seg.Run(c.Context, req)
	if err != nil {
		return fail(r, err)
	}
	return r.Render(res.Response())
}

// stageInputs copies each file into the uploads directory and points the
// path at the copy. The returned func removes every staged copy.
func stageInputs(store *artifact.Store, paths ...*string) (func(), error) {
	var staged []*artifact.Staged
	release := func() {
		for _, s := range staged {
			iox.DiscardErr(s.Release)
		}
	}
	for _, p := range paths {
		s, err := store.StageFile(*p)
		if err != nil {
			release()
			return nil, err
		}
		staged = append(staged, s)
		*p = s.Path
	}
	return release, nil
}
