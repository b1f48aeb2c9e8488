package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/babi2707/segmark/cli/render"
	"github.com/babi2707/segmark/runtime"
	"github.com/babi2707/segmark/types"
)

// defaultParallel is the batch-markers concurrency when --parallel is unset.
const defaultParallel = 2

// MarkersCommand returns the markers command.
func MarkersCommand() *cli.Command {
	return &cli.Command{
		Name:  "markers",
		Usage: "Generate initial markers for a registered image",
		Flags: withOutput(
			&cli.Int64Flag{
				Name:     "image-id",
				Usage:    "Registered image id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "image",
				Usage: "Source image path (default: the registered path)",
			},
		),
		Action: withEnv(markersAction),
	}
}

func markersAction(c *cli.Context, r *render.Renderer, e *env) error {
	gen, err := newMarkerGenerator(e)
	if err != nil {
		return err
	}

	id := c.Int64("image-id")
	path := c.String("image")
	if path == "" {
		if path, err = registeredPath(c.Context, e, "markers", id); err != nil {
			return fail(r, err)
		}
	}

	res, err := gen.Run(c.Context, runtime.MarkerRequest{ImagePath: path, ImageID: id})
	if err != nil {
		return fail(r, err)
	}
	return r.Render(res.Response())
}

func newMarkerGenerator(e *env) (*runtime.MarkerGenerator, error) {
	runner, err := e.runner(e.cfg.Tools.Markers)
	if err != nil {
		return nil, cli.Exit("markers tool: "+err.Error(), exitUnexpected)
	}
	gen, err := runtime.NewMarkerGenerator(runner, e.deps())
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUnexpected)
	}
	return gen, nil
}

// registeredPath returns the source path recorded for image id.
func registeredPath(ctx context.Context, e *env, op string, id int64) (string, error) {
	img, err := findImage(ctx, e, op, id)
	if err != nil {
		return "", err
	}
	return img.Path, nil
}

// findImage loads a registered image, failing with NotFound when absent.
func findImage(ctx context.Context, e *env, op string, id int64) (*types.ImageRef, error) {
	if id <= 0 {
		return nil, types.NewRunError(types.ErrInvalidInput, op, fmt.Sprintf("invalid image id %d", id), nil)
	}
	img, err := e.records.FindImage(ctx, id)
	if err != nil {
		return nil, types.NewRunError(types.ErrIOFailure, op, "failed to load image", err)
	}
	if img == nil {
		return nil, types.NewRunError(types.ErrNotFound, op, fmt.Sprintf("image %d not found", id), nil)
	}
	return img, nil
}

// BatchRow is one image's outcome in a batch-markers run.
type BatchRow struct {
	ImageID    int64  `json:"image_id"`
	Status     string `json:"status"`
	MarkersURL string `json:"markersUrl,omitempty"`
	Reused     bool   `json:"reused"`
	Fallback   bool   `json:"fallback"`
	Message    string `json:"message,omitempty"`

	err error
}

// BatchMarkersCommand returns the batch-markers command.
func BatchMarkersCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch-markers",
		Usage: "Generate markers for several registered images",
		Flags: withOutput(
			&cli.Int64SliceFlag{
				Name:  "image-id",
				Usage: "Registered image id (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Process every registered image",
			},
			&cli.IntFlag{
				Name:  "parallel",
				Usage: "Maximum concurrent tool runs",
				Value: defaultParallel,
			},
		),
		Action: withEnv(batchMarkersAction),
	}
}

func batchMarkersAction(c *cli.Context, r *render.Renderer, e *env) error {
	ids, err := batchIDs(c, e)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return cli.Exit("no images selected: pass --image-id or --all", exitInvalidInput)
	}
	parallel := c.Int("parallel")
	if parallel < 1 {
		return cli.Exit(fmt.Sprintf("--parallel must be >= 1, got %d", parallel), exitInvalidInput)
	}

	gen, err := newMarkerGenerator(e)
	if err != nil {
		return err
	}

	rows := runBatch(c.Context, e, gen, ids, parallel)
	if err := r.Render(rows); err != nil {
		return err
	}
	for _, row := range rows {
		if row.err != nil {
			return cli.Exit("", exitCode(row.err))
		}
	}
	return nil
}

// batchIDs returns the selected ids in order without duplicates.
func batchIDs(c *cli.Context, e *env) ([]int64, error) {
	ids := c.Int64Slice("image-id")
	if c.Bool("all") {
		images, err := e.records.ListImages(c.Context)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("cannot list images: %v", err), exitIOFailure)
		}
		for _, img := range images {
			ids = append(ids, img.ID)
		}
	}

	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// runBatch runs the generator for each id with at most parallel runs in
// flight. A failed image does not stop the others.
func runBatch(ctx context.Context, e *env, gen *runtime.MarkerGenerator, ids []int64, parallel int) []BatchRow {
	rows := make([]BatchRow, len(ids))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, id := range ids {
		g.Go(func() error {
			rows[i] = markerRow(ctx, e, gen, id)
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func markerRow(ctx context.Context, e *env, gen *runtime.MarkerGenerator, id int64) BatchRow {
	row := BatchRow{ImageID: id}
	res, err := func() (*runtime.MarkerResult, error) {
		path, err := registeredPath(ctx, e, "markers", id)
		if err != nil {
			return nil, err
		}
		return gen.Run(ctx, runtime.MarkerRequest{ImagePath: path, ImageID: id})
	}()
	if err != nil {
		resp := types.ErrorResponse(err)
		row.Status = resp.Status
		row.Message = resp.Message
		row.err = err
		return row
	}
	row.Status = types.StatusSuccess
	row.MarkersURL = res.URL
	row.Reused = res.Reused
	row.Fallback = res.Fallback
	return row
}
