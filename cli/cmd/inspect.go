package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/cli/render"
	"github.com/babi2707/segmark/types"
)

// InspectResponse is the deep view of one registered image.
type InspectResponse struct {
	Image     *types.ImageRef          `json:"image"`
	Markers   *types.MarkerArtifact    `json:"markers,omitempty"`
	Segmented *types.SegmentedArtifact `json:"segmented,omitempty"`
	// MarkersURL and SegmentedURL are the public URLs of the recorded files.
	MarkersURL   string `json:"markersUrl,omitempty"`
	SegmentedURL string `json:"segmentedImageUrl,omitempty"`
}

// InspectCommand returns the inspect command.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:   "inspect",
		Usage:  "Show an image and its artifact records",
		Flags:  withOutput(imageIDFlag()),
		Action: withEnv(inspectAction),
	}
}

func inspectAction(c *cli.Context, r *render.Renderer, e *env) error {
	ctx := c.Context
	id := c.Int64("image-id")
	img, err := findImage(ctx, e, "inspect", id)
	if err != nil {
		return fail(r, err)
	}
	resp := InspectResponse{Image: img}

	if resp.Markers, err = e.records.FindMarkers(ctx, id); err != nil {
		return fail(r, ioFailure("inspect", err))
	}
	if resp.Markers != nil {
		resp.MarkersURL = e.artifacts.RecordURL(types.KindMarkers, resp.Markers.FilePath)
	}

	if resp.Segmented, err = e.records.FindSegmented(ctx, id); err != nil {
		return fail(r, ioFailure("inspect", err))
	}
	if resp.Segmented != nil {
		resp.SegmentedURL = e.artifacts.RecordURL(types.KindSegmentation, resp.Segmented.FilePath)
	}
	return r.Render(resp)
}

func ioFailure(op string, err error) error {
	return types.NewRunError(types.ErrIOFailure, op, "failed to read records", err)
}
