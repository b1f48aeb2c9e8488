package runtime

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/babi2707/segmark/ipc"
	"github.com/babi2707/segmark/types"
)

// MarkerRequest is one marker generation run.
type MarkerRequest struct {
	// ImagePath is the source image handed to the tool.
	ImagePath string
	// ImageID is the registered image that owns the annotation.
	ImageID int64
}

// MarkerResult describes a successful marker generation run.
type MarkerResult struct {
	RunID string
	// URL is the public URL of the marker image.
	URL string
	// FilePath is the public-relative path, e.g. /initial_markers/x.png.
	FilePath   string
	OutputPath string
	Name       string
	Reused     bool
	// Stats is the raw protocol line, or the fallback stats payload.
	Stats string
	// Fallback is true when the tool wrote its file without a protocol result.
	Fallback   bool
	Record     *types.MarkerArtifact
	Invocation *types.ToolInvocation
}

// Response returns the public success response.
func (r *MarkerResult) Response() *types.Response {
	return types.MarkersResponse(r.URL, r.Stats)
}

// MarkerGenerator runs the marker tool and keeps the image's annotation in
// step with its output.
type MarkerGenerator struct {
	deps   Deps
	runner Runner
}

// NewMarkerGenerator creates a MarkerGenerator.
func NewMarkerGenerator(runner Runner, deps Deps) (*MarkerGenerator, error) {
	if runner == nil {
		return nil, errors.New("marker runner is required")
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &MarkerGenerator{deps: deps, runner: runner}, nil
}

// Run generates seed markers for one image.
//
// The tool is invoked as [image, output]. After a clean exit with an output
// file, the result is reconciled with the annotation:
//
//   - a success protocol line merges its data into the annotation and its
//     raw text becomes the stats, even when the file is empty;
//   - no usable protocol line but a non-empty file updates only the path and
//     timestamps, with the zero-valued fallback stats;
//   - anything else fails with types.ErrProtocolFailure and writes nothing.
func (g *MarkerGenerator) Run(ctx context.Context, req MarkerRequest) (result *MarkerResult, err error) {
	const op = "markers"
	runID := newRunID()
	start := time.Now()
	identity := types.ByImageID(req.ImageID)
	logger := g.deps.Logger.ForRun(runID, types.KindMarkers, identity)

	g.deps.Collector.IncRunStarted()
	defer func() { g.deps.recordOutcome(logger, start, err) }()

	if strings.TrimSpace(req.ImagePath) == "" {
		return nil, types.NewRunError(types.ErrInvalidInput, op, "image path is required", nil)
	}
	if req.ImageID <= 0 {
		return nil, types.NewRunError(types.ErrInvalidInput, op, "image id must be positive", nil)
	}
	if info, statErr := os.Stat(req.ImagePath); statErr != nil || info.IsDir() {
		if statErr == nil || errors.Is(statErr, fs.ErrNotExist) {
			return nil, types.NewRunError(types.ErrInvalidInput, op, "image file not found: "+req.ImagePath, statErr)
		}
		return nil, types.NewRunError(types.ErrIOFailure, op, "failed to inspect image file", statErr)
	}
	if _, err := g.deps.loadImage(ctx, op, req.ImageID); err != nil {
		return nil, err
	}

	release, err := g.deps.acquire(ctx, op, types.KindMarkers, identity)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := g.deps.Records.FindMarkers(ctx, req.ImageID)
	if err != nil {
		return nil, types.NewRunError(types.ErrIOFailure, op, "failed to look up annotation", err)
	}
	var existingPath *string
	if existing != nil && existing.FilePath != "" {
		existingPath = &existing.FilePath
	}

	name, err := g.deps.Artifacts.ResolveOutputName(existingPath, identity, types.KindMarkers)
	if err != nil {
		return nil, err
	}
	outputPath := g.deps.toolOutputPath(types.KindMarkers, name)

	logger.Info("starting marker generation", map[string]any{
		"image":  req.ImagePath,
		"output": outputPath,
		"reused": existingPath != nil,
	})

	inv, err := g.runner.Run(ctx, []string{req.ImagePath, outputPath})
	if err != nil {
		return nil, err
	}
	size, err := g.deps.checkTool(op, inv, outputPath)
	if err != nil {
		return nil, err
	}

	var prevData types.Document
	if existing != nil {
		prevData = existing.Data
	}

	var (
		data     types.Document
		stats    string
		fallback bool
	)
	parsed := ipc.Extract(inv.Output)
	switch {
	case parsed.Valid():
		data = prevData.Merge(parsed.Data)
		stats = parsed.RawJSON
		g.deps.Collector.IncProtocolResult()
	case size > 0:
		data = prevData
		stats = ipc.FallbackStatsJSON()
		fallback = true
		g.deps.Collector.IncProtocolFallback()
		logger.Warn("no protocol result, using fallback stats", map[string]any{
			"candidate_found": parsed.Found,
			"output_lines":    len(inv.Output),
		})
	default:
		return nil, types.NewRunError(types.ErrProtocolFailure, op, "tool reported no success result", nil).
			WithTool(inv.ExitCode, inv.Tail(tailLines))
	}

	relPath := g.deps.Artifacts.RelativePath(types.KindMarkers, name)
	rec := &types.MarkerArtifact{ImageID: req.ImageID}
	if existing != nil {
		copied := *existing
		rec = &copied
	}
	rec.FilePath = relPath
	rec.Data = data
	rec.Touch(g.deps.Now())
	if err := g.deps.Records.UpsertMarkers(ctx, rec); err != nil {
		g.deps.Collector.IncStoreWriteFailure()
		return nil, types.NewRunError(types.ErrIOFailure, op, "failed to save annotation", err)
	}
	g.deps.Collector.IncStoreWriteSuccess()

	result = &MarkerResult{
		RunID:      runID,
		URL:        g.deps.Artifacts.PublicURL(types.KindMarkers, name),
		FilePath:   relPath,
		OutputPath: outputPath,
		Name:       name,
		Reused:     existingPath != nil,
		Stats:      stats,
		Fallback:   fallback,
		Record:     rec,
		Invocation: inv,
	}
	if result.Reused {
		g.deps.Collector.IncArtifactReused()
	} else {
		g.deps.Collector.IncArtifactCreated()
	}

	event := g.deps.newEvent(runID, types.KindMarkers, identity, start)
	event.FilePath = relPath
	event.URL = result.URL
	event.Reused = result.Reused
	event.Fallback = fallback
	event.Stats = stats
	g.deps.publish(ctx, logger, event, outputPath)

	return result, nil
}
