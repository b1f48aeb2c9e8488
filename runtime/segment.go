package runtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/babi2707/segmark/types"
)

// SegmentRequest is one segmentation run.
type SegmentRequest struct {
	// ImagePath is the source image handed to the tool.
	ImagePath string
	// MarkersPath is the seed-marker image handed to the tool.
	MarkersPath string
	// Identity addresses the output. ByImageID keeps one record per image
	// and reuses its filename; ByFilename writes a fresh file and no record.
	Identity types.ArtifactIdentity
}

// SegmentResult describes a successful segmentation run.
type SegmentResult struct {
	RunID string
	// URL is the public URL of the segmented image.
	URL string
	// FilePath is the public-relative path, e.g. /segmented/x.png.
	FilePath string
	// OutputPath is the file the tool wrote.
	OutputPath string
	Name       string
	// Reused is true when the filename came from an existing record.
	Reused bool
	// Record is the persisted record; nil for filename identities.
	Record     *types.SegmentedArtifact
	Invocation *types.ToolInvocation
}

// Response returns the public success response.
func (r *SegmentResult) Response() *types.Response {
	return types.SegmentResponse(r.URL)
}

// Segmenter runs the segmentation tool.
type Segmenter struct {
	deps   Deps
	runner Runner
}

// NewSegmenter creates a Segmenter.
func NewSegmenter(runner Runner, deps Deps) (*Segmenter, error) {
	if runner == nil {
		return nil, errors.New("segmentation runner is required")
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Segmenter{deps: deps, runner: runner}, nil
}

// Run segments req.ImagePath using req.MarkersPath.
//
// The tool is invoked as [image, markers, output]. A nonzero exit, a missing
// output file or an empty output file fail with types.ErrToolFailure and
// leave the record untouched. On success exactly one record is written for
// image-id identities. Tool output is not parsed.
func (s *Segmenter) Run(ctx context.Context, req SegmentRequest) (result *SegmentResult, err error) {
	const op = "segment"
	runID := newRunID()
	start := time.Now()
	logger := s.deps.Logger.ForRun(runID, types.KindSegmentation, req.Identity)

	s.deps.Collector.IncRunStarted()
	defer func() { s.deps.recordOutcome(logger, start, err) }()

	if strings.TrimSpace(req.ImagePath) == "" {
		return nil, types.NewRunError(types.ErrInvalidInput, op, "image path is required", nil)
	}
	if strings.TrimSpace(req.MarkersPath) == "" {
		return nil, types.NewRunError(types.ErrInvalidInput, op, "markers path is required", nil)
	}
	if req.Identity.IsZero() {
		return nil, types.NewRunError(types.ErrInvalidInput, op, "image id or filename is required", nil)
	}

	imageID, byID := req.Identity.ImageID()
	if byID {
		if imageID <= 0 {
			return nil, types.NewRunError(types.ErrInvalidInput, op, "image id must be positive", nil)
		}
		if _, err := s.deps.loadImage(ctx, op, imageID); err != nil {
			return nil, err
		}
	}

	release, err := s.deps.acquire(ctx, op, types.KindSegmentation, req.Identity)
	if err != nil {
		return nil, err
	}
	defer release()

	var existing *types.SegmentedArtifact
	var existingPath *string
	if byID {
		existing, err = s.deps.Records.FindSegmented(ctx, imageID)
		if err != nil {
			return nil, types.NewRunError(types.ErrIOFailure, op, "failed to look up segmented record", err)
		}
		if existing != nil && existing.FilePath != "" {
			existingPath = &existing.FilePath
		}
	}

	name, err := s.deps.Artifacts.ResolveOutputName(existingPath, req.Identity, types.KindSegmentation)
	if err != nil {
		return nil, err
	}
	outputPath := s.deps.toolOutputPath(types.KindSegmentation, name)

	logger.Info("starting segmentation", map[string]any{
		"image":  req.ImagePath,
		"output": outputPath,
		"reused": existingPath != nil,
	})

	inv, err := s.runner.Run(ctx, []string{req.ImagePath, req.MarkersPath, outputPath})
	if err != nil {
		return nil, err
	}
	size, err := s.deps.checkTool(op, inv, outputPath)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, types.NewRunError(types.ErrToolFailure, op, "tool produced an empty output file", nil).
			WithTool(inv.ExitCode, inv.Tail(tailLines))
	}

	relPath := s.deps.Artifacts.RelativePath(types.KindSegmentation, name)
	result = &SegmentResult{
		RunID:      runID,
		URL:        s.deps.Artifacts.PublicURL(types.KindSegmentation, name),
		FilePath:   relPath,
		OutputPath: outputPath,
		Name:       name,
		Reused:     existingPath != nil,
		Invocation: inv,
	}

	if byID {
		rec := &types.SegmentedArtifact{ImageID: imageID}
		if existing != nil {
			copied := *existing
			rec = &copied
		}
		rec.FilePath = relPath
		rec.Touch(s.deps.Now())
		if err := s.deps.Records.UpsertSegmented(ctx, rec); err != nil {
			s.deps.Collector.IncStoreWriteFailure()
			return nil, types.NewRunError(types.ErrIOFailure, op, "failed to save segmented record", err)
		}
		s.deps.Collector.IncStoreWriteSuccess()
		result.Record = rec
	}

	if result.Reused {
		s.deps.Collector.IncArtifactReused()
	} else {
		s.deps.Collector.IncArtifactCreated()
	}

	event := s.deps.newEvent(runID, types.KindSegmentation, req.Identity, start)
	event.FilePath = relPath
	event.URL = result.URL
	event.Reused = result.Reused
	s.deps.publish(ctx, logger, event, outputPath)

	return result, nil
}
