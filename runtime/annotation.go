package runtime

import (
	"context"
	"time"

	"github.com/babi2707/segmark/types"
)

// DefaultAnnotation is returned for images that have no annotation data yet.
func DefaultAnnotation() types.Document {
	return types.Document{"brushStrokes": types.Array()}
}

// Annotations reads and writes the structured data of an image's marker
// annotation. Writes share the marker lock, so they are rejected with
// types.ErrBusy while a marker run for the same image is in progress.
type Annotations struct {
	deps Deps
}

// NewAnnotations creates an Annotations service.
func NewAnnotations(deps Deps) (*Annotations, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Annotations{deps: deps}, nil
}

// Get returns the annotation data for imageID, or DefaultAnnotation when
// none has been stored.
func (a *Annotations) Get(ctx context.Context, imageID int64) (types.Document, error) {
	const op = "annotation_get"
	if imageID <= 0 {
		return nil, types.NewRunError(types.ErrInvalidInput, op, "image id must be positive", nil)
	}
	rec, err := a.deps.Records.FindMarkers(ctx, imageID)
	if err != nil {
		return nil, types.NewRunError(types.ErrIOFailure, op, "failed to look up annotation", err)
	}
	if rec == nil || rec.Data == nil {
		return DefaultAnnotation(), nil
	}
	return rec.Data, nil
}

// Save replaces the annotation data for imageID with doc.
func (a *Annotations) Save(ctx context.Context, imageID int64, doc types.Document) (*types.MarkerArtifact, error) {
	return a.write(ctx, "annotation_save", imageID, doc, func(types.Document) types.Document {
		return doc.Clone()
	})
}

// AutoSave merges patch into the stored annotation data. Keys absent from
// patch keep their stored values. An empty patch only refreshes UpdatedAt.
func (a *Annotations) AutoSave(ctx context.Context, imageID int64, patch types.Document) (*types.MarkerArtifact, error) {
	return a.write(ctx, "annotation_autosave", imageID, patch, func(prev types.Document) types.Document {
		return prev.Merge(patch)
	})
}

func (a *Annotations) write(ctx context.Context, op string, imageID int64, doc types.Document, apply func(prev types.Document) types.Document) (*types.MarkerArtifact, error) {
	if imageID <= 0 {
		return nil, types.NewRunError(types.ErrInvalidInput, op, "image id must be positive", nil)
	}
	if doc == nil {
		return nil, types.NewRunError(types.ErrInvalidInput, op, "annotation data is required", nil)
	}
	if _, err := a.deps.loadImage(ctx, op, imageID); err != nil {
		return nil, err
	}

	identity := types.ByImageID(imageID)
	release, err := a.deps.acquire(ctx, op, types.KindMarkers, identity)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := a.deps.Records.FindMarkers(ctx, imageID)
	if err != nil {
		return nil, types.NewRunError(types.ErrIOFailure, op, "failed to look up annotation", err)
	}

	rec := &types.MarkerArtifact{ImageID: imageID}
	if existing != nil {
		copied := *existing
		rec = &copied
	}
	rec.Data = apply(rec.Data)
	rec.Touch(a.deps.Now())

	if err := a.deps.Records.UpsertMarkers(ctx, rec); err != nil {
		a.deps.Collector.IncStoreWriteFailure()
		return nil, types.NewRunError(types.ErrIOFailure, op, "failed to save annotation", err)
	}
	a.deps.Collector.IncStoreWriteSuccess()

	a.deps.Logger.Debug("annotation saved", map[string]any{
		"op":       op,
		"image_id": imageID,
		"keys":     len(rec.Data),
		"at":       rec.UpdatedAt.Format(time.RFC3339),
	})
	return rec, nil
}
