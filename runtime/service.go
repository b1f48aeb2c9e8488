// Package runtime runs the external image tools and reconciles their
// results with persisted artifact records.
//
// Each orchestrator call is synchronous: it validates input, takes the
// per-image lock, runs the tool once through a Runner, and writes at most
// one record. Notifications and mirroring happen after the write and never
// change the outcome of the run.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/babi2707/segmark/adapter"
	"github.com/babi2707/segmark/artifact"
	"github.com/babi2707/segmark/lock"
	"github.com/babi2707/segmark/log"
	"github.com/babi2707/segmark/metrics"
	"github.com/babi2707/segmark/types"
)

// defaultNotifyTimeout bounds one notification including adapter retries.
const defaultNotifyTimeout = 10 * time.Second

// RecordStore is the persistence collaborator used by the orchestrators.
// Find methods return nil and no error when the record is absent.
type RecordStore interface {
	FindImage(ctx context.Context, id int64) (*types.ImageRef, error)
	FindMarkers(ctx context.Context, imageID int64) (*types.MarkerArtifact, error)
	UpsertMarkers(ctx context.Context, m *types.MarkerArtifact) error
	FindSegmented(ctx context.Context, imageID int64) (*types.SegmentedArtifact, error)
	UpsertSegmented(ctx context.Context, seg *types.SegmentedArtifact) error
}

// Notifier publishes artifact events. adapter.Adapter satisfies it.
type Notifier interface {
	Publish(ctx context.Context, event *adapter.ArtifactGeneratedEvent) error
}

// Mirror copies a produced artifact file to secondary storage.
type Mirror interface {
	Put(ctx context.Context, relPath, localPath string) error
}

// Deps holds the collaborators shared by every orchestrator.
type Deps struct {
	// Records is required.
	Records RecordStore
	// Artifacts is required.
	Artifacts *artifact.Store
	// Locker guards same-image runs. Nil disables locking.
	Locker lock.Locker
	// Logger receives run logs. Nil discards them.
	Logger *log.Logger
	// Collector records counters. Nil records nothing.
	Collector *metrics.Collector
	// Notifier is optional.
	Notifier Notifier
	// Mirror is optional.
	Mirror Mirror
	// Now stamps records. Nil uses time.Now.
	Now func() time.Time
	// NotifyTimeout bounds each notification. Zero uses 10s.
	NotifyTimeout time.Duration
}

// withDefaults validates d and fills optional fields.
func (d Deps) withDefaults() (Deps, error) {
	if d.Records == nil {
		return d, errors.New("record store is required")
	}
	if d.Artifacts == nil {
		return d, errors.New("artifact store is required")
	}
	if d.Locker == nil {
		d.Locker = lock.Nop{}
	}
	if d.Logger == nil {
		d.Logger = log.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NotifyTimeout <= 0 {
		d.NotifyTimeout = defaultNotifyTimeout
	}
	return d, nil
}

// newRunID returns a unique id for one orchestration run.
func newRunID() string {
	return uuid.NewString()
}

// failureLabel maps an error to its metrics label.
func failureLabel(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return metrics.FailureInvalidInput
	case errors.Is(err, types.ErrNotFound):
		return metrics.FailureNotFound
	case errors.Is(err, types.ErrToolTimeout):
		return metrics.FailureToolTimeout
	case errors.Is(err, types.ErrToolFailure):
		return metrics.FailureToolFailure
	case errors.Is(err, types.ErrProtocolFailure):
		return metrics.FailureProtocolFailure
	case errors.Is(err, types.ErrIOFailure):
		return metrics.FailureIOFailure
	default:
		return metrics.FailureOther
	}
}

// recordOutcome counts and logs the end of a run.
func (d *Deps) recordOutcome(logger *log.Logger, start time.Time, err error) {
	fields := map[string]any{"duration_ms": time.Since(start).Milliseconds()}
	switch {
	case err == nil:
		d.Collector.IncRunCompleted()
		logger.Info("run completed", fields)
	case errors.Is(err, types.ErrBusy):
		d.Collector.IncRunRejected()
		fields["error"] = err.Error()
		logger.Warn("run rejected", fields)
	default:
		d.Collector.IncRunFailed(failureLabel(err))
		fields["error"] = err.Error()
		var runErr *types.RunError
		if errors.As(err, &runErr) && runErr.Output != "" {
			fields["output_tail"] = runErr.Output
		}
		logger.Error("run failed", fields)
	}
}

// loadImage resolves id to a registered image.
func (d *Deps) loadImage(ctx context.Context, op string, id int64) (*types.ImageRef, error) {
	img, err := d.Records.FindImage(ctx, id)
	if err != nil {
		return nil, types.NewRunError(types.ErrIOFailure, op, "failed to look up image", err)
	}
	if img == nil {
		return nil, types.NewRunError(types.ErrNotFound, op, fmt.Sprintf("image %d not found", id), nil)
	}
	return img, nil
}

// acquire takes the lock for one artifact of one image.
func (d *Deps) acquire(ctx context.Context, op string, kind types.ArtifactKind, id types.ArtifactIdentity) (lock.Release, error) {
	release, err := d.Locker.TryAcquire(ctx, lock.Key(kind, id))
	if err == nil {
		return release, nil
	}
	var runErr *types.RunError
	if errors.As(err, &runErr) {
		return nil, err
	}
	if errors.Is(err, types.ErrBusy) {
		return nil, types.NewRunError(types.ErrBusy, op, fmt.Sprintf("another %s run holds %s", kind, id), err)
	}
	return nil, types.NewRunError(types.ErrIOFailure, op, "failed to acquire lock", err)
}

// toolOutputPath returns the absolute path handed to the tool.
func (d *Deps) toolOutputPath(kind types.ArtifactKind, name string) string {
	p := d.Artifacts.OutputPath(kind, name)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// checkTool turns a finished invocation into a ToolFailure when it exited
// nonzero or left no usable output file. It returns the output size.
func (d *Deps) checkTool(op string, inv *types.ToolInvocation, outputPath string) (int64, error) {
	if !inv.Succeeded() {
		return 0, types.NewRunError(types.ErrToolFailure, op, "tool exited with an error", nil).
			WithTool(inv.ExitCode, inv.Tail(tailLines))
	}
	size, err := d.Artifacts.VerifyOutput(outputPath)
	switch {
	case errors.Is(err, artifact.ErrMissingOutput), errors.Is(err, artifact.ErrNotRegular):
		return 0, types.NewRunError(types.ErrToolFailure, op, "tool did not produce an output file", err).
			WithTool(inv.ExitCode, inv.Tail(tailLines))
	case err != nil:
		return 0, types.NewRunError(types.ErrIOFailure, op, "failed to inspect output file", err)
	}
	return size, nil
}

// publish runs the best-effort steps after a successful write.
func (d *Deps) publish(ctx context.Context, logger *log.Logger, event *adapter.ArtifactGeneratedEvent, outputPath string) {
	ctx = context.WithoutCancel(ctx)

	if d.Mirror != nil {
		if err := d.Mirror.Put(ctx, event.FilePath, outputPath); err != nil {
			logger.Warn("artifact mirror failed", map[string]any{
				"file_path": event.FilePath,
				"error":     err.Error(),
			})
		}
	}

	if d.Notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, d.NotifyTimeout)
	defer cancel()
	if err := d.Notifier.Publish(notifyCtx, event); err != nil {
		d.Collector.IncNotifyFailure()
		logger.Warn("artifact notification failed", map[string]any{"error": err.Error()})
		return
	}
	d.Collector.IncNotifySuccess()
}

// newEvent fills the fields common to every artifact event.
func (d *Deps) newEvent(runID string, kind types.ArtifactKind, id types.ArtifactIdentity, start time.Time) *adapter.ArtifactGeneratedEvent {
	event := &adapter.ArtifactGeneratedEvent{
		EventType:  adapter.EventTypeArtifactGenerated,
		Version:    types.Version,
		RunID:      runID,
		Kind:       string(kind),
		Timestamp:  d.Now().UTC().Format(time.RFC3339),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if imageID, ok := id.ImageID(); ok {
		event.ImageID = imageID
	}
	if name, ok := id.Filename(); ok {
		event.Filename = name
	}
	return event
}
