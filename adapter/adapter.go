// Package adapter defines the notification boundary for generated artifacts.
//
// Adapters tell downstream systems (thumbnailers, UIs, queues) that an
// artifact was written. Delivery is best-effort: a failed publish is logged
// by the caller and never fails the run that produced the artifact.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeArtifactGenerated is the event_type of every published event.
const EventTypeArtifactGenerated = "artifact_generated"

// ArtifactGeneratedEvent is the payload published after a successful run.
type ArtifactGeneratedEvent struct {
	// EventType is always "artifact_generated".
	EventType string `json:"event_type"`
	Version   string `json:"version"`
	RunID     string `json:"run_id"`
	// Kind is markers or segmentation.
	Kind     string `json:"kind"`
	ImageID  int64  `json:"image_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	FilePath string `json:"file_path"`
	URL      string `json:"url"`
	// Reused is true when the filename carried over from an earlier run.
	Reused bool `json:"reused"`
	// Fallback is true for markers written without a protocol result.
	Fallback bool   `json:"fallback"`
	Stats    string `json:"stats,omitempty"`
	// Timestamp is RFC 3339.
	Timestamp  string `json:"timestamp"`
	DurationMs int64  `json:"duration_ms"`
}

// Adapter publishes artifact events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ArtifactGeneratedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the delay before the first retry; it doubles per attempt.
const BaseBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when fn's error is not retriable or ctx ends.
// A nil retriable treats every error as retriable.
func Retry(ctx context.Context, name string, retries int, fn func(ctx context.Context) error, retriable func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retriable != nil && !retriable(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
