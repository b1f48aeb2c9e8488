// Package metrics provides process-level counters for orchestration runs.
//
// The Collector is a leaf package with no internal dependencies. One
// Collector is shared by every orchestrator in a process; all methods are
// nil-receiver safe so callers can run without metrics.
package metrics

import "sync"

// Failure kind labels used by IncRunFailed.
const (
	FailureInvalidInput    = "invalid_input"
	FailureNotFound        = "not_found"
	FailureToolFailure     = "tool_failure"
	FailureProtocolFailure = "protocol_failure"
	FailureIOFailure       = "io_failure"
	FailureToolTimeout     = "tool_timeout"
	FailureOther           = "other"
)

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64            `json:"runs_started"`
	RunsCompleted int64            `json:"runs_completed"`
	RunsFailed    int64            `json:"runs_failed"`
	RunsRejected  int64            `json:"runs_rejected"`
	FailedByKind  map[string]int64 `json:"failed_by_kind"`

	// Tool process
	ToolLaunchSuccess int64 `json:"tool_launch_success"`
	ToolLaunchFailure int64 `json:"tool_launch_failure"`
	ToolNonzeroExit   int64 `json:"tool_nonzero_exit"`
	ToolTimeouts      int64 `json:"tool_timeouts"`

	// Result protocol
	ProtocolResults   int64 `json:"protocol_results"`
	ProtocolFallbacks int64 `json:"protocol_fallbacks"`

	// Artifacts
	ArtifactsCreated int64 `json:"artifacts_created"`
	ArtifactsReused  int64 `json:"artifacts_reused"`

	// Record store
	StoreWriteSuccess int64 `json:"store_write_success"`
	StoreWriteFailure int64 `json:"store_write_failure"`

	// Notifications
	NotifySuccess int64 `json:"notify_success"`
	NotifyFailure int64 `json:"notify_failure"`

	// Dimensions (informational, set at construction)
	StorageBackend string `json:"storage_backend"`
	LockBackend    string `json:"lock_backend"`
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsRejected  int64
	failedByKind  map[string]int64

	toolLaunchSuccess int64
	toolLaunchFailure int64
	toolNonzeroExit   int64
	toolTimeouts      int64

	protocolResults   int64
	protocolFallbacks int64

	artifactsCreated int64
	artifactsReused  int64

	storeWriteSuccess int64
	storeWriteFailure int64

	notifySuccess int64
	notifyFailure int64

	storageBackend string
	lockBackend    string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(storageBackend, lockBackend string) *Collector {
	return &Collector{
		failedByKind:   make(map[string]int64),
		storageBackend: storageBackend,
		lockBackend:    lockBackend,
	}
}

func (c *Collector) inc(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.inc(&c.runsStarted)
}

// IncRunCompleted records a successful run, including fallback successes.
func (c *Collector) IncRunCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.runsCompleted)
}

// IncRunFailed records a failed run under the given failure kind label.
func (c *Collector) IncRunFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsFailed++
	c.failedByKind[kind]++
	c.mu.Unlock()
}

// IncRunRejected records a run refused because the artifact was busy.
func (c *Collector) IncRunRejected() {
	if c == nil {
		return
	}
	c.inc(&c.runsRejected)
}

// --- Tool process ---

// IncToolLaunchSuccess records a tool process that started.
func (c *Collector) IncToolLaunchSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.toolLaunchSuccess)
}

// IncToolLaunchFailure records a tool process that could not be started.
func (c *Collector) IncToolLaunchFailure() {
	if c == nil {
		return
	}
	c.inc(&c.toolLaunchFailure)
}

// IncToolNonzeroExit records a tool that exited with a nonzero status.
func (c *Collector) IncToolNonzeroExit() {
	if c == nil {
		return
	}
	c.inc(&c.toolNonzeroExit)
}

// IncToolTimeout records a tool killed for exceeding its time bound.
func (c *Collector) IncToolTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.toolTimeouts)
}

// --- Result protocol ---

// IncProtocolResult records a valid protocol result.
func (c *Collector) IncProtocolResult() {
	if c == nil {
		return
	}
	c.inc(&c.protocolResults)
}

// IncProtocolFallback records a degraded success without a protocol result.
func (c *Collector) IncProtocolFallback() {
	if c == nil {
		return
	}
	c.inc(&c.protocolFallbacks)
}

// --- Artifacts ---

// IncArtifactCreated records a newly allocated artifact filename.
func (c *Collector) IncArtifactCreated() {
	if c == nil {
		return
	}
	c.inc(&c.artifactsCreated)
}

// IncArtifactReused records a regeneration that reused an existing filename.
func (c *Collector) IncArtifactReused() {
	if c == nil {
		return
	}
	c.inc(&c.artifactsReused)
}

// --- Record store ---
// Store counters are per upsert call.

// IncStoreWriteSuccess records a successful record upsert.
func (c *Collector) IncStoreWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.storeWriteSuccess)
}

// IncStoreWriteFailure records a failed record upsert.
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.storeWriteFailure)
}

// --- Notifications ---

// IncNotifySuccess records a delivered artifact notification.
func (c *Collector) IncNotifySuccess() {
	if c == nil {
		return
	}
	c.inc(&c.notifySuccess)
}

// IncNotifyFailure records an undelivered artifact notification.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.inc(&c.notifyFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	failed := make(map[string]int64, len(c.failedByKind))
	for k, v := range c.failedByKind {
		failed[k] = v
	}

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsFailed:    c.runsFailed,
		RunsRejected:  c.runsRejected,
		FailedByKind:  failed,

		ToolLaunchSuccess: c.toolLaunchSuccess,
		ToolLaunchFailure: c.toolLaunchFailure,
		ToolNonzeroExit:   c.toolNonzeroExit,
		ToolTimeouts:      c.toolTimeouts,

		ProtocolResults:   c.protocolResults,
		ProtocolFallbacks: c.protocolFallbacks,

		ArtifactsCreated: c.artifactsCreated,
		ArtifactsReused:  c.artifactsReused,

		StoreWriteSuccess: c.storeWriteSuccess,
		StoreWriteFailure: c.storeWriteFailure,

		NotifySuccess: c.notifySuccess,
		NotifyFailure: c.notifyFailure,

		StorageBackend: c.storageBackend,
		LockBackend:    c.lockBackend,
	}
}
