package types

import (
	"fmt"
	"strconv"
	"time"
)

// ArtifactKind distinguishes the two generated artifact families.
type ArtifactKind string

const (
	// KindMarkers is a seed-marker image produced by the marker tool.
	KindMarkers ArtifactKind = "markers"
	// KindSegmentation is a segmented image produced by the segmentation tool.
	KindSegmentation ArtifactKind = "segmentation"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	return k == KindMarkers || k == KindSegmentation
}

// ArtifactIdentity addresses an artifact either by its owning image id
// (record-backed) or by a bare output filename (no record).
// The zero value addresses nothing.
type ArtifactIdentity struct {
	imageID  int64
	filename string
	byID     bool
}

// ByImageID addresses the artifact owned by the given image.
func ByImageID(id int64) ArtifactIdentity {
	return ArtifactIdentity{imageID: id, byID: true}
}

// ByFilename addresses an artifact by its output filename only.
func ByFilename(name string) ArtifactIdentity {
	return ArtifactIdentity{filename: name}
}

// ImageID returns the owning image id and true for id-based identities.
func (a ArtifactIdentity) ImageID() (int64, bool) {
	return a.imageID, a.byID
}

// Filename returns the filename and true for filename-based identities.
func (a ArtifactIdentity) Filename() (string, bool) {
	return a.filename, !a.byID && a.filename != ""
}

// IsZero reports whether the identity addresses nothing.
func (a ArtifactIdentity) IsZero() bool {
	return !a.byID && a.filename == ""
}

// Key returns a stable string usable as a lock or map key.
func (a ArtifactIdentity) Key() string {
	if a.byID {
		return "image:" + strconv.FormatInt(a.imageID, 10)
	}
	return "file:" + a.filename
}

func (a ArtifactIdentity) String() string {
	if a.IsZero() {
		return "<none>"
	}
	return a.Key()
}

// MarkerArtifact is the persisted annotation record for an image's marker file.
// At most one exists per image.
type MarkerArtifact struct {
	// ID is the record identifier, assigned on first save.
	ID int64 `json:"id"`
	// ImageID is the owning image.
	ImageID int64 `json:"image_id"`
	// FilePath is the public-relative path of the marker file (e.g. /initial_markers/x.png).
	FilePath string `json:"file_path"`
	// Data is the last structured payload; nil when absent.
	Data Document `json:"annotation_data"`
	// CreatedAt is set once on creation.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is refreshed on every write.
	UpdatedAt time.Time `json:"updated_at"`
}

// SegmentedArtifact is the persisted record for an image's segmented output.
// At most one exists per image.
type SegmentedArtifact struct {
	ID        int64     `json:"id"`
	ImageID   int64     `json:"image_id"`
	FilePath  string    `json:"file_path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch stamps the record for a write at now, setting CreatedAt on first save.
func (s *SegmentedArtifact) Touch(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

// Touch stamps the record for a write at now, setting CreatedAt on first save.
func (m *MarkerArtifact) Touch(now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

// ParseArtifactKind parses a kind name, accepting "segmented" as an alias.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	switch s {
	case "markers", "marker":
		return KindMarkers, nil
	case "segmentation", "segmented":
		return KindSegmentation, nil
	default:
		return "", fmt.Errorf("invalid artifact kind: %q (must be markers or segmentation)", s)
	}
}
