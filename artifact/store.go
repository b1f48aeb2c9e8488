// Package artifact owns the on-disk layout of generated artifacts.
//
// A Store decides output filenames, creates artifact directories on demand,
// and maps filenames to the paths and URLs that are persisted and served.
// Filenames for a given image are reused across regenerations so URLs stay
// stable and old files are overwritten in place.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/babi2707/segmark/types"
)

// Output verification errors.
var (
	// ErrMissingOutput indicates the tool did not create its output file.
	ErrMissingOutput = errors.New("output file missing")
	// ErrNotRegular indicates the output path is not a regular file.
	ErrNotRegular = errors.New("output is not a regular file")
)

// Layout configures where artifacts live and how they are served.
type Layout struct {
	// Root is the base directory for every artifact directory.
	Root string
	// SegmentedDir holds segmentation outputs, relative to Root.
	SegmentedDir string
	// MarkersDir holds marker images, relative to Root.
	MarkersDir string
	// UploadsDir holds staged temporary inputs, relative to Root.
	UploadsDir string
	// PublicPrefix is prepended to relative paths to build URLs.
	// Empty yields root-relative URLs such as /segmented/x.png.
	PublicPrefix string
}

// DefaultLayout returns the conventional directory names under root.
func DefaultLayout(root string) Layout {
	return Layout{
		Root:         root,
		SegmentedDir: "segmented",
		MarkersDir:   "initial_markers",
		UploadsDir:   "uploads",
	}
}

// Validate checks that every directory is set and stays under Root.
func (l Layout) Validate() error {
	if l.Root == "" {
		return errors.New("artifact root is required")
	}
	for name, dir := range map[string]string{
		"segmented_dir": l.SegmentedDir,
		"markers_dir":   l.MarkersDir,
		"uploads_dir":   l.UploadsDir,
	} {
		if dir == "" {
			return fmt.Errorf("%s is required", name)
		}
		if filepath.IsAbs(dir) || strings.HasPrefix(filepath.Clean(dir), "..") {
			return fmt.Errorf("%s must be relative to the artifact root: %q", name, dir)
		}
	}
	return nil
}

// subdir returns the directory name for kind.
func (l Layout) subdir(kind types.ArtifactKind) string {
	if kind == types.KindMarkers {
		return l.MarkersDir
	}
	return l.SegmentedDir
}

// Store resolves artifact names and locations.
type Store struct {
	layout Layout
	token  func() string
}

// NewStore creates a Store for the given layout.
func NewStore(layout Layout) (*Store, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact layout: %w", err)
	}
	return &Store{
		layout: layout,
		token:  func() string { return uuid.NewString() },
	}, nil
}

// Layout returns the store's layout.
func (s *Store) Layout() Layout {
	return s.layout
}

// Dir returns the directory holding artifacts of kind.
func (s *Store) Dir(kind types.ArtifactKind) string {
	return filepath.Join(s.layout.Root, s.layout.subdir(kind))
}

// ResolveOutputName picks the filename for the next artifact of kind.
//
// When existing is non-nil the basename of that recorded path is reused.
// Otherwise a new name is synthesized: markers_{imageId}_{token}.png for
// markers and segmented_{token}.png for segmentation. The kind's directory
// is created if absent.
//
// Marker artifacts must be addressed by image id.
func (s *Store) ResolveOutputName(existing *string, id types.ArtifactIdentity, kind types.ArtifactKind) (string, error) {
	if !kind.Valid() {
		return "", types.NewRunError(types.ErrInvalidInput, "resolve", fmt.Sprintf("unknown artifact kind %q", kind), nil)
	}
	if id.IsZero() {
		return "", types.NewRunError(types.ErrInvalidInput, "resolve", "artifact identity is required", nil)
	}

	var name string
	if existing != nil {
		name = reusableName(*existing)
	}
	if name == "" {
		switch kind {
		case types.KindMarkers:
			imageID, ok := id.ImageID()
			if !ok {
				return "", types.NewRunError(types.ErrInvalidInput, "resolve", "marker artifacts require an image id", nil)
			}
			name = "markers_" + strconv.FormatInt(imageID, 10) + "_" + s.token() + ".png"
		default:
			name = "segmented_" + s.token() + ".png"
		}
	}

	if err := os.MkdirAll(s.Dir(kind), 0o755); err != nil {
		return "", types.NewRunError(types.ErrIOFailure, "resolve", "failed to create artifact directory", err)
	}
	return name, nil
}

// reusableName returns the basename of a recorded path, or "" if it has none.
// Recorded paths use forward slashes regardless of platform.
func reusableName(recorded string) string {
	recorded = strings.ReplaceAll(recorded, "\\", "/")
	base := path.Base(recorded)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// OutputPath returns the filesystem path the tool should write name to.
func (s *Store) OutputPath(kind types.ArtifactKind, name string) string {
	return filepath.Join(s.Dir(kind), name)
}

// RelativePath returns the path persisted on records, e.g. /initial_markers/x.png.
func (s *Store) RelativePath(kind types.ArtifactKind, name string) string {
	return "/" + path.Join(filepath.ToSlash(s.layout.subdir(kind)), name)
}

// PublicURL returns the URL clients fetch the artifact from.
func (s *Store) PublicURL(kind types.ArtifactKind, name string) string {
	return strings.TrimSuffix(s.layout.PublicPrefix, "/") + s.RelativePath(kind, name)
}

// RecordURL returns the public URL for a path persisted on a record,
// or "" when the path names no file.
func (s *Store) RecordURL(kind types.ArtifactKind, recorded string) string {
	name := reusableName(recorded)
	if name == "" {
		return ""
	}
	return s.PublicURL(kind, name)
}

// VerifyOutput reports the size of a tool's output file.
// A missing file returns ErrMissingOutput; an empty file returns size 0
// and no error so callers can apply their own emptiness rules.
func (s *Store) VerifyOutput(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrMissingOutput, p)
		}
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s", ErrNotRegular, p)
	}
	return info.Size(), nil
}
