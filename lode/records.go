package lode

import (
	"time"

	"github.com/babi2707/segmark/types"
)

// Record tables. Each record lives at {table}/{key}.{ext}.
const (
	TableImages    = "images"
	TableMarkers   = "markers"
	TableSegmented = "segmented"
	tableCounters  = "counters"
)

// imageRecord is the storage format for a registered image.
type imageRecord struct {
	ID        int64     `json:"id" msgpack:"id"`
	Path      string    `json:"path" msgpack:"path"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// markerRecord is the storage format for a marker annotation.
// Annotation data is stored as a generic map so both codecs can carry it.
type markerRecord struct {
	ID             int64          `json:"id" msgpack:"id"`
	ImageID        int64          `json:"image_id" msgpack:"image_id"`
	FilePath       string         `json:"file_path" msgpack:"file_path"`
	AnnotationData map[string]any `json:"annotation_data,omitempty" msgpack:"annotation_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at" msgpack:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" msgpack:"updated_at"`
}

// segmentedRecord is the storage format for a segmented image.
type segmentedRecord struct {
	ID        int64     `json:"id" msgpack:"id"`
	ImageID   int64     `json:"image_id" msgpack:"image_id"`
	FilePath  string    `json:"file_path" msgpack:"file_path"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// counterRecord holds the last id handed out for a table.
type counterRecord struct {
	Last int64 `json:"last" msgpack:"last"`
}

func toImageRecord(ref *types.ImageRef) imageRecord {
	return imageRecord{ID: ref.ID, Path: ref.Path, CreatedAt: ref.CreatedAt.UTC()}
}

func (r imageRecord) toImage() *types.ImageRef {
	return &types.ImageRef{ID: r.ID, Path: r.Path, CreatedAt: r.CreatedAt}
}

func toMarkerRecord(m *types.MarkerArtifact) markerRecord {
	return markerRecord{
		ID:             m.ID,
		ImageID:        m.ImageID,
		FilePath:       m.FilePath,
		AnnotationData: m.Data.ToMap(),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func (r markerRecord) toMarker() (*types.MarkerArtifact, error) {
	data, err := types.DocumentFromMap(r.AnnotationData)
	if err != nil {
		return nil, err
	}
	return &types.MarkerArtifact{
		ID:        r.ID,
		ImageID:   r.ImageID,
		FilePath:  r.FilePath,
		Data:      data,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func toSegmentedRecord(s *types.SegmentedArtifact) segmentedRecord {
	return segmentedRecord{
		ID:        s.ID,
		ImageID:   s.ImageID,
		FilePath:  s.FilePath,
		CreatedAt: s.CreatedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
	}
}

func (r segmentedRecord) toSegmented() *types.SegmentedArtifact {
	return &types.SegmentedArtifact{
		ID:        r.ID,
		ImageID:   r.ImageID,
		FilePath:  r.FilePath,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
