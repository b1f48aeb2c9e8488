// Package lode persists artifact records through a Lode object store.
//
// Each record is one object at {table}/{key}.{ext}, encoded with the
// configured codec. The same code serves the local filesystem, S3 and
// in-memory backends; only the lode.StoreFactory differs.
package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/babi2707/segmark/iox"
	"github.com/babi2707/segmark/types"
)

// storeAttempts bounds the tries of one backend call that fails transiently.
const storeAttempts = 3

// storeBackoff is the delay before the first retry; it doubles per attempt.
var storeBackoff = 50 * time.Millisecond

// retry runs fn until it succeeds, fails with a non-transient error, or
// runs out of attempts. fn must return classified errors.
func retry(ctx context.Context, fn func() error) error {
	var err error
	for i := range storeAttempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(storeBackoff << (i - 1)):
			}
		}
		if err = fn(); err == nil || !Transient(err) {
			return err
		}
	}
	return err
}

// RecordStore keeps images and their artifact records in a lode.Store.
//
// Writes are serialized within the process. Each image has at most one
// record per artifact table, keyed by image id, so upserts replace the
// object in place.
type RecordStore struct {
	store lode.Store
	codec Codec
	now   func() time.Time

	mu sync.Mutex
}

// NewRecordStore creates a RecordStore from a store factory.
func NewRecordStore(factory lode.StoreFactory, codec Codec) (*RecordStore, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	store, err := factory()
	if err != nil {
		return nil, WrapInitError(err, "records")
	}
	return &RecordStore{store: store, codec: codec, now: time.Now}, nil
}

// NewMemoryRecordStore creates a RecordStore backed by lode's in-memory store.
func NewMemoryRecordStore() *RecordStore {
	return &RecordStore{store: lode.NewMemory(), codec: JSONCodec{}, now: time.Now}
}

// Codec returns the record codec.
func (s *RecordStore) Codec() Codec {
	return s.codec
}

func (s *RecordStore) path(table string, id int64) string {
	return fmt.Sprintf("%s/%d.%s", table, id, s.codec.Ext())
}

// load decodes the record at path into v. It reports false when absent.
func (s *RecordStore) load(ctx context.Context, path string, v any) (bool, error) {
	var ok bool
	err := retry(ctx, func() error {
		var err error
		ok, err = s.store.Exists(ctx, path)
		return WrapReadError(err, path)
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	data, err := s.read(ctx, path)
	if err != nil {
		return false, err
	}
	if err := s.codec.Unmarshal(data, v); err != nil {
		return false, NewStorageError(ErrCorrupt, "read", path, err)
	}
	return true, nil
}

// save writes v at path, replacing any existing object.
//
// lode stores do not overwrite, so a replace is delete then put. The old
// bytes are held until the put succeeds and written back when it fails,
// leaving the previous record in place.
// Caller must hold s.mu.
func (s *RecordStore) save(ctx context.Context, path string, v any) error {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	exists, err := s.store.Exists(ctx, path)
	if err != nil {
		return WrapReadError(err, path)
	}
	var prev []byte
	if exists {
		if prev, err = s.read(ctx, path); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, path); err != nil {
			return WrapDeleteError(err, path)
		}
	}

	err = s.put(ctx, path, data)
	if err == nil || !exists {
		return err
	}
	if rerr := s.put(context.WithoutCancel(ctx), path, prev); rerr != nil {
		return errors.Join(err, fmt.Errorf("restore previous %s: %w", path, rerr))
	}
	return err
}

func (s *RecordStore) put(ctx context.Context, path string, data []byte) error {
	return retry(ctx, func() error {
		return WrapWriteError(s.store.Put(ctx, path, bytes.NewReader(data)), path)
	})
}

// read returns the raw bytes stored at path.
func (s *RecordStore) read(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	defer iox.DiscardClose(rc)

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	return data, nil
}

// nextID allocates the next id for table.
// Caller must hold s.mu.
func (s *RecordStore) nextID(ctx context.Context, table string) (int64, error) {
	path := tableCounters + "/" + table + "." + s.codec.Ext()
	var c counterRecord
	if _, err := s.load(ctx, path, &c); err != nil {
		return 0, err
	}
	c.Last++
	if err := s.save(ctx, path, c); err != nil {
		return 0, err
	}
	return c.Last, nil
}

// reserveID moves the table counter past id so explicit ids are never reissued.
// Caller must hold s.mu.
func (s *RecordStore) reserveID(ctx context.Context, table string, id int64) error {
	path := tableCounters + "/" + table + "." + s.codec.Ext()
	var c counterRecord
	if _, err := s.load(ctx, path, &c); err != nil {
		return err
	}
	if id <= c.Last {
		return nil
	}
	c.Last = id
	return s.save(ctx, path, c)
}

// --- Images ---

// SaveImage registers ref, assigning an id when ref.ID is zero.
func (s *RecordStore) SaveImage(ctx context.Context, ref *types.ImageRef) error {
	if ref == nil || ref.Path == "" {
		return errors.New("image path is required")
	}
	if ref.ID < 0 {
		return fmt.Errorf("invalid image id %d", ref.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ref.ID == 0 {
		id, err := s.nextID(ctx, TableImages)
		if err != nil {
			return err
		}
		ref.ID = id
	} else if err := s.reserveID(ctx, TableImages, ref.ID); err != nil {
		return err
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = s.now()
	}
	return s.save(ctx, s.path(TableImages, ref.ID), toImageRecord(ref))
}

// FindImage returns the image with id, or nil when absent.
func (s *RecordStore) FindImage(ctx context.Context, id int64) (*types.ImageRef, error) {
	var r imageRecord
	ok, err := s.load(ctx, s.path(TableImages, id), &r)
	if err != nil || !ok {
		return nil, err
	}
	return r.toImage(), nil
}

// ListImages returns every registered image ordered by id.
func (s *RecordStore) ListImages(ctx context.Context) ([]*types.ImageRef, error) {
	ids, err := s.listIDs(ctx, TableImages)
	if err != nil {
		return nil, err
	}
	images := make([]*types.ImageRef, 0, len(ids))
	for _, id := range ids {
		img, err := s.FindImage(ctx, id)
		if err != nil {
			return nil, err
		}
		if img != nil {
			images = append(images, img)
		}
	}
	return images, nil
}

// listIDs returns the ids stored under table in ascending order.
func (s *RecordStore) listIDs(ctx context.Context, table string) ([]int64, error) {
	prefix := table + "/"
	paths, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, WrapReadError(err, prefix)
	}
	suffix := "." + s.codec.Ext()
	var ids []int64
	for _, p := range paths {
		name := p
		if _, after, ok := strings.Cut(p, prefix); ok {
			name = after
		}
		if !strings.HasSuffix(name, suffix) || strings.Contains(name, "/") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// --- Markers ---

// FindMarkers returns the marker annotation for imageID, or nil when absent.
func (s *RecordStore) FindMarkers(ctx context.Context, imageID int64) (*types.MarkerArtifact, error) {
	var r markerRecord
	path := s.path(TableMarkers, imageID)
	ok, err := s.load(ctx, path, &r)
	if err != nil || !ok {
		return nil, err
	}
	m, err := r.toMarker()
	if err != nil {
		return nil, NewStorageError(ErrCorrupt, "read", path, err)
	}
	return m, nil
}

// UpsertMarkers writes m as the single annotation for m.ImageID.
// A zero ID adopts the existing record's id or allocates a new one.
func (s *RecordStore) UpsertMarkers(ctx context.Context, m *types.MarkerArtifact) error {
	if m == nil || m.ImageID <= 0 {
		return errors.New("marker record requires an image id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(TableMarkers, m.ImageID)
	if m.ID == 0 {
		var prev markerRecord
		found, err := s.load(ctx, path, &prev)
		if err != nil {
			return err
		}
		if found {
			m.ID = prev.ID
			if m.CreatedAt.IsZero() {
				m.CreatedAt = prev.CreatedAt
			}
		} else {
			id, err := s.nextID(ctx, TableMarkers)
			if err != nil {
				return err
			}
			m.ID = id
		}
	}
	return s.save(ctx, path, toMarkerRecord(m))
}

// --- Segmented ---

// FindSegmented returns the segmented record for imageID, or nil when absent.
func (s *RecordStore) FindSegmented(ctx context.Context, imageID int64) (*types.SegmentedArtifact, error) {
	var r segmentedRecord
	ok, err := s.load(ctx, s.path(TableSegmented, imageID), &r)
	if err != nil || !ok {
		return nil, err
	}
	return r.toSegmented(), nil
}

// UpsertSegmented writes seg as the single segmented record for seg.ImageID.
func (s *RecordStore) UpsertSegmented(ctx context.Context, seg *types.SegmentedArtifact) error {
	if seg == nil || seg.ImageID <= 0 {
		return errors.New("segmented record requires an image id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(TableSegmented, seg.ImageID)
	if seg.ID == 0 {
		var prev segmentedRecord
		found, err := s.load(ctx, path, &prev)
		if err != nil {
			return err
		}
		if found {
			seg.ID = prev.ID
			if seg.CreatedAt.IsZero() {
				seg.CreatedAt = prev.CreatedAt
			}
		} else {
			id, err := s.nextID(ctx, TableSegmented)
			if err != nil {
				return err
			}
			seg.ID = id
		}
	}
	return s.save(ctx, path, toSegmentedRecord(seg))
}

// Count returns the number of records in table.
func (s *RecordStore) Count(ctx context.Context, table string) (int, error) {
	ids, err := s.listIDs(ctx, table)
	return len(ids), err
}
