package lode

import (
	"context"
	"io"
	"os"
	"path"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/babi2707/segmark/iox"
)

// DefaultMirrorPrefix is the key prefix for mirrored artifact files.
const DefaultMirrorPrefix = "artifacts"

// Mirror copies produced artifact files into a lode.Store so they survive
// the local artifact directory. Keys mirror the public relative path:
// /segmented/x.png is stored at artifacts/segmented/x.png.
type Mirror struct {
	store  lode.Store
	prefix string
}

// NewMirror creates a Mirror from a store factory.
func NewMirror(factory lode.StoreFactory, prefix string) (*Mirror, error) {
	store, err := factory()
	if err != nil {
		return nil, WrapInitError(err, "mirror")
	}
	if prefix == "" {
		prefix = DefaultMirrorPrefix
	}
	return &Mirror{store: store, prefix: strings.Trim(prefix, "/")}, nil
}

// Key returns the store key for a public relative path.
func (m *Mirror) Key(relPath string) string {
	return path.Join(m.prefix, strings.TrimPrefix(path.Clean("/"+relPath), "/"))
}

// Put uploads the local file, replacing any earlier copy for relPath.
func (m *Mirror) Put(ctx context.Context, relPath, localPath string) error {
	key := m.Key(relPath)

	f, err := os.Open(localPath)
	if err != nil {
		return WrapReadError(err, localPath)
	}
	defer iox.DiscardClose(f)

	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return WrapReadError(err, key)
	}
	if exists {
		if err := m.store.Delete(ctx, key); err != nil {
			return WrapDeleteError(err, key)
		}
	}
	if err := m.store.Put(ctx, key, f); err != nil {
		return WrapWriteError(err, key)
	}
	return nil
}

// Open returns the mirrored copy of relPath.
func (m *Mirror) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	key := m.Key(relPath)
	rc, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, WrapReadError(err, key)
	}
	return rc, nil
}
