package lode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/justapithecus/lode/lode"

	"github.com/babi2707/segmark/types"
)

func TestMirror_Key(t *testing.T) {
	m, err := NewMirror(lode.NewMemoryFactory(), "")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"/segmented/x.png":      "artifacts/segmented/x.png",
		"initial_markers/m.png": "artifacts/initial_markers/m.png",
		"/../../etc/passwd":     "artifacts/etc/passwd",
	}
	for in, want := range cases {
		if got := m.Key(in); got != want {
			t.Errorf("Key(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMirror_PutReplacesAndOpens(t *testing.T) {
	store := lode.NewMemory()
	m, err := NewMirror(sharedFactory(store), "copies")
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	local := filepath.Join(t.TempDir(), "segmented_x.png")

	for _, content := range []string{"first", "second"} {
		if err := os.WriteFile(local, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := m.Put(ctx, "/segmented/segmented_x.png", local); err != nil {
			t.Fatalf("Put(%s): %v", content, err)
		}
	}

	rc, err := m.Open(ctx, "/segmented/segmented_x.png")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if string(data) != "second" {
		t.Errorf("mirrored content = %q, want second", data)
	}
}

func TestMirror_MissingLocalFile(t *testing.T) {
	m, err := NewMirror(lode.NewMemoryFactory(), "")
	if err != nil {
		t.Fatal(err)
	}
	err = m.Put(context.Background(), "/segmented/x.png", filepath.Join(t.TempDir(), "absent.png"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNewFactory(t *testing.T) {
	ctx := context.Background()
	if _, err := NewFactory(ctx, FactoryConfig{Backend: BackendFS, Path: t.TempDir()}); err != nil {
		t.Errorf("fs: %v", err)
	}
	if _, err := NewFactory(ctx, FactoryConfig{Backend: BackendMemory}); err != nil {
		t.Errorf("memory: %v", err)
	}
	if _, err := NewFactory(ctx, FactoryConfig{Backend: BackendFS}); err == nil {
		t.Error("expected error for fs without path")
	}
	if _, err := NewFactory(ctx, FactoryConfig{Backend: BackendS3}); err == nil {
		t.Error("expected error for s3 without bucket")
	}
	if _, err := NewFactory(ctx, FactoryConfig{Backend: "gcs"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/records", "bucket", "records"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = (%q, %q)", tt.in, b, p)
		}
	}
}

func TestRecordStore_FSBackend(t *testing.T) {
	factory, err := NewFactory(context.Background(), FactoryConfig{Backend: BackendFS, Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	rs, err := NewRecordStore(factory, JSONCodec{})
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		ref := &types.SegmentedArtifact{ImageID: 3, FilePath: "/segmented/segmented_z.png"}
		if err := rs.UpsertSegmented(t.Context(), ref); err != nil {
			t.Fatalf("UpsertSegmented on fs: %v", err)
		}
	}
	if n, err := rs.Count(t.Context(), TableSegmented); err != nil || n != 1 {
		t.Errorf("Count = (%d, %v), want 1", n, err)
	}
}
