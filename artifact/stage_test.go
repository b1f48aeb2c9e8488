package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/babi2707/segmark/types"
)

func TestStage_WritesAndReleases(t *testing.T) {
	s := newTestStore(t)

	staged, err := s.Stage("Scan.JPG", strings.NewReader("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if !filepath.IsAbs(staged.Path) {
		t.Errorf("Path = %q, want absolute", staged.Path)
	}
	if filepath.Ext(staged.Path) != ".jpg" {
		t.Errorf("extension = %q, want .jpg", filepath.Ext(staged.Path))
	}
	if staged.Size != int64(len("jpeg-bytes")) {
		t.Errorf("Size = %d", staged.Size)
	}

	if err := staged.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(staged.Path); !os.IsNotExist(err) {
		t.Errorf("staged file still present: %v", err)
	}
	if err := staged.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestStage_DistinctNamesForSameUpload(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Stage("scan.png", strings.NewReader("a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Stage("scan.png", strings.NewReader("b"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Path == b.Path {
		t.Errorf("both uploads staged at %q", a.Path)
	}
}

func TestStageFile_MissingSource(t *testing.T) {
	s := newTestStore(t)

	_, err := s.StageFile(filepath.Join(t.TempDir(), "absent.png"))
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStaged_NilRelease(t *testing.T) {
	var s *Staged
	if err := s.Release(); err != nil {
		t.Errorf("nil Release = %v", err)
	}
}
