package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/babi2707/segmark/iox"
	"github.com/babi2707/segmark/types"
)

// Staged is a temporary input file handed to a tool.
type Staged struct {
	// Path is the absolute location of the staged file.
	Path string
	// Size is the number of bytes written.
	Size int64
}

// Release removes the staged file. Safe to call more than once.
func (s *Staged) Release() error {
	if s == nil || s.Path == "" {
		return nil
	}
	return iox.RemoveIfExists(s.Path)
}

// Stage writes r into the uploads directory under a unique name that keeps
// the extension of originalName. Callers must Release the result once the
// tool has finished, whether or not the run succeeded:
//
//	staged, err := store.Stage("scan.png", body)
//	if err != nil { ... }
//	defer iox.DiscardErr(staged.Release)
func (s *Store) Stage(originalName string, r io.Reader) (*Staged, error) {
	dir := filepath.Join(s.layout.Root, s.layout.UploadsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewRunError(types.ErrIOFailure, "stage", "failed to create uploads directory", err)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".png"
	}
	target := filepath.Join(dir, "upload_"+s.token()+ext)

	n, err := iox.WriteFile(target, r, 0o644)
	if err != nil {
		return nil, types.NewRunError(types.ErrIOFailure, "stage", fmt.Sprintf("failed to stage %s", filepath.Base(originalName)), err)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	return &Staged{Path: abs, Size: n}, nil
}

// StageFile copies an existing file into the uploads directory.
func (s *Store) StageFile(src string) (*Staged, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, types.NewRunError(types.ErrInvalidInput, "stage", fmt.Sprintf("cannot open %s", src), err)
	}
	defer iox.DiscardClose(f)
	return s.Stage(src, f)
}
