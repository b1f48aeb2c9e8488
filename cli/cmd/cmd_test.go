package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/cli/config"
	"github.com/babi2707/segmark/types"
)

const markersOK = `printf 'MARKERS' > "$2"
echo "loading model"
echo '{"status":"success","data":{"total_markers":12}}'
`

const segmentOK = `printf 'SEGMENTED' > "$3"
echo "segmenting $1 with $2"
`

// harness is a segmark.yaml with stub tools, fs records and an artifact
// root, all under one temp dir.
type harness struct {
	dir    string
	config string
}

func newHarness(t *testing.T, markersScript, segmentScript string) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{dir: dir, config: filepath.Join(dir, "segmark.yaml")}

	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o755))
		return p
	}
	markers := write("markers.sh", markersScript)
	segment := write("segment.sh", segmentScript)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "records"), 0o755))

	cfg := fmt.Sprintf(`log_level: error
tools:
  segmentation:
    interpreter: /bin/sh
    script: %s
  markers:
    interpreter: /bin/sh
    script: %s
artifacts:
  root: %s
storage:
  backend: fs
  path: %s
`, segment, markers, filepath.Join(dir, "public"), filepath.Join(dir, "records"))
	write("segmark.yaml", cfg)
	return h
}

// image writes a source image file and returns its path.
func (h *harness) image(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(p, []byte("\x89PNG"), 0o644))
	return p
}

type result struct {
	stdout string
	stderr string
	code   int
}

func (r result) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(r.stdout), v), "stdout: %s", r.stdout)
}

func (h *harness) run(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App("test")
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	argv := append([]string{"segmark", "--config", h.config}, args...)
	err := app.Run(argv)

	res := result{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		var exitCoder cli.ExitCoder
		if errors.As(err, &exitCoder) {
			res.code = exitCoder.ExitCode()
		} else {
			res.code = exitUnexpected
		}
	}
	return res
}

func (h *harness) register(t *testing.T, name string) int64 {
	t.Helper()
	res := h.run(t, "image", "register", h.image(t, name))
	require.Zero(t, res.code, res.stderr)
	var ref types.ImageRef
	res.decode(t, &ref)
	return ref.ID
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"invalid input", types.NewRunError(types.ErrInvalidInput, "op", "bad", nil), exitInvalidInput},
		{"not found", types.NewRunError(types.ErrNotFound, "op", "gone", nil), exitInvalidInput},
		{"tool failure", types.NewRunError(types.ErrToolFailure, "op", "exit 1", nil), exitToolFailure},
		{"protocol failure", types.NewRunError(types.ErrProtocolFailure, "op", "no result", nil), exitProtocolFailure},
		{"io failure", types.NewRunError(types.ErrIOFailure, "op", "disk", nil), exitIOFailure},
		{"busy", fmt.Errorf("wrapped: %w", types.ErrBusy), exitBusy},
		{"timeout", types.NewRunError(types.ErrToolTimeout, "op", "slow", nil), exitTimeout},
		{"other", errors.New("boom"), exitUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestApp_Version(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	res := h.run(t, "version")
	require.Zero(t, res.code)

	var v VersionResponse
	res.decode(t, &v)
	require.Equal(t, types.Version, v.Version)
	require.Equal(t, "test", v.Commit)
}

func TestApp_ImageRegisterAndList(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	first := h.register(t, "a.png")
	second := h.register(t, "b.png")
	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)

	res := h.run(t, "image", "list")
	require.Zero(t, res.code)
	var images []types.ImageRef
	res.decode(t, &images)
	require.Len(t, images, 2)
	require.Equal(t, filepath.Join(h.dir, "b.png"), images[1].Path)
}

func TestApp_ImageRegisterMissingFile(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	res := h.run(t, "image", "register", filepath.Join(h.dir, "absent.png"))
	require.Equal(t, exitInvalidInput, res.code)

	var resp types.Response
	res.decode(t, &resp)
	require.Equal(t, types.StatusError, resp.Status)
}

func TestApp_MarkersThenInspect(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	id := h.register(t, "scan.png")

	res := h.run(t, "markers", "--image-id", fmt.Sprint(id))
	require.Zero(t, res.code, res.stderr)
	var resp types.Response
	res.decode(t, &resp)
	require.Equal(t, types.StatusSuccess, resp.Status)
	require.Regexp(t, regexp.MustCompile(`^/initial_markers/markers_1_[0-9a-f-]{36}\.png$`), resp.MarkersURL)
	require.JSONEq(t, `{"status":"success","data":{"total_markers":12}}`, resp.Stats)

	written := filepath.Join(h.dir, "public", strings.TrimPrefix(resp.MarkersURL, "/"))
	data, err := os.ReadFile(written)
	require.NoError(t, err)
	require.Equal(t, "MARKERS", string(data))

	res = h.run(t, "inspect", "--image-id", fmt.Sprint(id))
	require.Zero(t, res.code, res.stderr)
	var view struct {
		Image      types.ImageRef        `json:"image"`
		Markers    *types.MarkerArtifact `json:"markers"`
		MarkersURL string                `json:"markersUrl"`
	}
	res.decode(t, &view)
	require.Equal(t, id, view.Image.ID)
	require.NotNil(t, view.Markers)
	require.Equal(t, resp.MarkersURL, view.Markers.FilePath)
	require.Equal(t, resp.MarkersURL, view.MarkersURL)
	total, ok := view.Markers.Data["total_markers"].AsNumber()
	require.True(t, ok)
	require.Equal(t, float64(12), total)
}

func TestApp_MarkersUnknownImage(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	res := h.run(t, "markers", "--image-id", "42")
	require.Equal(t, exitInvalidInput, res.code)

	var resp types.Response
	res.decode(t, &resp)
	require.Equal(t, types.StatusError, resp.Status)
	require.Contains(t, resp.Message, "42")
}

func TestApp_MarkersProtocolFailure(t *testing.T) {
	h := newHarness(t, `: > "$2"
echo "nothing useful"
`, segmentOK)
	id := h.register(t, "scan.png")

	res := h.run(t, "markers", "--image-id", fmt.Sprint(id))
	require.Equal(t, exitProtocolFailure, res.code)
}

func TestApp_SegmentByImageID(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	id := h.register(t, "scan.png")
	markers := h.image(t, "seed.png")

	var urls []string
	for range 2 {
		res := h.run(t, "segment", "--image", h.image(t, "scan.png"), "--markers", markers, "--image-id", fmt.Sprint(id))
		require.Zero(t, res.code, res.stderr)
		var resp types.Response
		res.decode(t, &resp)
		urls = append(urls, resp.SegmentedImageURL)
	}
	require.Regexp(t, regexp.MustCompile(`^/segmented/segmented_[0-9a-f-]{36}\.png$`), urls[0])
	require.Equal(t, urls[0], urls[1], "filename is reused for the same image")
}

func TestApp_SegmentByFilenameReleasesStagedInputs(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)

	res := h.run(t, "segment", "--image", h.image(t, "upload.png"), "--markers", h.image(t, "seed.png"))
	require.Zero(t, res.code, res.stderr)
	var resp types.Response
	res.decode(t, &resp)
	require.True(t, strings.HasPrefix(resp.SegmentedImageURL, "/segmented/segmented_"))

	entries, err := os.ReadDir(filepath.Join(h.dir, "public", "uploads"))
	require.NoError(t, err)
	require.Empty(t, entries, "staged inputs must be removed")
}

func TestApp_SegmentToolFailure(t *testing.T) {
	h := newHarness(t, markersOK, `echo "cannot read markers"
exit 3
`)
	id := h.register(t, "scan.png")

	res := h.run(t, "segment", "--image", h.image(t, "scan.png"), "--markers", h.image(t, "seed.png"), "--image-id", fmt.Sprint(id))
	require.Equal(t, exitToolFailure, res.code)

	var resp types.Response
	res.decode(t, &resp)
	require.Equal(t, types.StatusError, resp.Status)
	require.NotContains(t, resp.Message, "cannot read markers", "tool output stays in the logs")
}

func TestApp_AnnotationLifecycle(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	id := fmt.Sprint(h.register(t, "scan.png"))

	res := h.run(t, "annotation", "get", "--image-id", id)
	require.Zero(t, res.code, res.stderr)
	require.JSONEq(t, `{"brushStrokes":[]}`, res.stdout)

	res = h.run(t, "annotation", "save", "--image-id", id, "--data", `{"brushStrokes":[{"x":1}],"zoom":2}`)
	require.Zero(t, res.code, res.stderr)

	res = h.run(t, "annotation", "auto-save", "--image-id", id, "--data", `{"zoom":3}`)
	require.Zero(t, res.code, res.stderr)

	res = h.run(t, "annotation", "get", "--image-id", id)
	require.Zero(t, res.code, res.stderr)
	require.JSONEq(t, `{"brushStrokes":[{"x":1}],"zoom":3}`, res.stdout)
}

func TestApp_AnnotationInvalidDocument(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	id := fmt.Sprint(h.register(t, "scan.png"))

	for _, args := range [][]string{
		{"annotation", "save", "--image-id", id},
		{"annotation", "save", "--image-id", id, "--data", `[1,2]`},
		{"annotation", "save", "--image-id", id, "--data", `{}`, "--file", "x.json"},
	} {
		res := h.run(t, args...)
		require.Equal(t, exitInvalidInput, res.code, "args %v", args)
	}
}

func TestApp_AnnotationFromFile(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	id := fmt.Sprint(h.register(t, "scan.png"))
	doc := filepath.Join(h.dir, "doc.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"brushStrokes":[],"label":"lesion"}`), 0o644))

	res := h.run(t, "annotation", "save", "--image-id", id, "--file", doc)
	require.Zero(t, res.code, res.stderr)
	var rec types.MarkerArtifact
	res.decode(t, &rec)
	label, ok := rec.Data["label"].AsString()
	require.True(t, ok)
	require.Equal(t, "lesion", label)
}

func TestApp_BatchMarkers(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	h.register(t, "a.png")
	h.register(t, "b.png")
	h.register(t, "c.png")

	res := h.run(t, "batch-markers", "--all", "--parallel", "2")
	require.Zero(t, res.code, res.stderr)

	var rows []BatchRow
	res.decode(t, &rows)
	require.Len(t, rows, 3)
	for i, row := range rows {
		require.Equal(t, int64(i+1), row.ImageID)
		require.Equal(t, types.StatusSuccess, row.Status)
		require.False(t, row.Fallback)
	}
}

func TestApp_BatchMarkersReportsFailures(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	h.register(t, "a.png")

	res := h.run(t, "batch-markers", "--image-id", "1", "--image-id", "9", "--image-id", "1")
	require.Equal(t, exitInvalidInput, res.code)

	var rows []BatchRow
	res.decode(t, &rows)
	require.Len(t, rows, 2, "duplicate ids run once")
	require.Equal(t, types.StatusSuccess, rows[0].Status)
	require.Equal(t, types.StatusError, rows[1].Status)
	require.Contains(t, rows[1].Message, "9")
}

func TestApp_BatchMarkersNeedsSelection(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	res := h.run(t, "batch-markers")
	require.Equal(t, exitInvalidInput, res.code)
}

func TestApp_StatsFlag(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	id := h.register(t, "scan.png")

	res := h.run(t, "--stats", "markers", "--image-id", fmt.Sprint(id))
	require.Zero(t, res.code, res.stderr)
	require.Contains(t, res.stderr, `"runs_completed": 1`)
	require.Contains(t, res.stderr, `"protocol_results": 1`)
}

func TestApp_InvalidFormat(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	res := h.run(t, "image", "list", "--format", "xml")
	require.Equal(t, exitInvalidInput, res.code)
}

func TestApp_BadConfig(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	require.NoError(t, os.WriteFile(h.config, []byte("storage:\n  backend: tape\n"), 0o644))

	res := h.run(t, "image", "list")
	require.Equal(t, exitUnexpected, res.code)
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)

	var got *config.Config
	app := &cli.App{
		Flags: GlobalFlags(),
		Action: func(c *cli.Context) error {
			var err error
			got, err = loadConfig(c)
			return err
		},
	}
	err := app.Run([]string{"segmark",
		"--config", h.config,
		"--log-level", "debug",
		"--storage-backend", "memory",
		"--artifacts-root", filepath.Join(h.dir, "elsewhere"),
	})
	require.NoError(t, err)
	require.Equal(t, "debug", got.LogLevel)
	require.Equal(t, "memory", got.Storage.Backend)
	require.Empty(t, got.Storage.Path)
	require.Equal(t, filepath.Join(h.dir, "elsewhere"), got.Artifacts.Root)
	require.Equal(t, "/bin/sh", got.Tools.Markers.Interpreter)
}

func TestLoadConfig_RejectsBadOverride(t *testing.T) {
	h := newHarness(t, markersOK, segmentOK)
	app := &cli.App{
		Flags:  GlobalFlags(),
		Action: func(c *cli.Context) error { _, err := loadConfig(c); return err },
	}
	err := app.Run([]string{"segmark", "--config", h.config, "--storage-backend", "tape"})
	require.ErrorContains(t, err, "storage.backend")
}

func TestNotifyBudget(t *testing.T) {
	require.Equal(t, 2*time.Second, notifyBudget(2*time.Second, 0))
	// 3 attempts at 2s plus 500ms and 1s of backoff
	require.Equal(t, 7500*time.Millisecond, notifyBudget(2*time.Second, 2))
}
