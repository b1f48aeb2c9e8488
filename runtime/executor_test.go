package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/babi2707/segmark/metrics"
	"github.com/babi2707/segmark/types"
)

// writeScript writes a /bin/sh script into a temp dir and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func shRunner(t *testing.T, body string, mutate func(*ToolConfig)) (*ExecRunner, *metrics.Collector) {
	t.Helper()
	cfg := ToolConfig{InterpreterPath: "/bin/sh", ScriptPath: writeScript(t, body)}
	if mutate != nil {
		mutate(&cfg)
	}
	collector := metrics.NewCollector("memory", "memory")
	return NewExecRunner(cfg, nil, collector), collector
}

func TestExecRunner_ArgsInOrder(t *testing.T) {
	r, _ := shRunner(t, `echo "$1|$2|$3"`, nil)

	inv, err := r.Run(context.Background(), []string{"/in/a.png", "/in/m.png", "/out/s.png"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"/in/a.png|/in/m.png|/out/s.png"}, inv.Output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if inv.ExitCode != 0 || !inv.Succeeded() {
		t.Errorf("ExitCode = %d, want 0", inv.ExitCode)
	}
	if inv.Executable != "/bin/sh" {
		t.Errorf("Executable = %q", inv.Executable)
	}
}

func TestExecRunner_CombinedStreamsKeepOrder(t *testing.T) {
	r, _ := shRunner(t, "echo one\necho two >&2\necho three\n", nil)

	inv, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"one", "two", "three"}, inv.Output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestExecRunner_Environment(t *testing.T) {
	t.Setenv("PYTHONIOENCODING", "latin-1")
	t.Setenv("SEGMARK_INHERITED", "kept")

	r, _ := shRunner(t, `echo "enc=$PYTHONIOENCODING"; echo "inh=$SEGMARK_INHERITED"; echo "dev=$DEVICE"`,
		func(c *ToolConfig) { c.Env = map[string]string{"DEVICE": "cpu"} })

	inv, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"enc=utf-8", "inh=kept", "dev=cpu"}
	if diff := cmp.Diff(want, inv.Output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if inv.Env["PYTHONIOENCODING"] != "utf-8" || inv.Env["DEVICE"] != "cpu" {
		t.Errorf("Env = %v", inv.Env)
	}
}

func TestExecRunner_ConfiguredEnvWinsOverDefault(t *testing.T) {
	r, _ := shRunner(t, `echo "$PYTHONIOENCODING"`,
		func(c *ToolConfig) { c.Env = map[string]string{"PYTHONIOENCODING": "utf-16"} })

	inv, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"utf-16"}, inv.Output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestExecRunner_NonzeroExitIsNotAnError(t *testing.T) {
	r, collector := shRunner(t, "echo 'Traceback: boom' >&2\nexit 3\n", nil)

	inv, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inv.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", inv.ExitCode)
	}
	if inv.Succeeded() {
		t.Error("Succeeded should be false")
	}
	if inv.Tail(5) != "Traceback: boom" {
		t.Errorf("Tail = %q", inv.Tail(5))
	}
	if s := collector.Snapshot(); s.ToolNonzeroExit != 1 || s.ToolLaunchSuccess != 1 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestExecRunner_StartFailure(t *testing.T) {
	collector := metrics.NewCollector("memory", "memory")
	r := NewExecRunner(ToolConfig{
		InterpreterPath: filepath.Join(t.TempDir(), "no-such-python"),
		ScriptPath:      "tool.py",
	}, nil, collector)

	inv, err := r.Run(context.Background(), []string{"x"})
	if !errors.Is(err, types.ErrIOFailure) {
		t.Fatalf("expected ErrIOFailure, got %v", err)
	}
	if inv != nil {
		t.Errorf("invocation = %+v, want nil", inv)
	}
	if collector.Snapshot().ToolLaunchFailure != 1 {
		t.Error("expected launch failure to be counted")
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	r, collector := shRunner(t, "echo started\nexec sleep 5\n",
		func(c *ToolConfig) { c.Timeout = 200 * time.Millisecond })

	start := time.Now()
	inv, err := r.Run(context.Background(), nil)
	if !errors.Is(err, types.ErrToolTimeout) {
		t.Fatalf("expected ErrToolTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Run took %s, tool was not killed", elapsed)
	}
	if inv == nil || len(inv.Output) == 0 || inv.Output[0] != "started" {
		t.Errorf("invocation = %+v", inv)
	}
	if collector.Snapshot().ToolTimeouts != 1 {
		t.Error("expected timeout to be counted")
	}
}

func TestExecRunner_ParentCancel(t *testing.T) {
	r, _ := shRunner(t, "exec sleep 5\n", nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := r.Run(ctx, nil)
	if err == nil {
		t.Fatal("expected error on cancellation")
	}
	if errors.Is(err, types.ErrToolTimeout) {
		t.Error("cancellation must not be reported as a timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestExecRunner_LongOutputLine(t *testing.T) {
	r, _ := shRunner(t, `i=0; while [ $i -lt 2000 ]; do printf 'xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx'; i=$((i+1)); done; echo; echo '{"status":"success"}'`, nil)

	inv, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(inv.Output) != 2 || len(inv.Output[0]) != 200000 {
		t.Fatalf("got %d lines", len(inv.Output))
	}
	if !strings.HasPrefix(inv.Output[1], "{") {
		t.Errorf("second line = %q", inv.Output[1])
	}
}

func TestToolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ToolConfig
		wantErr bool
	}{
		{"valid", ToolConfig{InterpreterPath: "python3", ScriptPath: "seg.py"}, false},
		{"missing interpreter", ToolConfig{ScriptPath: "seg.py"}, true},
		{"missing script", ToolConfig{InterpreterPath: "python3"}, true},
		{"negative timeout", ToolConfig{InterpreterPath: "python3", ScriptPath: "seg.py", Timeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeduplicateEnv(t *testing.T) {
	env := []string{"A=1", "B=2", "A=3", "C=4", "B=5"}
	want := []string{"A=3", "C=4", "B=5"}
	if diff := cmp.Diff(want, deduplicateEnv(env)); diff != "" {
		t.Errorf("deduplicateEnv mismatch (-want +got):\n%s", diff)
	}
}
