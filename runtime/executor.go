package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/babi2707/segmark/ipc"
	"github.com/babi2707/segmark/log"
	"github.com/babi2707/segmark/metrics"
	"github.com/babi2707/segmark/types"
)

// outputEncodingVar forces the tool's text streams to UTF-8.
const outputEncodingVar = "PYTHONIOENCODING"

// waitDelay bounds how long Wait keeps the output pipe open after the tool
// exits or is killed, in case a grandchild inherited it.
const waitDelay = 2 * time.Second

// tailLines is the number of output lines attached to tool errors.
const tailLines = 20

// ToolConfig configures one external tool.
type ToolConfig struct {
	// InterpreterPath is the interpreter or binary to launch.
	InterpreterPath string
	// ScriptPath is the script passed as the first argument.
	ScriptPath string
	// Env holds environment overrides applied after the inherited env.
	Env map[string]string
	// Timeout bounds a single run. Zero means unbounded.
	Timeout time.Duration
	// Dir is the working directory. Empty inherits the current one.
	Dir string
}

// Validate checks that the tool is launchable in principle.
func (c ToolConfig) Validate() error {
	if c.InterpreterPath == "" {
		return errors.New("interpreter path is required")
	}
	if c.ScriptPath == "" {
		return errors.New("script path is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %s", c.Timeout)
	}
	return nil
}

// Runner runs the external tool once and captures its output.
type Runner interface {
	Run(ctx context.Context, args []string) (*types.ToolInvocation, error)
}

// ExecRunner runs a ToolConfig as a child process.
//
// Stdout and stderr share one pipe, so Output preserves the order the tool
// wrote lines in. A nonzero exit is reported through ToolInvocation.ExitCode,
// not as an error. Errors are returned only when the process could not be
// started, was cancelled, or exceeded its timeout.
type ExecRunner struct {
	config    ToolConfig
	logger    *log.Logger
	collector *metrics.Collector
}

// NewExecRunner creates a runner for the given tool.
// A nil logger discards tool output; a nil collector records nothing.
func NewExecRunner(config ToolConfig, logger *log.Logger, collector *metrics.Collector) *ExecRunner {
	if logger == nil {
		logger = log.NewNop()
	}
	return &ExecRunner{
		config:    config,
		logger:    logger,
		collector: collector,
	}
}

// Config returns the tool configuration.
func (r *ExecRunner) Config() ToolConfig {
	return r.config
}

// Run launches interpreter, script, then args in order and blocks until exit.
func (r *ExecRunner) Run(ctx context.Context, args []string) (*types.ToolInvocation, error) {
	runCtx := ctx
	cancel := func() {}
	if r.config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
	}
	defer cancel()

	argv := make([]string, 0, len(args)+1)
	argv = append(argv, r.config.ScriptPath)
	argv = append(argv, args...)

	cmd := exec.CommandContext(runCtx, r.config.InterpreterPath, argv...)
	cmd.Dir = r.config.Dir
	cmd.WaitDelay = waitDelay

	overrides := r.envOverrides()
	cmd.Env = buildEnv(os.Environ(), overrides)

	// One pipe for both streams
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	inv := &types.ToolInvocation{
		Executable: r.config.InterpreterPath,
		Script:     r.config.ScriptPath,
		Args:       append([]string(nil), args...),
		Env:        overrides,
		ExitCode:   types.NoExitCode,
	}

	tool := filepath.Base(r.config.ScriptPath)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		r.collector.IncToolLaunchFailure()
		return nil, types.NewRunError(types.ErrIOFailure, "run", fmt.Sprintf("failed to start %s", tool), err)
	}
	r.collector.IncToolLaunchSuccess()

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
	}()

	lines, readErr := ipc.NewLineDecoder(pr).ReadAll(func(line string) {
		r.logger.Debug("[tool] "+line, map[string]any{"tool": tool})
	})
	if readErr != nil {
		// Keep draining so Wait can finish
		_, _ = io.Copy(io.Discard, pr)
	}
	err := <-waitErr
	_ = pr.Close()

	inv.Output = lines
	inv.Duration = time.Since(start)

	if runCtx.Err() != nil {
		inv.ExitCode = exitCode(err)
		if ctx.Err() == nil {
			r.collector.IncToolTimeout()
			return inv, types.NewRunError(types.ErrToolTimeout, "run",
				fmt.Sprintf("%s exceeded timeout of %s", tool, r.config.Timeout), runCtx.Err()).
				WithTool(inv.ExitCode, inv.Tail(tailLines))
		}
		return inv, types.NewRunError(types.ErrToolFailure, "run",
			fmt.Sprintf("%s was cancelled", tool), ctx.Err()).
			WithTool(inv.ExitCode, inv.Tail(tailLines))
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return inv, types.NewRunError(types.ErrIOFailure, "run", fmt.Sprintf("%s wait failed", tool), err)
		}
	}
	inv.ExitCode = exitCode(err)
	if readErr != nil {
		return inv, types.NewRunError(types.ErrIOFailure, "run", fmt.Sprintf("reading %s output", tool), readErr)
	}
	if inv.ExitCode != 0 {
		r.collector.IncToolNonzeroExit()
	}

	r.logger.Debug("tool exited", map[string]any{
		"tool":        tool,
		"exit_code":   inv.ExitCode,
		"lines":       len(lines),
		"duration_ms": inv.Duration.Milliseconds(),
	})
	return inv, nil
}

// envOverrides returns the variables layered over the inherited environment.
func (r *ExecRunner) envOverrides() map[string]string {
	env := make(map[string]string, len(r.config.Env)+1)
	env[outputEncodingVar] = "utf-8"
	for k, v := range r.config.Env {
		env[k] = v
	}
	return env
}

// buildEnv appends overrides in key order to base and removes duplicates.
func buildEnv(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return deduplicateEnv(env)
}

// exitCode extracts the process exit status from a Wait error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return types.NoExitCode
}

// deduplicateEnv keeps the last occurrence of each env var key.
// This ensures configured overrides win over inherited duplicates
// from os.Environ().
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
