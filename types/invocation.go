package types

import (
	"strings"
	"time"
)

// ToolInvocation records one run of the external tool.
// Created per call and discarded once the orchestrator has consumed it.
type ToolInvocation struct {
	// Executable is the interpreter or binary that was launched.
	Executable string
	// Script is the script path passed as the first argument.
	Script string
	// Args are the caller-supplied positional arguments, in order.
	Args []string
	// Env holds the overrides applied on top of the inherited environment.
	Env map[string]string
	// Output holds every line of the combined stdout/stderr stream.
	Output []string
	// ExitCode is the process exit status.
	ExitCode int
	// Duration is the wall time from start to exit.
	Duration time.Duration
}

// Succeeded reports whether the tool exited with status zero.
func (t *ToolInvocation) Succeeded() bool {
	return t != nil && t.ExitCode == 0
}

// Tail returns the last n output lines joined by newlines, for diagnostics.
func (t *ToolInvocation) Tail(n int) string {
	if t == nil || len(t.Output) == 0 {
		return ""
	}
	lines := t.Output
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ParsedResult is the outcome of scanning tool output for the protocol line.
type ParsedResult struct {
	// Found is true when a JSON protocol candidate was located.
	Found bool
	// RawJSON is the candidate text, trimmed.
	RawJSON string
	// StatusOK is true when the candidate carries "status":"success".
	StatusOK bool
	// Data is the optional "data" object; nil when absent.
	Data Document
}

// Valid reports whether the result satisfies the success contract.
func (p *ParsedResult) Valid() bool {
	return p != nil && p.Found && p.StatusOK
}
