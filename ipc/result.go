// Package ipc implements the tool result protocol.
//
// A tool writes free-text log lines to its combined stdout/stderr stream
// and may emit one line holding a JSON object such as
//
//	{"status":"success","data":{"total_markers":12}}
//
// That line is the authoritative result. Everything else is log output.
package ipc

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/babi2707/segmark/types"
)

// StatusSuccess is the only status value that satisfies the success contract.
const StatusSuccess = "success"

// candidatePattern finds brace-delimited substrings, shortest first.
// It does not span lines.
var candidatePattern = regexp.MustCompile(`\{.*?\}`)

// Extract scans captured output for the protocol result.
//
// The first line whose trimmed form is a JSON object wins, whether or not
// it reports success. Only when no line qualifies is the joined output
// searched for embedded {...} candidates, where the first one meeting the
// success contract wins. Malformed text is skipped, never reported.
func Extract(lines []string) *types.ParsedResult {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !looksLikeObject(trimmed) {
			continue
		}
		if result, ok := evaluate(trimmed); ok {
			return result
		}
	}

	joined := strings.Join(lines, "\n")
	for _, candidate := range candidatePattern.FindAllString(joined, -1) {
		if result, ok := evaluate(candidate); ok && result.StatusOK {
			return result
		}
	}

	return &types.ParsedResult{}
}

// looksLikeObject is the cheap pre-check applied before decoding a line.
func looksLikeObject(s string) bool {
	return len(s) >= 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// evaluate decodes a candidate. ok is false when the text is not a JSON object.
func evaluate(candidate string) (*types.ParsedResult, bool) {
	doc, err := types.ParseDocument([]byte(candidate))
	if err != nil {
		return nil, false
	}

	result := &types.ParsedResult{
		Found:   true,
		RawJSON: candidate,
	}
	if status, ok := doc["status"].AsString(); ok && status == StatusSuccess {
		result.StatusOK = true
	}
	if data, ok := doc["data"].AsObject(); ok {
		result.Data = data
	}
	return result, true
}

// Valid reports whether raw is a JSON object meeting the success contract.
func Valid(raw string) bool {
	result, ok := evaluate(strings.TrimSpace(raw))
	return ok && result.StatusOK
}

// FallbackStats is the stats payload reported when a tool produced its
// output file but no protocol result.
type FallbackStats struct {
	ObjectMarkers     int    `json:"object_markers"`
	BackgroundMarkers int    `json:"background_markers"`
	TotalMarkers      int    `json:"total_markers"`
	ImageSize         [2]int `json:"image_size"`
	Method            string `json:"method"`
}

// FallbackStatsJSON renders the zero-valued fallback stats.
func FallbackStatsJSON() string {
	data, err := json.Marshal(FallbackStats{Method: "fallback"})
	if err != nil {
		// Static shape; cannot fail.
		panic(err)
	}
	return string(data)
}
