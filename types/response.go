package types

import "errors"

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the public result shape handed to the web layer.
type Response struct {
	Status            string `json:"status" yaml:"status"`
	SegmentedImageURL string `json:"segmentedImageUrl,omitempty" yaml:"segmentedImageUrl,omitempty"`
	MarkersURL        string `json:"markersUrl,omitempty" yaml:"markersUrl,omitempty"`
	Stats             string `json:"stats,omitempty" yaml:"stats,omitempty"`
	Message           string `json:"message,omitempty" yaml:"message,omitempty"`
}

// SegmentResponse is the success response for a segmentation run.
func SegmentResponse(url string) *Response {
	return &Response{Status: StatusSuccess, SegmentedImageURL: url}
}

// MarkersResponse is the success response for a marker run.
func MarkersResponse(url, stats string) *Response {
	return &Response{Status: StatusSuccess, MarkersURL: url, Stats: stats}
}

// ErrorResponse is the failure response for err.
// Server-side failures carry the run error message; the captured tool
// output stays in the logs.
func ErrorResponse(err error) *Response {
	msg := err.Error()
	var runErr *RunError
	if errors.As(err, &runErr) && runErr.Message != "" {
		msg = runErr.Message
	}
	return &Response{Status: StatusError, Message: msg}
}
