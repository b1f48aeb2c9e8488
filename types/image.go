// Package types defines core domain types for segmark.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// ImageRef is the stable identity of a source image.
// Images are owned by the image registry; orchestrators only read them.
type ImageRef struct {
	// ID is the registry identifier used to key artifacts.
	ID int64 `json:"id"`
	// Path is the on-disk location of the source image.
	Path string `json:"path"`
	// CreatedAt is when the image was registered.
	CreatedAt time.Time `json:"created_at"`
}
