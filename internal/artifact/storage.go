// Package artifact abstracts where uploaded receipt images live. The
// orchestrator only ever sees the interface; swapping the filesystem store
// for a CDN-backed one is a wiring change in main.
package artifact

import "context"

// Metadata travels with the stored bytes.
type Metadata struct {
	Filename    string
	ContentType string
	OwnerRef    string
}

// Stored references content after a successful upload.
type Stored struct {
	URL        string
	ProviderID string
}

// Storage persists artifact bytes. Failures are storage errors and terminal
// for the submitting job.
type Storage interface {
	Store(ctx context.Context, data []byte, meta Metadata) (*Stored, error)
}
