package deck

import (
	"context"
	"io"
)

// ArtifactSink stores the mirrored snapshot document.
type ArtifactSink interface {
	// Put stores size bytes read from r under key, replacing any previous value.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// ValidateSetup verifies that the sink is reachable and writable.
	ValidateSetup() error
}

// Fetcher obtains a raw payload from the external connectors.
type Fetcher interface {
	Fetch(ctx context.Context) (*Payload, error)
}
