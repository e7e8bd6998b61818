package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"flightdeck/internal/config"
	"flightdeck/internal/deck"
)

// DefaultKey names the artifact when the sink has no file path of its own.
const DefaultKey = "latest_snapshot.json"

// NewSinkFromConfig creates a sink based on the artifact config type and
// returns the key the producer should write under.
func NewSinkFromConfig(ctx context.Context, cfg config.ArtifactConfig) (deck.ArtifactSink, string, error) {
	var (
		sink deck.ArtifactSink
		key  = DefaultKey
		err  error
	)
	switch cfg.Type {
	case "memory":
		sink = NewMemorySink()
	case "s3":
		sink, err = NewS3Sink(ctx, cfg)
	case "filesystem":
		if cfg.Path == "" {
			return nil, "", fmt.Errorf("filesystem artifact requires path to be set")
		}
		key = filepath.Base(cfg.Path)
		sink, err = NewFileSystemSink(filepath.Dir(cfg.Path))
	default:
		return nil, "", fmt.Errorf("unknown artifact type: %s", cfg.Type)
	}
	if err != nil {
		return nil, "", err
	}

	if cfg.Encrypt {
		sink, err = NewEncryptingSink(sink, cfg.RecipientPath)
		if err != nil {
			return nil, "", err
		}
	}
	return sink, key, nil
}
