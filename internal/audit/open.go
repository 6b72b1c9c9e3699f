package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Options select and configure a backend.
type Options struct {
	Backend string
	Root    string
	S3      S3Options
}

// Open builds a Recorder for opts.Backend ("fs" or "s3").
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (*Recorder, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "fs":
		return NewRecorder(NewFSBackend(opts.Root), logger), nil
	case "s3":
		backend, err := NewS3Backend(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		return NewRecorder(backend, logger), nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", opts.Backend)
	}
}
