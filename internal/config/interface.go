package config

import (
	"context"

	"github.com/vk/buildgrid/internal/graph"
)

// Loader is the interface for a format-specific build script front end.
type Loader interface {
	// Load evaluates the build scripts found under paths into sess, which
	// must not be frozen yet. It returns every script file it read, in the
	// order they were evaluated, so regeneration can depend on them.
	Load(ctx context.Context, sess *graph.Session, paths ...string) ([]string, error)
}
