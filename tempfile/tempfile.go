// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package tempfile tracks temporary files for guaranteed deletion and
// provides atomic exclusive creation with bounded collision retries.
//
// A dispatch attempt stages intermediate files (the profile artifact
// copy in particular) that must not outlive the attempt. Every staged
// path is registered here first; the dispatcher runs Cleanup on every
// exit path, and binaries additionally run it from their signal
// handler so an interrupted process leaves nothing behind.
package tempfile

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
)

// maxCreateAttempts bounds the name-collision retry loop in
// CreateExclusive.
const maxCreateAttempts = 16

// ErrExhausted reports that CreateExclusive hit a name collision on
// every attempt. In practice this means a previous crash littered the
// staging directory, or two jobs share a staging name they should not.
var ErrExhausted = errors.New("exhausted temporary-name attempts")

// Registry collects paths for deletion. Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	paths []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register records path for deletion by Cleanup. Registering the same
// path twice is harmless.
func (r *Registry) Register(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

// Forget drops path from the registry without deleting it. Used when a
// staged file has been consumed and renamed into place.
func (r *Registry) Forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.paths[:0]
	for _, p := range r.paths {
		if p != path {
			kept = append(kept, p)
		}
	}
	r.paths = kept
}

// Cleanup deletes every registered path and empties the registry. A
// path that no longer exists is not an error; any other removal
// failure is logged and cleanup continues. Cleanup is idempotent.
func (r *Registry) Cleanup(logger *slog.Logger) {
	r.mu.Lock()
	paths := r.paths
	r.paths = nil
	r.mu.Unlock()

	for _, path := range paths {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) && logger != nil {
			logger.Warn("removing temporary file", "path", path, "error", err)
		}
	}
}

// Len reports the number of registered paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// CreateExclusive creates a new file that is guaranteed not to have
// existed before: first at base itself, then at base with random
// suffixes, giving up with ErrExhausted after a bounded number of
// collisions. The file is created 0600 and returned open for writing
// along with its path.
func CreateExclusive(base string) (*os.File, string, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		path := base
		if attempt > 0 {
			path = fmt.Sprintf("%s.%06x", base, rand.Int63n(1<<24))
		}
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("%w for %s", ErrExhausted, base)
}
