// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package tempfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xionghul/distcc/lib/testutil"
)

func TestRegistryCleanupRemovesAll(t *testing.T) {
	directory := t.TempDir()
	first := testutil.WriteFile(t, directory, "a.gcda", []byte("a"))
	second := testutil.WriteFile(t, directory, "b.gcda", []byte("b"))

	registry := NewRegistry()
	registry.Register(first)
	registry.Register(second)
	registry.Register(filepath.Join(directory, "never-created"))

	registry.Cleanup(nil)

	for _, path := range []string{first, second} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still exists after Cleanup", path)
		}
	}
	if registry.Len() != 0 {
		t.Errorf("registry not emptied: %d paths remain", registry.Len())
	}

	// Second cleanup is a no-op.
	registry.Cleanup(nil)
}

func TestRegistryForget(t *testing.T) {
	directory := t.TempDir()
	kept := testutil.WriteFile(t, directory, "kept", []byte("x"))

	registry := NewRegistry()
	registry.Register(kept)
	registry.Forget(kept)
	registry.Cleanup(nil)

	if _, err := os.Stat(kept); err != nil {
		t.Errorf("forgotten path was deleted: %v", err)
	}
}

func TestCreateExclusiveFreshName(t *testing.T) {
	base := filepath.Join(t.TempDir(), "unit.gcda")
	file, path, err := CreateExclusive(base)
	if err != nil {
		t.Fatalf("CreateExclusive failed: %v", err)
	}
	defer file.Close()
	if path != base {
		t.Errorf("fresh name: path = %s, want %s", path, base)
	}
}

func TestCreateExclusiveCollisionPicksSuffix(t *testing.T) {
	directory := t.TempDir()
	base := testutil.WriteFile(t, directory, "unit.gcda", []byte("existing"))

	file, path, err := CreateExclusive(base)
	if err != nil {
		t.Fatalf("CreateExclusive failed on collision: %v", err)
	}
	defer file.Close()
	if path == base {
		t.Error("CreateExclusive reused a colliding name")
	}
	if filepath.Dir(path) != directory {
		t.Errorf("suffix escaped directory: %s", path)
	}
}

func TestCreateExclusiveUnwritableDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "missing-subdir", "unit.gcda")
	if _, _, err := CreateExclusive(base); err == nil {
		t.Error("CreateExclusive succeeded in a missing directory")
	} else if errors.Is(err, ErrExhausted) {
		t.Error("non-collision failure misreported as ErrExhausted")
	}
}
