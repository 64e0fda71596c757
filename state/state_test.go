// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xionghul/distcc/lib/clock"
)

func TestNoteLifecycle(t *testing.T) {
	directory := t.TempDir()
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	noter := NewNoter(directory, fake)

	noter.Note(PhaseConnect, "main.c", "buildbox")

	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatalf("reading state directory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d state files, want 1", len(entries))
	}

	note, err := Read(filepath.Join(directory, entries[0].Name()))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if note.Phase != "connect" || note.File != "main.c" || note.Host != "buildbox" {
		t.Errorf("note = %+v", note)
	}
	if note.PID != os.Getpid() {
		t.Errorf("note.PID = %d, want %d", note.PID, os.Getpid())
	}
	if !note.Updated.Equal(fake.Now()) {
		t.Errorf("note.Updated = %v, want %v", note.Updated, fake.Now())
	}

	// A later phase overwrites the same file.
	fake.Advance(time.Second)
	noter.Note(PhaseSend, "main.c", "buildbox")
	note, err = Read(filepath.Join(directory, entries[0].Name()))
	if err != nil {
		t.Fatalf("Read after overwrite failed: %v", err)
	}
	if note.Phase != "send" {
		t.Errorf("note.Phase = %q, want send", note.Phase)
	}

	noter.Close()
	if _, err := os.Stat(filepath.Join(directory, entries[0].Name())); !errors.Is(err, os.ErrNotExist) {
		t.Error("note file survives Close")
	}
}

func TestNilNoterIsSafe(t *testing.T) {
	noter := NewNoter("", clock.Real())
	if noter != nil {
		t.Fatal("empty directory should produce a nil noter")
	}
	noter.Note(PhaseCompile, "a.c", "h")
	noter.Close()
}

func TestNoteUnwritableDirectorySwallowed(t *testing.T) {
	noter := NewNoter(filepath.Join(t.TempDir(), "missing"), clock.Real())
	noter.Note(PhaseStartup, "a.c", "")
	noter.Close()
}

func TestPhaseString(t *testing.T) {
	phases := map[Phase]string{
		PhaseStartup: "startup",
		PhaseConnect: "connect",
		PhaseCPP:     "cpp",
		PhaseSend:    "send",
		PhaseCompile: "compile",
		PhaseReceive: "receive",
		PhaseDone:    "done",
	}
	for phase, want := range phases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(phase), got, want)
		}
	}
}
