// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package state publishes per-job phase notes for external monitors.
//
// Each client process owns one note file, state_<pid>.cbor, in the
// state directory. The file is rewritten atomically at every phase
// transition and removed when the job finishes, so a monitor scanning
// the directory sees a live snapshot of in-flight jobs. Notes are
// best-effort observability: a missing or unwritable state directory
// disables them without affecting the job.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xionghul/distcc/lib/clock"
	"github.com/xionghul/distcc/lib/codec"
)

// Phase is the observable stage a job is in.
type Phase int

const (
	PhaseStartup Phase = iota
	PhaseConnect
	PhaseCPP
	PhaseSend
	PhaseCompile
	PhaseReceive
	PhaseDone
)

// String returns the monitor-facing phase name.
func (p Phase) String() string {
	switch p {
	case PhaseStartup:
		return "startup"
	case PhaseConnect:
		return "connect"
	case PhaseCPP:
		return "cpp"
	case PhaseSend:
		return "send"
	case PhaseCompile:
		return "compile"
	case PhaseReceive:
		return "receive"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Note is one snapshot of a job's progress.
type Note struct {
	PID     int       `cbor:"pid"`
	Phase   string    `cbor:"phase"`
	File    string    `cbor:"file"`
	Host    string    `cbor:"host"`
	Updated time.Time `cbor:"updated"`
}

// Noter writes phase notes for one process. A nil Noter is valid and
// discards all notes.
type Noter struct {
	directory string
	path      string
	pid       int
	clk       clock.Clock
}

// NewNoter creates a noter writing into directory. An empty directory
// disables notes by returning nil, which every method accepts.
func NewNoter(directory string, clk clock.Clock) *Noter {
	if directory == "" {
		return nil
	}
	pid := os.Getpid()
	return &Noter{
		directory: directory,
		path:      filepath.Join(directory, fmt.Sprintf("state_%d.cbor", pid)),
		pid:       pid,
		clk:       clk,
	}
}

// Note records a phase transition. Failures are swallowed: notes must
// never fail a job.
func (n *Noter) Note(phase Phase, file, host string) {
	if n == nil {
		return
	}
	data, err := codec.Marshal(Note{
		PID:     n.pid,
		Phase:   phase.String(),
		File:    file,
		Host:    host,
		Updated: n.clk.Now(),
	})
	if err != nil {
		return
	}

	// Write-then-rename so a monitor never reads a torn note.
	temporary := n.path + ".tmp"
	if err := os.WriteFile(temporary, data, 0o644); err != nil {
		return
	}
	if err := os.Rename(temporary, n.path); err != nil {
		os.Remove(temporary)
	}
}

// Close removes the note file. Call when the job is finished so
// monitors stop listing it.
func (n *Noter) Close() {
	if n == nil {
		return
	}
	os.Remove(n.path)
}

// Read decodes one note file. Monitors use this while scanning the
// state directory.
func Read(path string) (Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Note{}, fmt.Errorf("reading state note: %w", err)
	}
	var note Note
	if err := codec.Unmarshal(data, &note); err != nil {
		return Note{}, fmt.Errorf("decoding state note %s: %w", path, err)
	}
	return note, nil
}
