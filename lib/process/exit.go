// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// ExitStatus describes how a child process terminated: either a normal
// exit with a code, or death by signal. The zero value is a successful
// exit.
type ExitStatus struct {
	// Code is the exit code when the process exited normally.
	Code int

	// Signaled reports whether the process was killed by a signal.
	Signaled bool

	// Signal is the terminating signal when Signaled is true.
	Signal syscall.Signal
}

// Success reports whether the status is a normal exit with code 0.
func (s ExitStatus) Success() bool {
	return !s.Signaled && s.Code == 0
}

// String renders the status the way shells report it: "exit status N"
// or "signal: name".
func (s ExitStatus) String() string {
	if s.Signaled {
		return fmt.Sprintf("signal: %v", s.Signal)
	}
	return fmt.Sprintf("exit status %d", s.Code)
}

// Wait encodes the status as a Unix-style wait word for the STAT wire
// token: exit code in the high byte, or the terminating signal number
// in the low byte.
func (s ExitStatus) Wait() uint32 {
	if s.Signaled {
		return uint32(s.Signal) & 0x7f
	}
	return uint32(s.Code&0xff) << 8
}

// StatusFromWait decodes a STAT wire word back into an ExitStatus.
func StatusFromWait(word uint32) ExitStatus {
	if signal := word & 0x7f; signal != 0 {
		return ExitStatus{Signaled: true, Signal: syscall.Signal(signal)}
	}
	return ExitStatus{Code: int((word >> 8) & 0xff)}
}

// StatusFromState converts an os.ProcessState (from Wait) into an
// ExitStatus.
func StatusFromState(state *os.ProcessState) ExitStatus {
	waitStatus, ok := state.Sys().(syscall.WaitStatus)
	if ok && waitStatus.Signaled() {
		return ExitStatus{Signaled: true, Signal: waitStatus.Signal()}
	}
	return ExitStatus{Code: state.ExitCode()}
}

// Collect waits for the child and returns its termination status. The
// returned error covers wait failures only — a child that ran and
// failed is reported through the ExitStatus, not the error. An
// exec.ExitError from cmd.Wait is therefore absorbed into the status.
func Collect(role string, child *os.Process) (ExitStatus, error) {
	state, err := child.Wait()
	if err != nil {
		return ExitStatus{}, fmt.Errorf("waiting for %s (pid %d): %w", role, child.Pid, err)
	}
	return StatusFromState(state), nil
}

// CollectCommand reaps an exec.Cmd the same way Collect reaps a bare
// process. Used for tunnel children started through exec.Cmd, where
// Wait must be called on the Cmd to release its pipes.
func CollectCommand(role string, command *exec.Cmd) (ExitStatus, error) {
	err := command.Wait()
	if err == nil {
		return StatusFromState(command.ProcessState), nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return StatusFromState(exitError.ProcessState), nil
	}
	return ExitStatus{}, fmt.Errorf("waiting for %s: %w", role, err)
}

// Critic classifies a failed child status. Implementations decide
// whether the failure is the compiler genuinely rejecting the input
// (retrying elsewhere would reproduce it) or an environment or tooling
// problem (retrying elsewhere could help).
type Critic interface {
	// GenuineFailure reports whether status represents a compiler-level
	// failure for the named role ("cpp", "gcc", "tunnel") and input
	// file.
	GenuineFailure(status ExitStatus, role, inputName string) bool
}

// DefaultCritic is the standard classification: a normal exit with a
// nonzero code is the tool rejecting its input; death by signal is an
// environment problem (OOM kill, operator intervention) and not
// attributed to the input.
type DefaultCritic struct {
	Logger *slog.Logger
}

func (c DefaultCritic) GenuineFailure(status ExitStatus, role, inputName string) bool {
	switch {
	case status.Success():
		return false
	case status.Signaled:
		if c.Logger != nil {
			c.Logger.Warn("child killed by signal",
				"role", role, "input", inputName, "signal", status.Signal.String())
		}
		return false
	default:
		if c.Logger != nil {
			c.Logger.Info("child failed",
				"role", role, "input", inputName, "code", status.Code)
		}
		return true
	}
}

var _ Critic = DefaultCritic{}
