// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"testing"
)

func TestExitStatusString(t *testing.T) {
	tests := []struct {
		status ExitStatus
		want   string
	}{
		{ExitStatus{}, "exit status 0"},
		{ExitStatus{Code: 2}, "exit status 2"},
		{ExitStatus{Signaled: true, Signal: syscall.SIGKILL}, "signal: killed"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestCollectSuccess(t *testing.T) {
	command := exec.Command("true")
	if err := command.Start(); err != nil {
		t.Fatalf("starting true: %v", err)
	}
	status, err := Collect("true", command.Process)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !status.Success() {
		t.Errorf("status = %v, want success", status)
	}
}

func TestCollectCommandNonzeroExit(t *testing.T) {
	command := exec.Command("sh", "-c", "exit 3")
	if err := command.Start(); err != nil {
		t.Fatalf("starting sh: %v", err)
	}
	status, err := CollectCommand("sh", command)
	if err != nil {
		t.Fatalf("CollectCommand failed: %v", err)
	}
	if status.Signaled || status.Code != 3 {
		t.Errorf("status = %v, want exit status 3", status)
	}
}

func TestCollectCommandSignaled(t *testing.T) {
	command := exec.Command("sleep", "60")
	if err := command.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}
	if err := command.Process.Kill(); err != nil {
		t.Fatalf("killing sleep: %v", err)
	}
	status, err := CollectCommand("sleep", command)
	if err != nil {
		t.Fatalf("CollectCommand failed: %v", err)
	}
	if !status.Signaled || status.Signal != syscall.SIGKILL {
		t.Errorf("status = %v, want signal: killed", status)
	}
}

func TestDefaultCritic(t *testing.T) {
	critic := DefaultCritic{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	tests := []struct {
		name   string
		status ExitStatus
		want   bool
	}{
		{"success", ExitStatus{}, false},
		{"nonzero exit", ExitStatus{Code: 1}, true},
		{"signaled", ExitStatus{Signaled: true, Signal: syscall.SIGKILL}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := critic.GenuineFailure(tt.status, "cpp", "main.c"); got != tt.want {
				t.Errorf("GenuineFailure(%v) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}
