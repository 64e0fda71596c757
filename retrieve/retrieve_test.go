// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package retrieve

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/xionghul/distcc/dispatch"
	"github.com/xionghul/distcc/hosts"
	"github.com/xionghul/distcc/lib/process"
	"github.com/xionghul/distcc/lib/testutil"
	"github.com/xionghul/distcc/mockserver"
	"github.com/xionghul/distcc/wire"
)

func testHost(setting wire.Compression) *hosts.Definition {
	return &hosts.Definition{
		Hostname:    "buildbox",
		Protocol:    hosts.ProtocolVersion,
		Compression: setting,
	}
}

func encodeResponse(t *testing.T, setting wire.Compression, response *mockserver.Response) *bytes.Buffer {
	t.Helper()
	server := &mockserver.Server{Compression: setting}
	var buf bytes.Buffer
	if err := server.WriteResponse(&buf, hosts.ProtocolVersion, response); err != nil {
		t.Fatalf("encoding response: %v", err)
	}
	return &buf
}

func TestRetrieveSuccess(t *testing.T) {
	for _, setting := range []wire.Compression{wire.CompressionNone, wire.CompressionLZ4, wire.CompressionZstd} {
		t.Run(setting.String(), func(t *testing.T) {
			directory := t.TempDir()
			objectBytes := bytes.Repeat([]byte("obj"), 100)
			depsBytes := []byte("unit.o: unit.c unit.h\n")
			buf := encodeResponse(t, setting, &mockserver.Response{
				Stderr: []byte("unit.c:3: warning: unused variable\n"),
				Stdout: []byte("note from the compiler\n"),
				Deps:   depsBytes,
				Object: objectBytes,
			})

			var stdout, stderr bytes.Buffer
			retriever := &ProtocolRetriever{
				Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
				Stdout: &stdout,
				Stderr: &stderr,
			}
			job := &dispatch.Job{
				InputName:  "unit.c",
				OutputName: filepath.Join(directory, "unit.o"),
				DepsName:   filepath.Join(directory, "unit.d"),
			}
			status, err := retriever.Retrieve(context.Background(), buf, job, testHost(setting))
			if err != nil {
				t.Fatalf("Retrieve failed: %v", err)
			}
			if !status.Success() {
				t.Errorf("status = %s", status)
			}
			if got := testutil.ReadFile(t, job.OutputName); !bytes.Equal(got, objectBytes) {
				t.Errorf("object file holds %d bytes, want %d", len(got), len(objectBytes))
			}
			if got := testutil.ReadFile(t, job.DepsName); !bytes.Equal(got, depsBytes) {
				t.Errorf("deps file = %q", got)
			}
			if !bytes.Contains(stderr.Bytes(), []byte("unused variable")) {
				t.Errorf("stderr relay = %q", stderr.String())
			}
			if !bytes.Contains(stdout.Bytes(), []byte("note from the compiler")) {
				t.Errorf("stdout relay = %q", stdout.String())
			}
		})
	}
}

func TestRetrieveRemoteFailure(t *testing.T) {
	directory := t.TempDir()
	buf := encodeResponse(t, wire.CompressionNone, &mockserver.Response{
		WaitWord: process.ExitStatus{Code: 2}.Wait(),
		Stderr:   []byte("unit.c:1: error: unknown type name\n"),
	})

	retriever := &ProtocolRetriever{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	job := &dispatch.Job{
		InputName:        "unit.c",
		OutputName:       filepath.Join(directory, "unit.o"),
		ServerStderrName: filepath.Join(directory, "unit.stderr"),
	}
	status, err := retriever.Retrieve(context.Background(), buf, job, testHost(wire.CompressionNone))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if status.Code != 2 {
		t.Errorf("status = %s, want exit status 2", status)
	}
	if _, err := os.Stat(job.OutputName); !os.IsNotExist(err) {
		t.Error("object file written for a failed remote compile")
	}
	if got := testutil.ReadFile(t, job.ServerStderrName); !bytes.Contains(got, []byte("unknown type name")) {
		t.Errorf("captured stderr = %q", got)
	}
}

func TestRetrieveSuccessWithoutObjectIsError(t *testing.T) {
	directory := t.TempDir()
	buf := encodeResponse(t, wire.CompressionNone, &mockserver.Response{})

	retriever := &ProtocolRetriever{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	job := &dispatch.Job{OutputName: filepath.Join(directory, "unit.o")}
	if _, err := retriever.Retrieve(context.Background(), buf, job, testHost(wire.CompressionNone)); err == nil {
		t.Fatal("a successful status with no object must be a transport error")
	}
}

func TestRetrieveProtocolMismatch(t *testing.T) {
	var buf bytes.Buffer
	server := &mockserver.Server{}
	if err := server.WriteResponse(&buf, 2, &mockserver.Response{Object: []byte{1}}); err != nil {
		t.Fatalf("encoding response: %v", err)
	}

	retriever := &ProtocolRetriever{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	job := &dispatch.Job{OutputName: filepath.Join(t.TempDir(), "unit.o")}
	if _, err := retriever.Retrieve(context.Background(), &buf, job, testHost(wire.CompressionNone)); err == nil {
		t.Fatal("Retrieve accepted a mismatched protocol version")
	}
}

func TestRetrieveSkipsDepsWhenUnnamed(t *testing.T) {
	// The server sends no deps token when the request did not ask for
	// one; a job without DepsName must not try to read it.
	directory := t.TempDir()
	objectBytes := []byte("obj")
	buf := encodeResponse(t, wire.CompressionNone, &mockserver.Response{Object: objectBytes})

	retriever := &ProtocolRetriever{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	job := &dispatch.Job{OutputName: filepath.Join(directory, "unit.o")}
	status, err := retriever.Retrieve(context.Background(), buf, job, testHost(wire.CompressionNone))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !status.Success() {
		t.Errorf("status = %s", status)
	}
	if got := testutil.ReadFile(t, job.OutputName); !bytes.Equal(got, objectBytes) {
		t.Errorf("object file = %q", got)
	}
}

func TestRetrieveCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	retriever := &ProtocolRetriever{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if _, err := retriever.Retrieve(ctx, &bytes.Buffer{}, &dispatch.Job{}, testHost(wire.CompressionNone)); err == nil {
		t.Fatal("Retrieve proceeded on a cancelled context")
	}
}
