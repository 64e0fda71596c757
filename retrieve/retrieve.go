// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package retrieve consumes a compile server's response stream and
// materializes its results: remote diagnostics, the dependency file
// when the protocol carries one, and the object code.
package retrieve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/xionghul/distcc/dispatch"
	"github.com/xionghul/distcc/hosts"
	"github.com/xionghul/distcc/lib/process"
	"github.com/xionghul/distcc/state"
	"github.com/xionghul/distcc/wire"
)

// depsProtocolVersion is the first protocol revision whose responses
// carry a dependency file.
const depsProtocolVersion = 3

// ProtocolRetriever reads the response protocol: DONE, STAT, SERR,
// SOUT, optionally DOTD, then DOTO. The zero value writes relayed
// compiler output to this process's own stdio.
type ProtocolRetriever struct {
	// Logger receives diagnostics. Nil means slog.Default.
	Logger *slog.Logger

	// Noter publishes the receive-phase transition for monitors. Nil
	// disables publishing.
	Noter *state.Noter

	// Stdout receives the remote compiler's stdout when it is not
	// captured to a file. Nil means os.Stdout.
	Stdout io.Writer

	// Stderr receives the remote compiler's stderr when the job names
	// no capture file. Nil means os.Stderr.
	Stderr io.Writer
}

var _ dispatch.Retriever = (*ProtocolRetriever)(nil)

func (p *ProtocolRetriever) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *ProtocolRetriever) stdout() io.Writer {
	if p.Stdout != nil {
		return p.Stdout
	}
	return os.Stdout
}

func (p *ProtocolRetriever) stderr() io.Writer {
	if p.Stderr != nil {
		return p.Stderr
	}
	return os.Stderr
}

// Retrieve consumes one complete response. The remote compiler's wait
// status is returned even when it reports failure; only transport and
// filesystem problems are errors. A zero-length object together with a
// failing status is a normal remote compile error: the diagnostics
// were already relayed and no output file is written.
func (p *ProtocolRetriever) Retrieve(ctx context.Context, r io.Reader, job *dispatch.Job, host *hosts.Definition) (process.ExitStatus, error) {
	if err := ctx.Err(); err != nil {
		return process.ExitStatus{}, err
	}

	version, err := wire.ReadToken(r, wire.TagDone)
	if err != nil {
		return process.ExitStatus{}, fmt.Errorf("reading response header: %w", err)
	}
	if int(version) != host.Protocol {
		return process.ExitStatus{}, fmt.Errorf("response protocol %d, expected %d", version, host.Protocol)
	}

	// The header arriving means the remote compile is over; everything
	// from here on is transfer.
	p.Noter.Note(state.PhaseReceive, job.InputName, host.Hostname)

	waitWord, err := wire.ReadToken(r, wire.TagStatus)
	if err != nil {
		return process.ExitStatus{}, fmt.Errorf("reading compile status: %w", err)
	}
	status := process.StatusFromWait(waitWord)

	if err := p.relayStderr(r, job, host); err != nil {
		return process.ExitStatus{}, err
	}
	if err := p.relayStdout(r, host); err != nil {
		return process.ExitStatus{}, err
	}

	if job.DepsName != "" && host.Protocol >= depsProtocolVersion {
		if err := wire.RecvFile(r, wire.TagDeps, job.DepsName, host.Compression); err != nil {
			return process.ExitStatus{}, fmt.Errorf("receiving dependency file: %w", err)
		}
	}

	object, err := wire.RecvBytes(r, wire.TagObject, host.Compression)
	if err != nil {
		return process.ExitStatus{}, fmt.Errorf("receiving object: %w", err)
	}
	if len(object) == 0 {
		if status.Success() {
			return process.ExitStatus{}, fmt.Errorf("server reported success but sent no object")
		}
		p.logger().Debug("remote compile failed, no object", "status", status.String())
		return status, nil
	}
	if err := wire.WriteFileAtomic(job.OutputName, object); err != nil {
		return process.ExitStatus{}, fmt.Errorf("writing object: %w", err)
	}
	p.logger().Debug("object received", "path", job.OutputName, "bytes", len(object))
	return status, nil
}

// relayStderr captures the remote compiler's stderr into the job's
// capture file, or replays it on our own stderr so the user sees the
// diagnostics exactly as a local compile would have shown them.
func (p *ProtocolRetriever) relayStderr(r io.Reader, job *dispatch.Job, host *hosts.Definition) error {
	data, err := wire.RecvBytes(r, wire.TagStderr, host.Compression)
	if err != nil {
		return fmt.Errorf("receiving remote stderr: %w", err)
	}
	if job.ServerStderrName != "" {
		if err := wire.WriteFileAtomic(job.ServerStderrName, data); err != nil {
			return fmt.Errorf("capturing remote stderr: %w", err)
		}
		return nil
	}
	if len(data) > 0 {
		if _, err := p.stderr().Write(data); err != nil {
			return fmt.Errorf("replaying remote stderr: %w", err)
		}
	}
	return nil
}

// relayStdout replays the remote compiler's stdout. Compilers rarely
// write anything here, but whatever arrives belongs to the user.
func (p *ProtocolRetriever) relayStdout(r io.Reader, host *hosts.Definition) error {
	data, err := wire.RecvBytes(r, wire.TagStdout, host.Compression)
	if err != nil {
		return fmt.Errorf("receiving remote stdout: %w", err)
	}
	if len(data) > 0 {
		if _, err := p.stdout().Write(data); err != nil {
			return fmt.Errorf("replaying remote stdout: %w", err)
		}
	}
	return nil
}
