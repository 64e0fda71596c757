// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xionghul/distcc/auth"
	"github.com/xionghul/distcc/hosts"
	"github.com/xionghul/distcc/lib/clock"
	"github.com/xionghul/distcc/lib/process"
	"github.com/xionghul/distcc/state"
	"github.com/xionghul/distcc/tempfile"
)

// Retriever consumes the server's response stream after the request
// has been sent and materializes the results into the job's output
// files. Implemented by the retrieve package; an interface here so the
// send path can be tested against a stub without a protocol peer.
type Retriever interface {
	Retrieve(ctx context.Context, r io.Reader, job *Job, host *hosts.Definition) (process.ExitStatus, error)
}

// ErrNoAuthContext reports a host that demands the shared-secret
// handshake from a dispatcher that has no secret configured.
var ErrNoAuthContext = errors.New("host requires authentication but no secret is configured")

// Dispatcher runs single compile attempts against remote hosts. The
// zero value works; every field widens what a default dispatcher does.
// One Dispatcher serves one job at a time.
type Dispatcher struct {
	// Logger receives structured progress and diagnostics. Nil means
	// slog.Default.
	Logger *slog.Logger

	// Clock paces timing measurements. Nil means the real clock.
	Clock clock.Clock

	// Critic classifies local child failures. Nil means
	// process.DefaultCritic.
	Critic process.Critic

	// Auth performs the mutual handshake for hosts that demand it. Nil
	// dispatchers fail such hosts with ErrNoAuthContext.
	Auth *auth.Context

	// Registry tracks temporary files for guaranteed deletion. Created
	// on demand when nil.
	Registry *tempfile.Registry

	// Noter publishes per-phase progress for monitors. Nil disables
	// publishing.
	Noter *state.Noter

	// Retriever consumes the response stream. Required.
	Retriever Retriever
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) clock() clock.Clock {
	if d.Clock != nil {
		return d.Clock
	}
	return clock.Real()
}

func (d *Dispatcher) critic() process.Critic {
	if d.Critic != nil {
		return d.Critic
	}
	return process.DefaultCritic{Logger: d.logger()}
}

func (d *Dispatcher) registry() *tempfile.Registry {
	if d.Registry == nil {
		d.Registry = tempfile.NewRegistry()
	}
	return d.Registry
}

// noter may return nil; state.Noter methods tolerate a nil receiver.
func (d *Dispatcher) noter() *state.Noter { return d.Noter }

// Run executes one complete dispatch attempt: connect, authenticate if
// the host demands it, send the request, retrieve the results. It
// never retries; the returned Outcome's code tells the caller whether
// a retry elsewhere could help.
//
// Whatever happens, by return the job's admission slot is released and
// every temporary file the attempt registered is deleted.
func (d *Dispatcher) Run(ctx context.Context, host *hosts.Definition, job *Job) (Outcome, error) {
	logger := d.logger().With("host", host.Hostname, "input", job.InputName)
	started := d.clock().Now()
	defer func() {
		d.releaseLock(job)
		d.registry().Cleanup(logger)
	}()

	if d.Retriever == nil {
		return Outcome{Code: OutcomeReceiveFailed}, errors.New("dispatcher has no retriever")
	}

	d.noter().Note(state.PhaseConnect, job.InputName, host.Hostname)
	conn, err := connect(ctx, logger, host)
	if err != nil {
		return Outcome{Code: OutcomeConnectFailed, Elapsed: d.clock().Since(started)}, err
	}
	defer conn.Close(logger)

	if host.Authenticate {
		if d.Auth == nil {
			return Outcome{Code: OutcomeAuthFailed, Elapsed: d.clock().Since(started)}, ErrNoAuthContext
		}
		if err := d.Auth.Client(conn.WriteSide(), conn.ReadSide()); err != nil {
			return Outcome{Code: OutcomeAuthFailed, Elapsed: d.clock().Since(started)},
				fmt.Errorf("authenticating to %s: %w", host.Hostname, err)
		}
		logger.Debug("authenticated")
	}

	bytesSent, cppStatus, done, err := d.sendRequest(conn.WriteSide(), job, host)
	if done {
		logger.Info("local preprocessor rejected input", "status", cppStatus.String())
		return Outcome{
			Code:    OutcomePreprocessFailed,
			Status:  cppStatus,
			Elapsed: d.clock().Since(started),
		}, nil
	}
	if err != nil {
		return Outcome{Code: OutcomeSendFailed, BytesSent: bytesSent, Elapsed: d.clock().Since(started)},
			fmt.Errorf("sending request to %s: %w", host.Hostname, err)
	}

	elapsed := d.clock().Since(started)
	logger.Info("request sent",
		"bytes", bytesSent,
		"elapsed", elapsed,
		"kibPerSecond", fmt.Sprintf("%.0f", transferRate(bytesSent, elapsed)))

	d.noter().Note(state.PhaseCompile, job.InputName, host.Hostname)
	status, err := d.Retriever.Retrieve(ctx, conn.ReadSide(), job, host)
	if err != nil {
		return Outcome{Code: OutcomeReceiveFailed, BytesSent: bytesSent, Elapsed: d.clock().Since(started)},
			fmt.Errorf("retrieving results from %s: %w", host.Hostname, err)
	}

	d.noter().Note(state.PhaseDone, job.InputName, host.Hostname)
	logger.Info("remote compile finished", "status", status.String())
	return Outcome{
		Code:      OutcomeCompiled,
		Status:    status,
		BytesSent: bytesSent,
		Elapsed:   d.clock().Since(started),
	}, nil
}

// transferRate converts a byte count and duration to KiB/s.
func transferRate(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / 1024 / elapsed.Seconds()
}
