// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/xionghul/distcc/hosts"
	"github.com/xionghul/distcc/lib/process"
	"github.com/xionghul/distcc/state"
	"github.com/xionghul/distcc/wire"
)

// sendBufferSize is the cork: the whole request header accumulates
// here so the transport sees few large writes instead of one small
// write per token.
const sendBufferSize = 64 * 1024

// sendRequest writes the complete compile request. Everything goes
// through one buffered writer with a single flush at the end, so the
// header tokens and the payload travel in shared packets.
//
// For client-side preprocessing the call also sequences the overlap:
// it blocks on the background preprocessor, releases the admission
// slot once the preprocessor's fate is known, and only then ships the
// preprocessed bytes. done=true means the preprocessor rejected the
// input; nothing after the header was sent and the job is finished.
func (d *Dispatcher) sendRequest(w io.Writer, job *Job, host *hosts.Definition) (bytesSent int64, status process.ExitStatus, done bool, err error) {
	buffered := bufio.NewWriterSize(w, sendBufferSize)

	if err := wire.WriteToken(buffered, wire.TagGreeting, uint32(host.Protocol)); err != nil {
		return 0, process.ExitStatus{}, false, err
	}
	if host.CPPWhere == hosts.CPPOnServer {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return 0, process.ExitStatus{}, false, fmt.Errorf("resolving working directory: %w", err)
		}
		if err := wire.WriteString(buffered, wire.TagWorkDir, workingDirectory); err != nil {
			return 0, process.ExitStatus{}, false, err
		}
	}
	if err := wire.WriteToken(buffered, wire.TagArgCount, uint32(len(job.Args))); err != nil {
		return 0, process.ExitStatus{}, false, err
	}
	for _, arg := range job.Args {
		if err := wire.WriteString(buffered, wire.TagArg, arg); err != nil {
			return 0, process.ExitStatus{}, false, err
		}
	}

	switch host.CPPWhere {
	case hosts.CPPOnServer:
		bytesSent, err = d.sendSources(buffered, job, host)
	default:
		bytesSent, status, done, err = d.sendPreprocessed(buffered, job, host)
	}
	if err != nil || done {
		return bytesSent, status, done, err
	}

	if err := buffered.Flush(); err != nil {
		return bytesSent, status, false, fmt.Errorf("flushing request: %w", err)
	}
	return bytesSent, status, false, nil
}

// sendSources ships raw source files for server-side preprocessing.
// Nothing local remains to run, so the admission slot is surrendered
// before the bodies go out.
func (d *Dispatcher) sendSources(w io.Writer, job *Job, host *hosts.Definition) (int64, error) {
	d.releaseLock(job)
	d.noter().Note(state.PhaseSend, job.InputName, host.Hostname)

	if err := wire.WriteToken(w, wire.TagFileCount, uint32(len(job.SourceFiles))); err != nil {
		return 0, err
	}
	var total int64
	for _, path := range job.SourceFiles {
		if err := wire.WriteString(w, wire.TagFileName, path); err != nil {
			return total, err
		}
		sent, err := wire.SendFile(w, wire.TagFileBody, path, host.Compression)
		total += sent
		if err != nil {
			return total, fmt.Errorf("sending source %s: %w", path, err)
		}
	}
	return total, nil
}

// sendPreprocessed finishes the local-preprocessing overlap and ships
// the preprocessed unit plus the profile side-channel. The admission
// slot is released strictly after the preprocessor's status is known
// and strictly before any payload byte is queued, so a queued-up
// sibling can start its own preprocessor while this job transmits.
func (d *Dispatcher) sendPreprocessed(w io.Writer, job *Job, host *hosts.Definition) (int64, process.ExitStatus, bool, error) {
	status, done, err := d.waitForPreprocessor(job)
	if err != nil {
		return 0, process.ExitStatus{}, false, fmt.Errorf("collecting preprocessor: %w", err)
	}
	d.releaseLock(job)
	if done {
		return 0, status, true, nil
	}

	d.noter().Note(state.PhaseSend, job.InputName, host.Hostname)
	sent, err := wire.SendFile(w, wire.TagInput, job.PreprocessedName, host.Compression)
	if err != nil {
		return sent, status, false, fmt.Errorf("sending preprocessed unit: %w", err)
	}
	if err := d.relayProfile(w, job, host); err != nil {
		return sent, status, false, err
	}
	return sent, status, false, nil
}

// releaseLock surrenders the job's admission slot, once.
func (d *Dispatcher) releaseLock(job *Job) {
	if job.Lock == nil {
		return
	}
	job.Lock.Release()
	d.logger().Debug("released admission slot", "slot", job.Lock.Index())
}
