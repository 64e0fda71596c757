// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"os"
	"time"

	"github.com/xionghul/distcc/lib/process"
	"github.com/xionghul/distcc/lock"
)

// Job is one compilation request. The caller owns it for the duration
// of Run, with one exception: ownership of Lock transfers to the
// dispatcher, which guarantees its release by return.
type Job struct {
	// Args is the compiler argument vector sent to the server.
	Args []string

	// InputName is the original source file, used for diagnostics and
	// monitor notes only.
	InputName string

	// PreprocessedName is the preprocessed unit produced by the local
	// preprocessor. Required when the host preprocesses on the client.
	// The file may still be incomplete when Run starts; Preprocessor
	// gates its use.
	PreprocessedName string

	// SourceFiles lists every file the server needs to preprocess
	// remotely. Used only when the host preprocesses on the server.
	SourceFiles []string

	// OutputName receives the object code.
	OutputName string

	// DepsName receives the dependency file, when the protocol carries
	// one. Empty discards it.
	DepsName string

	// ServerStderrName receives the remote compiler's stderr. Empty
	// relays it to this process's stderr instead.
	ServerStderrName string

	// Preprocessor is the local preprocessor already running in the
	// background, or nil when preprocessing happens on the server.
	Preprocessor *os.Process

	// Lock is the held local-CPU admission slot, or nil. The
	// dispatcher releases it at the earliest safe moment and in any
	// case before Run returns.
	Lock *lock.Slot

	// DistLTO marks distributed link-time-optimization jobs, which
	// never relay profile artifacts.
	DistLTO bool
}

// OutcomeCode classifies how a dispatch attempt ended.
type OutcomeCode int

const (
	// OutcomeCompiled: communication succeeded and the remote
	// compiler's status is attached. The compiler itself may still
	// have failed; that is not a dispatch failure.
	OutcomeCompiled OutcomeCode = iota

	// OutcomePreprocessFailed: the local preprocessor genuinely
	// rejected the input. Nothing was compiled remotely and nothing
	// should be retried — another host would reproduce the failure.
	OutcomePreprocessFailed

	// OutcomeConnectFailed: resolution, connection, or tunnel spawn
	// failed before any protocol byte.
	OutcomeConnectFailed

	// OutcomeAuthFailed: the host requires authentication and the
	// handshake failed.
	OutcomeAuthFailed

	// OutcomeSendFailed: a mid-protocol write failed; the remainder of
	// the request was abandoned.
	OutcomeSendFailed

	// OutcomeReceiveFailed: the request was sent but result retrieval
	// failed.
	OutcomeReceiveFailed
)

// String returns the outcome name used in logs.
func (c OutcomeCode) String() string {
	switch c {
	case OutcomeCompiled:
		return "compiled"
	case OutcomePreprocessFailed:
		return "preprocess-failed"
	case OutcomeConnectFailed:
		return "connect-failed"
	case OutcomeAuthFailed:
		return "auth-failed"
	case OutcomeSendFailed:
		return "send-failed"
	case OutcomeReceiveFailed:
		return "receive-failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Retryable reports whether the caller may safely retry the job on
// another host or fall back to local compilation. Compiler-level
// results (OutcomeCompiled, OutcomePreprocessFailed) are final: the
// compiler has spoken, and silently re-running a rejected job would
// mask its diagnostics.
func (c OutcomeCode) Retryable() bool {
	switch c {
	case OutcomeConnectFailed, OutcomeAuthFailed, OutcomeSendFailed, OutcomeReceiveFailed:
		return true
	default:
		return false
	}
}

// Outcome reports one dispatch attempt.
type Outcome struct {
	// Code classifies the attempt.
	Code OutcomeCode

	// Status is the wait status of whichever compiler ran: the remote
	// compiler for OutcomeCompiled, the local preprocessor for
	// OutcomePreprocessFailed. Meaningless otherwise.
	Status process.ExitStatus

	// BytesSent counts uncompressed payload bytes of the preprocessed
	// unit, for transfer-rate observability.
	BytesSent int64

	// Elapsed covers connection setup through payload-send completion.
	Elapsed time.Duration
}
