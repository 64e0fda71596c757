// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch sends one compilation job to one remote host.
//
// A dispatch attempt connects (direct TCP or a spawned tunnel
// process), optionally authenticates, streams the request — argument
// vector plus either raw sources or the locally preprocessed unit and
// an optional profile-guided-optimization artifact — then hands the
// read side to a result retriever. Local preprocessing overlaps with
// connection setup: the preprocessor is already running when Run is
// called, and the local-CPU admission slot is released the moment its
// exit status is known, before any network transfer of its output.
//
// The dispatcher makes exactly one attempt and never retries
// internally. Every exit path releases the admission slot, closes both
// transport sides, reaps the tunnel child, and deletes staged
// temporary files; retry policy across hosts belongs to the caller.
package dispatch
