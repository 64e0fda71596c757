// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers and child-process
// exit-status handling shared by the dispatch core and the command-line
// binaries.
//
// Two concerns live here:
//
//   - Entrypoint plumbing: Fatal for errors raised before the
//     structured logger exists, and NewLogger for the standard JSON
//     slog logger every binary installs.
//   - Exit-status interpretation: ExitStatus captures how a child
//     (preprocessor, tunnel, or remote compiler) terminated, Collect
//     reaps a child into one, and Critique classifies a failed status
//     as either a genuine compiler-level failure or an environment
//     problem worth retrying elsewhere.
package process
