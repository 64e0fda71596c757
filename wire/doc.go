// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the request/response token protocol spoken
// between the dispatch client and a compile server.
//
// Every logical unit on the wire is a token: a 4-byte ASCII tag
// followed by 8 lowercase hex digits. The digits carry either an
// integer value directly (DIST, ARGC, STAT, GCDA) or the byte length
// of a payload that immediately follows (ARGV, CDIR, DOTI, DOTO,
// SERR, SOUT).
//
//	DIST00000003            protocol version 3
//	ARGC00000002            two arguments follow
//	ARGV00000002-c          argument "-c" (length 2)
//	GCDA00000001            profile artifact present, file token next
//
// File transfers may be compression-framed. With a compression setting
// other than None, the token's length covers a framed payload: eight
// hex digits of uncompressed size, one method byte, then the method's
// body. Incompressible data falls back to the stored method inside the
// frame, so the outer setting only declares that framing is in use.
package wire
