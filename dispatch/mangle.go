// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import "strings"

// ManglePath flattens a filesystem path into a single separator-free
// token: each ".." segment becomes "^", each leading-style "./"
// segment is dropped with its separator, and every remaining "/"
// becomes "#". Profile artifacts from different directories staged
// into one shared location therefore never collide:
//
//	ManglePath("../foo/bar") = "^#foo#bar"
//	ManglePath("./foo")      = "foo"
//	ManglePath("/abs/out")   = "#abs#out"
func ManglePath(path string) string {
	var b strings.Builder
	rest := path
	for rest != "" {
		segment, tail, more := strings.Cut(rest, "/")
		switch {
		case segment == "..":
			b.WriteByte('^')
		case segment == "." && more:
			// "./" contributes nothing, not even a marker.
			rest = tail
			continue
		default:
			b.WriteString(segment)
		}
		if more {
			b.WriteByte('#')
		}
		rest = tail
	}
	return b.String()
}
