// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"strings"
	"testing"
)

func TestManglePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", ""},
		{"foo", "foo"},
		{"foo/bar", "foo#bar"},
		{"../foo/bar", "^#foo#bar"},
		{"./foo", "foo"},
		{"./foo/bar", "foo#bar"},
		{"a/./b", "a#b"},
		{"..", "^"},
		{"../..", "^#^"},
		{"/abs/out", "#abs#out"},
		{"foo/", "foo#"},
		{"a//b", "a##b"},
		{"build/obj/main", "build#obj#main"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ManglePath(tt.path); got != tt.want {
				t.Errorf("ManglePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestManglePathDistinguishesDirectories(t *testing.T) {
	// Paths differing only in directory structure must mangle to
	// distinct tokens containing no separator characters.
	tokens := make(map[string]string)
	for _, path := range []string{"a/b/c", "ab/c", "a/bc", "../a/b", "a/b"} {
		token := ManglePath(path)
		if strings.ContainsRune(token, '/') {
			t.Errorf("ManglePath(%q) = %q contains a separator", path, token)
		}
		if previous, collided := tokens[token]; collided {
			t.Errorf("ManglePath(%q) collides with ManglePath(%q): %q", path, previous, token)
		}
		tokens[token] = path
	}
}
