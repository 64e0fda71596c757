// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package hosts defines compile-target descriptors and parses host
// specifications.
//
// A host specification is a compact string naming one compile server:
//
//	buildbox                 TCP, default port
//	buildbox:4000            TCP, explicit port
//	buildbox/8               TCP, job limit 8
//	@buildbox                tunneled through the default command
//	carol@buildbox           tunneled, authenticating user carol
//	buildbox,lz4,auth        option suffixes
//
// Options: lz4, zstd, none (compression), auth (require the
// shared-secret handshake), cpp-on-server (send raw sources and let
// the server preprocess).
package hosts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xionghul/distcc/wire"
)

// Mode selects the transport used to reach a host.
type Mode int

const (
	// ModeTCP is a direct socket connection.
	ModeTCP Mode = iota
	// ModeTunnel spawns a tunnel command and speaks the protocol over
	// its stdin/stdout pipes.
	ModeTunnel
)

// CPPWhere selects where preprocessing happens for jobs sent to a host.
type CPPWhere int

const (
	// CPPOnClient preprocesses locally and ships one preprocessed unit.
	CPPOnClient CPPWhere = iota
	// CPPOnServer ships raw sources and lets the server preprocess.
	CPPOnServer
)

// DefaultPort is the compile server's conventional TCP port.
const DefaultPort = 3632

// DefaultLimit is the job limit assumed when a specification does not
// carry a /N suffix. The limit is advisory — scheduling across hosts
// lives outside this module — but it is parsed and carried so a
// scheduler has it.
const DefaultLimit = 4

// ProtocolVersion is the protocol this client speaks.
const ProtocolVersion = 3

// DefaultTunnelCommand is the template for ModeTunnel targets. The
// {target} placeholder expands to "host" or "user@host".
var DefaultTunnelCommand = []string{"ssh", "{target}", "distccd", "--stdio"}

// Definition is an immutable descriptor of one compile target. Caller
// owned; the dispatch core only reads it.
type Definition struct {
	Mode          Mode
	Hostname      string
	Port          int
	TunnelCommand []string
	User          string
	Protocol      int
	CPPWhere      CPPWhere
	Compression   wire.Compression
	Authenticate  bool
	Limit         int
}

// Address returns the host:port dial target for ModeTCP definitions.
func (d *Definition) Address() string {
	return fmt.Sprintf("%s:%d", d.Hostname, d.Port)
}

// String renders the definition in specification syntax, normalized.
func (d *Definition) String() string {
	var b strings.Builder
	if d.Mode == ModeTunnel {
		if d.User != "" {
			b.WriteString(d.User)
		}
		b.WriteByte('@')
	}
	b.WriteString(d.Hostname)
	if d.Mode == ModeTCP && d.Port != DefaultPort {
		fmt.Fprintf(&b, ":%d", d.Port)
	}
	if d.Limit != DefaultLimit {
		fmt.Fprintf(&b, "/%d", d.Limit)
	}
	if d.Compression != wire.CompressionNone {
		b.WriteString("," + d.Compression.String())
	}
	if d.Authenticate {
		b.WriteString(",auth")
	}
	if d.CPPWhere == CPPOnServer {
		b.WriteString(",cpp-on-server")
	}
	return b.String()
}

// ParseError describes a malformed host specification.
type ParseError struct {
	Spec   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("host specification %q: %s", e.Spec, e.Reason)
}

// ParseSpec parses one host specification string.
func ParseSpec(spec string) (*Definition, error) {
	definition := &Definition{
		Port:     DefaultPort,
		Protocol: ProtocolVersion,
		Limit:    DefaultLimit,
	}

	rest := spec
	var options []string
	if head, tail, found := strings.Cut(rest, ","); found {
		rest = head
		options = strings.Split(tail, ",")
	}
	if rest == "" {
		return nil, &ParseError{Spec: spec, Reason: "empty host"}
	}

	// user@host or @host selects the tunnel transport.
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		definition.Mode = ModeTunnel
		definition.User = rest[:at]
		rest = rest[at+1:]
	}

	// Job-limit suffix.
	if head, tail, found := strings.Cut(rest, "/"); found {
		limit, err := strconv.Atoi(tail)
		if err != nil || limit < 1 {
			return nil, &ParseError{Spec: spec, Reason: fmt.Sprintf("bad job limit %q", tail)}
		}
		definition.Limit = limit
		rest = head
	}

	// Port, TCP mode only.
	if head, tail, found := strings.Cut(rest, ":"); found {
		if definition.Mode == ModeTunnel {
			return nil, &ParseError{Spec: spec, Reason: "tunneled hosts take no port"}
		}
		port, err := strconv.Atoi(tail)
		if err != nil || port < 1 || port > 65535 {
			return nil, &ParseError{Spec: spec, Reason: fmt.Sprintf("bad port %q", tail)}
		}
		definition.Port = port
		rest = head
	}

	if rest == "" {
		return nil, &ParseError{Spec: spec, Reason: "empty hostname"}
	}
	definition.Hostname = rest

	for _, option := range options {
		switch option {
		case "none", "lz4", "zstd":
			compression, err := wire.ParseCompression(option)
			if err != nil {
				return nil, &ParseError{Spec: spec, Reason: err.Error()}
			}
			definition.Compression = compression
		case "auth":
			definition.Authenticate = true
		case "cpp-on-server":
			definition.CPPWhere = CPPOnServer
		case "":
			return nil, &ParseError{Spec: spec, Reason: "empty option"}
		default:
			return nil, &ParseError{Spec: spec, Reason: fmt.Sprintf("unknown option %q", option)}
		}
	}

	if definition.Mode == ModeTunnel {
		definition.TunnelCommand = expandTunnelCommand(DefaultTunnelCommand, definition)
	}
	return definition, nil
}

// expandTunnelCommand substitutes the {target} placeholder in a tunnel
// command template.
func expandTunnelCommand(template []string, definition *Definition) []string {
	target := definition.Hostname
	if definition.User != "" {
		target = definition.User + "@" + definition.Hostname
	}
	expanded := make([]string, len(template))
	for i, word := range template {
		expanded[i] = strings.ReplaceAll(word, "{target}", target)
	}
	return expanded
}
