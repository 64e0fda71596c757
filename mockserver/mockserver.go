// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package mockserver implements the server side of the compile
// protocol with canned results. It exists for the integration tests
// and the distcc-mock-server binary; it never runs a compiler.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/xionghul/distcc/auth"
	"github.com/xionghul/distcc/hosts"
	"github.com/xionghul/distcc/wire"
)

// Request is one decoded compile request.
type Request struct {
	// Protocol is the version the client greeted with.
	Protocol int

	// WorkDir is the client's working directory, present only for
	// server-side preprocessing.
	WorkDir string

	// Args is the compiler argument vector.
	Args []string

	// Preprocessed is the preprocessed unit, for client-side
	// preprocessing.
	Preprocessed []byte

	// Sources maps file name to body, for server-side preprocessing.
	Sources map[string][]byte

	// SourceOrder lists Sources keys in arrival order.
	SourceOrder []string

	// ProfilePresent reports whether the client shipped a profile
	// artifact; Profile holds its bytes when it did. Only meaningful
	// for client-side preprocessing, where the profile token always
	// arrives.
	ProfilePresent bool
	Profile        []byte
}

// Response is the canned result sent back for a request.
type Response struct {
	// WaitWord is the compiler's wait status word.
	WaitWord uint32

	// Stderr and Stdout are the compiler's relayed output streams.
	Stderr []byte
	Stdout []byte

	// Deps, when non-nil, is sent as the dependency file.
	Deps []byte

	// Object is the object code. May be empty when WaitWord reports
	// failure.
	Object []byte
}

// Server answers compile requests with canned responses.
type Server struct {
	// Logger receives per-connection diagnostics. Nil means
	// slog.Default.
	Logger *slog.Logger

	// Auth, when set, demands the mutual handshake before the
	// protocol.
	Auth *auth.Context

	// Compression is the payload framing this server speaks. Must
	// match what connecting clients use.
	Compression wire.Compression

	// Respond maps a request to its response. Nil falls back to an
	// empty-object success.
	Respond func(*Request) *Response
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ServeConn handles exactly one request/response exchange on an open
// duplex stream.
func (s *Server) ServeConn(rw io.ReadWriter) error {
	if s.Auth != nil {
		if err := s.Auth.Server(rw, rw); err != nil {
			return fmt.Errorf("authenticating client: %w", err)
		}
	}

	request, err := s.ReadRequest(rw)
	if err != nil {
		return err
	}
	s.logger().Debug("request decoded",
		"protocol", request.Protocol,
		"args", len(request.Args),
		"preprocessedBytes", len(request.Preprocessed),
		"sources", len(request.Sources),
		"profile", request.ProfilePresent)

	response := &Response{WaitWord: 0, Object: []byte{}}
	if s.Respond != nil {
		response = s.Respond(request)
	}
	return s.WriteResponse(rw, request.Protocol, response)
}

// Serve accepts connections until the listener closes or the context
// is cancelled, handling each in its own goroutine.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go func() {
			defer conn.Close()
			if err := s.ServeConn(conn); err != nil {
				s.logger().Warn("connection failed", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

// ReadRequest decodes one compile request from the stream.
func (s *Server) ReadRequest(r io.Reader) (*Request, error) {
	protocol, err := wire.ReadToken(r, wire.TagGreeting)
	if err != nil {
		return nil, fmt.Errorf("reading greeting: %w", err)
	}
	if int(protocol) != hosts.ProtocolVersion {
		return nil, fmt.Errorf("client speaks protocol %d, want %d", protocol, hosts.ProtocolVersion)
	}
	request := &Request{Protocol: int(protocol)}

	// The working directory token only precedes the argument count for
	// server-side preprocessing, so the next tag disambiguates.
	tag, value, err := wire.ReadAnyToken(r)
	if err != nil {
		return nil, err
	}
	serverCPP := tag == wire.TagWorkDir
	if serverCPP {
		payload, err := wire.RecvPayload(r, tag, value, wire.CompressionNone)
		if err != nil {
			return nil, err
		}
		request.WorkDir = string(payload)
		if value, err = wire.ReadToken(r, wire.TagArgCount); err != nil {
			return nil, err
		}
	} else if tag != wire.TagArgCount {
		return nil, fmt.Errorf("token %s where %s or %s expected: %w",
			tag, wire.TagWorkDir, wire.TagArgCount, wire.ErrTagMismatch)
	}

	request.Args = make([]string, value)
	for i := range request.Args {
		arg, err := wire.ReadString(r, wire.TagArg)
		if err != nil {
			return nil, fmt.Errorf("reading argument %d: %w", i, err)
		}
		request.Args[i] = arg
	}

	if serverCPP {
		return request, s.readSources(r, request)
	}
	return request, s.readPreprocessed(r, request)
}

// readSources decodes the raw-source body of a server-side
// preprocessing request.
func (s *Server) readSources(r io.Reader, request *Request) error {
	count, err := wire.ReadToken(r, wire.TagFileCount)
	if err != nil {
		return err
	}
	request.Sources = make(map[string][]byte, count)
	for i := uint32(0); i < count; i++ {
		name, err := wire.ReadString(r, wire.TagFileName)
		if err != nil {
			return fmt.Errorf("reading source name %d: %w", i, err)
		}
		body, err := wire.RecvBytes(r, wire.TagFileBody, s.Compression)
		if err != nil {
			return fmt.Errorf("reading source %s: %w", name, err)
		}
		request.Sources[name] = body
		request.SourceOrder = append(request.SourceOrder, name)
	}
	return nil
}

// readPreprocessed decodes the preprocessed unit and the profile
// token that always follows it.
func (s *Server) readPreprocessed(r io.Reader, request *Request) error {
	unit, err := wire.RecvBytes(r, wire.TagInput, s.Compression)
	if err != nil {
		return fmt.Errorf("reading preprocessed unit: %w", err)
	}
	request.Preprocessed = unit

	present, err := wire.ReadToken(r, wire.TagProfile)
	if err != nil {
		return fmt.Errorf("reading profile token: %w", err)
	}
	switch present {
	case 0:
		return nil
	case 1:
		profile, err := wire.RecvBytes(r, wire.TagInput, s.Compression)
		if err != nil {
			return fmt.Errorf("reading profile artifact: %w", err)
		}
		request.ProfilePresent = true
		request.Profile = profile
		return nil
	default:
		return fmt.Errorf("profile token value %d, want 0 or 1", present)
	}
}

// WriteResponse encodes one canned response.
func (s *Server) WriteResponse(w io.Writer, protocol int, response *Response) error {
	if err := wire.WriteToken(w, wire.TagDone, uint32(protocol)); err != nil {
		return err
	}
	if err := wire.WriteToken(w, wire.TagStatus, response.WaitWord); err != nil {
		return err
	}
	if err := wire.SendBytes(w, wire.TagStderr, response.Stderr, s.Compression); err != nil {
		return err
	}
	if err := wire.SendBytes(w, wire.TagStdout, response.Stdout, s.Compression); err != nil {
		return err
	}
	if response.Deps != nil {
		if err := wire.SendBytes(w, wire.TagDeps, response.Deps, s.Compression); err != nil {
			return err
		}
	}
	return wire.SendBytes(w, wire.TagObject, response.Object, s.Compression)
}
