// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/xionghul/distcc/hosts"
)

func TestConnectTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	defer listener.Close()

	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := conn.Read(buf); err == nil {
			conn.Write(buf)
		}
	}()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	port := listener.Addr().(*net.TCPAddr).Port
	host := &hosts.Definition{Mode: hosts.ModeTCP, Hostname: "127.0.0.1", Port: port}
	conn, err := connect(context.Background(), logger, host)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer conn.Close(logger)

	if _, err := conn.WriteSide().Write([]byte("hello")); err != nil {
		t.Fatalf("writing: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := conn.ReadSide().Read(buf); err != nil {
		t.Fatalf("reading echo: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("echo = %q", buf)
	}
	<-echoDone
}

func TestConnectTCPRefused(t *testing.T) {
	// Grab a port, then close it so nothing listens there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	host := &hosts.Definition{Mode: hosts.ModeTCP, Hostname: "127.0.0.1", Port: port}
	if _, err := connect(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), host); err == nil {
		t.Fatal("connect to a closed port succeeded")
	}
}

func TestConnectTunnelRoundTrip(t *testing.T) {
	// cat as tunnel command: a faithful stand-in for a remote stdio
	// server, echoing the request stream back as the response stream.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	host := &hosts.Definition{
		Mode:          hosts.ModeTunnel,
		Hostname:      "fake",
		TunnelCommand: []string{"cat"},
	}
	conn, err := connect(context.Background(), logger, host)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if _, err := conn.WriteSide().Write([]byte("ping\n")); err != nil {
		t.Fatalf("writing through tunnel: %v", err)
	}
	line, err := bufio.NewReader(conn.ReadSide()).ReadString('\n')
	if err != nil {
		t.Fatalf("reading through tunnel: %v", err)
	}
	if line != "ping\n" {
		t.Errorf("tunnel echoed %q", line)
	}

	if err := conn.Close(logger); err != nil {
		t.Errorf("close failed: %v", err)
	}
	// Idempotent.
	if err := conn.Close(logger); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestConnectTunnelEmptyCommand(t *testing.T) {
	host := &hosts.Definition{Mode: hosts.ModeTunnel, Hostname: "fake"}
	if _, err := connect(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), host); err == nil {
		t.Fatal("connect with an empty tunnel command succeeded")
	}
}
