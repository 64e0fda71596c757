// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net"
	"testing"
	"time"

	"github.com/xionghul/distcc/lib/testutil"
)

func runHandshake(t *testing.T, clientSecret, serverSecret []byte) (clientErr, serverErr error) {
	t.Helper()

	clientContext, err := NewContext(clientSecret)
	if err != nil {
		t.Fatalf("client NewContext failed: %v", err)
	}
	serverContext, err := NewContext(serverSecret)
	if err != nil {
		t.Fatalf("server NewContext failed: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverResult := make(chan error, 1)
	go func() {
		serverResult <- serverContext.Server(serverConn, serverConn)
	}()

	clientErr = clientContext.Client(clientConn, clientConn)
	serverErr = testutil.RequireReceive(t, serverResult, 5*time.Second, "server handshake result")
	return clientErr, serverErr
}

func TestHandshakeSharedSecret(t *testing.T) {
	clientErr, serverErr := runHandshake(t, []byte("s3cret"), []byte("s3cret"))
	if clientErr != nil {
		t.Errorf("client handshake failed: %v", clientErr)
	}
	if serverErr != nil {
		t.Errorf("server handshake failed: %v", serverErr)
	}
}

func TestHandshakeMismatchedSecrets(t *testing.T) {
	clientErr, serverErr := runHandshake(t, []byte("s3cret"), []byte("wrong"))
	if clientErr == nil && serverErr == nil {
		t.Error("handshake succeeded across mismatched secrets")
	}
}

func TestNewContextEmptySecret(t *testing.T) {
	if _, err := NewContext(nil); err == nil {
		t.Error("NewContext accepted an empty secret")
	}
}

func TestHandshakePeerDisconnect(t *testing.T) {
	context, err := NewContext([]byte("s3cret"))
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	result := make(chan error, 1)
	go func() {
		result <- context.Client(clientConn, clientConn)
	}()

	// Absorb the client's nonce, then hang up before answering.
	buf := make([]byte, nonceSize)
	if _, err := serverConn.Read(buf); err != nil {
		t.Fatalf("reading client nonce: %v", err)
	}
	serverConn.Close()

	if err := testutil.RequireReceive(t, result, 5*time.Second, "client handshake result"); err == nil {
		t.Error("handshake succeeded against a disconnected peer")
	}
}
