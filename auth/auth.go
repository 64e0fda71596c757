// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the shared-secret handshake run on a fresh
// connection before any protocol token, for hosts carrying the auth
// option.
//
// Both sides hold the same secret. Each sends a random 32-byte nonce,
// then answers the peer's nonce with a keyed BLAKE3 MAC over
// (peerNonce || own role label). The role labels ("client", "server")
// prevent a response from being reflected back as an answer to the
// challenge it came from. The MAC key is derived from the secret with
// HKDF-SHA256 so the raw secret never keys the wire MACs directly.
//
// The handshake is an explicit Context value owned by the caller for
// one attempt; there is no process-wide security state.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

const (
	nonceSize = 32
	macSize   = 32

	roleClient = "client"
	roleServer = "server"
)

// derivationInfo binds derived keys to this protocol. Changing it
// breaks handshake compatibility.
const derivationInfo = "distcc auth v1"

// Context holds the derived handshake key for one or more attempts
// against hosts sharing a secret.
type Context struct {
	key [32]byte
}

// NewContext derives a handshake context from a shared secret.
func NewContext(secret []byte) (*Context, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth: empty shared secret")
	}
	context := &Context{}
	reader := hkdf.New(sha256.New, secret, nil, []byte(derivationInfo))
	if _, err := io.ReadFull(reader, context.key[:]); err != nil {
		return nil, fmt.Errorf("deriving handshake key: %w", err)
	}
	return context, nil
}

// Client runs the handshake in the client role over an asymmetric
// connection: writes go to w, reads come from r (distinct streams for
// tunneled transports). Fatal on any mismatch or short read.
func (c *Context) Client(w io.Writer, r io.Reader) error {
	return c.run(w, r, roleClient, roleServer)
}

// Server runs the handshake in the server role.
func (c *Context) Server(w io.Writer, r io.Reader) error {
	return c.run(w, r, roleServer, roleClient)
}

// run executes the mutual handshake. Writes happen on a background
// goroutine so the exchange cannot deadlock on fully synchronous
// transports (net.Pipe in tests), where Write blocks until the peer
// reads.
func (c *Context) run(w io.Writer, r io.Reader, role, peerRole string) error {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating auth nonce: %w", err)
	}

	writeErrors := make(chan error, 1)
	macToSend := make(chan []byte, 1)
	go func() {
		if _, err := w.Write(nonce); err != nil {
			writeErrors <- fmt.Errorf("sending auth nonce: %w", err)
			return
		}
		mac, ok := <-macToSend
		if !ok {
			return
		}
		if _, err := w.Write(mac); err != nil {
			writeErrors <- fmt.Errorf("sending auth response: %w", err)
			return
		}
		writeErrors <- nil
	}()

	peerNonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(r, peerNonce); err != nil {
		close(macToSend)
		return fmt.Errorf("reading peer nonce: %w", err)
	}

	// Answer the peer's challenge, bound to our own role.
	macToSend <- c.mac(peerNonce, role)

	peerMAC := make([]byte, macSize)
	if _, err := io.ReadFull(r, peerMAC); err != nil {
		return fmt.Errorf("reading peer response: %w", err)
	}
	if err := <-writeErrors; err != nil {
		return err
	}

	expected := c.mac(nonce, peerRole)
	if subtle.ConstantTimeCompare(peerMAC, expected) != 1 {
		return fmt.Errorf("auth: peer failed %s challenge", role)
	}
	return nil
}

// mac computes the keyed BLAKE3 MAC over (nonce || role label).
func (c *Context) mac(nonce []byte, role string) []byte {
	hasher, err := blake3.NewKeyed(c.key[:])
	if err != nil {
		// The key is always exactly 32 bytes; NewKeyed cannot fail.
		panic("auth: keyed hasher initialization failed: " + err.Error())
	}
	hasher.Write(nonce)
	hasher.Write([]byte(role))
	return hasher.Sum(nil)[:macSize]
}
