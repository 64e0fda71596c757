// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
	"io"
)

// Well-known token tags. Request side first, then response side.
const (
	TagGreeting  = "DIST" // protocol version
	TagArgCount  = "ARGC" // number of ARGV tokens following
	TagArg       = "ARGV" // one command-line argument
	TagWorkDir   = "CDIR" // client working directory (server-side cpp)
	TagFileCount = "NFIL" // number of NAME/FILE pairs following
	TagFileName  = "NAME" // path of the next FILE token
	TagFileBody  = "FILE" // raw source file contents
	TagInput     = "DOTI" // preprocessed unit or staged profile bytes
	TagProfile   = "GCDA" // profile artifact presence flag (0 or 1)

	TagDone   = "DONE" // response protocol version
	TagStatus = "STAT" // remote compiler wait status
	TagStderr = "SERR" // remote compiler stderr
	TagStdout = "SOUT" // remote compiler stdout
	TagDeps   = "DOTD" // dependency file contents
	TagObject = "DOTO" // object file contents
)

// tokenSize is the fixed encoded size of a token: 4 tag bytes plus 8
// hex digits.
const tokenSize = 12

// maxStringPayload bounds ARGV/CDIR/NAME/SERR/SOUT payloads. Anything
// larger is a corrupt or hostile stream, not a real argument vector.
const maxStringPayload = 1 << 20

// MaxFilePayload bounds file-transfer payloads (DOTI/DOTO/FILE/DOTD).
const MaxFilePayload = 1 << 30

// ErrTagMismatch is wrapped into errors returned when the peer sent a
// different token than the protocol state machine expects.
var ErrTagMismatch = errors.New("unexpected token tag")

// WriteToken writes a bare token: tag plus a 32-bit value rendered as
// 8 lowercase hex digits. The tag must be exactly 4 bytes.
func WriteToken(w io.Writer, tag string, value uint32) error {
	if len(tag) != 4 {
		return fmt.Errorf("token tag %q: must be exactly 4 bytes", tag)
	}
	var buf [tokenSize]byte
	copy(buf[:4], tag)
	const hexDigits = "0123456789abcdef"
	for i := 0; i < 8; i++ {
		buf[4+i] = hexDigits[(value>>uint(28-4*i))&0xf]
	}
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing %s token: %w", tag, err)
	}
	return nil
}

// WriteString writes a token whose value is the payload length,
// followed by the payload bytes.
func WriteString(w io.Writer, tag, payload string) error {
	if err := WriteToken(w, tag, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, payload); err != nil {
		return fmt.Errorf("writing %s payload: %w", tag, err)
	}
	return nil
}

// ReadToken reads one token and requires its tag to equal expect.
// Returns the 32-bit value.
func ReadToken(r io.Reader, expect string) (uint32, error) {
	var buf [tokenSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading %s token: %w", expect, err)
	}
	tag := string(buf[:4])
	value, err := parseHex(buf[4:])
	if err != nil {
		return 0, fmt.Errorf("token %s: %w", tag, err)
	}
	if tag != expect {
		return 0, fmt.Errorf("%w: got %s %08x, want %s", ErrTagMismatch, tag, value, expect)
	}
	return value, nil
}

// ReadAnyToken reads one token and returns its tag and value without
// expecting a particular tag. Used at the few protocol positions where
// the next token legitimately varies (CDIR versus ARGC after the
// greeting).
func ReadAnyToken(r io.Reader) (string, uint32, error) {
	var buf [tokenSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", 0, fmt.Errorf("reading token: %w", err)
	}
	tag := string(buf[:4])
	value, err := parseHex(buf[4:])
	if err != nil {
		return "", 0, fmt.Errorf("token %s: %w", tag, err)
	}
	return tag, value, nil
}

// ReadString reads a length-carrying token with the expected tag and
// then its payload. The length is bounded by maxStringPayload.
func ReadString(r io.Reader, expect string) (string, error) {
	length, err := ReadToken(r, expect)
	if err != nil {
		return "", err
	}
	if length > maxStringPayload {
		return "", fmt.Errorf("token %s: payload length %d exceeds limit", expect, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", fmt.Errorf("reading %s payload: %w", expect, err)
	}
	return string(payload), nil
}

// parseHex decodes exactly 8 lowercase hex digits. Uppercase digits
// are rejected: the encoder never produces them, so their presence
// means the stream is not ours.
func parseHex(digits []byte) (uint32, error) {
	var value uint32
	for _, d := range digits {
		var nibble uint32
		switch {
		case d >= '0' && d <= '9':
			nibble = uint32(d - '0')
		case d >= 'a' && d <= 'f':
			nibble = uint32(d-'a') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", d)
		}
		value = value<<4 | nibble
	}
	return value, nil
}
