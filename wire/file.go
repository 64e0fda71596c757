// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SendFile transmits the named file as one token under the given
// compression setting. Returns the uncompressed byte count, which
// callers use for transfer-rate accounting regardless of how many
// bytes actually crossed the wire.
func SendFile(w io.Writer, tag, path string, setting Compression) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s for transfer: %w", path, err)
	}
	if err := SendBytes(w, tag, data, setting); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// SendBytes transmits an in-memory payload as one file token.
func SendBytes(w io.Writer, tag string, data []byte, setting Compression) error {
	payload := data
	if setting != CompressionNone && len(data) > 0 {
		framed, err := compressFrame(data, setting)
		if err != nil {
			return fmt.Errorf("framing %s payload: %w", tag, err)
		}
		payload = framed
	}
	if err := WriteToken(w, tag, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing %s payload: %w", tag, err)
	}
	return nil
}

// RecvBytes reads one file token with the expected tag and returns the
// uncompressed payload.
func RecvBytes(r io.Reader, expect string, setting Compression) ([]byte, error) {
	length, err := ReadToken(r, expect)
	if err != nil {
		return nil, err
	}
	return RecvPayload(r, expect, length, setting)
}

// RecvPayload reads and uncompresses a file payload whose token has
// already been consumed. The tag is used for diagnostics only.
func RecvPayload(r io.Reader, tag string, length uint32, setting Compression) ([]byte, error) {
	if length > MaxFilePayload {
		return nil, fmt.Errorf("token %s: payload length %d exceeds limit", tag, length)
	}
	if length == 0 {
		// An empty payload is never framed.
		return nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading %s payload: %w", tag, err)
	}
	if setting == CompressionNone {
		return payload, nil
	}
	data, err := decompressFrame(payload)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", tag, err)
	}
	return data, nil
}

// RecvFile reads one file token and writes the uncompressed payload to
// path. The parent directory must exist. The file is written through a
// temporary sibling and renamed so a partially-received payload never
// lands under the final name.
func RecvFile(r io.Reader, expect, path string, setting Compression) error {
	data, err := RecvBytes(r, expect, setting)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path through a temporary sibling and
// a rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary for %s: %w", path, err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
