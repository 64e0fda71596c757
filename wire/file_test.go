// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/xionghul/distcc/lib/testutil"
)

func TestSendRecvFileAllSettings(t *testing.T) {
	// Repetitive text compresses under both algorithms; the settings
	// loop exercises raw, lz4, and zstd paths end to end.
	content := bytes.Repeat([]byte("int main(void) { return 0; }\n"), 200)

	for _, setting := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(setting.String(), func(t *testing.T) {
			directory := t.TempDir()
			source := testutil.WriteFile(t, directory, "unit.i", content)

			var buf bytes.Buffer
			size, err := SendFile(&buf, TagInput, source, setting)
			if err != nil {
				t.Fatalf("SendFile failed: %v", err)
			}
			if size != int64(len(content)) {
				t.Errorf("SendFile size = %d, want %d (uncompressed)", size, len(content))
			}

			destination := filepath.Join(directory, "received.i")
			if err := RecvFile(&buf, TagInput, destination, setting); err != nil {
				t.Fatalf("RecvFile failed: %v", err)
			}
			if got := testutil.ReadFile(t, destination); !bytes.Equal(got, content) {
				t.Errorf("received %d bytes differing from sent %d bytes", len(got), len(content))
			}
		})
	}
}

func TestSendBytesIncompressibleFallsBackToStored(t *testing.T) {
	// Random bytes defeat both compressors; the frame must carry the
	// stored method and still round-trip.
	content := make([]byte, 4096)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("generating random payload: %v", err)
	}

	for _, setting := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(setting.String(), func(t *testing.T) {
			var buf bytes.Buffer
			if err := SendBytes(&buf, TagInput, content, setting); err != nil {
				t.Fatalf("SendBytes failed: %v", err)
			}
			got, err := RecvBytes(&buf, TagInput, setting)
			if err != nil {
				t.Fatalf("RecvBytes failed: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Error("stored-method round trip corrupted payload")
			}
		})
	}
}

func TestRecvBytesEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := SendBytes(&buf, TagObject, nil, CompressionNone); err != nil {
		t.Fatalf("SendBytes failed: %v", err)
	}
	got, err := RecvBytes(&buf, TagObject, CompressionNone)
	if err != nil {
		t.Fatalf("RecvBytes failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("RecvBytes = %d bytes, want empty", len(got))
	}
}

func TestRecvBytesTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteToken(&buf, TagInput, 4); err != nil {
		t.Fatalf("WriteToken failed: %v", err)
	}
	buf.WriteString("ab") // two of four promised bytes
	if _, err := RecvBytes(&buf, TagInput, CompressionNone); err == nil {
		t.Error("RecvBytes accepted a truncated payload")
	}
}

func TestCompressionParse(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		setting, err := ParseCompression(name)
		if err != nil {
			t.Fatalf("ParseCompression(%q) failed: %v", name, err)
		}
		if setting.String() != name {
			t.Errorf("round trip: ParseCompression(%q).String() = %q", name, setting.String())
		}
	}
	if _, err := ParseCompression("lzo"); err == nil {
		t.Error("ParseCompression accepted unknown name")
	}
}
