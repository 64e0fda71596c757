// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the algorithm used for file-transfer framing on
// a connection. The method actually applied to each payload is
// recorded inside the frame, so a setting of LZ4 or Zstd merely
// declares that framing is in use.
type Compression uint8

const (
	// CompressionNone sends file payloads raw, token length equals
	// file size.
	CompressionNone Compression = 0

	// CompressionLZ4 is LZ4 block compression. Fast default for
	// preprocessed source on fast networks.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level. Better ratios on
	// slow links at more CPU cost.
	CompressionZstd Compression = 2
)

// String returns the name used in host specifications.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name from a host specification.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Frame method bytes. methodStored is the fallback for payloads the
// configured algorithm cannot shrink.
const (
	methodStored byte = 's'
	methodLZ4    byte = 'l'
	methodZstd   byte = 'z'
)

// errIncompressible signals that compression did not reduce the
// payload and the stored method should be framed instead.
var errIncompressible = errors.New("payload is incompressible")

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// compressFrame builds the framed payload for data under the given
// setting: 8 hex digits of uncompressed size, one method byte, then
// the body. Never fails on incompressible input — it stores instead.
func compressFrame(data []byte, setting Compression) ([]byte, error) {
	method := methodStored
	body := data

	switch setting {
	case CompressionLZ4:
		compressed, err := compressLZ4(data)
		if err == nil {
			method, body = methodLZ4, compressed
		} else if !errors.Is(err, errIncompressible) {
			return nil, err
		}
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			method, body = methodZstd, compressed
		}
	default:
		return nil, fmt.Errorf("compression %v cannot be framed", setting)
	}

	frame := make([]byte, 0, 9+len(body))
	frame = appendHex(frame, uint32(len(data)))
	frame = append(frame, method)
	frame = append(frame, body...)
	return frame, nil
}

// decompressFrame reverses compressFrame. The caller has already read
// the full framed payload from the wire.
func decompressFrame(frame []byte) ([]byte, error) {
	if len(frame) < 9 {
		return nil, fmt.Errorf("compression frame too short (%d bytes)", len(frame))
	}
	uncompressedSize, err := parseHex(frame[:8])
	if err != nil {
		return nil, fmt.Errorf("compression frame size: %w", err)
	}
	if uncompressedSize > MaxFilePayload {
		return nil, fmt.Errorf("compression frame declares %d bytes, exceeds limit", uncompressedSize)
	}
	method := frame[8]
	body := frame[9:]

	switch method {
	case methodStored:
		if uint32(len(body)) != uncompressedSize {
			return nil, fmt.Errorf("stored frame: %d body bytes, declared %d", len(body), uncompressedSize)
		}
		return body, nil
	case methodLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint32(read) != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, declared %d", read, uncompressedSize)
		}
		return destination, nil
	case methodZstd:
		destination, err := zstdDecoder.DecodeAll(body, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint32(len(destination)) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, declared %d", len(destination), uncompressedSize)
		}
		return destination, nil
	default:
		return nil, fmt.Errorf("unknown frame method %q", method)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 when the data is incompressible; a
	// result no smaller than the input is not worth framing either.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

// appendHex appends value as 8 lowercase hex digits.
func appendHex(dst []byte, value uint32) []byte {
	const hexDigits = "0123456789abcdef"
	for i := 0; i < 8; i++ {
		dst = append(dst, hexDigits[(value>>uint(28-4*i))&0xf])
	}
	return dst
}
