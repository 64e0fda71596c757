// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	type note struct {
		Phase string `cbor:"phase"`
		File  string `cbor:"file"`
		Slot  int    `cbor:"slot"`
	}

	original := note{Phase: "send", File: "main.c", Slot: 2}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded note
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip: got %+v, want %+v", decoded, original)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	value := map[string]int{"b": 2, "a": 1, "c": 3}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("same value produced different encodings:\n%x\n%x", first, second)
	}
}

func TestDecodeIntoAny(t *testing.T) {
	data, err := Marshal(map[string]any{"phase": "compile"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["phase"] != "compile" {
		t.Errorf("decoded[phase] = %v, want compile", asMap["phase"])
	}
}
