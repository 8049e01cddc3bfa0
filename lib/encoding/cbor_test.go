// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package encoding

import (
	"bytes"
	"testing"
)

type sample struct {
	Path   string   `cbor:"path"`
	Size   int64    `cbor:"size"`
	Chunks []string `cbor:"chunks,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	in := sample{Path: "dir/file.txt", Size: 4096, Chunks: []string{"a", "b"}}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Path != in.Path || out.Size != in.Size || len(out.Chunks) != 2 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestDeterministicOutput(t *testing.T) {
	// Maps are the canary: deterministic encoding sorts keys, so the
	// same map must serialize identically regardless of insertion or
	// iteration order.
	in := map[string]int{"zeta": 1, "alpha": 2, "mu": 3}

	first, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(in)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("encoding is not deterministic across calls")
		}
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	// A record with extra fields (written by a newer version) must
	// decode into a struct that lacks them.
	extended := map[string]any{"path": "f", "size": int64(1), "future_field": true}
	data, err := Marshal(extended)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if out.Path != "f" || out.Size != 1 {
		t.Errorf("known fields not decoded: %+v", out)
	}
}

func TestAnyTargetMapType(t *testing.T) {
	data, err := Marshal(map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := out.(map[string]any); !ok {
		t.Errorf("any target decoded to %T, want map[string]any", out)
	}
}
