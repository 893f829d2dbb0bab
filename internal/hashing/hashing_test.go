package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash(1, "Hello", `{"answer":"Hi"}`, `{"answer":"Hi"}`)
	b := ContentHash(1, "Hello", `{"answer":"Hi"}`, `{"answer":"Hi"}`)
	if a != b {
		t.Errorf("same inputs produced different digests: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestContentHash_SensitiveToEveryField(t *testing.T) {
	base := ContentHash(1, "Hello", "resp", "state")

	tests := []struct {
		name   string
		digest string
	}{
		{"turn index", ContentHash(2, "Hello", "resp", "state")},
		{"user prompt", ContentHash(1, "Hello!", "resp", "state")},
		{"response", ContentHash(1, "Hello", "resp2", "state")},
		{"machine state", ContentHash(1, "Hello", "resp", "state2")},
	}
	for _, tt := range tests {
		if tt.digest == base {
			t.Errorf("changing %s did not change the digest", tt.name)
		}
	}
}

func TestContentHash_FieldBoundaries(t *testing.T) {
	// Moving bytes across the prompt/response boundary must change the
	// digest; plain concatenation would not catch this.
	a := ContentHash(1, "ab", "c", "s")
	b := ContentHash(1, "a", "bc", "s")
	if a == b {
		t.Error("digest ignores field boundaries")
	}
}

func TestLink_Genesis(t *testing.T) {
	content := ContentHash(1, "Hello", `{"answer":"Hi"}`, `{"answer":"Hi"}`)

	sum := sha256.Sum256([]byte(content + "0"))
	want := hex.EncodeToString(sum[:])

	if got := Link(content, ""); got != want {
		t.Errorf("Link with empty previous = %s, want genesis-linked %s", got, want)
	}
	if got := Link(content, Genesis); got != want {
		t.Errorf("Link with explicit genesis = %s, want %s", got, want)
	}
}

func TestLink_Chains(t *testing.T) {
	c1 := ContentHash(1, "Hello", "r1", "s1")
	c2 := ContentHash(2, "Again", "r2", "s2")

	h1 := Link(c1, "")
	h2 := Link(c2, h1)

	sum := sha256.Sum256([]byte(c2 + h1))
	if want := hex.EncodeToString(sum[:]); h2 != want {
		t.Errorf("chain hash = %s, want %s", h2, want)
	}
	if h1 == h2 {
		t.Error("consecutive chain hashes collided")
	}
}
