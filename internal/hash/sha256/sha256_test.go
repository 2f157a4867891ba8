package sha256

import "testing"

func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("poker"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	b, err := h.Hash([]byte("poker"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if a != b {
		t.Fatalf("expected identical digests, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHashDiffers(t *testing.T) {
	t.Parallel()

	h := New()
	a, _ := h.Hash([]byte("a"))
	b, _ := h.Hash([]byte("b"))
	if a == b {
		t.Fatal("expected different digests for different inputs")
	}
}
