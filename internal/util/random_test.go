package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomAlphaNumeric(t *testing.T) {
	s := GenerateRandomAlphaNumeric(12)
	if len(s) != 12 {
		t.Errorf("expected length 12, got %d", len(s))
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ", c) {
			t.Errorf("unexpected character %q in %q", c, s)
		}
	}
	if GenerateRandomAlphaNumeric(0) != "" {
		t.Errorf("expected empty string for zero length")
	}
}

func TestGenerateEnquiryNumber(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n := GenerateEnquiryNumber(now)
	if !strings.HasPrefix(n, "ENQ2026") {
		t.Errorf("expected ENQ2026 prefix, got %q", n)
	}
	if len(n) != len("ENQ2026")+6 {
		t.Errorf("unexpected length for %q", n)
	}

	// Collision resistance is probabilistic; a small sample should not collide.
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		v := GenerateEnquiryNumber(now)
		if seen[v] {
			t.Fatalf("duplicate enquiry number generated: %q", v)
		}
		seen[v] = true
	}
}
