package sketch

import (
	"fmt"
	"math"
	"testing"
)

func TestEstimate_Empty(t *testing.T) {
	h := New(12)
	if got := h.Estimate(); got != 0 {
		t.Errorf("empty sketch estimate = %d, want 0", got)
	}
}

func TestEstimate_SmallExact(t *testing.T) {
	// Linear counting keeps small cardinalities near-exact.
	h := New(12)
	for i := 0; i < 100; i++ {
		h.AddString(fmt.Sprintf("order-%d", i))
	}
	got := h.Estimate()
	if got < 95 || got > 105 {
		t.Errorf("estimate = %d, want within [95, 105]", got)
	}
}

func TestEstimate_DuplicatesIgnored(t *testing.T) {
	h := New(12)
	for i := 0; i < 1000; i++ {
		h.AddString("same-order")
	}
	if got := h.Estimate(); got != 1 {
		t.Errorf("estimate after 1000 duplicate adds = %d, want 1", got)
	}
}

func TestEstimate_WithinErrorBound(t *testing.T) {
	const n = 50000
	h := NewWithErrorRate(0.02)
	for i := 0; i < n; i++ {
		h.AddString(fmt.Sprintf("order-%d", i))
	}

	got := float64(h.Estimate())
	relErr := math.Abs(got-n) / n
	// Allow 3x the standard error; failures here indicate a broken
	// estimator, not statistical noise.
	if relErr > 3*h.ErrorRate() {
		t.Errorf("relative error %.4f exceeds 3*RSE %.4f (estimate %d)", relErr, 3*h.ErrorRate(), uint64(got))
	}
}

func TestNewWithErrorRate_Precision(t *testing.T) {
	tests := []struct {
		rate      float64
		precision int
	}{
		{0.02, 12},  // (1.04/0.02)^2 = 2704 -> 4096 registers
		{0.01, 14},  // 10816 -> 16384 registers
		{0.065, 8},  // 256 registers
		{-1, 12},    // invalid falls back to 2%
		{1.5, 12},   // invalid falls back to 2%
	}
	for _, tt := range tests {
		h := NewWithErrorRate(tt.rate)
		if h.Precision() != tt.precision {
			t.Errorf("rate %v: precision = %d, want %d", tt.rate, h.Precision(), tt.precision)
		}
	}
}

func TestMerge(t *testing.T) {
	a := New(12)
	b := New(12)
	for i := 0; i < 1000; i++ {
		a.AddString(fmt.Sprintf("a-%d", i))
		b.AddString(fmt.Sprintf("b-%d", i))
	}
	// Overlap: both saw these.
	for i := 0; i < 500; i++ {
		a.AddString(fmt.Sprintf("shared-%d", i))
		b.AddString(fmt.Sprintf("shared-%d", i))
	}

	if err := a.Merge(b); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	got := float64(a.Estimate())
	const want = 2500.0
	if math.Abs(got-want)/want > 0.05 {
		t.Errorf("merged estimate = %v, want within 5%% of %v", got, want)
	}
}

func TestMerge_PrecisionMismatch(t *testing.T) {
	a := New(12)
	b := New(14)
	if err := a.Merge(b); err == nil {
		t.Error("merging sketches of different precision should fail")
	}
}

func TestReset(t *testing.T) {
	h := New(10)
	for i := 0; i < 100; i++ {
		h.AddString(fmt.Sprintf("x-%d", i))
	}
	h.Reset()
	if got := h.Estimate(); got != 0 {
		t.Errorf("estimate after reset = %d, want 0", got)
	}
}

func TestPrecisionClamping(t *testing.T) {
	if got := New(2).Precision(); got != minPrecision {
		t.Errorf("precision below minimum clamped to %d, want %d", got, minPrecision)
	}
	if got := New(30).Precision(); got != maxPrecision {
		t.Errorf("precision above maximum clamped to %d, want %d", got, maxPrecision)
	}
}
