// Package sketch provides a HyperLogLog cardinality estimator used for
// approximate distinct counts in gold views.
package sketch

import (
	"fmt"
	"math"
	"math/bits"
	"sync"

	"github.com/spaolacci/murmur3"
)

const (
	minPrecision = 4
	maxPrecision = 18
)

// HyperLogLog estimates the number of distinct items added to it. The
// relative standard error is 1.04/sqrt(2^precision); memory is one byte per
// register (2^precision bytes) regardless of how many items are added.
type HyperLogLog struct {
	mu        sync.RWMutex
	precision uint8
	registers []uint8
}

// New creates a HyperLogLog with the given precision (register address bits).
// Precision is clamped to [4, 18].
func New(precision int) *HyperLogLog {
	if precision < minPrecision {
		precision = minPrecision
	}
	if precision > maxPrecision {
		precision = maxPrecision
	}
	return &HyperLogLog{
		precision: uint8(precision),
		registers: make([]uint8, 1<<uint(precision)),
	}
}

// NewWithErrorRate creates a HyperLogLog whose relative standard error is at
// most the given rate. A rate of 0.02 (2%) yields 4096 registers.
func NewWithErrorRate(rate float64) *HyperLogLog {
	if rate <= 0 || rate >= 1 {
		rate = 0.02
	}
	// rse = 1.04 / sqrt(m)  =>  m = (1.04/rse)^2
	m := math.Pow(1.04/rate, 2)
	precision := int(math.Ceil(math.Log2(m)))
	return New(precision)
}

// Precision returns the register address width in bits.
func (h *HyperLogLog) Precision() int {
	return int(h.precision)
}

// ErrorRate returns the theoretical relative standard error of the sketch.
func (h *HyperLogLog) ErrorRate() float64 {
	return 1.04 / math.Sqrt(float64(len(h.registers)))
}

// Add records an item.
func (h *HyperLogLog) Add(data []byte) {
	x := murmur3.Sum64(data)

	idx := x >> (64 - uint(h.precision))
	// Rank of the first set bit in the remaining suffix.
	suffix := x << uint(h.precision)
	var rank uint8
	if suffix != 0 {
		rank = uint8(bits.LeadingZeros64(suffix)) + 1
	} else {
		rank = uint8(64-int(h.precision)) + 1
	}

	h.mu.Lock()
	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
	h.mu.Unlock()
}

// AddString records a string item.
func (h *HyperLogLog) AddString(s string) {
	h.Add([]byte(s))
}

// Estimate returns the approximate number of distinct items added.
func (h *HyperLogLog) Estimate() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := float64(len(h.registers))
	var sum float64
	var zeros float64
	for _, reg := range h.registers {
		sum += 1 / float64(uint64(1)<<reg)
		if reg == 0 {
			zeros++
		}
	}

	estimate := alpha(len(h.registers)) * m * m / sum

	// Small-range correction: linear counting while registers are sparse.
	if estimate <= 2.5*m && zeros > 0 {
		estimate = m * math.Log(m/zeros)
	}

	return uint64(estimate + 0.5)
}

// Merge folds another sketch into this one. Both must share a precision.
func (h *HyperLogLog) Merge(other *HyperLogLog) error {
	if h.precision != other.precision {
		return fmt.Errorf("sketch: precision mismatch: %d != %d", h.precision, other.precision)
	}

	other.mu.RLock()
	defer other.mu.RUnlock()
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, reg := range other.registers {
		if reg > h.registers[i] {
			h.registers[i] = reg
		}
	}
	return nil
}

// Reset clears all registers.
func (h *HyperLogLog) Reset() {
	h.mu.Lock()
	for i := range h.registers {
		h.registers[i] = 0
	}
	h.mu.Unlock()
}

// alpha is the bias-correction constant for m registers.
func alpha(m int) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1 + 1.079/float64(m))
	}
}
