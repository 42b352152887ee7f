package sketch

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
)

// serialization format version
const formatVersion = 1

// Serialize converts the sketch to a compact byte representation.
// The format is:
//   - 1 byte: format version
//   - 1 byte: precision
//   - remaining: snappy-compressed register array
func (h *HyperLogLog) Serialize() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	compressed := snappy.Encode(nil, h.registers)
	buf := make([]byte, 2+len(compressed))
	buf[0] = formatVersion
	buf[1] = h.precision
	copy(buf[2:], compressed)
	return buf
}

// Deserialize reconstructs a sketch from its serialized representation.
func Deserialize(data []byte) (*HyperLogLog, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("sketch: serialized data too short (%d bytes)", len(data))
	}
	if data[0] != formatVersion {
		return nil, fmt.Errorf("sketch: unsupported format version %d", data[0])
	}
	precision := data[1]
	if precision < minPrecision || precision > maxPrecision {
		return nil, fmt.Errorf("sketch: invalid precision %d", precision)
	}

	registers, err := snappy.Decode(nil, data[2:])
	if err != nil {
		return nil, fmt.Errorf("sketch: failed to decompress registers: %w", err)
	}
	if len(registers) != 1<<uint(precision) {
		return nil, fmt.Errorf("sketch: register count %d does not match precision %d", len(registers), precision)
	}

	return &HyperLogLog{
		precision: precision,
		registers: registers,
	}, nil
}

// SerializedSize returns the uncompressed register footprint in bytes, used
// for memory accounting.
func (h *HyperLogLog) SerializedSize() int {
	return 2 + len(h.registers)
}

// checksum of the register array, for integrity spot checks in tests.
func (h *HyperLogLog) checksum() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := make([]byte, 8)
	var sum uint64
	for i, reg := range h.registers {
		binary.LittleEndian.PutUint64(buf, uint64(i)<<8|uint64(reg))
		sum ^= binary.LittleEndian.Uint64(buf) * 0x9E3779B97F4A7C15
	}
	return sum
}
