// Package bronze provides the immutable, append-only raw record log and the
// idempotent ingestor that feeds it. Records are framed as
// [length:4][crc32:4][snappy(json)] in size-rotated segment files, fsync'd
// before the append is acknowledged.
package bronze

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/snappy"

	"github.com/lakeline/lakeline/pkg/types"
)

const segmentPrefix = "bronze_"

// Log is the append-only bronze record log. Every record carries a global
// monotonic offset assigned at append time; downstream stages use that offset
// as their checkpoint position. Dedup state (per-stream high-water sequence)
// is rebuilt from the segments on startup, so a crash can never forget an
// already-durable record.
type Log struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	segSize    int64
	maxSegSize int64

	nextOffset uint64
	highWater  map[string]uint64
	count      uint64

	// onSeal is invoked with the path of a sealed segment after rotation.
	onSeal func(path string)

	mu sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithSealHook registers a callback invoked with each sealed segment path
// after rotation, used to archive segments to object storage.
func WithSealHook(fn func(path string)) Option {
	return func(l *Log) { l.onSeal = fn }
}

// Open opens (creating if needed) a bronze log in dir, replaying existing
// segments to rebuild the offset counter and dedup high-water marks.
func Open(dir string, maxSegSize int64, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("bronze: failed to create log directory: %w", err)
	}

	l := &Log{
		dir:        dir,
		maxSegSize: maxSegSize,
		highWater:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.recover(); err != nil {
		return nil, err
	}
	if err := l.openSegment(); err != nil {
		return nil, err
	}
	return l, nil
}

// recover scans existing segments to rebuild nextOffset, highWater, and the
// current segment ID.
func (l *Log) recover() error {
	segments, err := l.segmentPaths()
	if err != nil {
		return err
	}
	for _, path := range segments {
		records, err := readSegment(path)
		if err != nil {
			return err
		}
		for i := range records {
			l.noteRecord(&records[i])
		}
	}
	if len(segments) > 0 {
		var lastID uint64
		fmt.Sscanf(filepath.Base(segments[len(segments)-1]), segmentPrefix+"%016x.log", &lastID)
		l.segmentID = lastID
	}
	return nil
}

// noteRecord updates in-memory state for one recovered or appended record.
func (l *Log) noteRecord(rec *types.BronzeRecord) {
	if rec.Offset >= l.nextOffset {
		l.nextOffset = rec.Offset + 1
	}
	if rec.Sequence > l.highWater[rec.StreamID] {
		l.highWater[rec.StreamID] = rec.Sequence
	}
	l.count++
}

// segmentPaths returns the log's segment files in ID order.
func (l *Log) segmentPaths() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("bronze: failed to read log directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) == len(segmentPrefix)+20 && name[:len(segmentPrefix)] == segmentPrefix {
			paths = append(paths, filepath.Join(l.dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (l *Log) segmentPath(id uint64) string {
	return filepath.Join(l.dir, fmt.Sprintf(segmentPrefix+"%016x.log", id))
}

// openSegment opens the current segment file for appending.
func (l *Log) openSegment() error {
	file, err := os.OpenFile(l.segmentPath(l.segmentID), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("bronze: failed to open segment: %w", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("bronze: failed to seek segment: %w", err)
	}
	l.segment = file
	l.segSize = offset
	return nil
}

// Contains reports whether a record with the given identity is already in the
// log. Within a stream events arrive in non-decreasing sequence order, so the
// per-stream high-water mark decides membership.
func (l *Log) Contains(streamID string, sequence uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sequence <= l.highWater[streamID]
}

// Append adds a record to the log, assigning its offset. If a record with the
// same (stream_id, sequence) identity is already present the append is a
// no-op and appended=false is returned. The record is fsync'd before return.
func (l *Log) Append(rec *types.BronzeRecord) (offset uint64, appended bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Sequence <= l.highWater[rec.StreamID] {
		return 0, false, nil
	}

	rec.Offset = l.nextOffset
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, false, fmt.Errorf("bronze: failed to serialize record: %w", err)
	}
	compressed := snappy.Encode(nil, payload)
	crc := crc32.ChecksumIEEE(compressed)

	if err := l.writeFrame(uint32(len(compressed)), crc, compressed); err != nil {
		return 0, false, err
	}

	l.nextOffset++
	l.highWater[rec.StreamID] = rec.Sequence
	l.count++
	return rec.Offset, true, nil
}

// writeFrame writes one framed record to the segment and fsyncs it.
func (l *Log) writeFrame(length, crc uint32, payload []byte) error {
	if err := binary.Write(l.segment, binary.LittleEndian, length); err != nil {
		return fmt.Errorf("bronze: failed to write length: %w", err)
	}
	if err := binary.Write(l.segment, binary.LittleEndian, crc); err != nil {
		return fmt.Errorf("bronze: failed to write crc: %w", err)
	}
	if _, err := l.segment.Write(payload); err != nil {
		return fmt.Errorf("bronze: failed to write payload: %w", err)
	}
	if err := l.segment.Sync(); err != nil {
		return fmt.Errorf("bronze: failed to fsync: %w", err)
	}

	l.segSize += int64(8 + len(payload))
	if l.segSize >= l.maxSegSize {
		return l.rotate()
	}
	return nil
}

// rotate seals the current segment and opens the next one.
func (l *Log) rotate() error {
	sealed := l.segmentPath(l.segmentID)
	if l.segment != nil {
		if err := l.segment.Close(); err != nil {
			return fmt.Errorf("bronze: failed to close segment: %w", err)
		}
	}
	l.segmentID++
	if err := l.openSegment(); err != nil {
		return err
	}
	if l.onSeal != nil {
		l.onSeal(sealed)
	}
	return nil
}

// Count returns the number of records in the log.
func (l *Log) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// HighWater returns the highest ingested sequence for a stream.
func (l *Log) HighWater(streamID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highWater[streamID]
}

// NextOffset returns the offset the next appended record will receive.
func (l *Log) NextOffset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextOffset
}

// ScanAfter returns up to limit records with offset > after, in offset order.
// A limit <= 0 means no limit.
func (l *Log) ScanAfter(after uint64, limit int) ([]types.BronzeRecord, error) {
	return l.scan(after+1, limit)
}

// ScanFrom returns up to limit records with offset >= from, in offset order.
// Downstream checkpoints store the next offset to read, which starts at zero,
// so their read path needs the inclusive bound.
func (l *Log) ScanFrom(from uint64, limit int) ([]types.BronzeRecord, error) {
	return l.scan(from, limit)
}

// scan reads the segment files directly, so a reader in another process sees
// exactly the durable records.
func (l *Log) scan(from uint64, limit int) ([]types.BronzeRecord, error) {
	l.mu.Lock()
	segments, err := l.segmentPaths()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []types.BronzeRecord
	for _, path := range segments {
		records, err := readSegment(path)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.Offset < from {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Close fsyncs and closes the current segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.segment == nil {
		return nil
	}
	if err := l.segment.Sync(); err != nil {
		return fmt.Errorf("bronze: failed to fsync on close: %w", err)
	}
	err := l.segment.Close()
	l.segment = nil
	return err
}

// readSegment reads all intact records from a segment file. A truncated tail
// frame (torn write from a crash) ends the scan; a corrupt frame body is an
// error because records before it may be unreachable.
func readSegment(path string) ([]types.BronzeRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bronze: failed to open segment: %w", err)
	}
	defer file.Close()

	var records []types.BronzeRecord
	for {
		var length uint32
		if err := binary.Read(file, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("bronze: failed to read frame length: %w", err)
		}
		var crc uint32
		if err := binary.Read(file, binary.LittleEndian, &crc); err != nil {
			break // torn write
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			break // torn write
		}
		if crc32.ChecksumIEEE(payload) != crc {
			return nil, fmt.Errorf("bronze: crc mismatch in %s", path)
		}
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("bronze: failed to decompress record in %s: %w", path, err)
		}
		var rec types.BronzeRecord
		if err := json.Unmarshal(decoded, &rec); err != nil {
			return nil, fmt.Errorf("bronze: failed to decode record in %s: %w", path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
