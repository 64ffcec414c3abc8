// Package redolog implements the fixed-capacity, crash-consistent commit
// log each lane holds. A caller stages a sequence of word-sized writes
// with Store, finalizes the sequence with StoreLast, and the log is then
// either processed immediately (the common path) or replayed later by
// Recover after a crash left it in a committed-but-unapplied state.
//
// Grounded on original_source/src/libpmemobj/redo.h: the entry tagging
// scheme (an operation type and a terminating-entry marker folded into
// the same word as the target offset) and the checksum-plus-terminator
// readiness contract come directly from there, re-expressed with
// encoding/binary instead of C bitfields.
package redolog

import (
	"encoding/binary"
	"fmt"

	"github.com/selenia-systems/pmemheap/pmem"
)

// OpType names how Process combines an entry's value with whatever is
// already at its target offset.
type OpType uint8

const (
	// OpSet overwrites the target word with value.
	OpSet OpType = iota
	// OpAnd applies value as a bitwise AND mask.
	OpAnd
	// OpOr applies value as a bitwise OR mask.
	OpOr
	// OpBufSet and OpBufCpy mirror the source project's buffer-oriented
	// entries (arbitrary-length memset/memcpy redo). Our entry format is
	// fixed at one word per entry (matching the data model's
	// {offset_tagged, value} pair), so both degenerate to a plain word
	// set — a deliberate narrowing, since every caller in this module only ever redo-logs single words
	// (a chunk header, a bitmap word, an allocation header's size field).
	OpBufSet
	OpBufCpy
)

func (o OpType) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpBufSet:
		return "bufset"
	case OpBufCpy:
		return "bufcpy"
	default:
		return "unknown"
	}
}

const (
	headerSize = 64 // one cacheline's worth of metadata, padded
	entrySize  = 16 // offset_tagged:u64 + value:u64

	// lastBit marks an entry as the terminating entry of a commit. opMask
	// holds the 3-bit operation code. Both are folded into the top byte
	// of the tagged offset word; real byte offsets into a pool fit
	// comfortably in the low 56 bits, so no alignment requirement is
	// placed on the offsets themselves.
	opMask  = 0x07
	lastBit = 0x08
	tagMask = uint64(0xFF) << 56
)

// ErrCorrupt is returned by Check and Recover when a log's checksum
// disagrees with its declared contents.
var ErrCorrupt = fmt.Errorf("redolog: checksum mismatch")

// ErrCapacity is returned by Store/StoreLast when idx is out of range
// for the log's fixed entry capacity.
var ErrCapacity = fmt.Errorf("redolog: entry index exceeds log capacity")

// Log is a redo log backed by a fixed byte region within a pool. Region
// must be at least headerSize+entrySize bytes and is owned exclusively
// by the lane that holds this log.
type Log struct {
	Ops    pmem.Ops
	Region []byte
}

// New constructs a Log over region, part of ops' backing bytes.
func New(ops pmem.Ops, region []byte) *Log {
	return &Log{Ops: ops, Region: region}
}

// Capacity returns how many entries this log's region can hold.
func (l *Log) Capacity() int {
	return (len(l.Region) - headerSize) / entrySize
}

type header struct {
	Checksum uint64
	Nentries uint64
	Next     uint64
	Capacity uint64
}

func (l *Log) headerBytes() []byte { return l.Region[:headerSize] }

func (l *Log) entryBytes(i int) []byte {
	off := headerSize + i*entrySize

	return l.Region[off : off+entrySize]
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Checksum)
	binary.LittleEndian.PutUint64(buf[8:16], h.Nentries)
	binary.LittleEndian.PutUint64(buf[16:24], h.Next)
	binary.LittleEndian.PutUint64(buf[24:32], h.Capacity)

	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		Checksum: binary.LittleEndian.Uint64(buf[0:8]),
		Nentries: binary.LittleEndian.Uint64(buf[8:16]),
		Next:     binary.LittleEndian.Uint64(buf[16:24]),
		Capacity: binary.LittleEndian.Uint64(buf[24:32]),
	}
}

func (l *Log) readHeader() header { return decodeHeader(l.headerBytes()) }

// entry is the decoded form of one {offset_tagged, value} pair.
type entry struct {
	Offset uint64
	Value  uint64
	Op     OpType
	Last   bool
}

func tagOffset(offset uint64, op OpType, last bool) uint64 {
	tag := uint64(op) & opMask
	if last {
		tag |= lastBit
	}

	return (offset &^ tagMask) | (tag << 56)
}

func untagOffset(tagged uint64) (offset uint64, op OpType, last bool) {
	tag := byte(tagged >> 56)
	offset = tagged &^ tagMask
	op = OpType(tag & opMask)
	last = tag&lastBit != 0

	return offset, op, last
}

func encodeEntry(e entry) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(buf[0:8], tagOffset(e.Offset, e.Op, e.Last))
	binary.LittleEndian.PutUint64(buf[8:16], e.Value)

	return buf
}

func decodeEntry(buf []byte) entry {
	tagged := binary.LittleEndian.Uint64(buf[0:8])
	offset, op, last := untagOffset(tagged)

	return entry{Offset: offset, Value: binary.LittleEndian.Uint64(buf[8:16]), Op: op, Last: last}
}

// checksum64 is the Fletcher-64 accumulator (32-bit words, modulo
// 0xFFFFFFFF) used throughout this module's on-media structures;
// duplicated here (rather than imported
// from internal/heaplayout) because a redo log is checksummed and
// verified independently of any heap layout, by design — a lane's log
// region is just bytes to this package.
func checksum64(buf []byte) uint64 {
	var lo, hi uint64

	for i := 0; i+4 <= len(buf); i += 4 {
		word := uint64(binary.LittleEndian.Uint32(buf[i : i+4]))
		lo = (lo + word) % 0xFFFFFFFF
		hi = (hi + lo) % 0xFFFFFFFF
	}

	return hi<<32 | lo
}

// logChecksum computes the checksum covering nentries, next, capacity
// (but not the checksum field itself) plus entries[0:nentries].
func (l *Log) logChecksum(nentries uint64, entries [][]byte) uint64 {
	buf := make([]byte, 0, 24+len(entries)*entrySize)
	tmp := make([]byte, 8)

	binary.LittleEndian.PutUint64(tmp, nentries)
	buf = append(buf, tmp...)
	binary.LittleEndian.PutUint64(tmp, 0) // next, always 0: logs are not chained
	buf = append(buf, tmp...)
	binary.LittleEndian.PutUint64(tmp, uint64(l.Capacity()))
	buf = append(buf, tmp...)

	for _, e := range entries {
		buf = append(buf, e...)
	}

	return checksum64(buf)
}
