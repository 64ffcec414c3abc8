package redolog

import (
	"encoding/binary"
	"fmt"
)

// Store writes entry idx as a non-terminating redo entry and persists
// it. It does not touch the header — the log remains, from a recovering
// reader's perspective, exactly as empty as it was before this call,
// since the header's nentries still bounds the scan window to whatever
// a prior StoreLast established (zero, for a freshly held lane).
func (l *Log) Store(idx int, offset, value uint64, op OpType) error {
	if idx < 0 || idx >= l.Capacity() {
		return ErrCapacity
	}

	return l.Ops.MemcpyPersist(l.entryBytes(idx), encodeEntry(entry{Offset: offset, Value: value, Op: op}))
}

// StoreLast writes entry idx as the terminating entry of a commit of
// idx+1 total entries. The terminating entry itself is persisted first;
// the header (nentries + checksum covering the final state) is
// persisted last and is the sole linearization point of the commit.
// This ordering matters because a lane's entry slots are never zeroed
// between commits (see clear): slot idx may still hold a previous
// commit's terminating entry, bytes and all. Writing the header first
// would make that stale terminator briefly reachable under the *new*
// Nentries — a crash in between would hand Recover a checksum computed
// over a mix of freshly Stored entries and the old stale terminator,
// which can never verify and would be misreported as corrupt rather
// than incomplete. Writing the real terminator first, then the header,
// means the header never names a scan window whose terminator isn't
// already exactly what the checksum it carries expects: a crash before
// the header write leaves the previous header (and therefore Recover)
// unaware anything changed; only a crash after the header write leaves
// a commit for Recover to replay, and by then every entry it names,
// terminator included, is already correct.
func (l *Log) StoreLast(idx int, offset, value uint64, op OpType) error {
	if idx < 0 || idx >= l.Capacity() {
		return ErrCapacity
	}

	n := uint64(idx + 1)

	final := encodeEntry(entry{Offset: offset, Value: value, Op: op, Last: true})

	if err := l.Ops.MemcpyPersist(l.entryBytes(idx), final); err != nil {
		return err
	}

	entries := make([][]byte, n)
	for i := 0; i < idx; i++ {
		entries[i] = l.entryBytes(i)
	}

	entries[idx] = final

	sum := l.logChecksum(n, entries)

	hdr := encodeHeader(header{Checksum: sum, Nentries: n, Capacity: uint64(l.Capacity())})

	return l.Ops.MemcpyPersist(l.headerBytes(), hdr)
}

func applyWord(cur uint64, op OpType, value uint64) uint64 {
	switch op {
	case OpAnd:
		return cur & value
	case OpOr:
		return cur | value
	case OpSet, OpBufSet, OpBufCpy:
		return value
	default:
		return value
	}
}

// Process applies every live entry (entries[0:nentries)) to its target
// offset within the pool's backing bytes, in order, then clears the log
// by resetting nentries to zero. Calling Process on an already-cleared
// log is a no-op, satisfying idempotent replay: StoreLast makes a commit
// visible exactly once, but Process may safely be invoked any number of
// times afterward.
func (l *Log) Process() error {
	h := l.readHeader()
	if h.Nentries == 0 {
		return nil
	}

	base := l.Ops.Bytes()

	for i := uint64(0); i < h.Nentries; i++ {
		e := decodeEntry(l.entryBytes(int(i)))

		if e.Offset+8 > uint64(len(base)) {
			return fmt.Errorf("redolog: entry %d targets offset %d out of range", i, e.Offset)
		}

		target := base[e.Offset : e.Offset+8]
		cur := binary.LittleEndian.Uint64(target)
		next := applyWord(cur, e.Op, e.Value)

		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, next)

		if err := l.Ops.MemcpyPersist(target, buf); err != nil {
			return err
		}
	}

	return l.clear()
}

// clear resets the log to its empty state (nentries=0, checksum of the
// empty header) and persists it as a single durable write.
func (l *Log) clear() error {
	sum := l.logChecksum(0, nil)
	hdr := encodeHeader(header{Checksum: sum, Nentries: 0, Capacity: uint64(l.Capacity())})

	return l.Ops.MemcpyPersist(l.headerBytes(), hdr)
}

// Check verifies the log's structural consistency without applying or
// mutating anything: an empty log (nentries==0) is always valid; a
// nonzero nentries beyond capacity is corrupt; a nonzero nentries whose
// last entry lacks the terminating marker is an incomplete (never
// committed) attempt and is not corrupt — Recover treats it the same
// way, by quietly forgetting it. Only a nonzero nentries with a
// terminating marker AND a mismatching checksum is reported corrupt.
func (l *Log) Check() error {
	h := l.readHeader()
	if h.Nentries == 0 {
		return nil
	}

	if h.Nentries > uint64(l.Capacity()) {
		return ErrCorrupt
	}

	last := decodeEntry(l.entryBytes(int(h.Nentries - 1)))
	if !last.Last {
		return nil
	}

	if l.verifyChecksum(h) != nil {
		return ErrCorrupt
	}

	return nil
}

func (l *Log) verifyChecksum(h header) error {
	entries := make([][]byte, h.Nentries)
	for i := range entries {
		entries[i] = l.entryBytes(i)
	}

	if l.logChecksum(h.Nentries, entries) != h.Checksum {
		return ErrCorrupt
	}

	return nil
}

// Recover inspects the log and, if it holds a complete, checksum-valid
// commit, applies it (equivalent to Process); otherwise it leaves no
// persistent trace. An incomplete commit (terminator absent) is reset
// to the empty state so subsequent Store/StoreLast calls begin from a
// clean invariant, exactly as they would after an ordinary Process.
func (l *Log) Recover() error {
	h := l.readHeader()
	if h.Nentries == 0 {
		return nil
	}

	if h.Nentries > uint64(l.Capacity()) {
		return ErrCorrupt
	}

	last := decodeEntry(l.entryBytes(int(h.Nentries - 1)))
	if !last.Last {
		return l.clear()
	}

	if err := l.verifyChecksum(h); err != nil {
		return err
	}

	return l.Process()
}
