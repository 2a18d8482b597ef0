package trace

import (
	"fmt"
	"sort"

	"github.com/willibrandon/vksnap/pkg/vk"
)

// Log is the ordered call trace log. It is not safe for concurrent use; the
// owner serializes access.
type Log struct {
	records map[Ref]*Record
	nextRef Ref
	nextSeq uint64

	pending    []vk.Handle
	hasPending bool
}

// NewLog creates an empty log
func NewLog() *Log {
	return &Log{
		records: make(map[Ref]*Record),
		nextRef: 1,
	}
}

// Create allocates a record with the next sequence number. Handles staged
// with StageExtra are moved onto the new record.
func (l *Log) Create() Ref {
	ref := l.nextRef
	l.nextRef++
	rec := &Record{
		Ref: ref,
		Seq: l.nextSeq,
	}
	l.nextSeq++
	if l.hasPending {
		rec.Extra = l.pending
		l.pending = nil
		l.hasPending = false
	}
	l.records[ref] = rec
	return ref
}

// Get returns the record for ref. An unknown ref means the caller holds a
// reference Create never produced, which is a bug in the caller.
func (l *Log) Get(ref Ref) *Record {
	rec, ok := l.records[ref]
	if !ok {
		panic(fmt.Sprintf("trace: unknown record ref %d", ref))
	}
	return rec
}

// Lookup returns the record for ref if it exists
func (l *Log) Lookup(ref Ref) (*Record, bool) {
	rec, ok := l.records[ref]
	return rec, ok
}

// SetTrace stamps a record with its opcode and a copy of the payload
func (l *Log) SetTrace(ref Ref, op vk.Opcode, payload []byte) {
	rec := l.Get(ref)
	rec.Opcode = op
	rec.Payload = append([]byte(nil), payload...)
}

// SetCreated records which handles a record produced
func (l *Log) SetCreated(ref Ref, handles []vk.Handle) {
	rec := l.Get(ref)
	rec.Created = append([]vk.Handle(nil), handles...)
	rec.Kind = Create
}

// MarkTouched attaches existing handles to a record under the given kind
func (l *Log) MarkTouched(ref Ref, kind Kind, handles []vk.Handle) {
	rec := l.Get(ref)
	if rec.Kind == Unknown {
		rec.Kind = kind
	}
	for _, h := range handles {
		rec.touch(h)
	}
}

// MarkCreation sets the kind of a record that became a creation trace
func (l *Log) MarkCreation(ref Ref) {
	rec := l.Get(ref)
	if rec.Kind == Unknown {
		rec.Kind = Create
	}
}

// StageExtra fills the pending slot consumed by the next Create. It reports
// whether an unconsumed staging was overwritten.
func (l *Log) StageExtra(handles []vk.Handle) bool {
	replaced := l.hasPending
	l.pending = append([]vk.Handle(nil), handles...)
	l.hasPending = true
	return replaced
}

// Pending returns the staged extra handles and whether the slot is full
func (l *Log) Pending() ([]vk.Handle, bool) {
	return l.pending, l.hasPending
}

// Records returns every record in sequence order
func (l *Log) Records() []*Record {
	out := make([]*Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Len returns the number of records
func (l *Log) Len() int {
	return len(l.records)
}

// Prune drops every record keep rejects and returns how many were dropped
func (l *Log) Prune(keep func(*Record) bool) int {
	dropped := 0
	for ref, rec := range l.records {
		if !keep(rec) {
			delete(l.records, ref)
			dropped++
		}
	}
	return dropped
}

// Reset tears down every record and the pending slot
func (l *Log) Reset() {
	l.records = make(map[Ref]*Record)
	l.nextRef = 1
	l.nextSeq = 0
	l.pending = nil
	l.hasPending = false
}

// Counters returns the next ref and sequence number the log will assign
func (l *Log) Counters() (Ref, uint64) {
	return l.nextRef, l.nextSeq
}

// Restore replaces the contents of the log with decoded state. Counters
// never move behind a restored record.
func (l *Log) Restore(records []*Record, nextRef Ref, nextSeq uint64, pending []vk.Handle, hasPending bool) {
	l.Reset()
	for _, rec := range records {
		l.records[rec.Ref] = rec
		if rec.Ref >= nextRef {
			nextRef = rec.Ref + 1
		}
		if rec.Seq >= nextSeq {
			nextSeq = rec.Seq + 1
		}
	}
	if nextRef == 0 {
		nextRef = 1
	}
	l.nextRef = nextRef
	l.nextSeq = nextSeq
	if hasPending {
		l.pending = append([]vk.Handle(nil), pending...)
		l.hasPending = true
	}
}
