// Package handle keeps the registry of live API object handles and the
// dependency edges between them.
package handle

import (
	"fmt"
	"sort"

	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

// Status is the lifetime state of a handle record
type Status uint8

const (
	Live Status = iota
	Destroyed
)

// String returns the status name
func (s Status) String() string {
	if s == Destroyed {
		return "Destroyed"
	}
	return "Live"
}

// Record holds what the table knows about one handle
type Record struct {
	Handle vk.Handle
	Type   vk.ObjectType
	Status Status
	// Creation is the trace that produced the handle, zero when unknown
	Creation trace.Ref
	// Inits are one-time completions of the creation, in call order
	Inits []trace.Ref
	// Modifies are repeatable mutations, in call order
	Modifies []trace.Ref
	// DependsOn lists the handles that must exist before this one, in the
	// order the edges were added
	DependsOn []vk.Handle
}

// String returns a short description of the record
func (r *Record) String() string {
	return fmt.Sprintf("%s %s (deps: %d, inits: %d, modifies: %d)",
		r.Type, r.Handle, len(r.DependsOn), len(r.Inits), len(r.Modifies))
}

// TraceRefs returns every trace the record points at
func (r *Record) TraceRefs() []trace.Ref {
	refs := make([]trace.Ref, 0, 1+len(r.Inits)+len(r.Modifies))
	if r.Creation != 0 {
		refs = append(refs, r.Creation)
	}
	refs = append(refs, r.Inits...)
	return append(refs, r.Modifies...)
}

// Table is the handle registry. It is not safe for concurrent use; the
// owner serializes access.
type Table struct {
	records map[vk.Handle]*Record
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{records: make(map[vk.Handle]*Record)}
}

// Add registers a live record for each non-null handle. A handle that is
// already live gets a fresh record, since the driver only hands a value out
// again after the old object is gone.
func (t *Table) Add(handles []vk.Handle, typ vk.ObjectType) {
	for _, h := range handles {
		if h.IsNull() {
			continue
		}
		t.records[h] = &Record{Handle: h, Type: typ, Status: Live}
	}
}

// Insert places a fully built record in the table, replacing any record
// for the same handle
func (t *Table) Insert(rec *Record) {
	t.records[rec.Handle] = rec
}

// Remove marks each handle destroyed and evicts it. Unknown handles are
// skipped. The evicted records are returned in argument order.
func (t *Table) Remove(handles []vk.Handle) []*Record {
	var removed []*Record
	for _, h := range handles {
		rec, ok := t.records[h]
		if !ok {
			continue
		}
		rec.Status = Destroyed
		delete(t.records, h)
		removed = append(removed, rec)
	}
	return removed
}

// Get returns the live record for h
func (t *Table) Get(h vk.Handle) (*Record, bool) {
	rec, ok := t.records[h]
	return rec, ok
}

// Contains reports whether h is live
func (t *Table) Contains(h vk.Handle) bool {
	_, ok := t.records[h]
	return ok
}

// Len returns the number of live handles
func (t *Table) Len() int {
	return len(t.records)
}

// Records returns the live records sorted by handle value
func (t *Table) Records() []*Record {
	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Reset drops every record
func (t *Table) Reset() {
	t.records = make(map[vk.Handle]*Record)
}

// SetCreation attaches ref as the creation trace of h. It reports false when
// h is not live or already has a creation trace.
func (t *Table) SetCreation(h vk.Handle, ref trace.Ref) bool {
	rec, ok := t.records[h]
	if !ok || rec.Creation != 0 {
		return false
	}
	rec.Creation = ref
	return true
}

// AddInit appends an initialize trace to h
func (t *Table) AddInit(h vk.Handle, ref trace.Ref) bool {
	rec, ok := t.records[h]
	if !ok {
		return false
	}
	rec.Inits = appendRef(rec.Inits, ref)
	return true
}

// AddModify appends a modify trace to h
func (t *Table) AddModify(h vk.Handle, ref trace.Ref) bool {
	rec, ok := t.records[h]
	if !ok {
		return false
	}
	rec.Modifies = appendRef(rec.Modifies, ref)
	return true
}

// References reports whether any live handle points at ref
func (t *Table) References(ref trace.Ref) bool {
	for _, rec := range t.records {
		for _, r := range rec.TraceRefs() {
			if r == ref {
				return true
			}
		}
	}
	return false
}

// ReferencedTraces returns the set of trace refs live handles point at
func (t *Table) ReferencedTraces() map[trace.Ref]struct{} {
	refs := make(map[trace.Ref]struct{})
	for _, rec := range t.records {
		for _, r := range rec.TraceRefs() {
			refs[r] = struct{}{}
		}
	}
	return refs
}

func appendRef(refs []trace.Ref, ref trace.Ref) []trace.Ref {
	if n := len(refs); n > 0 && refs[n-1] == ref {
		return refs
	}
	return append(refs, ref)
}
