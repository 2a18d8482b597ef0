package trace

import (
	"fmt"

	"github.com/willibrandon/vksnap/pkg/vk"
)

// Ref names a record in the call trace log. The zero Ref names nothing.
type Ref uint64

// Kind is the call shape a record was attached as
type Kind uint8

const (
	// Unknown is the kind of a record no handle has been attached to yet
	Unknown Kind = iota
	// Create records produced the handles they are attached to
	Create
	// Initialize records complete the creation of an existing handle once
	Initialize
	// Modify records mutate an existing handle and may repeat
	Modify
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case Create:
		return "Create"
	case Initialize:
		return "Initialize"
	case Modify:
		return "Modify"
	default:
		return "Unknown"
	}
}

// Record is one captured API call
type Record struct {
	Ref    Ref
	Seq    uint64
	Opcode vk.Opcode
	Kind   Kind
	// Payload is the raw serialized call, never interpreted by this package
	Payload []byte
	// Created holds the handles this call produced, one per output
	// position. A position the driver left null stays null.
	Created []vk.Handle
	// Touched holds the handles this call was attached to without creating them
	Touched []vk.Handle
	// Extra holds handles the driver produced as a side effect of an earlier
	// call, attributed to this one
	Extra []vk.Handle
}

// Handles returns every handle the record mentions, created first
func (r *Record) Handles() []vk.Handle {
	out := make([]vk.Handle, 0, len(r.Created)+len(r.Touched)+len(r.Extra))
	out = append(out, r.Created...)
	out = append(out, r.Touched...)
	return append(out, r.Extra...)
}

// String returns a short description of the record
func (r *Record) String() string {
	return fmt.Sprintf("Trace{Ref: %d, Seq: %d, Op: %s, Kind: %s, Bytes: %d}",
		r.Ref, r.Seq, r.Opcode, r.Kind, len(r.Payload))
}

func (r *Record) touch(h vk.Handle) {
	for _, t := range r.Touched {
		if t == h {
			return
		}
	}
	r.Touched = append(r.Touched, h)
}
