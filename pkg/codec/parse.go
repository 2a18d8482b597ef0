package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/willibrandon/vksnap/pkg/handle"
	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

// fieldFunc handles one field of a message. It returns the number of bytes
// consumed from b, or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

// walk visits every field of a message; fields fn does not consume are skipped
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return corrupt(n)
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return corrupt(m)
		}
		b = b[m:]
	}
	return nil
}

func corrupt(n int) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
}

func parseBody(b []byte) (*Snapshot, error) {
	s := &Snapshot{}
	var inner error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == fieldHandle && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			rec, err := parseHandle(v)
			if err != nil {
				inner = err
				return -1
			}
			s.Handles = append(s.Handles, rec)
			return n
		case num == fieldTrace && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			rec, err := parseTrace(v)
			if err != nil {
				inner = err
				return -1
			}
			s.Traces = append(s.Traces, rec)
			return n
		case num == fieldPending && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			s.HasPending = true
			if err := walk(v, func(num protowire.Number, typ protowire.Type, b []byte) int {
				if num == pendingHandles {
					return consumeHandles(typ, b, &s.Pending)
				}
				return 0
			}); err != nil {
				inner = err
				return -1
			}
			return n
		case num == fieldNextRef:
			return consumeVarint(typ, b, func(v uint64) { s.NextRef = trace.Ref(v) })
		case num == fieldNextSeq:
			return consumeVarint(typ, b, func(v uint64) { s.NextSeq = v })
		}
		return 0
	})
	if inner != nil {
		return nil, inner
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func parseHandle(b []byte) (*handle.Record, error) {
	rec := &handle.Record{Status: handle.Live}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case handleID:
			if typ != protowire.Fixed64Type {
				return 0
			}
			v, n := protowire.ConsumeFixed64(b)
			rec.Handle = vk.Handle(v)
			return n
		case handleType:
			return consumeVarint(typ, b, func(v uint64) { rec.Type = vk.ObjectType(v) })
		case handleCreation:
			return consumeVarint(typ, b, func(v uint64) { rec.Creation = trace.Ref(v) })
		case handleInits:
			return consumeRefs(typ, b, &rec.Inits)
		case handleModifies:
			return consumeRefs(typ, b, &rec.Modifies)
		case handleDependsOn:
			return consumeHandles(typ, b, &rec.DependsOn)
		}
		return 0
	})
	if err != nil {
		return nil, fmt.Errorf("handle record: %w", err)
	}
	if rec.Handle.IsNull() {
		return nil, fmt.Errorf("%w: handle record without a handle", ErrCorrupt)
	}
	return rec, nil
}

func parseTrace(b []byte) (*trace.Record, error) {
	rec := &trace.Record{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case traceRef:
			return consumeVarint(typ, b, func(v uint64) { rec.Ref = trace.Ref(v) })
		case traceSeq:
			return consumeVarint(typ, b, func(v uint64) { rec.Seq = v })
		case traceOpcode:
			return consumeVarint(typ, b, func(v uint64) { rec.Opcode = vk.Opcode(v) })
		case traceKind:
			return consumeVarint(typ, b, func(v uint64) { rec.Kind = trace.Kind(v) })
		case tracePayload:
			if typ != protowire.BytesType {
				return 0
			}
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 && len(v) > 0 {
				rec.Payload = append([]byte(nil), v...)
			}
			return n
		case traceCreated:
			return consumeHandles(typ, b, &rec.Created)
		case traceTouched:
			return consumeHandles(typ, b, &rec.Touched)
		case traceExtra:
			return consumeHandles(typ, b, &rec.Extra)
		}
		return 0
	})
	if err != nil {
		return nil, fmt.Errorf("trace record: %w", err)
	}
	if rec.Ref == 0 {
		return nil, fmt.Errorf("%w: trace record without a ref", ErrCorrupt)
	}
	return rec, nil
}

func consumeVarint(typ protowire.Type, b []byte, set func(uint64)) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		set(v)
	}
	return n
}

func consumeRefs(typ protowire.Type, b []byte, out *[]trace.Ref) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	for len(v) > 0 {
		r, m := protowire.ConsumeVarint(v)
		if m < 0 {
			return m
		}
		*out = append(*out, trace.Ref(r))
		v = v[m:]
	}
	return n
}

func consumeHandles(typ protowire.Type, b []byte, out *[]vk.Handle) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	if len(v)%8 != 0 {
		return -1
	}
	for len(v) > 0 {
		h, m := protowire.ConsumeFixed64(v)
		if m < 0 {
			return m
		}
		*out = append(*out, vk.Handle(h))
		v = v[m:]
	}
	return n
}
