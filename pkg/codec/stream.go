// Package codec is the private byte-stream format of engine snapshots: a
// short header followed by a protobuf-wire body, optionally zstd compressed.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/willibrandon/vksnap/pkg/fault"
	"github.com/willibrandon/vksnap/pkg/handle"
	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

const (
	ErrBadMagic    = fault.Const("not a vksnap stream")
	ErrVersion     = fault.Const("unsupported stream version")
	ErrUnsupported = fault.Const("unsupported compression")
	ErrCorrupt     = fault.Const("corrupt stream body")
	ErrTooLarge    = fault.Const("stream exceeds the size limit")
)

// FormatVersion is written into every header
const FormatVersion = 1

var magic = [4]byte{'V', 'K', 'S', 'N'}

const headerSize = len(magic) + 2

// Top level body fields
const (
	fieldHandle  protowire.Number = 1
	fieldTrace   protowire.Number = 2
	fieldPending protowire.Number = 3
	fieldNextRef protowire.Number = 4
	fieldNextSeq protowire.Number = 5
)

// Handle record fields
const (
	handleID        protowire.Number = 1
	handleType      protowire.Number = 2
	handleCreation  protowire.Number = 3
	handleInits     protowire.Number = 4
	handleModifies  protowire.Number = 5
	handleDependsOn protowire.Number = 6
)

// Trace record fields
const (
	traceRef     protowire.Number = 1
	traceSeq     protowire.Number = 2
	traceOpcode  protowire.Number = 3
	traceKind    protowire.Number = 4
	tracePayload protowire.Number = 5
	traceCreated protowire.Number = 6
	traceTouched protowire.Number = 7
	traceExtra   protowire.Number = 8
)

const pendingHandles protowire.Number = 1

// Snapshot is the decoded content of a stream
type Snapshot struct {
	Handles    []*handle.Record
	Traces     []*trace.Record
	Pending    []vk.Handle
	HasPending bool
	NextRef    trace.Ref
	NextSeq    uint64
}

// Capture collects the state of a table and log in save order: handles by
// value, traces by sequence number
func Capture(table *handle.Table, log *trace.Log) *Snapshot {
	s := &Snapshot{
		Handles: table.Records(),
		Traces:  log.Records(),
	}
	s.Pending, s.HasPending = log.Pending()
	s.NextRef, s.NextSeq = log.Counters()
	return s
}

// Restore builds a fresh table and log from the snapshot
func (s *Snapshot) Restore() (*handle.Table, *trace.Log) {
	table := handle.NewTable()
	for _, rec := range s.Handles {
		table.Insert(rec)
	}
	log := trace.NewLog()
	log.Restore(s.Traces, s.NextRef, s.NextSeq, s.Pending, s.HasPending)
	return table, log
}

// Marshal encodes the snapshot into a byte slice
func Marshal(s *Snapshot, ct CompressionType) ([]byte, error) {
	header := make([]byte, 0, headerSize)
	header = append(header, magic[:]...)
	header = append(header, FormatVersion, byte(ct))
	return compressBody(header, appendBody(nil, s), ct)
}

// Encode writes the snapshot to w and returns the number of bytes written
func Encode(w io.Writer, s *Snapshot, ct CompressionType) (int64, error) {
	data, err := Marshal(s, ct)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Unmarshal decodes a snapshot from a byte slice
func Unmarshal(data []byte) (*Snapshot, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, ErrBadMagic
	}
	if v := data[len(magic)]; v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	body, err := decompressBody(data[headerSize:], CompressionType(data[len(magic)+1]))
	if err != nil {
		return nil, err
	}
	return parseBody(body)
}

// Decode reads a whole stream from r
func Decode(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

func appendBody(b []byte, s *Snapshot) []byte {
	for _, rec := range s.Handles {
		b = protowire.AppendTag(b, fieldHandle, protowire.BytesType)
		b = protowire.AppendBytes(b, appendHandle(nil, rec))
	}
	for _, rec := range s.Traces {
		b = protowire.AppendTag(b, fieldTrace, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTrace(nil, rec))
	}
	if s.HasPending {
		var p []byte
		p = appendPackedHandles(p, pendingHandles, s.Pending)
		b = protowire.AppendTag(b, fieldPending, protowire.BytesType)
		b = protowire.AppendBytes(b, p)
	}
	b = appendVarint(b, fieldNextRef, uint64(s.NextRef))
	return appendVarint(b, fieldNextSeq, s.NextSeq)
}

func appendHandle(b []byte, rec *handle.Record) []byte {
	b = protowire.AppendTag(b, handleID, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, uint64(rec.Handle))
	b = appendVarint(b, handleType, uint64(rec.Type))
	if rec.Creation != 0 {
		b = appendVarint(b, handleCreation, uint64(rec.Creation))
	}
	b = appendPackedRefs(b, handleInits, rec.Inits)
	b = appendPackedRefs(b, handleModifies, rec.Modifies)
	return appendPackedHandles(b, handleDependsOn, rec.DependsOn)
}

func appendTrace(b []byte, rec *trace.Record) []byte {
	b = appendVarint(b, traceRef, uint64(rec.Ref))
	b = appendVarint(b, traceSeq, rec.Seq)
	b = appendVarint(b, traceOpcode, uint64(rec.Opcode))
	b = appendVarint(b, traceKind, uint64(rec.Kind))
	if len(rec.Payload) > 0 {
		b = protowire.AppendTag(b, tracePayload, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.Payload)
	}
	b = appendPackedHandles(b, traceCreated, rec.Created)
	b = appendPackedHandles(b, traceTouched, rec.Touched)
	return appendPackedHandles(b, traceExtra, rec.Extra)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedRefs(b []byte, num protowire.Number, refs []trace.Ref) []byte {
	if len(refs) == 0 {
		return b
	}
	var p []byte
	for _, r := range refs {
		p = protowire.AppendVarint(p, uint64(r))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}

func appendPackedHandles(b []byte, num protowire.Number, hs []vk.Handle) []byte {
	if len(hs) == 0 {
		return b
	}
	p := make([]byte, 0, 8*len(hs))
	for _, h := range hs {
		p = protowire.AppendFixed64(p, uint64(h))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}
