// Package reconstruction implements the record-time bookkeeping of API
// objects and the save and load of the resulting graph.
package reconstruction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/willibrandon/vksnap/pkg/codec"
	"github.com/willibrandon/vksnap/pkg/decoder"
	"github.com/willibrandon/vksnap/pkg/fault"
	"github.com/willibrandon/vksnap/pkg/handle"
	"github.com/willibrandon/vksnap/pkg/monitor"
	"github.com/willibrandon/vksnap/pkg/replay"
	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

// ErrUnknownDependency is returned by AddHandleDependency when dependency
// validation is on and the dependency is not live
const ErrUnknownDependency = fault.Const("dependency is not a live handle")

// Options contains the policies of an engine
type Options struct {
	// CascadeDestroy evicts every transitive dependent of a destroyed handle
	CascadeDestroy bool
	// ValidateDependencies rejects edges to handles that are not live
	ValidateDependencies bool
	// StrictLoad refuses to load a snapshot with planning inconsistencies
	StrictLoad bool
	// ContinueOnError keeps replaying after a decoder failure
	ContinueOnError bool
	// PruneOnSave drops traces no live handle references before saving
	PruneOnSave bool
	// Compression is applied to saved streams
	Compression codec.CompressionType
	// MaxStreamSize bounds the bytes Load reads; zero means codec.MaxBodySize
	MaxStreamSize int64

	Logger  *slog.Logger
	Metrics *monitor.Metrics
}

// DefaultOptions returns the default engine policies
func DefaultOptions() Options {
	return Options{
		Compression: codec.DefaultCompression,
	}
}

// Engine owns the handle table and call trace log of one session. It does
// no locking of its own: record-time callers serialize through the
// interception layer, and Save and Load require a quiesced session.
type Engine struct {
	opts    Options
	log     *slog.Logger
	handles *handle.Table
	traces  *trace.Log
}

// New creates an engine with default options
func New() *Engine {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates an engine with the given options
func NewWithOptions(opts Options) *Engine {
	e := &Engine{
		opts:    opts,
		log:     opts.Logger,
		handles: handle.NewTable(),
		traces:  trace.NewLog(),
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	return e
}

// Options returns the engine's policies
func (e *Engine) Options() Options {
	return e.opts
}

// AddHandles registers live records for the non-null handles
func (e *Engine) AddHandles(handles []vk.Handle, typ vk.ObjectType) {
	e.handles.Add(handles, typ)
	e.updateGauge()
}

// RemoveHandles destroys the given handles, and with CascadeDestroy every
// handle depending on them. It returns the handles evicted.
func (e *Engine) RemoveHandles(handles []vk.Handle) []vk.Handle {
	targets := handles
	if e.opts.CascadeDestroy {
		targets = append(append([]vk.Handle(nil), handles...), e.handles.Cascade(handles)...)
	}
	removed := e.handles.Remove(targets)
	out := make([]vk.Handle, len(removed))
	for i, rec := range removed {
		out[i] = rec.Handle
	}
	if len(out) > len(handles) {
		e.log.Debug("cascade destroy", "roots", handles, "evicted", len(out))
	}
	e.updateGauge()
	return out
}

// AddHandleDependency adds an edge from each handle to dependency
func (e *Engine) AddHandleDependency(handles []vk.Handle, dependency vk.Handle) error {
	if dependency.IsNull() {
		return nil
	}
	if e.opts.ValidateDependencies && !e.handles.Contains(dependency) {
		return fmt.Errorf("%s: %w", dependency, ErrUnknownDependency)
	}
	e.handles.AddDependency(handles, dependency)
	return nil
}

// ForEachHandleAddApi attaches ref to each handle: as its creation trace
// when it has none yet, otherwise as an initialize trace
func (e *Engine) ForEachHandleAddApi(handles []vk.Handle, ref trace.Ref) {
	for _, h := range handles {
		switch {
		case e.handles.SetCreation(h, ref):
			e.traces.MarkCreation(ref)
		case e.handles.AddInit(h, ref):
			e.traces.MarkTouched(ref, trace.Initialize, []vk.Handle{h})
		default:
			e.log.Debug("trace attached to unknown handle", "handle", h, "trace", ref)
		}
	}
}

// SetCreatedHandlesForApi records the handles ref produced
func (e *Engine) SetCreatedHandlesForApi(ref trace.Ref, handles []vk.Handle) {
	e.traces.SetCreated(ref, handles)
}

// ForEachHandleAddModifyApi appends ref to the modify traces of each handle
func (e *Engine) ForEachHandleAddModifyApi(handles []vk.Handle, ref trace.Ref) {
	for _, h := range handles {
		if !e.handles.AddModify(h, ref) {
			e.log.Debug("modify trace for unknown handle", "handle", h, "trace", ref)
			continue
		}
		e.traces.MarkTouched(ref, trace.Modify, []vk.Handle{h})
	}
}

// CreateApiInfo allocates the next trace record. Staged extra handles move
// onto it, and it becomes the creation trace of those without one.
func (e *Engine) CreateApiInfo() trace.Ref {
	ref := e.traces.Create()
	for _, h := range e.traces.Get(ref).Extra {
		if e.handles.SetCreation(h, ref) {
			e.traces.MarkCreation(ref)
		}
	}
	return ref
}

// GetApiInfo returns the record for ref. It panics on a ref CreateApiInfo
// never returned.
func (e *Engine) GetApiInfo(ref trace.Ref) *trace.Record {
	return e.traces.Get(ref)
}

// SetApiTrace stamps ref with the opcode and a copy of the payload
func (e *Engine) SetApiTrace(ref trace.Ref, op vk.Opcode, payload []byte) {
	e.traces.SetTrace(ref, op, payload)
}

// CreateExtraHandlesForNextApi stages handles for the next trace record
func (e *Engine) CreateExtraHandlesForNextApi(handles []vk.Handle) {
	if e.traces.StageExtra(handles) {
		e.log.Warn("unconsumed extra handles overwritten", "handles", handles)
	}
}

// Handle returns the live record of h
func (e *Engine) Handle(h vk.Handle) (*handle.Record, bool) {
	return e.handles.Get(h)
}

// Handles returns the live records sorted by handle value. The records are
// owned by the engine.
func (e *Engine) Handles() []*handle.Record {
	return e.handles.Records()
}

// Traces returns the trace records in sequence order. The records are owned
// by the engine.
func (e *Engine) Traces() []*trace.Record {
	return e.traces.Records()
}

// Prune drops the traces no live handle references and returns how many
// were dropped
func (e *Engine) Prune() int {
	referenced := e.handles.ReferencedTraces()
	dropped := e.traces.Prune(func(rec *trace.Record) bool {
		_, ok := referenced[rec.Ref]
		return ok
	})
	if dropped > 0 {
		e.log.Debug("pruned traces", "dropped", dropped, "kept", e.traces.Len())
	}
	return dropped
}

// Reset tears down the whole graph and log
func (e *Engine) Reset() {
	e.handles.Reset()
	e.traces.Reset()
	e.updateGauge()
}

// Save writes the engine state to w and returns the number of bytes written
func (e *Engine) Save(w io.Writer) (int64, error) {
	if e.opts.PruneOnSave {
		e.Prune()
	}
	n, err := codec.Encode(w, codec.Capture(e.handles, e.traces), e.opts.Compression)
	if err != nil {
		return n, fmt.Errorf("save: %w", err)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.SnapshotBytes.WithLabelValues("save").Observe(float64(n))
	}
	e.log.Info("snapshot saved",
		"handles", e.handles.Len(),
		"traces", e.traces.Len(),
		"bytes", n,
		"compression", e.opts.Compression.String())
	return n, nil
}

// Load replaces the engine state with the snapshot in r, replaying it
// through dec. The engine keeps its previous state when the stream cannot
// be decoded or the replay stops on an error; the partial result is still
// returned in the latter case. A nil logger uses the engine's logger and a
// nil hm disables health monitoring.
func (e *Engine) Load(ctx context.Context, r io.Reader, dec decoder.Decoder, logger *slog.Logger, hm monitor.HealthMonitor) (*replay.Result, error) {
	start := time.Now()
	if logger == nil {
		logger = e.log
	}

	limit := e.opts.MaxStreamSize
	if limit <= 0 {
		limit = codec.MaxBodySize
	}
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("load: read: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("load: %w: more than %d bytes", codec.ErrTooLarge, limit)
	}
	snap, err := codec.Unmarshal(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.SnapshotBytes.WithLabelValues("load").Observe(float64(n))
	}
	table, log := snap.Restore()

	rp := replay.NewReplayerWithOptions(dec, replay.Options{
		ContinueOnError: e.opts.ContinueOnError,
		Strict:          e.opts.StrictLoad,
		Logger:          logger,
		Monitor:         hm,
		Metrics:         e.opts.Metrics,
	})
	res, err := rp.Run(ctx, table, log)
	if err != nil {
		return res, fmt.Errorf("load: %w", err)
	}

	e.handles = res.Table
	e.traces = res.Log
	e.updateGauge()
	if e.opts.Metrics != nil {
		e.opts.Metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	}
	return res, nil
}

// Stats summarizes the engine state
type Stats struct {
	LiveHandles int
	Traces      int
	Dangling    int
	// PendingExtras is the number of staged extra handles, -1 when the
	// slot is empty
	PendingExtras int
}

// String returns a one-line summary
func (s Stats) String() string {
	return fmt.Sprintf("handles: %d, traces: %d, dangling: %d, pending: %d",
		s.LiveHandles, s.Traces, s.Dangling, s.PendingExtras)
}

// Stats returns counts describing the engine state
func (e *Engine) Stats() Stats {
	s := Stats{
		LiveHandles:   e.handles.Len(),
		Traces:        e.traces.Len(),
		PendingExtras: -1,
	}
	for _, deps := range e.handles.Dangling() {
		s.Dangling += len(deps)
	}
	if pending, ok := e.traces.Pending(); ok {
		s.PendingExtras = len(pending)
	}
	return s
}

func (e *Engine) updateGauge() {
	if e.opts.Metrics != nil {
		e.opts.Metrics.LiveHandles.Set(float64(e.handles.Len()))
	}
}
