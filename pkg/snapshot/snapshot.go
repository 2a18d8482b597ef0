// Package snapshot is the call-interception entry point of the engine. The
// front end describes every intercepted call as a vk.Call and Record turns
// it into handle and trace bookkeeping.
package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/willibrandon/vksnap/pkg/decoder"
	"github.com/willibrandon/vksnap/pkg/monitor"
	"github.com/willibrandon/vksnap/pkg/reconstruction"
	"github.com/willibrandon/vksnap/pkg/replay"
	"github.com/willibrandon/vksnap/pkg/vk"
)

// Options contains options for a snapshot
type Options struct {
	Engine  reconstruction.Options
	Logger  *slog.Logger
	Metrics *monitor.Metrics
}

// DefaultOptions returns default snapshot options
func DefaultOptions() Options {
	return Options{Engine: reconstruction.DefaultOptions()}
}

// Snapshot serializes record-time calls into one engine
type Snapshot struct {
	mu      sync.Mutex
	engine  *reconstruction.Engine
	log     *slog.Logger
	metrics *monitor.Metrics
}

// New creates a snapshot with default options
func New() *Snapshot {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates a snapshot with the given options
func NewWithOptions(opts Options) *Snapshot {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = opts.Logger
	}
	if opts.Engine.Metrics == nil {
		opts.Engine.Metrics = opts.Metrics
	}
	return &Snapshot{
		engine:  reconstruction.NewWithOptions(opts.Engine),
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Engine returns the underlying engine. Callers must not use it while
// calls are being recorded.
func (s *Snapshot) Engine() *reconstruction.Engine {
	return s.engine
}

// Record does the bookkeeping for one intercepted call. Its handle
// parameters are handled in declaration order; an error reports rejected
// dependency edges, the rest of the call is still recorded.
func (s *Snapshot) Record(call vk.Call) error {
	var errs []error
	for _, p := range call.Params {
		switch {
		case p.Role == vk.Created:
			errs = append(errs, s.create(call, p))
		case p.Role == vk.Destroyed:
			s.destroy(p)
		case targets(initializes, call.Opcode, p.Name):
			errs = append(errs, s.initialize(call, p))
		case targets(modifies, call.Opcode, p.Name):
			s.modify(call, p)
		}
	}
	return errors.Join(errs...)
}

func (s *Snapshot) create(call vk.Call, p vk.Param) error {
	handles, ok := s.usable(call, p)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.engine
	e.AddHandles(handles, p.Type)
	var errs []error
	if parent, ok := parentType(p.Type); ok {
		if pp, ok := call.ParamOfType(parent); ok && pp.Role == vk.Input {
			errs = append(errs, e.AddHandleDependency(handles, pp.First()))
		}
	}
	// Extractors and Created index the output array as the driver
	// returned it, null entries included.
	for _, ed := range extract(call, p.Handles) {
		errs = append(errs, e.AddHandleDependency(ed.handles, ed.dep))
	}
	ref := e.CreateApiInfo()
	e.SetApiTrace(ref, call.Opcode, call.Payload)
	e.ForEachHandleAddApi(handles, ref)
	e.SetCreatedHandlesForApi(ref, p.Handles)
	s.count("create")
	return errors.Join(errs...)
}

func (s *Snapshot) initialize(call vk.Call, p vk.Param) error {
	handles, ok := s.usable(call, p)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.engine
	var errs []error
	for _, ed := range extract(call, handles) {
		errs = append(errs, e.AddHandleDependency(ed.handles, ed.dep))
	}
	ref := e.CreateApiInfo()
	e.SetApiTrace(ref, call.Opcode, call.Payload)
	e.ForEachHandleAddApi(handles, ref)
	s.count("initialize")
	return errors.Join(errs...)
}

func (s *Snapshot) destroy(p vk.Param) {
	if len(p.Handles) == 0 {
		s.skip("empty")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.RemoveHandles(p.Handles)
	s.count("destroy")
}

func (s *Snapshot) modify(call vk.Call, p vk.Param) {
	if len(p.Handles) == 0 {
		s.skip("empty")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.engine
	ref := e.CreateApiInfo()
	e.SetApiTrace(ref, call.Opcode, call.Payload)
	e.ForEachHandleAddModifyApi(p.Handles, ref)
	s.count("modify")
}

// usable returns the non-null handles of p, or false when the call must be
// skipped because the array was empty or every handle was null
func (s *Snapshot) usable(call vk.Call, p vk.Param) ([]vk.Handle, bool) {
	if len(p.Handles) == 0 {
		s.skip("empty")
		return nil, false
	}
	handles := make([]vk.Handle, 0, len(p.Handles))
	for _, h := range p.Handles {
		if !h.IsNull() {
			handles = append(handles, h)
		}
	}
	if len(handles) == 0 {
		s.log.Debug("skipping call with null handles", "op", call.Opcode.String(), "param", p.Name)
		s.skip("null")
		return nil, false
	}
	return handles, true
}

// CreateExtraHandlesForNextApi stages handles the driver produced as a side
// effect for the next recorded call
func (s *Snapshot) CreateExtraHandlesForNextApi(handles []vk.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.CreateExtraHandlesForNextApi(handles)
}

// Save writes the engine state to w. The session must be quiesced.
func (s *Snapshot) Save(w io.Writer) (int64, error) {
	return s.engine.Save(w)
}

// Load replaces the engine state with the snapshot in r. The session must
// be quiesced.
func (s *Snapshot) Load(ctx context.Context, r io.Reader, dec decoder.Decoder, logger *slog.Logger, hm monitor.HealthMonitor) (*replay.Result, error) {
	return s.engine.Load(ctx, r, dec, logger, hm)
}

func (s *Snapshot) count(shape string) {
	if s.metrics != nil {
		s.metrics.RecordedCalls.WithLabelValues(shape).Inc()
	}
}

func (s *Snapshot) skip(reason string) {
	if s.metrics != nil {
		s.metrics.SkippedCalls.WithLabelValues(reason).Inc()
	}
}
