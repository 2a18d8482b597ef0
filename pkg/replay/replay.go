// Package replay rebuilds a live object graph from a saved handle table and
// call trace log by re-decoding the captured calls in dependency order.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/willibrandon/vksnap/pkg/decoder"
	"github.com/willibrandon/vksnap/pkg/fault"
	"github.com/willibrandon/vksnap/pkg/handle"
	"github.com/willibrandon/vksnap/pkg/monitor"
	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

const (
	// ErrHandleCount is returned when the decoder produced a different number
	// of handles than the call originally created
	ErrHandleCount = fault.Const("decoder returned the wrong number of handles")
	// ErrNotProduced is returned when a handle's creating call replayed but
	// produced no value for it
	ErrNotProduced = fault.Const("replayed call produced no handle")
)

// Mapping translates saved handle values to replayed ones
type Mapping map[vk.Handle]vk.Handle

// Translate returns the replayed value of old
func (m Mapping) Translate(old vk.Handle) (vk.Handle, bool) {
	h, ok := m[old]
	return h, ok
}

// Result describes a finished replay
type Result struct {
	Mapping Mapping
	// Order lists the saved handles in the order they were recreated
	Order []vk.Handle
	// Replayed lists the trace refs decoded, in decode order
	Replayed        []trace.Ref
	Failures        []*Error
	Inconsistencies []Inconsistency
	// Table and Log hold the rebuilt state keyed by replayed handle values
	Table *handle.Table
	Log   *trace.Log
}

// Options configures a Replayer
type Options struct {
	// ContinueOnError keeps replaying after a decoder failure instead of
	// stopping at the first one
	ContinueOnError bool
	// Strict refuses to replay a plan with inconsistencies
	Strict  bool
	Logger  *slog.Logger
	Monitor monitor.HealthMonitor
	Metrics *monitor.Metrics
}

// DefaultOptions returns default replay options
func DefaultOptions() Options {
	return Options{}
}

// Replayer drives a decoder through a replay plan
type Replayer struct {
	dec  decoder.Decoder
	opts Options
	log  *slog.Logger
	hm   monitor.HealthMonitor
}

// NewReplayer creates a Replayer with default options
func NewReplayer(dec decoder.Decoder) *Replayer {
	return NewReplayerWithOptions(dec, DefaultOptions())
}

// NewReplayerWithOptions creates a Replayer with the given options
func NewReplayerWithOptions(dec decoder.Decoder, opts Options) *Replayer {
	r := &Replayer{dec: dec, opts: opts, log: opts.Logger, hm: opts.Monitor}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	if r.hm == nil {
		r.hm = monitor.Nop()
	}
	return r
}

// Run plans and replays the saved state. On a decoder failure without
// ContinueOnError it returns the partial result together with the *Error.
func (r *Replayer) Run(ctx context.Context, table *handle.Table, log *trace.Log) (res *Result, err error) {
	start := time.Now()
	ctx, task := r.hm.Begin(ctx, "vksnap.replay",
		attribute.Int("handles", table.Len()),
		attribute.Int("traces", log.Len()))
	defer func() { task.End(err) }()

	plan, err := NewPlan(table, log)
	res = &Result{
		Mapping: make(Mapping),
		Table:   handle.NewTable(),
		Log:     trace.NewLog(),
	}
	if plan != nil {
		res.Inconsistencies = append(res.Inconsistencies, plan.Inconsistencies...)
	}
	if err != nil {
		return res, err
	}
	for _, inc := range plan.Inconsistencies {
		r.reportInconsistency(inc)
	}
	if r.opts.Strict && len(plan.Inconsistencies) > 0 {
		return res, &InconsistencyError{Inconsistencies: plan.Inconsistencies}
	}

	run := &run{
		Replayer: r,
		res:      res,
		task:     task,
		payloads: make(map[trace.Ref][]byte),
		done:     make(map[trace.Ref]bool),
		failed:   make(map[vk.Handle]bool),
	}
	if err := run.steps(ctx, plan); err != nil {
		return res, err
	}
	if err := run.modifies(ctx, plan); err != nil {
		return res, err
	}
	run.rebuild(table, log)

	r.log.Info("replay finished",
		"handles", len(res.Order),
		"traces", len(res.Replayed),
		"failures", len(res.Failures),
		"inconsistencies", len(res.Inconsistencies),
		"elapsed", time.Since(start))
	return res, nil
}

type run struct {
	*Replayer
	res      *Result
	task     *monitor.Task
	payloads map[trace.Ref][]byte
	done     map[trace.Ref]bool
	failed   map[vk.Handle]bool
}

func (x *run) steps(ctx context.Context, plan *Plan) error {
	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			if x.failed[dep] {
				for _, h := range step.Handles {
					x.inconsistent(Inconsistency{Kind: UnreplayedDependency, Handle: h, Dependency: dep})
				}
			}
		}

		eff, err := x.decode(ctx, step.Trace)
		if err == nil {
			err = x.mapCreated(step.Trace, eff)
		}
		if err == nil {
			for _, h := range step.Handles {
				if _, ok := x.res.Mapping[h]; !ok {
					err = fmt.Errorf("%s: %w", h, ErrNotProduced)
					break
				}
			}
		}
		if err != nil {
			for _, h := range step.Handles {
				x.failed[h] = true
			}
			if ferr := x.fail(step.Trace, step.Handles, err); ferr != nil {
				return ferr
			}
			continue
		}
		x.res.Order = append(x.res.Order, step.Handles...)

		// Initialize traces complete the creation and must run before any
		// other call uses the handles.
		for _, init := range step.Inits {
			if x.done[init.Ref] {
				continue
			}
			if _, err := x.decode(ctx, init); err != nil {
				if ferr := x.fail(init, init.Touched, err); ferr != nil {
					return ferr
				}
			}
		}
	}
	return nil
}

func (x *run) modifies(ctx context.Context, plan *Plan) error {
	for _, rec := range plan.Modifies {
		if x.done[rec.Ref] {
			continue
		}
		if _, err := x.decode(ctx, rec); err != nil {
			if ferr := x.fail(rec, rec.Touched, err); ferr != nil {
				return ferr
			}
		}
	}
	return nil
}

func (x *run) decode(ctx context.Context, rec *trace.Record) (decoder.Effect, error) {
	x.done[rec.Ref] = true
	x.task.Heartbeat()

	tctx, task := x.hm.Begin(ctx, "vksnap.replay."+rec.Opcode.String(),
		attribute.Int64("trace", int64(rec.Ref)),
		attribute.String("kind", rec.Kind.String()))
	eff, err := x.dec.Decode(tctx, decoder.Call{
		Ref:     rec.Ref,
		Opcode:  rec.Opcode,
		Kind:    rec.Kind,
		Payload: rec.Payload,
		Created: rec.Created,
		Touched: rec.Touched,
		Extra:   rec.Extra,
		Handles: x.res.Mapping,
	})
	task.End(err)

	status := "ok"
	if err != nil {
		status = "failed"
	} else {
		x.res.Replayed = append(x.res.Replayed, rec.Ref)
		if eff.Payload != nil {
			x.payloads[rec.Ref] = eff.Payload
		}
	}
	if x.opts.Metrics != nil {
		x.opts.Metrics.ReplayedTraces.WithLabelValues(rec.Kind.String(), status).Inc()
	}
	x.log.Debug("replayed trace", "trace", rec.Ref, "op", rec.Opcode.String(), "kind", rec.Kind.String(), "status", status)
	return eff, err
}

func (x *run) mapCreated(rec *trace.Record, eff decoder.Effect) error {
	if len(eff.Created) != len(rec.Created) {
		return fmt.Errorf("%w: created %d, want %d", ErrHandleCount, len(eff.Created), len(rec.Created))
	}
	if len(eff.Extra) != len(rec.Extra) {
		return fmt.Errorf("%w: extra %d, want %d", ErrHandleCount, len(eff.Extra), len(rec.Extra))
	}
	for i, old := range rec.Created {
		if !old.IsNull() && !eff.Created[i].IsNull() {
			x.res.Mapping[old] = eff.Created[i]
		}
	}
	for i, old := range rec.Extra {
		if !old.IsNull() && !eff.Extra[i].IsNull() {
			x.res.Mapping[old] = eff.Extra[i]
		}
	}
	return nil
}

// fail records a failure. It returns the error to stop with, or nil to go on.
func (x *run) fail(rec *trace.Record, handles []vk.Handle, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	rerr := &Error{
		Trace:   rec.Ref,
		Opcode:  rec.Opcode,
		Kind:    rec.Kind,
		Handles: append([]vk.Handle(nil), handles...),
		Err:     err,
	}
	x.res.Failures = append(x.res.Failures, rerr)
	x.log.Warn("replay failed", "trace", rec.Ref, "op", rec.Opcode.String(), "kind", rec.Kind.String(), "handles", handles, "err", err)
	if x.opts.ContinueOnError {
		return nil
	}
	return rerr
}

func (x *run) inconsistent(inc Inconsistency) {
	x.res.Inconsistencies = append(x.res.Inconsistencies, inc)
	x.reportInconsistency(inc)
}

func (r *Replayer) reportInconsistency(inc Inconsistency) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.Inconsistencies.WithLabelValues(inc.Kind.String()).Inc()
	}
	r.log.Warn("replay inconsistency", "kind", inc.Kind.String(), "detail", inc.String())
}

// rebuild fills the result's table and log with the saved state keyed by
// replayed handle values
func (x *run) rebuild(table *handle.Table, log *trace.Log) {
	m := x.res.Mapping
	for _, old := range x.res.Order {
		rec, ok := table.Get(old)
		if !ok {
			continue
		}
		nrec := &handle.Record{
			Handle:   m[old],
			Type:     rec.Type,
			Status:   handle.Live,
			Creation: rec.Creation,
			Inits:    append([]trace.Ref(nil), rec.Inits...),
			Modifies: append([]trace.Ref(nil), rec.Modifies...),
		}
		for _, dep := range rec.DependsOn {
			if nd, ok := m[dep]; ok {
				nrec.DependsOn = append(nrec.DependsOn, nd)
			}
		}
		x.res.Table.Insert(nrec)
	}

	records := log.Records()
	rebuilt := make([]*trace.Record, 0, len(records))
	for _, rec := range records {
		payload := rec.Payload
		if p, ok := x.payloads[rec.Ref]; ok {
			payload = p
		}
		rebuilt = append(rebuilt, &trace.Record{
			Ref:     rec.Ref,
			Seq:     rec.Seq,
			Opcode:  rec.Opcode,
			Kind:    rec.Kind,
			Payload: payload,
			Created: translateAll(m, rec.Created),
			Touched: translateAll(m, rec.Touched),
			Extra:   translateAll(m, rec.Extra),
		})
	}
	nextRef, nextSeq := log.Counters()
	pending, hasPending := log.Pending()
	x.res.Log.Restore(rebuilt, nextRef, nextSeq, translateAll(m, pending), hasPending)
}

// translateAll maps every handle it can and keeps the rest unchanged
func translateAll(m Mapping, hs []vk.Handle) []vk.Handle {
	if hs == nil {
		return nil
	}
	out := make([]vk.Handle, len(hs))
	for i, h := range hs {
		if nh, ok := m[h]; ok {
			out[i] = nh
		} else {
			out[i] = h
		}
	}
	return out
}
