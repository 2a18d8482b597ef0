// Package monitor reports progress and health of long running snapshot work.
// It only observes: nothing here cancels or retries a task.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// HealthMonitor watches tasks for hangs
type HealthMonitor interface {
	// Begin starts watching a task. The returned context carries the task's span.
	Begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Task)
}

// Options configures a Monitor
type Options struct {
	// HangTimeout is how long a task may stay silent before it is reported
	HangTimeout time.Duration
	// CheckInterval is how often Run scans the active tasks
	CheckInterval time.Duration
	Logger        *slog.Logger
	Metrics       *Metrics
	Tracer        oteltrace.Tracer
}

// DefaultOptions returns the default monitor options
func DefaultOptions() Options {
	return Options{
		HangTimeout:   30 * time.Second,
		CheckInterval: 5 * time.Second,
	}
}

// Monitor is the HealthMonitor used by the engine
type Monitor struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	nextID uint64
	tasks  map[uint64]*Task
}

// New creates a monitor with the given options
func New(opts Options) *Monitor {
	def := DefaultOptions()
	if opts.HangTimeout <= 0 {
		opts.HangTimeout = def.HangTimeout
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = def.CheckInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("vksnap")
	}
	return &Monitor{
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
		tasks:  make(map[uint64]*Task),
	}
}

// Metrics returns the instruments the monitor reports into
func (m *Monitor) Metrics() *Metrics {
	return m.opts.Metrics
}

// Begin starts watching a task
func (m *Monitor) Begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Task) {
	ctx, span := m.opts.Tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now()
	t := &Task{
		m:        m,
		id:       m.nextID,
		name:     name,
		span:     span,
		started:  now,
		lastBeat: now,
	}
	m.tasks[t.id] = t
	return ctx, t
}

// Active returns the number of tasks that have not ended
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Check reports every task silent for longer than the hang timeout. A task
// is reported once per silence; a heartbeat re-arms it. It returns the
// names of newly reported tasks.
func (m *Monitor) Check() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var hung []string
	for _, t := range m.tasks {
		if t.hung || now.Sub(t.lastBeat) < m.opts.HangTimeout {
			continue
		}
		t.hung = true
		hung = append(hung, t.name)
		m.opts.Metrics.HungTasks.Inc()
		t.span.AddEvent("hang detected")
		m.logger.Warn("task unresponsive",
			"task", t.name,
			"silent_for", now.Sub(t.lastBeat),
			"running_for", now.Sub(t.started))
	}
	return hung
}

// Run checks for hung tasks every CheckInterval until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check()
		}
	}
}

// Task is one watched unit of work. A nil Task is valid and does nothing.
type Task struct {
	m        *Monitor
	id       uint64
	name     string
	span     oteltrace.Span
	started  time.Time
	lastBeat time.Time
	hung     bool
}

// Heartbeat tells the monitor the task is making progress
func (t *Task) Heartbeat() {
	if t == nil {
		return
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.hung {
		t.m.logger.Info("task resumed", "task", t.name)
	}
	t.lastBeat = t.m.now()
	t.hung = false
}

// End stops watching the task and closes its span
func (t *Task) End(err error) {
	if t == nil {
		return
	}
	t.m.mu.Lock()
	delete(t.m.tasks, t.id)
	t.m.mu.Unlock()

	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	} else {
		t.span.SetStatus(codes.Ok, "")
	}
	t.span.End()
}

type nop struct{}

func (nop) Begin(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, *Task) {
	return ctx, nil
}

// Nop returns a HealthMonitor that watches nothing
func Nop() HealthMonitor {
	return nop{}
}
