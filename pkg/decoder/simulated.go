package decoder

import (
	"context"
	"fmt"
	"sync"

	"github.com/willibrandon/vksnap/pkg/vk"
)

// Simulated is a decoder that executes nothing. It hands out fresh handle
// values from a counter and remembers every call it saw, which makes replay
// observable without a driver.
type Simulated struct {
	mu     sync.Mutex
	next   vk.Handle
	calls  []Call
	failOn map[vk.Opcode]error
}

// SimulatedOptions contains options for creating a simulated decoder
type SimulatedOptions struct {
	// FirstHandle is the first value handed out
	FirstHandle vk.Handle
	// FailOn makes calls with these opcodes return the mapped error
	FailOn map[vk.Opcode]error
}

// DefaultSimulatedOptions returns default options for a simulated decoder
func DefaultSimulatedOptions() SimulatedOptions {
	return SimulatedOptions{FirstHandle: 0x1000}
}

// NewSimulated creates a simulated decoder with default options
func NewSimulated() *Simulated {
	return NewSimulatedWithOptions(DefaultSimulatedOptions())
}

// NewSimulatedWithOptions creates a simulated decoder with the given options
func NewSimulatedWithOptions(opts SimulatedOptions) *Simulated {
	if opts.FirstHandle.IsNull() {
		opts.FirstHandle = 1
	}
	return &Simulated{
		next:   opts.FirstHandle,
		failOn: opts.FailOn,
	}
}

// Decode records the call and assigns new values to its created and extra handles
func (s *Simulated) Decode(ctx context.Context, call Call) (Effect, error) {
	if err := ctx.Err(); err != nil {
		return Effect{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, call)
	if err, ok := s.failOn[call.Opcode]; ok {
		if err == nil {
			err = fmt.Errorf("simulated failure for %s", call.Opcode)
		}
		return Effect{}, err
	}

	return Effect{
		Created: s.allocate(len(call.Created)),
		Extra:   s.allocate(len(call.Extra)),
	}, nil
}

// Calls returns the calls decoded so far, in order
func (s *Simulated) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Simulated) allocate(n int) []vk.Handle {
	if n == 0 {
		return nil
	}
	out := make([]vk.Handle, n)
	for i := range out {
		out[i] = s.next
		s.next++
	}
	return out
}
