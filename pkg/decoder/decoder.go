// Package decoder defines the capability the replayer uses to re-execute a
// captured call from its raw payload.
package decoder

import (
	"context"

	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

// Translator maps handle values of the saved session to the values the
// replayed driver assigned
type Translator interface {
	Translate(old vk.Handle) (vk.Handle, bool)
}

// Call is one captured call handed back to the decoder during replay. Handle
// lists hold saved-session values; Handles translates any of them, and any
// handle referenced inside Payload, that has already been replayed.
type Call struct {
	Ref     trace.Ref
	Opcode  vk.Opcode
	Kind    trace.Kind
	Payload []byte
	Created []vk.Handle
	Touched []vk.Handle
	Extra   []vk.Handle
	Handles Translator
}

// Effect is what re-executing a call produced
type Effect struct {
	// Created holds the new handles, index-aligned with Call.Created
	Created []vk.Handle
	// Extra holds the new side-effect handles, index-aligned with Call.Extra
	Extra []vk.Handle
	// Payload optionally carries the call re-encoded with new handle values.
	// When nil the saved payload is kept.
	Payload []byte
}

// Decoder re-executes captured calls
type Decoder interface {
	Decode(ctx context.Context, call Call) (Effect, error)
}

// Func adapts a function to the Decoder interface
type Func func(ctx context.Context, call Call) (Effect, error)

// Decode calls f
func (f Func) Decode(ctx context.Context, call Call) (Effect, error) {
	return f(ctx, call)
}
