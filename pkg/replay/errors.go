package replay

import (
	"fmt"
	"strings"

	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

// InconsistencyKind classifies a problem found while planning a replay
type InconsistencyKind int

const (
	// DanglingDependency is an edge to a handle that is not in the table
	DanglingDependency InconsistencyKind = iota
	// MissingCreation is a live handle without a creating trace
	MissingCreation
	// MissingTrace is a handle slot pointing at a trace the log does not hold
	MissingTrace
	// UnreplayedDependency is an edge to a handle whose creation failed
	UnreplayedDependency
)

// String returns the kind name
func (k InconsistencyKind) String() string {
	switch k {
	case DanglingDependency:
		return "DanglingDependency"
	case MissingCreation:
		return "MissingCreation"
	case MissingTrace:
		return "MissingTrace"
	case UnreplayedDependency:
		return "UnreplayedDependency"
	default:
		return "Unknown"
	}
}

// Inconsistency is a structural problem of the saved graph. Replay works
// around it and reports it.
type Inconsistency struct {
	Kind       InconsistencyKind
	Handle     vk.Handle
	Dependency vk.Handle
	Trace      trace.Ref
}

// String returns a human-readable description
func (i Inconsistency) String() string {
	switch i.Kind {
	case DanglingDependency, UnreplayedDependency:
		return fmt.Sprintf("%s: %s depends on %s", i.Kind, i.Handle, i.Dependency)
	case MissingTrace:
		return fmt.Sprintf("%s: %s points at trace %d", i.Kind, i.Handle, i.Trace)
	default:
		return fmt.Sprintf("%s: %s", i.Kind, i.Handle)
	}
}

// Error is a decoder failure while replaying one trace record
type Error struct {
	Trace   trace.Ref
	Opcode  vk.Opcode
	Kind    trace.Kind
	Handles []vk.Handle
	Err     error
}

// Error implements error
func (e *Error) Error() string {
	return fmt.Sprintf("replay %s trace %d (%s) for %v: %v", e.Kind, e.Trace, e.Opcode, e.Handles, e.Err)
}

// Unwrap returns the decoder error
func (e *Error) Unwrap() error {
	return e.Err
}

// CycleError reports handles whose dependencies form a cycle, which leaves
// no valid creation order
type CycleError struct {
	Handles []vk.Handle
}

// Error implements error
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Handles))
	for i, h := range e.Handles {
		parts[i] = h.String()
	}
	return "dependency cycle between " + strings.Join(parts, ", ")
}

// InconsistencyError is returned in strict mode when planning found problems
type InconsistencyError struct {
	Inconsistencies []Inconsistency
}

// Error implements error
func (e *InconsistencyError) Error() string {
	if len(e.Inconsistencies) == 1 {
		return "replay plan inconsistent: " + e.Inconsistencies[0].String()
	}
	return fmt.Sprintf("replay plan inconsistent: %s (and %d more)",
		e.Inconsistencies[0], len(e.Inconsistencies)-1)
}
