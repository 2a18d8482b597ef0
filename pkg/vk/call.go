package vk

// Role describes what an intercepted call does to the handles of one parameter
type Role int

const (
	// Input parameters are referenced without changing their lifetime
	Input Role = iota
	// Created parameters are outputs the call produced
	Created
	// Destroyed parameters are released by the call
	Destroyed
)

// String returns the role name
func (r Role) String() string {
	switch r {
	case Input:
		return "Input"
	case Created:
		return "Created"
	case Destroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// Param is one handle-typed parameter of an intercepted call. Handles holds
// every element for array parameters and a single element otherwise; an
// empty slice means the array length was zero or the pointer was null.
type Param struct {
	Name    string
	Type    ObjectType
	Role    Role
	Handles []Handle
}

// First returns the first handle of the parameter or NullHandle
func (p Param) First() Handle {
	if len(p.Handles) == 0 {
		return NullHandle
	}
	return p.Handles[0]
}

// Call is the pre-decided description of one intercepted API invocation the
// front end hands to the snapshot layer
type Call struct {
	Opcode Opcode
	// Payload is the raw serialized call, opaque to the snapshot layer
	Payload []byte
	Params  []Param
	// Info holds the nested creation parameters for calls whose dependencies
	// are buried inside a structure, for example *ImageViewCreateInfo
	Info any
}

// Param returns the parameter with the given name
func (c Call) Param(name string) (Param, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// ParamOfType returns the first parameter of the given object type
func (c Call) ParamOfType(t ObjectType) (Param, bool) {
	for _, p := range c.Params {
		if p.Type == t {
			return p, true
		}
	}
	return Param{}, false
}
