// Package fault holds the error value type shared by the snapshot packages.
package fault

// Const is a string that satisfies error, so sentinels can be declared in
// const blocks and compared with errors.Is.
type Const string

func (e Const) Error() string { return string(e) }
