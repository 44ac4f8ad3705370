package scripting

import "fmt"

// LoadError reports guest source that failed to parse or to execute at load
// time. Non-fatal: the script cannot run, the host is untouched.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("scripting: load script: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// CallError reports a lifecycle function that is missing, not callable, or
// that raised a guest-side runtime error. Non-fatal: every facade method has
// a documented fallback for it.
type CallError struct {
	Path string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("scripting: call %s: %v", e.Path, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// MarshalError reports a value that cannot cross the host/guest boundary
// under the documented type rules (for example a guest function or thread
// handle). Fallback handling treats it exactly like a CallError.
type MarshalError struct {
	What string
}

func (e *MarshalError) Error() string {
	return "scripting: marshal: " + e.What
}

// EngineFatalError reports that a guest interpreter could not be created at
// all. This is the only engine failure that propagates to the caller as a
// hard error; callers should treat it as "feature unavailable".
type EngineFatalError struct {
	Err error
}

func (e *EngineFatalError) Error() string {
	return fmt.Sprintf("scripting: create engine: %v", e.Err)
}

func (e *EngineFatalError) Unwrap() error { return e.Err }
