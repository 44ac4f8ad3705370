package scripting

import (
	"go.uber.org/zap"
)

// Lifecycle entry points every generated script is asked to provide under
// the Game global. Only init, start and onInput are load-bearing; the rest
// degrade gracefully when absent.
const (
	pathInit          = "Game.init"
	pathStart         = "Game.start"
	pathOnInput       = "Game.onInput"
	pathNextChallenge = "Game.getNextChallenge"
	pathGetHint       = "Game.getHint"
)

// Runner is the host-facing facade over one loaded script. Every lifecycle
// method is fail-soft: a missing function, a guest error, a timeout or a
// malformed return value degrades to a safe documented fallback instead of
// an error, so a half-broken generated script still yields a playable round.
//
// A Runner is confined to a single goroutine, like the VM underneath it.
type Runner struct {
	vm       *VM
	log      *zap.SugaredLogger
	duration int

	destroyed bool
	failures  int
}

// NewRunner creates a VM, loads the script and returns the facade. A script
// that fails to parse or errors at top level is unusable, so this is the one
// place the engine reports instead of degrading; the returned error is a
// *LoadError (or *EngineFatalError if the interpreter itself could not be
// allocated) and no Runner is handed out.
func NewRunner(source string, opts Options) (*Runner, error) {
	opts = opts.withDefaults()
	vm, err := NewVM(opts)
	if err != nil {
		return nil, err
	}
	if err := vm.Load(source); err != nil {
		vm.Close()
		return nil, err
	}
	return &Runner{vm: vm, log: opts.Logger, duration: opts.DefaultDuration}, nil
}

// Init asks the script for its opening state. On any failure the round
// begins from the default state: score zero, the configured time budget,
// not yet playing.
func (r *Runner) Init() GameState {
	v, err := r.vm.Call(pathInit)
	if err != nil {
		r.fallback(pathInit, err)
		return DefaultState(r.duration)
	}
	st, ok := stateFromValue(v)
	if !ok {
		r.fallbackShape(pathInit, v)
		return DefaultState(r.duration)
	}
	return st
}

// Start hands the state to the script to begin play. On failure the input
// state comes back unchanged.
func (r *Runner) Start(st GameState) GameState {
	return r.stateCall(pathStart, st)
}

// NextChallenge advances the script to its next prompt. On failure the input
// state comes back unchanged.
func (r *Runner) NextChallenge(st GameState) GameState {
	return r.stateCall(pathNextChallenge, st)
}

func (r *Runner) stateCall(path string, st GameState) GameState {
	v, err := r.vm.Call(path, st.toValue())
	if err != nil {
		r.fallback(path, err)
		return st
	}
	next, ok := stateFromValue(v)
	if !ok {
		r.fallbackShape(path, v)
		return st
	}
	return next
}

// OnInput judges one player input. Failure fails closed: the state is
// untouched, the guess is not correct and no points are awarded.
func (r *Runner) OnInput(st GameState, input string) InputResult {
	v, err := r.vm.Call(pathOnInput, st.toValue(), input)
	if err != nil {
		r.fallback(pathOnInput, err)
		return InputResult{State: st}
	}
	res, ok := inputResultFromValue(v, st)
	if !ok {
		r.fallbackShape(pathOnInput, v)
		return InputResult{State: st}
	}
	return res
}

// Hint asks the script for a hint. Anything but a string answer, including
// a script without getHint at all, is an empty hint.
func (r *Runner) Hint(st GameState) string {
	v, err := r.vm.Call(pathGetHint, st.toValue())
	if err != nil {
		r.fallback(pathGetHint, err)
		return ""
	}
	hint, ok := v.(string)
	if !ok {
		r.fallbackShape(pathGetHint, v)
		return ""
	}
	return hint
}

// Has reports whether the script defines the named lifecycle function,
// e.g. Has("getHint").
func (r *Runner) Has(fn string) bool {
	return r.vm.Has("Game." + fn)
}

// Failures counts lifecycle calls that degraded to a fallback.
func (r *Runner) Failures() int {
	return r.failures
}

// Logs returns the script's log() output so far.
func (r *Runner) Logs() []LogEntry {
	return r.vm.GetLogs()
}

// ClearLogs drops buffered script output.
func (r *Runner) ClearLogs() {
	r.vm.ClearLogs()
}

// Destroy tears down the guest state. Safe to call more than once; lifecycle
// calls after Destroy degrade to their fallbacks.
func (r *Runner) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.vm.Close()
}

func (r *Runner) fallback(path string, err error) {
	r.failures++
	r.log.Debugw("lifecycle call degraded to fallback", "path", path, "error", err)
}

func (r *Runner) fallbackShape(path string, v any) {
	r.failures++
	r.log.Debugw("lifecycle call returned unusable shape", "path", path, "got", v)
}
