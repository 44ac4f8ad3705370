// Package scripting embeds a sandboxed Lua interpreter for untrusted,
// generated mini-game scripts. A script is loaded into its own VM, exposes
// lifecycle functions under a global Game table, and is driven through the
// Runner facade; guest failures never propagate past the engine boundary.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const (
	scriptLoadTimeout = 2 * time.Second
	scriptCallTimeout = 1 * time.Second
)

// Options configures a VM or Runner.
type Options struct {
	// LoadTimeout bounds the top-level execution of the script source.
	LoadTimeout time.Duration
	// CallTimeout bounds each lifecycle call. A call that exceeds it fails
	// with a CallError and disables the VM for the rest of its life.
	CallTimeout time.Duration
	// DefaultDuration is the round length in seconds used for the built-in
	// fallback state, normally taken from the game metadata.
	DefaultDuration int
	// MaxLogs bounds the guest log buffer.
	MaxLogs int
	// Logger receives guest failure diagnostics. Defaults to a nop logger.
	Logger *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = scriptLoadTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = scriptCallTimeout
	}
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = DefaultDuration
	}
	if o.MaxLogs <= 0 {
		o.MaxLogs = 500
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// LogEntry is a single message the guest script emitted via log() or print().
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// VM wraps one sandboxed Lua state. Only the base, table, string and math
// libraries are loaded; filesystem, networking and code-loading primitives
// are stripped. A VM is owned by exactly one goroutine for its entire life
// and is never shared across rounds.
type VM struct {
	state *lua.LState
	opts  Options
	log   *zap.SugaredLogger

	closed bool
	// poisoned is set after a call deadline fires. An interrupted
	// interpreter stack is not trusted for reuse, so every later call
	// fails fast with a CallError.
	poisoned bool

	logs   []LogEntry
	logsMu sync.Mutex
}

// NewVM creates a fresh, isolated guest state. The caller owns it and must
// call Close. Failure to allocate the interpreter is the only fatal error
// this package produces.
func NewVM(opts Options) (vm *VM, err error) {
	defer func() {
		if r := recover(); r != nil {
			vm = nil
			err = &EngineFatalError{Err: fmt.Errorf("allocate guest state: %v", r)}
		}
	}()

	opts = opts.withDefaults()
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	vm = &VM{state: L, opts: opts, log: opts.Logger}
	vm.openLibraries()
	vm.installGlobals()
	return vm, nil
}

// openLibraries loads the safe subset of the Lua standard library and strips
// the globals that would reach the filesystem or compile new chunks.
func (vm *VM) openLibraries() {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		vm.state.Push(vm.state.NewFunction(lib.fn))
		vm.state.Push(lua.LString(lib.name))
		vm.state.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage", "require"} {
		vm.state.SetGlobal(name, lua.LNil)
	}
}

// installGlobals registers log() and reroutes print() into the log buffer,
// so generated scripts can debug themselves without stdout access.
func (vm *VM) installGlobals() {
	logFn := vm.state.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		vm.appendLog(strings.Join(parts, " "))
		return 0
	})
	vm.state.SetGlobal("log", logFn)
	vm.state.SetGlobal("print", logFn)
}

// Load executes the script source once at top level, registering the Game
// table. Parse errors and top-level runtime errors come back as *LoadError.
// Load never validates that Game exists; absence surfaces lazily at call
// time.
func (vm *VM) Load(source string) (err error) {
	if vm.closed {
		return &LoadError{Err: errors.New("vm is closed")}
	}

	ctx, cancel := context.WithTimeout(context.Background(), vm.opts.LoadTimeout)
	defer cancel()
	vm.state.SetContext(ctx)
	defer vm.state.RemoveContext()

	base := vm.state.GetTop()
	defer vm.state.SetTop(base)
	defer func() {
		if r := recover(); r != nil {
			err = &LoadError{Err: fmt.Errorf("guest panic: %v", r)}
		}
	}()

	if derr := vm.state.DoString(source); derr != nil {
		if ctx.Err() != nil {
			vm.poisoned = true
		}
		vm.log.Debugw("script load failed", "error", derr)
		return &LoadError{Err: derr}
	}
	return nil
}

// Call resolves a dotted path (for example "Game.onInput") by walking nested
// tables from the global scope, marshals the arguments, invokes the function
// under a protected call and returns its single marshaled result. NRet is
// pinned to one, so extra guest returns are truncated and a bare return pads
// to nil. The guest stack is restored to its pre-call depth on every exit
// path.
func (vm *VM) Call(path string, args ...any) (result any, err error) {
	if vm.closed {
		return nil, &CallError{Path: path, Err: errors.New("vm is closed")}
	}
	if vm.poisoned {
		return nil, &CallError{Path: path, Err: errors.New("vm disabled after timeout")}
	}

	fn, err := vm.resolve(path)
	if err != nil {
		return nil, err
	}

	lvs := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		lv, merr := ToLua(vm.state, a)
		if merr != nil {
			return nil, merr
		}
		lvs = append(lvs, lv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), vm.opts.CallTimeout)
	defer cancel()
	vm.state.SetContext(ctx)
	defer vm.state.RemoveContext()

	base := vm.state.GetTop()
	defer vm.state.SetTop(base)
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &CallError{Path: path, Err: fmt.Errorf("guest panic: %v", r)}
		}
	}()

	if cerr := vm.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lvs...); cerr != nil {
		if ctx.Err() != nil {
			vm.poisoned = true
			vm.log.Warnw("guest call exceeded its deadline", "path", path)
			return nil, &CallError{Path: path, Err: fmt.Errorf("deadline exceeded: %w", cerr)}
		}
		vm.log.Debugw("guest call failed", "path", path, "error", cerr)
		return nil, &CallError{Path: path, Err: cerr}
	}

	host, merr := FromLua(vm.state.Get(-1))
	if merr != nil {
		return nil, merr
	}
	return host, nil
}

// resolve walks the dotted path through nested guest tables. A nil
// intermediate segment or a non-callable leaf is a graceful miss, reported
// as a *CallError rather than thrown into the host.
func (vm *VM) resolve(path string) (lua.LValue, error) {
	segs := strings.Split(path, ".")
	var cur lua.LValue = vm.state.GetGlobal(segs[0])
	for i := 1; i < len(segs); i++ {
		tbl, ok := cur.(*lua.LTable)
		if !ok {
			return nil, &CallError{Path: path, Err: fmt.Errorf("%s is not a table", strings.Join(segs[:i], "."))}
		}
		cur = tbl.RawGetString(segs[i])
	}
	if cur == lua.LNil {
		return nil, &CallError{Path: path, Err: errors.New("function not defined")}
	}
	if cur.Type() != lua.LTFunction {
		return nil, &CallError{Path: path, Err: fmt.Errorf("%s is not callable", path)}
	}
	return cur, nil
}

// Has reports whether the dotted path currently resolves to a callable.
func (vm *VM) Has(path string) bool {
	if vm.closed || vm.poisoned {
		return false
	}
	_, err := vm.resolve(path)
	return err == nil
}

// Close releases all guest resources. Safe to call more than once.
func (vm *VM) Close() {
	if vm.closed {
		return
	}
	vm.closed = true
	vm.state.Close()
}

func (vm *VM) appendLog(msg string) {
	vm.logsMu.Lock()
	if len(vm.logs) >= vm.opts.MaxLogs {
		vm.logs = vm.logs[1:]
	}
	vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: msg})
	vm.logsMu.Unlock()
}

// GetLogs returns a copy of the guest log buffer.
func (vm *VM) GetLogs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}

// ClearLogs clears the guest log buffer.
func (vm *VM) ClearLogs() {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	vm.logs = vm.logs[:0]
}
