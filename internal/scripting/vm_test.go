package scripting

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestVM(t *testing.T, opts Options) *VM {
	t.Helper()
	vm, err := NewVM(opts)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	t.Cleanup(vm.Close)
	return vm
}

func mustLoad(t *testing.T, vm *VM, source string) {
	t.Helper()
	if err := vm.Load(source); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestVMLoadAndCall(t *testing.T) {
	vm := newTestVM(t, Options{})
	mustLoad(t, vm, `
		Game = {}
		function Game.init()
			return {score = 0, ready = true}
		end
	`)

	v, err := vm.Call("Game.init")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	rec, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("result = %T, want map", v)
	}
	if rec["ready"] != true || rec["score"] != float64(0) {
		t.Errorf("result = %#v", rec)
	}
}

func TestVMCallPassesArguments(t *testing.T) {
	vm := newTestVM(t, Options{})
	mustLoad(t, vm, `
		Game = {}
		function Game.echo(state, input)
			return {got = input, score = state.score}
		end
	`)

	v, err := vm.Call("Game.echo", map[string]any{"score": 7}, "guess")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	rec := v.(map[string]any)
	if rec["got"] != "guess" || rec["score"] != float64(7) {
		t.Errorf("result = %#v", rec)
	}
}

func TestVMLoadSyntaxError(t *testing.T) {
	vm := newTestVM(t, Options{})
	err := vm.Load(`function Game.init( return end`)
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("want LoadError, got %v", err)
	}
}

func TestVMLoadRuntimeError(t *testing.T) {
	vm := newTestVM(t, Options{})
	err := vm.Load(`error("boom at top level")`)
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("want LoadError, got %v", err)
	}
}

func TestVMCallMisses(t *testing.T) {
	vm := newTestVM(t, Options{})
	mustLoad(t, vm, `
		Game = {}
		Game.notAFunction = 42
		function Game.ok() return 1 end
	`)

	tests := []struct {
		name string
		path string
	}{
		{"undefined function", "Game.getHint"},
		{"undefined global", "Nothing.at.all"},
		{"non-table intermediate", "Game.notAFunction.deeper"},
		{"non-callable leaf", "Game.notAFunction"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := vm.Call(tc.path)
			var cerr *CallError
			if !errors.As(err, &cerr) {
				t.Fatalf("want CallError, got %v", err)
			}
		})
	}

	// Misses must not wedge the VM.
	if _, err := vm.Call("Game.ok"); err != nil {
		t.Fatalf("Call after misses: %v", err)
	}
}

func TestVMCallGuestError(t *testing.T) {
	vm := newTestVM(t, Options{})
	mustLoad(t, vm, `
		Game = {}
		function Game.bad()
			local t = nil
			return t.field
		end
		function Game.ok() return "fine" end
	`)

	_, err := vm.Call("Game.bad")
	var cerr *CallError
	if !errors.As(err, &cerr) {
		t.Fatalf("want CallError, got %v", err)
	}

	// A guest error is recoverable; the next call proceeds normally.
	v, err := vm.Call("Game.ok")
	if err != nil {
		t.Fatalf("Call after guest error: %v", err)
	}
	if v != "fine" {
		t.Errorf("result = %v, want fine", v)
	}
}

func TestVMCallTimeoutPoisons(t *testing.T) {
	vm := newTestVM(t, Options{CallTimeout: 50 * time.Millisecond})
	mustLoad(t, vm, `
		Game = {}
		function Game.spin() while true do end end
		function Game.ok() return 1 end
	`)

	start := time.Now()
	_, err := vm.Call("Game.spin")
	var cerr *CallError
	if !errors.As(err, &cerr) {
		t.Fatalf("want CallError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("call ran %v before interruption", elapsed)
	}

	// An interrupted interpreter is not reused.
	if _, err := vm.Call("Game.ok"); err == nil {
		t.Fatal("call on a poisoned VM succeeded")
	}
	if vm.Has("Game.ok") {
		t.Error("Has reported a callable on a poisoned VM")
	}
}

func TestVMLoadTimeout(t *testing.T) {
	vm := newTestVM(t, Options{LoadTimeout: 50 * time.Millisecond})
	err := vm.Load(`while true do end`)
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("want LoadError, got %v", err)
	}
	if _, err := vm.Call("anything"); err == nil {
		t.Fatal("call after an interrupted load succeeded")
	}
}

func TestVMSandboxStripsEscapes(t *testing.T) {
	vm := newTestVM(t, Options{})
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		err := vm.Load(`return ` + name + `("x")`)
		if err == nil {
			t.Errorf("%s survived the sandbox", name)
		}
	}
	for _, name := range []string{"os", "io"} {
		err := vm.Load(`return ` + name + `.time()`)
		if err == nil {
			t.Errorf("%s library is reachable", name)
		}
	}
}

func TestVMSandboxKeepsSafeLibraries(t *testing.T) {
	vm := newTestVM(t, Options{})
	mustLoad(t, vm, `
		Game = {}
		function Game.probe()
			return {
				upper = string.upper("cat"),
				n = table.concat({"a", "b"}, "-"),
				floored = math.floor(3.9),
			}
		end
	`)
	v, err := vm.Call("Game.probe")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	rec := v.(map[string]any)
	if rec["upper"] != "CAT" || rec["n"] != "a-b" || rec["floored"] != float64(3) {
		t.Errorf("result = %#v", rec)
	}
}

func TestVMLogCapture(t *testing.T) {
	vm := newTestVM(t, Options{MaxLogs: 3})
	mustLoad(t, vm, `
		log("hello", 1, true)
		print("via print")
	`)

	logs := vm.GetLogs()
	if len(logs) != 2 {
		t.Fatalf("got %d log entries, want 2", len(logs))
	}
	if logs[0].Message != "hello 1 true" {
		t.Errorf("first entry = %q", logs[0].Message)
	}
	if logs[1].Message != "via print" {
		t.Errorf("second entry = %q", logs[1].Message)
	}

	// The buffer keeps only the newest MaxLogs entries.
	mustLoad(t, vm, `
		for i = 1, 5 do log("line " .. i) end
	`)
	logs = vm.GetLogs()
	if len(logs) != 3 {
		t.Fatalf("got %d log entries, want 3", len(logs))
	}
	if !strings.HasSuffix(logs[2].Message, "line 5") {
		t.Errorf("newest entry = %q", logs[2].Message)
	}

	vm.ClearLogs()
	if got := vm.GetLogs(); len(got) != 0 {
		t.Errorf("got %d entries after ClearLogs", len(got))
	}
}

func TestVMHas(t *testing.T) {
	vm := newTestVM(t, Options{})
	mustLoad(t, vm, `
		Game = {}
		function Game.init() return {} end
	`)
	if !vm.Has("Game.init") {
		t.Error("Has(Game.init) = false")
	}
	if vm.Has("Game.getHint") {
		t.Error("Has(Game.getHint) = true")
	}
}

func TestVMCloseIsIdempotent(t *testing.T) {
	vm := newTestVM(t, Options{})
	mustLoad(t, vm, `Game = {}`)
	vm.Close()
	vm.Close()

	if _, err := vm.Call("Game.init"); err == nil {
		t.Fatal("call on a closed VM succeeded")
	}
	if err := vm.Load(`x = 1`); err == nil {
		t.Fatal("load on a closed VM succeeded")
	}
}

func TestVMExtraReturnsTruncated(t *testing.T) {
	vm := newTestVM(t, Options{})
	mustLoad(t, vm, `
		Game = {}
		function Game.many() return "first", "second", "third" end
		function Game.none() end
	`)

	v, err := vm.Call("Game.many")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != "first" {
		t.Errorf("result = %v, want first", v)
	}

	v, err = vm.Call("Game.none")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != nil {
		t.Errorf("result = %v, want nil for a bare return", v)
	}
}
