package scripting

import (
	"errors"
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

// evalLua runs a chunk that must end in a return statement and hands back
// the first returned value.
func evalLua(t *testing.T, L *lua.LState, chunk string) lua.LValue {
	t.Helper()
	base := L.GetTop()
	if err := L.DoString(chunk); err != nil {
		t.Fatalf("eval chunk: %v", err)
	}
	v := L.Get(base + 1)
	L.SetTop(base)
	return v
}

func TestFromLuaScalars(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		chunk string
		want  any
	}{
		{`return nil`, nil},
		{`return true`, true},
		{`return false`, false},
		{`return 42`, float64(42)},
		{`return 1.5`, 1.5},
		{`return -3`, float64(-3)},
		{`return "hello"`, "hello"},
		{`return "héllo wörld 🎮"`, "héllo wörld 🎮"},
	}
	for _, tc := range tests {
		got, err := FromLua(evalLua(t, L, tc.chunk))
		if err != nil {
			t.Fatalf("FromLua(%s): %v", tc.chunk, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("FromLua(%s) = %#v, want %#v", tc.chunk, got, tc.want)
		}
	}
}

func TestFromLuaTableShapes(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name  string
		chunk string
		want  any
	}{
		{
			name:  "empty table is a record",
			chunk: `return {}`,
			want:  map[string]any{},
		},
		{
			name:  "dense integer keys are an array",
			chunk: `return {"a", "b", "c"}`,
			want:  []any{"a", "b", "c"},
		},
		{
			name:  "dense keys set explicitly",
			chunk: `return {[1] = 10, [2] = 20, [3] = 30}`,
			want:  []any{float64(10), float64(20), float64(30)},
		},
		{
			name:  "sparse integer keys are a record",
			chunk: `return {[1] = "a", [3] = "c"}`,
			want:  map[string]any{"1": "a", "3": "c"},
		},
		{
			name:  "zero-based keys are a record",
			chunk: `return {[0] = "a", [1] = "b"}`,
			want:  map[string]any{"0": "a", "1": "b"},
		},
		{
			name:  "string keys are a record",
			chunk: `return {score = 5, word = "cat"}`,
			want:  map[string]any{"score": float64(5), "word": "cat"},
		},
		{
			name:  "mixed keys are a record",
			chunk: `return {"a", name = "x"}`,
			want:  map[string]any{"1": "a", "name": "x"},
		},
		{
			name:  "fractional keys are a record",
			chunk: `return {[1.5] = "a"}`,
			want:  map[string]any{"1.5": "a"},
		},
		{
			name:  "nested tables convert recursively",
			chunk: `return {hints = {"one", "two"}, meta = {depth = 2}}`,
			want: map[string]any{
				"hints": []any{"one", "two"},
				"meta":  map[string]any{"depth": float64(2)},
			},
		},
		{
			name:  "array of records",
			chunk: `return {{id = 1}, {id = 2}}`,
			want: []any{
				map[string]any{"id": float64(1)},
				map[string]any{"id": float64(2)},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromLua(evalLua(t, L, tc.chunk))
			if err != nil {
				t.Fatalf("FromLua: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestFromLuaRejectsFunctions(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	_, err := FromLua(evalLua(t, L, `return function() end`))
	var merr *MarshalError
	if !errors.As(err, &merr) {
		t.Fatalf("want MarshalError for a function value, got %v", err)
	}
}

func TestFromLuaCyclicTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	v := evalLua(t, L, `
		local t = {}
		t.self = t
		return t
	`)
	_, err := FromLua(v)
	var merr *MarshalError
	if !errors.As(err, &merr) {
		t.Fatalf("want MarshalError for a cyclic table, got %v", err)
	}
}

func TestToLuaRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	// Numbers normalize to float64 on the way back; everything else
	// round-trips exactly.
	in := map[string]any{
		"score":   float64(12),
		"word":    "fjörd 🎯",
		"playing": true,
		"hints":   []any{"a", "b"},
		"nested":  map[string]any{"depth": float64(2), "list": []any{float64(1), float64(2)}},
		"nothing": nil,
	}
	lv, err := ToLua(L, in)
	if err != nil {
		t.Fatalf("ToLua: %v", err)
	}
	got, err := FromLua(lv)
	if err != nil {
		t.Fatalf("FromLua: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("round trip changed value:\n got %#v\nwant %#v", got, in)
	}
}

func TestToLuaIntegers(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	lv, err := ToLua(L, map[string]any{"n": 7})
	if err != nil {
		t.Fatalf("ToLua: %v", err)
	}
	got, err := FromLua(lv)
	if err != nil {
		t.Fatalf("FromLua: %v", err)
	}
	want := map[string]any{"n": float64(7)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestToLuaStringSlice(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	lv, err := ToLua(L, []string{"x", "y"})
	if err != nil {
		t.Fatalf("ToLua: %v", err)
	}
	got, err := FromLua(lv)
	if err != nil {
		t.Fatalf("FromLua: %v", err)
	}
	if !reflect.DeepEqual(got, []any{"x", "y"}) {
		t.Errorf("got %#v, want [x y]", got)
	}
}

func TestToLuaUnsupportedType(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	_, err := ToLua(L, struct{ X int }{X: 1})
	var merr *MarshalError
	if !errors.As(err, &merr) {
		t.Fatalf("want MarshalError for a struct, got %v", err)
	}

	_, err = ToLua(L, map[string]any{"ch": make(chan int)})
	if !errors.As(err, &merr) {
		t.Fatalf("want MarshalError for a channel, got %v", err)
	}
}

func TestToLuaCyclicValue(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	m := map[string]any{}
	m["self"] = m
	_, err := ToLua(L, m)
	var merr *MarshalError
	if !errors.As(err, &merr) {
		t.Fatalf("want MarshalError for a cyclic map, got %v", err)
	}
}
