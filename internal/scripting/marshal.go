package scripting

import (
	"fmt"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// maxMarshalDepth bounds recursive conversion in both directions. Generated
// scripts can build cyclic tables; without the guard a round trip would
// recurse forever.
const maxMarshalDepth = 64

// ToLua converts a host value into a guest value. Supported inputs are nil,
// booleans, integers, floats, strings, []string, []any and map[string]any
// (nested arbitrarily). Anything else is a MarshalError.
func ToLua(L *lua.LState, v any) (lua.LValue, error) {
	return toLua(L, v, 0)
}

func toLua(L *lua.LState, v any, depth int) (lua.LValue, error) {
	if depth > maxMarshalDepth {
		return nil, &MarshalError{What: "value nesting too deep"}
	}

	switch t := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(t), nil
	case int:
		return lua.LNumber(t), nil
	case int32:
		return lua.LNumber(t), nil
	case int64:
		return lua.LNumber(t), nil
	case float32:
		return lua.LNumber(t), nil
	case float64:
		return lua.LNumber(t), nil
	case string:
		return lua.LString(t), nil
	case []string:
		tbl := L.NewTable()
		for i, s := range t {
			tbl.RawSetInt(i+1, lua.LString(s))
		}
		return tbl, nil
	case []any:
		tbl := L.NewTable()
		for i, el := range t {
			lv, err := toLua(L, el, depth+1)
			if err != nil {
				return nil, err
			}
			tbl.RawSetInt(i+1, lv)
		}
		return tbl, nil
	case map[string]any:
		tbl := L.NewTable()
		for k, el := range t {
			lv, err := toLua(L, el, depth+1)
			if err != nil {
				return nil, err
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	default:
		return nil, &MarshalError{What: fmt.Sprintf("unsupported host type %T", v)}
	}
}

// FromLua converts a guest value into a host value. Numbers always come back
// as float64, Lua having a single number type; callers that need integers
// re-type at the edge. Tables become []any when their keys are exactly the
// dense integer range 1..n, and map[string]any otherwise. Functions,
// userdata, channels and threads are MarshalErrors.
func FromLua(lv lua.LValue) (any, error) {
	return fromLua(lv, 0)
}

func fromLua(lv lua.LValue, depth int) (any, error) {
	if depth > maxMarshalDepth {
		return nil, &MarshalError{What: "table nesting too deep (cycle?)"}
	}

	switch lv.Type() {
	case lua.LTNil:
		return nil, nil
	case lua.LTBool:
		return bool(lv.(lua.LBool)), nil
	case lua.LTNumber:
		return float64(lv.(lua.LNumber)), nil
	case lua.LTString:
		return string(lv.(lua.LString)), nil
	case lua.LTTable:
		return tableToHost(lv.(*lua.LTable), depth)
	default:
		return nil, &MarshalError{What: fmt.Sprintf("unsupported guest type %s", lv.Type())}
	}
}

// tableToHost applies the array-versus-record rule. The key set is collected
// first; if every key is an integral number and together they cover exactly
// 1..n, the table is an ordered []any. An empty table is an empty record:
// lifecycle results are records far more often than lists, so ambiguity
// resolves toward map[string]any{}. Everything else, including sparse
// integer keys, becomes a record with stringified keys.
func tableToHost(tbl *lua.LTable, depth int) (any, error) {
	type pair struct {
		k lua.LValue
		v lua.LValue
	}
	var pairs []pair
	tbl.ForEach(func(k, v lua.LValue) {
		pairs = append(pairs, pair{k: k, v: v})
	})

	if len(pairs) == 0 {
		return map[string]any{}, nil
	}

	// n distinct integral keys that all land in [1, n] are exactly 1..n.
	dense := true
	for _, p := range pairs {
		n, ok := p.k.(lua.LNumber)
		if !ok {
			dense = false
			break
		}
		f := float64(n)
		if f != math.Trunc(f) || f < 1 || f > float64(len(pairs)) {
			dense = false
			break
		}
	}
	if dense {
		// ForEach gives no ordering guarantee; extract by index.
		arr := make([]any, len(pairs))
		for i := 1; i <= len(pairs); i++ {
			hv, err := fromLua(tbl.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr[i-1] = hv
		}
		return arr, nil
	}

	rec := make(map[string]any, len(pairs))
	for _, p := range pairs {
		hv, err := fromLua(p.v, depth+1)
		if err != nil {
			return nil, err
		}
		rec[hostKey(p.k)] = hv
	}
	return rec, nil
}

// hostKey renders a table key as a record field name. Integral numbers print
// without a decimal point so guest tables keyed by numbers stay stable.
func hostKey(k lua.LValue) string {
	switch t := k.(type) {
	case lua.LString:
		return string(t)
	case lua.LNumber:
		f := float64(t)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return t.String()
	}
}
