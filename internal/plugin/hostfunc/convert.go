// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostfunc

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// maxDepth bounds table nesting when converting between Lua and Go.
const maxDepth = 32

// ToGo converts a Lua value into JSON-compatible Go values. Tables whose
// keys are exactly 1..n become slices, other tables become maps keyed by
// the string form of each key. Functions and userdata are rejected.
func ToGo(v lua.LValue) (any, error) {
	return toGo(v, 0)
}

func toGo(v lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("table nesting exceeds %d levels", maxDepth)
	}
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LString:
		return string(val), nil
	case lua.LNumber:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("number %v cannot be encoded", f)
		}
		return f, nil
	case *lua.LTable:
		return tableToGo(val, depth)
	default:
		return nil, fmt.Errorf("cannot convert Lua %s", v.Type().String())
	}
}

func tableToGo(t *lua.LTable, depth int) (any, error) {
	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			item, err := toGo(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i-1] = item
		}
		return out, nil
	}

	out := make(map[string]any, count)
	var firstErr error
	t.ForEach(func(k, v lua.LValue) {
		if firstErr != nil {
			return
		}
		item, err := toGo(v, depth+1)
		if err != nil {
			firstErr = err
			return
		}
		out[k.String()] = item
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// ToLua converts decoded JSON (maps, slices, strings, numbers, booleans)
// into Lua values.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val.String())
		}
		return lua.LNumber(f)
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(ToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, ToLua(L, val[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// EncodeJSON converts a Lua value to JSON.
func EncodeJSON(v lua.LValue) ([]byte, error) {
	goVal, err := ToGo(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(goVal)
}

// DecodeJSON parses JSON into a Lua value.
func DecodeJSON(L *lua.LState, data []byte) (lua.LValue, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return lua.LNil, err
	}
	return ToLua(L, v), nil
}
