package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// luaToGo converts a Lua value to a Go value
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		// Keep integral numbers integral so they round-trip through JSON unchanged
		if f := float64(val); f == float64(int64(f)) {
			return int64(f)
		}
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if n, ok := sequenceLen(val); ok {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				arr[i-1] = luaToGo(val.RawGetInt(i))
			}
			return arr
		}

		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = luaToGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// sequenceLen reports whether the table's keys are exactly the integers
// 1..n, and returns n. Empty tables are not sequences.
func sequenceLen(tbl *lua.LTable) (int, bool) {
	count := 0
	maxKey := 0
	seq := true
	tbl.ForEach(func(k, _ lua.LValue) {
		count++
		num, ok := k.(lua.LNumber)
		if !ok {
			seq = false
			return
		}
		f := float64(num)
		if f < 1 || f != float64(int(f)) {
			seq = false
			return
		}
		if int(f) > maxKey {
			maxKey = int(f)
		}
	})
	if !seq || count == 0 || maxKey != count {
		return 0, false
	}
	return count, true
}

// goToLua converts a Go value to a Lua value
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, v := range val {
			tbl.RawSetString(k, goToLua(L, v))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// tableToMap converts a Lua table to a Go map, keeping only string keys
func tableToMap(tbl *lua.LTable) map[string]any {
	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			m[string(ks)] = luaToGo(v)
		}
	})
	return m
}
