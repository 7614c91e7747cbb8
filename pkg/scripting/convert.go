package scripting

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// convertGoToLua converts Go values into Lua values. Unknown types are
// passed as their fmt representation.
func convertGoToLua(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case time.Time:
		return lua.LNumber(v.Unix())
	case []string:
		t := L.NewTable()
		for _, item := range v {
			t.Append(lua.LString(item))
		}
		return t
	case []float32:
		t := L.NewTable()
		for _, item := range v {
			t.Append(lua.LNumber(item))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for _, item := range v {
			t.Append(convertGoToLua(L, item))
		}
		return t
	case []map[string]interface{}:
		t := L.NewTable()
		for _, item := range v {
			t.Append(convertGoToLua(L, item))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for key, item := range v {
			t.RawSetString(key, lua.LString(item))
		}
		return t
	case map[string]interface{}:
		t := L.NewTable()
		for key, item := range v {
			t.RawSetString(key, convertGoToLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// convertLuaToGo converts Lua values into Go values. Numbers become
// float64; tables with keys 1..n become slices, other tables maps.
func convertLuaToGo(value lua.LValue) interface{} {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case *lua.LTable:
		return convertTable(v)
	default:
		return v.String()
	}
}

func convertTable(t *lua.LTable) interface{} {
	n := t.MaxN()
	total := 0
	t.ForEach(func(lua.LValue, lua.LValue) { total++ })

	if n > 0 && n == total {
		items := make([]interface{}, 0, n)
		for i := 1; i <= n; i++ {
			items = append(items, convertLuaToGo(t.RawGetInt(i)))
		}
		return items
	}

	m := make(map[string]interface{}, total)
	t.ForEach(func(key, val lua.LValue) {
		m[key.String()] = convertLuaToGo(val)
	})
	return m
}
