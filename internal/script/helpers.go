package script

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"wizd/internal/wiz"
)

// pushResult maps a Go error onto the Lua (ok, err) convention.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// tableToLightState reads recognized pilot fields from a Lua table.
// Unknown keys are ignored.
func tableToLightState(tbl *lua.LTable) wiz.LightState {
	var params wiz.LightState
	if v := tbl.RawGetString("state"); v != lua.LNil {
		params.State = wiz.Bool(lua.LVAsBool(v))
	}
	for _, f := range []struct {
		key string
		dst **int
	}{
		{"dimming", &params.Dimming},
		{"temp", &params.Temp},
		{"r", &params.R},
		{"g", &params.G},
		{"b", &params.B},
	} {
		if v := tbl.RawGetString(f.key); v != lua.LNil {
			*f.dst = wiz.Int(int(lua.LVAsNumber(v)))
		}
	}
	return params
}

func lightStateToTable(L *lua.LState, st wiz.LightState) *lua.LTable {
	tbl := L.NewTable()
	if st.State != nil {
		L.SetField(tbl, "state", lua.LBool(*st.State))
	}
	for _, f := range []struct {
		key string
		val *int
	}{
		{"dimming", st.Dimming},
		{"temp", st.Temp},
		{"r", st.R},
		{"g", st.G},
		{"b", st.B},
	} {
		if f.val != nil {
			L.SetField(tbl, f.key, lua.LNumber(*f.val))
		}
	}
	return tbl
}

// parseDuration accepts "30s" strings or bare numbers of seconds.
func parseDuration(L *lua.LState, v lua.LValue, fallback time.Duration) time.Duration {
	switch val := v.(type) {
	case lua.LString:
		d, err := time.ParseDuration(string(val))
		if err != nil {
			L.RaiseError("bad duration %q: %v", string(val), err)
			return fallback
		}
		return d
	case lua.LNumber:
		return time.Duration(float64(val) * float64(time.Second))
	default:
		return fallback
	}
}

// luaToGo converts a Lua value to a Go value for structured log fields.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		obj := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			obj[lua.LVAsString(k)] = luaToGo(item)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}
