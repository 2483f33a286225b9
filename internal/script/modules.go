package script

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// wizModule exposes the device controller to scenes.
type wizModule struct {
	r *Runtime
}

func (m *wizModule) loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "scene", L.NewFunction(m.scene))
	L.SetField(mod, "devices", L.NewFunction(m.devices))
	L.SetField(mod, "select", L.NewFunction(m.selectDevice))
	L.SetField(mod, "power", L.NewFunction(m.power))
	L.SetField(mod, "pilot", L.NewFunction(m.pilot))
	L.SetField(mod, "state", L.NewFunction(m.state))
	L.SetField(mod, "fade", L.NewFunction(m.fade))
	L.SetField(mod, "sleep", L.NewFunction(m.sleep))

	L.Push(mod)
	return 1
}

// scene(name, fn) registers a named scene.
func (m *wizModule) scene(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	m.r.registerScene(name, fn)
	return 0
}

// devices() -> { {ip=..., name=..., mac=...}, ... }
func (m *wizModule) devices(L *lua.LState) int {
	tbl := L.NewTable()
	for i, dev := range m.r.ctrl.Devices() {
		entry := L.NewTable()
		L.SetField(entry, "ip", lua.LString(dev.IP))
		L.SetField(entry, "name", lua.LString(dev.ModuleName))
		L.SetField(entry, "mac", lua.LString(dev.MAC))
		tbl.RawSetInt(i+1, entry)
	}
	L.Push(tbl)
	return 1
}

// select(ip) -> ok, err
func (m *wizModule) selectDevice(L *lua.LState) int {
	if err := m.r.ctrl.Select(L.CheckString(1)); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// power(on) -> ok, err
func (m *wizModule) power(L *lua.LState) int {
	return pushResult(L, m.r.ctrl.Power(L.CheckBool(1)))
}

// pilot({dimming=..., temp=..., r=..., g=..., b=..., state=...}) -> ok, err
func (m *wizModule) pilot(L *lua.LState) int {
	params := tableToLightState(L.CheckTable(1))
	return pushResult(L, m.r.ctrl.SetParams(params))
}

// state() -> table or nil when the bulb is silent
func (m *wizModule) state(L *lua.LState) int {
	st, err := m.r.ctrl.GetState(L.Context())
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	if st == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lightStateToTable(L, *st))
	return 1
}

// fade(params, opts) -> ok, err
// opts: { duration = "30s" | seconds, steps = n }
func (m *wizModule) fade(L *lua.LState) int {
	target := tableToLightState(L.CheckTable(1))
	duration, steps := m.r.defaultDuration, m.r.defaultSteps
	if opts := L.OptTable(2, nil); opts != nil {
		duration = parseDuration(L, L.GetField(opts, "duration"), duration)
		if v := L.GetField(opts, "steps"); v != lua.LNil {
			steps = int(lua.LVAsNumber(v))
		}
	}

	_, err := m.r.ctrl.FadeTo(L.Context(), target, duration, steps)
	return pushResult(L, err)
}

// sleep(seconds) pauses the scene; the worker is single-threaded so this
// also delays queued scenes.
func (m *wizModule) sleep(L *lua.LState) int {
	d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	select {
	case <-L.Context().Done():
	case <-time.After(d):
	}
	return 0
}

// presetModule exposes the preset registry to scenes.
type presetModule struct {
	r *Runtime
}

func (m *presetModule) loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "apply", L.NewFunction(m.apply))
	L.SetField(mod, "save", L.NewFunction(m.save))
	L.SetField(mod, "list", L.NewFunction(m.list))

	L.Push(mod)
	return 1
}

// apply(name, opts) -> ok, err
// opts: { duration = "2s" | seconds, steps = n }; no opts applies at once.
func (m *presetModule) apply(L *lua.LState) int {
	name := L.CheckString(1)
	var duration time.Duration
	steps := m.r.defaultSteps
	if opts := L.OptTable(2, nil); opts != nil {
		duration = parseDuration(L, L.GetField(opts, "duration"), m.r.defaultDuration)
		if v := L.GetField(opts, "steps"); v != lua.LNil {
			steps = int(lua.LVAsNumber(v))
		}
	}
	return pushResult(L, m.r.ctrl.ApplyPreset(L.Context(), name, duration, steps))
}

// save(name, params) -> ok, err
func (m *presetModule) save(L *lua.LState) int {
	name := L.CheckString(1)
	params := tableToLightState(L.CheckTable(2))
	return pushResult(L, m.r.presets.Save(name, params))
}

// list() -> { "Warm", "Cool", ... }
func (m *presetModule) list(L *lua.LState) int {
	tbl := L.NewTable()
	all, err := m.r.presets.List()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list presets from scene")
		L.Push(tbl)
		return 1
	}
	for i, p := range all {
		tbl.RawSetInt(i+1, lua.LString(p.Name))
	}
	L.Push(tbl)
	return 1
}

// logModule provides logging functions to scenes.
type logModule struct{}

func newLogModule() *logModule { return &logModule{} }

func (m *logModule) loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.level(log.Debug)))
	L.SetField(mod, "info", L.NewFunction(m.level(log.Info)))
	L.SetField(mod, "warn", L.NewFunction(m.level(log.Warn)))
	L.SetField(mod, "error", L.NewFunction(m.level(log.Error)))

	L.Push(mod)
	return 1
}

func (m *logModule) level(event func() *zerolog.Event) lua.LGFunction {
	return func(L *lua.LState) int {
		ev := event().Str("source", "scene")
		if tbl := L.OptTable(2, nil); tbl != nil {
			tbl.ForEach(func(k, v lua.LValue) {
				ev = ev.Interface(lua.LVAsString(k), luaToGo(v))
			})
		}
		ev.Msg(L.CheckString(1))
		return 0
	}
}
