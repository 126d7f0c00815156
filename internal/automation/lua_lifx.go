//go:build !no_automation

package automation

import (
	"time"

	"lifx-lan/internal/lights"
	"lifx-lan/internal/protocol"

	lua "github.com/yuin/gopher-lua"
)

// registerLifxModule registers the `lifx` global table in a Lua state.
func registerLifxModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on":              func(L *lua.LState) int { return lifxOn(L, vm) },
		"set_power":       func(L *lua.LState) int { return lifxSetPower(L, e) },
		"set_color":       func(L *lua.LState) int { return lifxSetColor(L, e) },
		"set_group_power": func(L *lua.LState) int { return lifxSetGroupPower(L, e) },
		"after":           func(L *lua.LState) int { return lifxAfter(L, vm) },
		"log":             func(L *lua.LState) int { return lifxLog(L, vm) },
		"lights":          func(L *lua.LState) int { return lifxLights(L, e) },
		"get":             func(L *lua.LState) int { return lifxGet(L, e) },
	})
	L.SetGlobal("lifx", mod)
}

// lifx.on(type, filter, callback)
//
// filter may hold light (ID or label), property and group.
func lifxOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{
		eventType: L.CheckString(1),
		fn:        L.CheckFunction(3),
	}
	filter := L.OptTable(2, L.NewTable())
	for key, dst := range map[string]*string{"light": &h.light, "property": &h.property, "group": &h.group} {
		if v := filter.RawGetString(key); v != lua.LNil {
			*dst = v.String()
		}
	}
	if err := vm.addHandler(h); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

// pushResult pushes true, or false and the error message.
func pushResult(L *lua.LState, e *Engine, op string, err error) int {
	if err != nil {
		e.logger.Warn("script command failed", "op", op, "err", err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// lifx.set_power(light, on)
func lifxSetPower(L *lua.LState, e *Engine) int {
	ref := L.CheckString(1)
	on := L.ToBool(2)
	id, err := e.lights.Resolve(ref)
	if err == nil {
		err = e.lights.SetPower(id, on)
	}
	return pushResult(L, e, "set_power", err)
}

// lifx.set_color(light, hue, saturation, brightness, kelvin [, ms])
func lifxSetColor(L *lua.LState, e *Engine) int {
	ref := L.CheckString(1)
	color := protocol.Color{
		Hue:        float64(L.CheckNumber(2)),
		Saturation: float64(L.CheckNumber(3)),
		Brightness: float64(L.CheckNumber(4)),
		Kelvin:     uint16(L.CheckInt(5)),
	}
	d := time.Duration(L.OptInt(6, 0)) * time.Millisecond
	id, err := e.lights.Resolve(ref)
	if err == nil {
		err = e.lights.SetColor(id, color, d)
	}
	return pushResult(L, e, "set_color", err)
}

// lifx.set_group_power(label, on)
func lifxSetGroupPower(L *lua.LState, e *Engine) int {
	return pushResult(L, e, "set_group_power", e.lights.SetGroupPower(L.CheckString(1), L.ToBool(2)))
}

// lifx.after(ms, callback)
func lifxAfter(L *lua.LState, vm *scriptVM) int {
	vm.after(time.Duration(L.CheckInt(1))*time.Millisecond, L.CheckFunction(2))
	return 0
}

// lifx.log(msg)
func lifxLog(L *lua.LState, vm *scriptVM) int {
	vm.logger.Info("script log", "msg", L.CheckString(1))
	return 0
}

// lifx.lights() returns an array of light tables.
func lifxLights(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, l := range e.lights.Lights() {
		tbl.RawSetInt(i+1, lightTable(L, l))
	}
	L.Push(tbl)
	return 1
}

// lifx.get(light, property) returns one property of a light, or nil.
func lifxGet(L *lua.LState, e *Engine) int {
	ref := L.CheckString(1)
	prop := L.CheckString(2)
	id, err := e.lights.Resolve(ref)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	l, err := e.lights.Light(id)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lightTable(L, l).RawGetString(prop))
	return 1
}

func lightTable(L *lua.LState, l lights.Light) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(l.ID.String()))
	t.RawSetString(lights.PropLabel, lua.LString(l.Label))
	t.RawSetString(lights.PropPower, lua.LBool(l.Power))
	t.RawSetString(lights.PropColor, colorTable(L, l.Color))
	t.RawSetString(lights.PropTime, goToLua(L, l.Time))
	t.RawSetString(lights.PropTags, goToLua(L, l.Tags))
	t.RawSetString("groups", goToLua(L, l.Groups))
	t.RawSetString("loaded", lua.LBool(l.Loaded))
	return t
}
