//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// timeNow is replaced in tests.
var timeNow = time.Now

// clockFields maps each system.datetime component to its reader.
var clockFields = map[string]func(time.Time) lua.LValue{
	"year":      func(t time.Time) lua.LValue { return lua.LNumber(t.Year()) },
	"month":     func(t time.Time) lua.LValue { return lua.LNumber(t.Month()) },
	"day":       func(t time.Time) lua.LValue { return lua.LNumber(t.Day()) },
	"yday":      func(t time.Time) lua.LValue { return lua.LNumber(t.YearDay()) },
	"weekday":   func(t time.Time) lua.LValue { return lua.LNumber(t.Weekday()) },
	"hour":      func(t time.Time) lua.LValue { return lua.LNumber(t.Hour()) },
	"minute":    func(t time.Time) lua.LValue { return lua.LNumber(t.Minute()) },
	"second":    func(t time.Time) lua.LValue { return lua.LNumber(t.Second()) },
	"timestamp": func(t time.Time) lua.LValue { return lua.LNumber(t.Unix()) },
	"time_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format(time.TimeOnly)) },
	"date_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format(time.DateOnly)) },
}

func registerSystemModule(L *lua.LState, e *Engine) {
	L.SetGlobal("system", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"datetime":     luaDatetime,
		"time_between": luaTimeBetween,
		"log":          func(L *lua.LState) int { return luaSystemLog(L, e) },
	}))
}

// system.log(level, msg)
func luaSystemLog(L *lua.LState, e *Engine) int {
	level, msg := L.CheckString(1), L.CheckString(2)
	e.logger.Log(context.Background(), scriptLogLevel(level), "script log", "msg", msg)
	return 0
}

// system.datetime([component]) returns the named clock field, or a table
// of all of them when called without arguments.
func luaDatetime(L *lua.LState) int {
	now := timeNow()
	if L.GetTop() == 0 {
		tbl := L.NewTable()
		for name, read := range clockFields {
			tbl.RawSetString(name, read(now))
		}
		L.Push(tbl)
		return 1
	}

	name := L.CheckString(1)
	read, ok := clockFields[name]
	if !ok {
		names := make([]string, 0, len(clockFields))
		for n := range clockFields {
			names = append(names, n)
		}
		sort.Strings(names)
		L.ArgError(1, fmt.Sprintf("unknown component %q (want one of %s)", name, strings.Join(names, ", ")))
		return 0
	}
	L.Push(read(now))
	return 1
}

// minuteOfDay reads argument n as either an hour number or an "HH:MM"
// string.
func minuteOfDay(L *lua.LState, n int) int {
	switch v := L.CheckAny(n).(type) {
	case lua.LNumber:
		return int(v) * 60
	case lua.LString:
		t, err := time.Parse("15:04", string(v))
		if err != nil {
			L.ArgError(n, fmt.Sprintf("want HH:MM, got %q", string(v)))
			return 0
		}
		return t.Hour()*60 + t.Minute()
	default:
		L.ArgError(n, "want hour or HH:MM")
		return 0
	}
}

// system.time_between(from, to) reports whether the local time falls in
// [from, to). A range with from > to wraps midnight.
func luaTimeBetween(L *lua.LState) int {
	from, to := minuteOfDay(L, 1), minuteOfDay(L, 2)
	now := timeNow()
	m := now.Hour()*60 + now.Minute()

	in := m >= from && m < to
	if from > to {
		in = m >= from || m < to
	}
	L.Push(lua.LBool(in))
	return 1
}

// scriptLogLevel maps a script-supplied level name onto slog. Unknown
// names log at info.
func scriptLogLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
