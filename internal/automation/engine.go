//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"lifx-lan/internal/lights"
	"lifx-lan/internal/protocol"

	lua "github.com/yuin/gopher-lua"
)

// runTimeout bounds RunScript and RunLuaCode.
const runTimeout = 5 * time.Second

// Lights is the light model scripts observe and drive.
// *lights.Collection implements it.
type Lights interface {
	Events() *lights.EventBus
	Lights() []lights.Light
	Light(id protocol.DeviceID) (lights.Light, error)
	Resolve(ref string) (protocol.DeviceID, error)
	SetPower(id protocol.DeviceID, on bool) error
	SetColor(id protocol.DeviceID, color protocol.Color, d time.Duration) error
	SetGroupPower(label string, on bool) error
}

// RunResult is the outcome of a dry run.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Engine runs one VM per enabled script and feeds it light events.
type Engine struct {
	lights  Lights
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

func NewEngine(l Lights, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		lights:  l,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to light events and starts every enabled script. A
// script that fails to load is logged and skipped.
func (e *Engine) Start() {
	e.unsub = e.lights.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("list scripts", "err", err)
		return
	}
	started := 0
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
			continue
		}
		started++
	}
	e.logger.Info("automation engine started", "scripts", started)
}

// Stop unsubscribes from light events and stops every VM, waiting for
// their goroutines to exit.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}

	e.mu.Lock()
	vms := e.vms
	e.vms = make(map[string]*scriptVM)
	e.mu.Unlock()

	for _, vm := range vms {
		vm.stop()
	}
	e.logger.Info("automation engine stopped", "scripts", len(vms))
}

// Running returns the sorted IDs of the scripts with a live VM.
func (e *Engine) Running() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ReloadScript replaces the VM of a script with a fresh one, or just
// stops it if the script is now disabled.
func (e *Engine) ReloadScript(id string) error {
	s, err := e.manager.Get(id)
	if err != nil {
		e.StopScript(id)
		return fmt.Errorf("reload %s: %w", id, err)
	}
	if !s.Meta.Enabled {
		e.StopScript(id)
		return nil
	}
	return e.startScript(s)
}

func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	vm, ok := e.vms[id]
	delete(e.vms, id)
	e.mu.Unlock()

	if ok {
		vm.stop()
		e.logger.Info("script stopped", "id", id)
	}
}

// RunScript dry-runs a stored script.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a throwaway VM bounded by runTimeout, then
// calls each handler it registered once with an event built from the
// handler's own filter. lifx.log and system.log output is returned in the
// result instead of being logged.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	vm := newScriptVM(ctx, "dry-run", e)
	defer vm.discard()
	var out runLog
	out.attach(vm.state)

	err := vm.state.DoString(code)
	if err == nil {
		for _, h := range vm.registered() {
			if err = vm.call(vm.state, h.fn, syntheticEvent(vm.state, h)); err != nil {
				break
			}
		}
	}

	r := &RunResult{OK: err == nil, Logs: out.snapshot(), Duration: time.Since(start).String()}
	if err != nil {
		r.Error = runError(err)
		e.logger.Warn("dry run failed", "err", err)
	}
	return r
}

// runLog collects the log output of a dry run.
type runLog struct {
	mu    sync.Mutex
	lines []string
}

func (r *runLog) add(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *runLog) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// attach points the log functions of the lifx and system modules at r.
func (r *runLog) attach(L *lua.LState) {
	redirect := func(module string, line func(*lua.LState) string) {
		if tbl, ok := L.GetGlobal(module).(*lua.LTable); ok {
			tbl.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
				r.add(line(L))
				return 0
			}))
		}
	}
	redirect("lifx", func(L *lua.LState) string { return L.CheckString(1) })
	redirect("system", func(L *lua.LState) string {
		return "[" + L.CheckString(1) + "] " + L.CheckString(2)
	})
}

func runError(err error) string {
	if strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		return fmt.Sprintf("timeout (%s)", runTimeout)
	}
	return err.Error()
}

// syntheticEvent builds the event a handler would see for its own filter.
func syntheticEvent(L *lua.LState, h luaEventHandler) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(h.eventType))
	for k, v := range map[string]string{"light": h.light, "property": h.property, "group": h.group} {
		if v != "" {
			t.RawSetString(k, lua.LString(v))
		}
	}
	t.RawSetString("value", lua.LTrue)
	return t
}

func (e *Engine) startScript(s *Script) error {
	vm := newScriptVM(context.Background(), s.ID, e)
	if err := vm.state.DoString(s.LuaCode); err != nil {
		vm.discard()
		return fmt.Errorf("load script %s: %w", s.ID, err)
	}
	go vm.serve()

	e.mu.Lock()
	old := e.vms[s.ID]
	e.vms[s.ID] = vm
	e.mu.Unlock()
	if old != nil {
		old.stop()
	}

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name, "handlers", len(vm.registered()))
	return nil
}

// dispatchEvent queues every matching handler on its script's VM.
func (e *Engine) dispatchEvent(event lights.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()
	if len(vms) == 0 {
		return
	}

	fields := e.eventFields(event)
	for _, vm := range vms {
		for _, h := range vm.matching(event.Type, fields) {
			fn := h.fn
			vm.enqueue(func(L *lua.LState) {
				t := L.NewTable()
				for k, v := range fields {
					t.RawSetString(k, goToLua(L, v))
				}
				_ = vm.call(L, fn, t)
			})
		}
	}
}

// eventFields flattens an event into the table handed to Lua. Light
// events carry light, the label or the ID of an unlabeled light.
func (e *Engine) eventFields(event lights.Event) map[string]any {
	f := map[string]any{"type": event.Type}
	switch d := event.Data.(type) {
	case lights.LightRef:
		f["id"] = d.ID.String()
		f["label"] = d.Label
	case lights.PropertyChange:
		f["id"] = d.ID.String()
		f["property"] = d.Property
		f["value"] = d.Value
		if l, err := e.lights.Light(d.ID); err == nil {
			f["label"] = l.Label
		}
	case lights.GroupRef:
		f["tag"] = int(d.Tag)
		f["group"] = d.Label
	case lights.GatewayRef:
		f["site"] = d.Site.String()
		f["addr"] = d.Addr
	}
	if id, ok := f["id"].(string); ok {
		f["light"] = id
		if label, _ := f["label"].(string); label != "" {
			f["light"] = label
		}
	}
	return f
}

func matchesHandler(h luaEventHandler, eventType string, fields map[string]any) bool {
	if h.eventType != eventType {
		return false
	}
	if h.light != "" {
		id, _ := fields["id"].(string)
		label, _ := fields["label"].(string)
		if !strings.EqualFold(h.light, id) && h.light != label {
			return false
		}
	}
	if h.property != "" && fields["property"] != h.property {
		return false
	}
	if h.group != "" && fields["group"] != h.group {
		return false
	}
	return true
}

// goToLua converts an event value to Lua. Numbers of any width become
// LNumber, slices become arrays, and anything else unknown is printed.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case time.Time:
		return lua.LNumber(val.Unix())
	case time.Duration:
		return lua.LNumber(val.Milliseconds())
	case protocol.TagID:
		return lua.LNumber(val)
	case protocol.Color:
		return colorTable(L, val)
	case lights.Alarm:
		return alarmTable(L, val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case fmt.Stringer:
		return lua.LString(val.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.Slice, reflect.Array:
		t := L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, goToLua(L, rv.Index(i).Interface()))
		}
		return t
	}
	return lua.LString(fmt.Sprint(v))
}

func colorTable(L *lua.LState, c protocol.Color) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("hue", lua.LNumber(c.Hue))
	t.RawSetString("saturation", lua.LNumber(c.Saturation))
	t.RawSetString("brightness", lua.LNumber(c.Brightness))
	t.RawSetString("kelvin", lua.LNumber(c.Kelvin))
	return t
}

func alarmTable(L *lua.LState, a lights.Alarm) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("index", lua.LNumber(a.Index))
	t.RawSetString("time", lua.LNumber(a.Time.Unix()))
	t.RawSetString("power", lua.LBool(a.Power))
	t.RawSetString("duration", lua.LNumber(a.Duration.Milliseconds()))
	t.RawSetString("color", colorTable(L, a.Color))
	t.RawSetString("waveform", lua.LNumber(a.Waveform))
	return t
}
