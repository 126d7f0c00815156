//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	commandBuffer        = 64
	maxHandlersPerScript = 100
)

// sandboxed globals are removed from every VM.
var sandboxed = []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"}

// luaEventHandler is a Lua callback registered with lifx.on.
type luaEventHandler struct {
	eventType string
	light     string // ID or label, empty matches any
	property  string
	group     string
	fn        *lua.LFunction
}

// scriptVM owns one Lua state. Once serve is running, the state is only
// touched from the serve goroutine; everything else goes through enqueue.
type scriptVM struct {
	id     string
	state  *lua.LState
	logger *slog.Logger
	queue  chan func(*lua.LState)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	timers sync.WaitGroup

	mu       sync.Mutex
	handlers []luaEventHandler
}

func newScriptVM(ctx context.Context, id string, e *Engine) *scriptVM {
	ctx, cancel := context.WithCancel(ctx)
	L := lua.NewState()
	for _, name := range sandboxed {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)

	vm := &scriptVM{
		id:     id,
		state:  L,
		logger: e.logger.With("script", id),
		queue:  make(chan func(*lua.LState), commandBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	registerLifxModule(L, vm, e)
	registerSystemModule(L, e)
	return vm
}

// serve runs queued commands until the VM is stopped.
func (vm *scriptVM) serve() {
	defer close(vm.done)
	defer vm.state.Close()
	for {
		select {
		case <-vm.ctx.Done():
			return
		case fn := <-vm.queue:
			vm.run(fn)
		}
	}
}

func (vm *scriptVM) run(fn func(*lua.LState)) {
	defer func() {
		if r := recover(); r != nil {
			vm.logger.Error("lua command panic", "err", r)
		}
	}()
	fn(vm.state)
}

// enqueue schedules fn on the serve goroutine. It reports false if the VM
// is stopped or its queue is full.
func (vm *scriptVM) enqueue(fn func(*lua.LState)) bool {
	if vm.ctx.Err() != nil {
		return false
	}
	select {
	case vm.queue <- fn:
		return true
	default:
		vm.logger.Warn("command queue full, dropping")
		return false
	}
}

// after enqueues fn once d has elapsed, unless the VM stops first.
func (vm *scriptVM) after(d time.Duration, fn *lua.LFunction) {
	vm.timers.Add(1)
	go func() {
		defer vm.timers.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			vm.enqueue(func(L *lua.LState) { _ = vm.call(L, fn) })
		case <-vm.ctx.Done():
		}
	}()
}

// call invokes fn in protected mode and logs a failure.
func (vm *scriptVM) call(L *lua.LState, fn *lua.LFunction, args ...lua.LValue) error {
	err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
	if err != nil {
		vm.logger.Warn("lua callback failed", "err", err)
	}
	return err
}

// stop cancels a served VM and waits for its goroutines.
func (vm *scriptVM) stop() {
	vm.cancel()
	<-vm.done
	vm.timers.Wait()
}

// discard releases a VM that was never served.
func (vm *scriptVM) discard() {
	vm.cancel()
	vm.timers.Wait()
	vm.state.Close()
}

func (vm *scriptVM) addHandler(h luaEventHandler) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		return fmt.Errorf("too many handlers (max %d)", maxHandlersPerScript)
	}
	vm.handlers = append(vm.handlers, h)
	return nil
}

// matching returns the handlers whose filter accepts the event.
func (vm *scriptVM) matching(eventType string, fields map[string]any) []luaEventHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	var out []luaEventHandler
	for _, h := range vm.handlers {
		if matchesHandler(h, eventType, fields) {
			out = append(out, h)
		}
	}
	return out
}

func (vm *scriptVM) registered() []luaEventHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]luaEventHandler(nil), vm.handlers...)
}
