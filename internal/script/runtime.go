// Package script hosts the Lua scene runtime. Scripts register named
// scenes at load time; the API triggers them later. The VM is
// single-threaded, so every execution goes through one worker goroutine.
package script

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"wizd/internal/fade"
	"wizd/internal/presets"
	"wizd/internal/wiz"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// Controller is the slice of the device controller scenes may drive.
type Controller interface {
	Devices() []wiz.Device
	Select(ip string) error
	Power(on bool) error
	SetParams(params wiz.LightState) error
	GetState(ctx context.Context) (*wiz.LightState, error)
	FadeTo(ctx context.Context, target wiz.LightState, duration time.Duration, steps int) (fade.Plan, error)
	ApplyPreset(ctx context.Context, name string, duration time.Duration, steps int) error
}

type luaWork func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L       *lua.LState
	ctrl    Controller
	presets *presets.Store

	defaultDuration time.Duration
	defaultSteps    int

	mu     sync.Mutex
	scenes map[string]*lua.LFunction

	// Work queue for thread-safe Lua execution
	workQueue chan luaWork

	// Closing this channel signals senders to stop; race-free in selects
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a new Lua runtime. defaultDuration and defaultSteps
// apply when a scene fades without explicit options.
func NewRuntime(ctrl Controller, presetStore *presets.Store, defaultDuration time.Duration, defaultSteps int) *Runtime {
	r := &Runtime{
		L:               lua.NewState(),
		ctrl:            ctrl,
		presets:         presetStore,
		defaultDuration: defaultDuration,
		defaultSteps:    defaultSteps,
		scenes:          make(map[string]*lua.LFunction),
		workQueue:       make(chan luaWork, 100),
		closing:         make(chan struct{}),
	}
	r.registerModules()
	return r
}

// Close signals the runtime to stop accepting new work and closes the Lua
// state. Safe to call concurrently with Run - it will see the closing signal.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		// The work queue is never closed, avoiding send-on-closed panics.
		r.L.Close()
	})
}

// LoadScript loads and executes the scene script (must be called before Serve)
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading scene script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute scene script: %w", err)
	}
	log.Info().Int("scenes", len(r.scenes)).Msg("Scene script loaded")
	return nil
}

// Serve starts the Lua worker goroutine - the ONLY goroutine that touches
// the VM after load. Exits when the context is cancelled or the runtime closes.
func (r *Runtime) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work luaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Scene work panicked, worker continuing")
		}
	}()
	// Modules reach the context via L.Context()
	r.L.SetContext(ctx)
	work(ctx)
}

// Names returns the registered scene names, sorted.
func (r *Runtime) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.scenes))
	for name := range r.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the named scene on the Lua worker and waits for it.
func (r *Runtime) Run(ctx context.Context, name string) error {
	r.mu.Lock()
	fn, ok := r.scenes[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown scene %q", name)
	}

	done := make(chan error, 1)
	work := luaWork(func(context.Context) {
		done <- r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- work:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("scene %q: %w", name, err)
		}
		return nil
	}
}

func (r *Runtime) registerScene(name string, fn *lua.LFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scenes[name]; exists {
		log.Warn().Str("scene", name).Msg("Scene redefined")
	}
	r.scenes[name] = fn
}

// registerModules registers all Lua modules
func (r *Runtime) registerModules() {
	r.L.PreloadModule("log", newLogModule().loader)
	r.L.PreloadModule("wiz", (&wizModule{r: r}).loader)
	r.L.PreloadModule("presets", (&presetModule{r: r}).loader)
}
