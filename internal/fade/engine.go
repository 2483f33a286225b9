package fade

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wizd/internal/eventbus"
	"wizd/internal/wiz"
)

// ErrNoDevice is returned when a fade is requested with nothing selected.
// It is a guarded precondition, not a network failure: no I/O happens.
var ErrNoDevice = errors.New("no device selected")

// ErrPreempted is returned to a fade that was superseded by a newer one
// while it was still resolving its baseline.
var ErrPreempted = errors.New("fade preempted by a newer transition")

// Device is the slice of a bulb session the engine needs.
type Device interface {
	IP() string
	SetPilot(params wiz.LightState) error
	State(ctx context.Context) (*wiz.LightState, error)
}

// Engine drives at most one transition at a time against the selected
// device. A new fade preempts the running one: the generation counter is
// bumped under the mutex and every timer tick re-checks it, so a stale
// plan's leftover timer can never emit another step.
type Engine struct {
	bus *eventbus.Bus

	mu    sync.Mutex
	dev   Device
	cache Values
	gen   uint64
	timer *time.Timer
	plan  *Plan
}

// NewEngine creates an engine publishing step and terminal events on bus.
func NewEngine(bus *eventbus.Bus) *Engine {
	return &Engine{bus: bus, cache: DefaultValues}
}

// SetDevice swaps the driven device. Any running plan is cancelled first;
// a transition must never straddle two bulbs. A nil device deselects.
func (e *Engine) SetDevice(dev Device) {
	e.mu.Lock()
	e.preemptLocked()
	e.dev = dev
	e.mu.Unlock()
}

// Observe merges an externally observed state (a getPilot reply, a UI
// slider move) into the cached values used as baseline fallback.
func (e *Engine) Observe(st *wiz.LightState) {
	e.mu.Lock()
	e.cache = e.cache.Merge(st)
	e.mu.Unlock()
}

// Baseline returns the current cached values.
func (e *Engine) Baseline() Values {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache
}

// Active returns a snapshot of the running plan, if any.
func (e *Engine) Active() (Plan, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.plan == nil {
		return Plan{}, false
	}
	return *e.plan, true
}

// Stop cancels the running transition, if any. The bulb stays at whatever
// step was sent last.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.preemptLocked()
	e.mu.Unlock()
}

// Fade transitions the device to target over duration in steps+1 absolute
// setPilot commands. A running plan is cancelled before the first new step
// is issued. The baseline comes from a live state query, falling back per
// field to the cached values when the bulb does not answer. A silent bulb
// degrades the start point, it never fails the transition.
func (e *Engine) Fade(ctx context.Context, target wiz.LightState, duration time.Duration, steps int) (Plan, error) {
	e.mu.Lock()
	if e.dev == nil {
		e.mu.Unlock()
		log.Warn().Msg("No device selected, skipping fade")
		return Plan{}, ErrNoDevice
	}
	e.preemptLocked()
	gen := e.gen
	dev := e.dev
	cached := e.cache
	e.mu.Unlock()

	// Blocking query outside the lock; bounded by the session timeout.
	st, err := dev.State(ctx)
	if err != nil {
		return Plan{}, err
	}
	baseline := cached.Merge(st)

	plan := NewPlan(baseline, target, duration, steps)

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return Plan{}, ErrPreempted
	}
	e.plan = &plan
	e.mu.Unlock()

	log.Info().
		Str("plan_id", plan.ID).
		Str("ip", dev.IP()).
		Int("steps", plan.Steps).
		Dur("duration", plan.Duration).
		Interface("from", plan.Start).
		Interface("to", plan.End).
		Msg("Starting fade")

	e.step(gen, plan, 0)
	return plan, nil
}

// preemptLocked invalidates the current generation, stops the pending
// timer and reports the cancelled plan. Callers hold e.mu.
func (e *Engine) preemptLocked() {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.plan != nil {
		log.Debug().Str("plan_id", e.plan.ID).Msg("Fade cancelled")
		e.publish(eventbus.EventTypeFadeCancelled, map[string]any{"plan_id": e.plan.ID})
		e.plan = nil
	}
}

// step emits step i of plan and re-arms the timer for the next one. The
// generation check makes an already-cancelled plan's tick a no-op.
func (e *Engine) step(gen uint64, plan Plan, i int) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}

	vals := plan.At(i)
	e.cache = vals
	dev := e.dev
	last := i >= plan.Steps
	if last {
		e.timer = nil
		e.plan = nil
	} else {
		e.timer = time.AfterFunc(plan.Interval(), func() { e.step(gen, plan, i+1) })
	}
	e.mu.Unlock()

	// Each step is self-describing absolute state: a lost datagram costs
	// one intermediate hop, not correctness.
	if err := dev.SetPilot(vals.Pilot()); err != nil {
		log.Warn().Err(err).Str("plan_id", plan.ID).Int("step", i).Msg("Fade step send failed")
	}

	e.publish(eventbus.EventTypeFadeStep, map[string]any{
		"plan_id": plan.ID,
		"step":    i,
		"values":  vals,
	})
	if last {
		log.Debug().Str("plan_id", plan.ID).Msg("Fade completed")
		e.publish(eventbus.EventTypeFadeCompleted, map[string]any{"plan_id": plan.ID})
	}
}

func (e *Engine) publish(eventType eventbus.EventType, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: eventType, Data: data})
}
