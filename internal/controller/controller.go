// Package controller owns the operator-facing session state: the known
// device list, the selected bulb and its last observed values. Every
// front end (HTTP, MQTT, scenes) goes through it, so the core stays
// testable without any of them.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wizd/internal/eventbus"
	"wizd/internal/fade"
	"wizd/internal/kv"
	"wizd/internal/presets"
	"wizd/internal/wiz"
)

// ErrNoDevice mirrors the engine's guarded precondition for operations
// that need a selected bulb.
var ErrNoDevice = fade.ErrNoDevice

// Controller wires the protocol client, the fade engine and the preset
// registry behind one mutex-guarded façade.
type Controller struct {
	client  *wiz.Client
	engine  *fade.Engine
	bus     *eventbus.Bus
	presets *presets.Store
	states  kv.Bucket // last known values per bulb, survives restarts

	mu       sync.RWMutex
	devices  []wiz.Device
	selected *wiz.Device
	session  fade.Device

	// Seams for tests; default to the real client.
	newSession func(ip string) fade.Device
	discover   func(ctx context.Context, timeout time.Duration) ([]wiz.Device, error)
}

// New creates a controller. The states bucket persists each bulb's last
// known values so a restart does not reset fade baselines.
func New(client *wiz.Client, engine *fade.Engine, bus *eventbus.Bus, presetStore *presets.Store, states kv.Bucket) *Controller {
	c := &Controller{
		client:  client,
		engine:  engine,
		bus:     bus,
		presets: presetStore,
		states:  states,
		newSession: func(ip string) fade.Device {
			return wiz.NewSession(client, ip)
		},
		discover: client.Discover,
	}

	// Persist the resting state once a transition lands.
	bus.Subscribe(eventbus.EventTypeFadeCompleted, func(eventbus.Event) {
		c.persistState(c.engine.Baseline())
	})

	return c
}

// Devices returns the known device set from the last scan.
func (c *Controller) Devices() []wiz.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]wiz.Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// Selected returns the currently selected device.
func (c *Controller) Selected() (wiz.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.selected == nil {
		return wiz.Device{}, false
	}
	return *c.selected, true
}

// Rescan runs a discovery scan and replaces the whole known set (no merge
// semantics). The previous selection is kept when its address is still
// present, otherwise the first found device is selected. Blocking; callers
// that must not block offload and rejoin via the published event.
func (c *Controller) Rescan(ctx context.Context, timeout time.Duration) ([]wiz.Device, error) {
	devices, err := c.discover(ctx, timeout)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.devices = devices
	keep := ""
	if c.selected != nil {
		for _, d := range devices {
			if d.IP == c.selected.IP {
				keep = d.IP
				break
			}
		}
	}
	c.mu.Unlock()

	log.Info().Int("count", len(devices)).Msg("Rescan finished")
	c.bus.Publish(eventbus.Event{Type: eventbus.EventTypeDevices, Data: map[string]any{"devices": devices}})

	switch {
	case keep != "":
		// Selection survives; nothing to do.
	case len(devices) > 0:
		if err := c.Select(devices[0].IP); err != nil {
			return devices, err
		}
	default:
		c.deselect()
	}

	return devices, nil
}

// Select makes the device at ip the target of all session operations. The
// address must come from the known set.
func (c *Controller) Select(ip string) error {
	c.mu.Lock()
	var dev *wiz.Device
	for i := range c.devices {
		if c.devices[i].IP == ip {
			dev = &c.devices[i]
			break
		}
	}
	if dev == nil {
		c.mu.Unlock()
		return fmt.Errorf("unknown device %q, rescan first", ip)
	}

	selected := *dev
	c.selected = &selected
	c.session = c.newSession(ip)
	session := c.session
	c.mu.Unlock()

	// Swapping the device preempts any running fade.
	c.engine.SetDevice(session)
	c.engine.Observe(c.loadState(selected))

	log.Info().Str("ip", ip).Str("device", selected.Label()).Msg("Device selected")
	c.bus.Publish(eventbus.Event{Type: eventbus.EventTypeDeviceSelect, Data: map[string]any{"ip": ip}})
	return nil
}

func (c *Controller) deselect() {
	c.mu.Lock()
	c.selected = nil
	c.session = nil
	c.mu.Unlock()
	c.engine.SetDevice(nil)
	log.Info().Msg("No device selected")
}

func (c *Controller) currentSession() (fade.Device, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil || c.selected == nil {
		return nil, "", ErrNoDevice
	}
	return c.session, c.stateKey(*c.selected), nil
}

// Power turns the selected bulb on or off. Fire-and-forget.
func (c *Controller) Power(on bool) error {
	session, _, err := c.currentSession()
	if err != nil {
		log.Warn().Msg("No device selected, skipping power command")
		return err
	}
	c.engine.Stop() // a manual power command outranks a running fade
	return session.SetPilot(wiz.LightState{State: wiz.Bool(on)})
}

// SetParams applies a partial parameter set immediately (no transition).
func (c *Controller) SetParams(params wiz.LightState) error {
	session, _, err := c.currentSession()
	if err != nil {
		log.Warn().Msg("No device selected, skipping pilot command")
		return err
	}
	c.engine.Stop()
	if err := session.SetPilot(params); err != nil {
		return err
	}
	c.engine.Observe(&params)
	c.persistState(c.engine.Baseline())
	return nil
}

// GetState queries the selected bulb. A nil state with nil error means the
// bulb did not answer. Observed values feed the fade baseline cache and
// the persisted per-bulb state.
func (c *Controller) GetState(ctx context.Context) (*wiz.LightState, error) {
	session, _, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	st, err := session.State(ctx)
	if err != nil || st == nil {
		return st, err
	}

	c.engine.Observe(st)
	c.persistState(c.engine.Baseline())
	c.bus.Publish(eventbus.Event{Type: eventbus.EventTypeState, Data: map[string]any{
		"ip":    session.IP(),
		"state": *st,
	}})
	return st, nil
}

// FadeTo starts a transition to target, preempting any running one.
func (c *Controller) FadeTo(ctx context.Context, target wiz.LightState, duration time.Duration, steps int) (fade.Plan, error) {
	return c.engine.Fade(ctx, target, duration, steps)
}

// StopFade cancels the running transition, if any.
func (c *Controller) StopFade() {
	c.engine.Stop()
}

// ApplyPreset resolves a named preset and either applies it at once
// (duration 0) or fades to it.
func (c *Controller) ApplyPreset(ctx context.Context, name string, duration time.Duration, steps int) error {
	p, ok, err := c.presets.Get(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown preset %q", name)
	}

	log.Info().Str("preset", name).Dur("duration", duration).Msg("Applying preset")
	if duration <= 0 {
		return c.SetParams(p.Params)
	}
	_, err = c.FadeTo(ctx, p.Params, duration, steps)
	return err
}

// Baseline exposes the engine's current cached values (for UIs).
func (c *Controller) Baseline() fade.Values {
	return c.engine.Baseline()
}

// ActiveFade exposes the running plan, if any.
func (c *Controller) ActiveFade() (fade.Plan, bool) {
	return c.engine.Active()
}

// stateKey prefers the MAC so a bulb that changes address keeps its
// cached values.
func (c *Controller) stateKey(dev wiz.Device) string {
	if dev.MAC != "" {
		return dev.MAC
	}
	return dev.IP
}

func (c *Controller) loadState(dev wiz.Device) *wiz.LightState {
	raw, err := c.states.Get(c.stateKey(dev))
	if err != nil || raw == nil {
		return nil
	}
	var st wiz.LightState
	if err := json.Unmarshal(raw, &st); err != nil {
		log.Debug().Str("ip", dev.IP).Err(err).Msg("Discarding corrupt cached state")
		return nil
	}
	return &st
}

func (c *Controller) persistState(vals fade.Values) {
	c.mu.RLock()
	selected := c.selected
	c.mu.RUnlock()
	if selected == nil {
		return
	}

	raw, err := json.Marshal(vals.Pilot())
	if err != nil {
		return
	}
	if err := c.states.Put(c.stateKey(*selected), raw); err != nil {
		log.Warn().Err(err).Str("ip", selected.IP).Msg("Failed to persist bulb state")
	}
}
