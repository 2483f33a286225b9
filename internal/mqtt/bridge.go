// Package mqtt bridges bulbs into Home Assistant over MQTT autodiscovery.
// Every discovered bulb is registered as a JSON-schema light entity;
// commands on an entity's topic select that bulb and drive the controller.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"wizd/internal/config"
	"wizd/internal/controller"
	"wizd/internal/eventbus"
	"wizd/internal/wiz"
)

// Bridge connects the controller to an MQTT broker.
type Bridge struct {
	cfg    config.MQTTConfig
	ctrl   *controller.Controller
	bus    *eventbus.Bus
	client paho.Client

	mu          sync.Mutex
	registered  map[string]wiz.Device // entity id -> device
	power       map[string]bool       // last known power per entity id
	lastPayload map[string]string     // last published state per entity id
}

// New creates a bridge and hooks it into the event bus. Connect happens
// in Run.
func New(cfg config.MQTTConfig, ctrl *controller.Controller, bus *eventbus.Bus) *Bridge {
	b := &Bridge{
		cfg:         cfg,
		ctrl:        ctrl,
		bus:         bus,
		registered:  make(map[string]wiz.Device),
		power:       make(map[string]bool),
		lastPayload: make(map[string]string),
	}

	bus.Subscribe(eventbus.EventTypeDevices, func(eventbus.Event) {
		b.registerAll()
	})
	bus.Subscribe(eventbus.EventTypeState, func(ev eventbus.Event) {
		if st, ok := ev.Data["state"].(wiz.LightState); ok && st.State != nil {
			b.observePower(*st.State)
		}
		b.publishSelected()
	})
	bus.Subscribe(eventbus.EventTypeFadeCompleted, func(eventbus.Event) {
		b.publishSelected()
	})

	return b
}

func (b *Bridge) clientOptions() *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID("wizd").
		SetUsername(b.cfg.Username).
		SetPassword(b.cfg.Password).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			log.Info().Msg("MQTT reconnecting")
		}).
		SetOnConnectHandler(func(paho.Client) {
			log.Info().Str("broker", b.cfg.Broker).Msg("MQTT connected")
			// Registrations and subscriptions do not survive a broker
			// restart with a clean session.
			b.registerAll()
		})
}

// Run connects to the broker and blocks until the context is cancelled,
// polling the selected bulb at the configured interval so Home Assistant
// sees out-of-band changes.
func (b *Bridge) Run(ctx context.Context) error {
	b.client = paho.NewClient(b.clientOptions())
	if t := b.client.Connect(); t.Wait() && t.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", t.Error())
	}

	ticker := time.NewTicker(b.cfg.RefreshInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.client.Disconnect(250)
			log.Info().Msg("MQTT bridge stopped")
			return nil
		case <-ticker.C:
			// GetState feeds the bus; the state handler publishes.
			if _, err := b.ctrl.GetState(ctx); err != nil && err != controller.ErrNoDevice {
				log.Warn().Err(err).Msg("MQTT state refresh failed")
			}
		}
	}
}

// registerAll publishes an autodiscovery config for every known bulb and
// subscribes to its command topic. Safe to call repeatedly.
func (b *Bridge) registerAll() {
	if b.client == nil || !b.client.IsConnected() {
		return
	}

	for _, dev := range b.ctrl.Devices() {
		dev := dev
		id := entityID(dev)

		payload, err := configPayload(dev)
		if err != nil {
			log.Error().Err(err).Str("ip", dev.IP).Msg("Failed to marshal entity config")
			continue
		}
		if t := b.client.Publish(configTopic(b.cfg.TopicPrefix, dev), 0, true, payload); t.Wait() && t.Error() != nil {
			log.Error().Err(t.Error()).Str("ip", dev.IP).Msg("Failed to register entity")
			continue
		}

		if t := b.client.Subscribe(commandTopic(dev), 0, func(_ paho.Client, msg paho.Message) {
			b.handleCommand(dev, msg.Payload())
		}); t.Wait() && t.Error() != nil {
			log.Error().Err(t.Error()).Str("ip", dev.IP).Msg("Failed to subscribe to command topic")
			continue
		}

		b.mu.Lock()
		if _, seen := b.registered[id]; !seen {
			log.Info().Str("device", dev.Label()).Msg("Registered with Home Assistant")
		}
		b.registered[id] = dev
		b.mu.Unlock()
	}
}

// handleCommand applies one Home Assistant command. The addressed bulb
// becomes the selected device; commands are a form of selection.
func (b *Bridge) handleCommand(dev wiz.Device, payload []byte) {
	var cmd lightCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Warn().Err(err).Str("ip", dev.IP).Msg("Dropping malformed MQTT command")
		return
	}

	if sel, ok := b.ctrl.Selected(); !ok || sel.IP != dev.IP {
		if err := b.ctrl.Select(dev.IP); err != nil {
			log.Warn().Err(err).Str("ip", dev.IP).Msg("MQTT command for unknown device")
			return
		}
	}

	on := cmd.State != "OFF"
	b.observePower(on)

	var err error
	switch {
	case !on:
		err = b.ctrl.Power(false)
	case cmd.Transition > 0:
		params := commandToPilot(cmd)
		params.State = nil // the engine drives absolute values, power is implied
		duration := time.Duration(cmd.Transition * float64(time.Second))
		if params.IsEmpty() {
			err = b.ctrl.Power(true)
		} else {
			_, err = b.ctrl.FadeTo(context.Background(), params, duration, 0)
		}
	default:
		err = b.ctrl.SetParams(commandToPilot(cmd))
	}
	if err != nil {
		log.Warn().Err(err).Str("ip", dev.IP).Msg("MQTT command failed")
		return
	}

	b.publishSelected()
}

func (b *Bridge) observePower(on bool) {
	sel, ok := b.ctrl.Selected()
	if !ok {
		return
	}
	b.mu.Lock()
	b.power[entityID(sel)] = on
	b.mu.Unlock()
}

// publishSelected pushes the selected bulb's state, skipping publishes
// when nothing changed since the last one.
func (b *Bridge) publishSelected() {
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	sel, ok := b.ctrl.Selected()
	if !ok {
		return
	}

	id := entityID(sel)
	b.mu.Lock()
	on, seen := b.power[id]
	b.mu.Unlock()
	if !seen {
		on = true
	}

	payload, err := statePayload(on, b.ctrl.Baseline())
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal state payload")
		return
	}

	b.mu.Lock()
	changed := b.lastPayload[id] != string(payload)
	if changed {
		b.lastPayload[id] = string(payload)
	}
	b.mu.Unlock()
	if !changed {
		return
	}

	if t := b.client.Publish(stateTopic(sel), 0, true, payload); t.Wait() && t.Error() != nil {
		log.Warn().Err(t.Error()).Str("ip", sel.IP).Msg("Failed to publish state")
	}
}
