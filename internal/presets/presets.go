// Package presets is a registry of named light parameter sets: a fixed
// built-in collection plus user presets persisted through a KV bucket.
// The rest of the system treats presets purely as partial-state inputs.
package presets

import (
	"encoding/json"
	"fmt"
	"sort"

	"wizd/internal/kv"
	"wizd/internal/wiz"
)

// Preset is a named partial parameter set.
type Preset struct {
	Name    string         `json:"name"`
	Params  wiz.LightState `json:"params"`
	Builtin bool           `json:"builtin"`
}

// builtinOrder keeps the classic presentation order.
var builtinOrder = []string{"Warm", "Cool", "Focus", "Relax", "Sunset", "Forest", "Night"}

var builtin = map[string]wiz.LightState{
	"Warm":   {Temp: wiz.Int(2700), Dimming: wiz.Int(65)},
	"Cool":   {Temp: wiz.Int(5000), Dimming: wiz.Int(75)},
	"Focus":  {Temp: wiz.Int(6500), Dimming: wiz.Int(100)},
	"Relax":  {Temp: wiz.Int(2200), Dimming: wiz.Int(40)},
	"Sunset": {R: wiz.Int(255), G: wiz.Int(120), B: wiz.Int(40), Dimming: wiz.Int(55)},
	"Forest": {R: wiz.Int(0), G: wiz.Int(180), B: wiz.Int(80), Dimming: wiz.Int(60)},
	"Night":  {Temp: wiz.Int(2200), Dimming: wiz.Int(10)},
}

// Store resolves preset names. Custom presets shadow built-ins of the
// same name.
type Store struct {
	bucket kv.Bucket
}

// NewStore creates a preset store over the given bucket.
func NewStore(bucket kv.Bucket) *Store {
	return &Store{bucket: bucket}
}

// Get resolves a preset by name.
func (s *Store) Get(name string) (Preset, bool, error) {
	raw, err := s.bucket.Get(name)
	if err != nil {
		return Preset{}, false, err
	}
	if raw != nil {
		var params wiz.LightState
		if err := json.Unmarshal(raw, &params); err != nil {
			return Preset{}, false, fmt.Errorf("preset %q is corrupt: %w", name, err)
		}
		return Preset{Name: name, Params: params}, true, nil
	}

	if params, ok := builtin[name]; ok {
		return Preset{Name: name, Params: params, Builtin: true}, true, nil
	}
	return Preset{}, false, nil
}

// Save persists a custom preset, replacing any previous one of that name.
func (s *Store) Save(name string, params wiz.LightState) error {
	if name == "" {
		return fmt.Errorf("preset name must not be empty")
	}
	if params.IsEmpty() {
		return fmt.Errorf("preset %q has no parameters", name)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal preset %q: %w", name, err)
	}
	return s.bucket.Put(name, raw)
}

// Delete removes a custom preset. Built-ins cannot be deleted; deleting a
// custom preset that shadowed a built-in uncovers the built-in again.
func (s *Store) Delete(name string) (bool, error) {
	return s.bucket.Delete(name)
}

// List returns built-ins in their fixed order followed by custom presets
// sorted by name.
func (s *Store) List() ([]Preset, error) {
	keys, err := s.bucket.Keys()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	custom := make(map[string]bool, len(keys))
	for _, name := range keys {
		custom[name] = true
	}

	out := make([]Preset, 0, len(builtinOrder)+len(keys))
	for _, name := range builtinOrder {
		if custom[name] {
			continue // shadowed
		}
		out = append(out, Preset{Name: name, Params: builtin[name], Builtin: true})
	}
	for _, name := range keys {
		p, ok, err := s.Get(name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}
