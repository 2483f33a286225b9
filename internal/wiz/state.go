package wiz

import "encoding/json"

// LightState is the partial parameter set of a bulb. Any subset of fields
// may be present; nil means "not specified". RGB and temp are independent
// at the protocol level even though they belong to different color models.
type LightState struct {
	State   *bool `json:"state,omitempty"`
	Dimming *int  `json:"dimming,omitempty"` // observed range 10-100
	Temp    *int  `json:"temp,omitempty"`    // Kelvin, observed 2000-6500
	R       *int  `json:"r,omitempty"`       // 0-255
	G       *int  `json:"g,omitempty"`
	B       *int  `json:"b,omitempty"`
}

// IsEmpty reports whether no field is specified.
func (s LightState) IsEmpty() bool {
	return s.State == nil && s.Dimming == nil && s.Temp == nil &&
		s.R == nil && s.G == nil && s.B == nil
}

// WithPower returns a copy with the power flag set. setPilot commands
// default to state=true unless the caller says otherwise.
func (s LightState) WithPower(on bool) LightState {
	s.State = &on
	return s
}

// ParseLightState decodes a getPilot result payload. Unknown fields in the
// payload are ignored.
func ParseLightState(result json.RawMessage) (*LightState, error) {
	var st LightState
	if err := json.Unmarshal(result, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
