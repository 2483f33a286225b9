package wiz

import "encoding/json"

// Device describes a discovered bulb. Identity is the IP address; a rescan
// replaces the whole known set, there is no merge.
type Device struct {
	IP         string         `json:"ip"`
	ModuleName string         `json:"moduleName,omitempty"`
	MAC        string         `json:"mac,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// Label returns a human-readable identifier for logs and UIs.
func (d Device) Label() string {
	name := d.ModuleName
	if name == "" {
		name = "WiZ Bulb"
	}
	return name + " @ " + d.IP
}

// parseDevice builds a Device from a getSystemConfig result payload and the
// sender address. Returns false when the payload is not a JSON object.
func parseDevice(ip string, result json.RawMessage) (Device, bool) {
	var raw map[string]any
	if err := json.Unmarshal(result, &raw); err != nil || raw == nil {
		return Device{}, false
	}

	dev := Device{IP: ip, Raw: raw}
	if v, ok := raw["moduleName"].(string); ok {
		dev.ModuleName = v
	}
	if v, ok := raw["mac"].(string); ok {
		dev.MAC = v
	}
	return dev, true
}
