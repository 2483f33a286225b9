package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"wizd/internal/fade"
	"wizd/internal/wiz"
)

// entityConfig is the Home Assistant MQTT autodiscovery payload for one
// bulb, JSON schema with brightness, kelvin color temperature and RGB.
type entityConfig struct {
	Name            string   `json:"name"`
	UniqueID        string   `json:"unique_id"`
	CommandTopic    string   `json:"command_topic"`
	StateTopic      string   `json:"state_topic"`
	Schema          string   `json:"schema"`
	Brightness      bool     `json:"brightness"`
	ColorTempKelvin bool     `json:"color_temp_kelvin"`
	MinKelvin       int      `json:"min_kelvin"`
	MaxKelvin       int      `json:"max_kelvin"`
	ColorModes      []string `json:"supported_color_modes"`
}

// lightCommand is a command coming in over the command topic.
type lightCommand struct {
	State      string `json:"state"`
	Brightness *int   `json:"brightness"`
	ColorTemp  *int   `json:"color_temp"`
	Color      *struct {
		R *int `json:"r"`
		G *int `json:"g"`
		B *int `json:"b"`
	} `json:"color"`
	Transition float64 `json:"transition"` // seconds
}

// lightState is the state payload published back to Home Assistant.
type lightState struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness"`
	ColorTemp  int    `json:"color_temp"`
	Color      struct {
		R int `json:"r"`
		G int `json:"g"`
		B int `json:"b"`
	} `json:"color"`
}

func entityID(dev wiz.Device) string {
	if dev.MAC != "" {
		return dev.MAC
	}
	return strings.ReplaceAll(dev.IP, ".", "_")
}

func configTopic(prefix string, dev wiz.Device) string {
	return fmt.Sprintf("%s/light/wizd_%s/config", prefix, entityID(dev))
}

func commandTopic(dev wiz.Device) string {
	return fmt.Sprintf("wizd/light/%s/set", entityID(dev))
}

func stateTopic(dev wiz.Device) string {
	return fmt.Sprintf("wizd/light/%s/state", entityID(dev))
}

func configPayload(dev wiz.Device) ([]byte, error) {
	return json.Marshal(entityConfig{
		Name:            dev.Label(),
		UniqueID:        "wizd_" + entityID(dev),
		CommandTopic:    commandTopic(dev),
		StateTopic:      stateTopic(dev),
		Schema:          "json",
		Brightness:      true,
		ColorTempKelvin: true,
		MinKelvin:       2200,
		MaxKelvin:       6500,
		ColorModes:      []string{"color_temp", "rgb"},
	})
}

// commandToPilot maps an incoming command onto bulb parameters. Home
// Assistant brightness is 0..255, bulb dimming is percent.
func commandToPilot(cmd lightCommand) wiz.LightState {
	params := wiz.LightState{State: wiz.Bool(cmd.State != "OFF")}
	if cmd.Brightness != nil {
		params.Dimming = wiz.Int(brightnessToDimming(*cmd.Brightness))
	}
	if cmd.ColorTemp != nil {
		params.Temp = wiz.Int(*cmd.ColorTemp)
	}
	if cmd.Color != nil {
		if cmd.Color.R != nil {
			params.R = cmd.Color.R
		}
		if cmd.Color.G != nil {
			params.G = cmd.Color.G
		}
		if cmd.Color.B != nil {
			params.B = cmd.Color.B
		}
	}
	return params
}

func statePayload(on bool, vals fade.Values) ([]byte, error) {
	st := lightState{
		State:      "OFF",
		Brightness: dimmingToBrightness(vals.Dimming),
		ColorTemp:  vals.Temp,
	}
	if on {
		st.State = "ON"
	}
	st.Color.R = vals.R
	st.Color.G = vals.G
	st.Color.B = vals.B
	return json.Marshal(st)
}

func brightnessToDimming(brightness int) int {
	return clamp(int(math.Round(float64(brightness)*100.0/255.0)), 0, 100)
}

func dimmingToBrightness(dimming int) int {
	return clamp(int(math.Round(float64(dimming)*255.0/100.0)), 0, 255)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
