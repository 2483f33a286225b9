// Package wiz implements the WiZ JSON-over-UDP protocol: one request
// datagram per command, at most one reply datagram, no framing and no
// delivery guarantee.
package wiz

import "encoding/json"

// DefaultPort is the UDP port WiZ bulbs listen on.
const DefaultPort = 38899

// Well-known method names.
const (
	MethodGetSystemConfig = "getSystemConfig"
	MethodSetPilot        = "setPilot"
	MethodGetPilot        = "getPilot"
)

// Command is a request as it appears on the wire.
type Command struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// GetSystemConfig builds the discovery query.
func GetSystemConfig() Command {
	return Command{Method: MethodGetSystemConfig, Params: struct{}{}}
}

// SetPilot builds a state-change command. The bulb ignores absent fields.
func SetPilot(params LightState) Command {
	return Command{Method: MethodSetPilot, Params: params}
}

// GetPilot builds a state query.
func GetPilot() Command {
	return Command{Method: MethodGetPilot, Params: struct{}{}}
}

// Response is a reply envelope. Replies without a result payload are not
// considered valid responses.
type Response struct {
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
}

// HasResult reports whether the reply carried a result payload.
func (r *Response) HasResult() bool {
	return len(r.Result) > 0 && string(r.Result) != "null"
}

// decodeResponse parses a raw datagram into a Response.
// Returns nil for anything that is not a well-formed reply.
func decodeResponse(data []byte) *Response {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	return &resp
}
