package wiz

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Session binds a client to one selected bulb address. It holds no live
// connection: every operation is an independent datagram exchange, so
// switching bulbs is just creating a session for the other address.
type Session struct {
	client *Client
	ip     string
}

// NewSession creates a session for the bulb at ip.
func NewSession(client *Client, ip string) *Session {
	return &Session{client: client, ip: ip}
}

// IP returns the bulb address this session drives.
func (s *Session) IP() string {
	return s.ip
}

// Power turns the bulb on or off. Fire-and-forget.
func (s *Session) Power(on bool) error {
	_, err := s.client.Send(context.Background(), s.ip, SetPilot(LightState{State: Bool(on)}), false, 0)
	return err
}

// SetPilot applies a partial parameter set. Power defaults to on unless the
// caller specified it. Fire-and-forget.
func (s *Session) SetPilot(params LightState) error {
	if params.State == nil {
		params = params.WithPower(true)
	}
	_, err := s.client.Send(context.Background(), s.ip, SetPilot(params), false, 0)
	return err
}

// State queries the bulb's current pilot state, blocking up to the client's
// reply timeout. Returns nil when the bulb did not answer or the reply was
// unusable; the caller must treat that as "state unknown".
func (s *Session) State(ctx context.Context) (*LightState, error) {
	resp, err := s.client.Send(ctx, s.ip, GetPilot(), true, 0)
	if err != nil {
		return nil, err
	}
	if resp == nil || !resp.HasResult() {
		return nil, nil
	}

	st, err := ParseLightState(resp.Result)
	if err != nil {
		log.Debug().Str("ip", s.ip).Err(err).Msg("Discarding malformed pilot state")
		return nil, nil
	}
	return st, nil
}
