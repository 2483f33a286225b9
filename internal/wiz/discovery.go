package wiz

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultDiscoveryTimeout matches the scan window bulbs reliably answer in.
const DefaultDiscoveryTimeout = 3500 * time.Millisecond

// Discover broadcasts a getSystemConfig query and collects replies until
// timeout of wall-clock time has elapsed. Replies are deduplicated by
// sender IP with last-reply-wins semantics, keeping the order in which
// addresses first appeared. Zero devices is a normal outcome and returns
// an empty slice.
func (c *Client) Discover(ctx context.Context, timeout time.Duration) ([]Device, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("open discovery socket: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(GetSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("marshal discovery query: %w", err)
	}

	dst := &net.UDPAddr{IP: net.ParseIP(c.broadcast), Port: c.port}
	if dst.IP == nil {
		return nil, fmt.Errorf("invalid broadcast address %q", c.broadcast)
	}
	if _, err := conn.WriteToUDP(payload, dst); err != nil {
		return nil, fmt.Errorf("send discovery broadcast: %w", err)
	}

	log.Debug().Str("broadcast", c.broadcast).Int("port", c.port).Dur("timeout", timeout).Msg("Discovery scan started")

	found := newDeviceSet()
	buf := make([]byte, maxDatagram)
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			remaining = time.Until(d)
			if remaining <= 0 {
				break
			}
		}
		if err := conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Receive timeout ends the scan; anything else on an open
			// broadcast port is noise we can stop on as well.
			break
		}

		found.add(addr.IP.String(), buf[:n])
	}

	devices := found.list()
	log.Info().Int("count", len(devices)).Msg("Discovery scan finished")
	return devices, nil
}

// deviceSet collects discovery replies, one device per sender address.
// A later reply from a known address replaces the earlier one (the bulb's
// most recent report wins) without changing its position.
type deviceSet struct {
	order []string
	byIP  map[string]Device
}

func newDeviceSet() *deviceSet {
	return &deviceSet{byIP: make(map[string]Device)}
}

// add parses one reply datagram from ip. Datagrams that are not replies or
// lack a result payload are dropped: not everything on the port is a bulb.
func (s *deviceSet) add(ip string, datagram []byte) bool {
	resp := decodeResponse(datagram)
	if resp == nil || !resp.HasResult() {
		return false
	}
	dev, ok := parseDevice(ip, resp.Result)
	if !ok {
		return false
	}

	if _, seen := s.byIP[ip]; !seen {
		s.order = append(s.order, ip)
	}
	s.byIP[ip] = dev
	return true
}

// list returns the collected devices in first-seen order. Never nil.
func (s *deviceSet) list() []Device {
	devices := make([]Device, 0, len(s.order))
	for _, ip := range s.order {
		devices = append(devices, s.byIP[ip])
	}
	return devices
}
