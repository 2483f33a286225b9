package wiz

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// maxDatagram is the receive buffer size; WiZ replies are far smaller.
const maxDatagram = 4096

// DefaultSendTimeout bounds the wait for a single reply datagram.
const DefaultSendTimeout = 1 * time.Second

// Client speaks the WiZ protocol. Every call opens its own ephemeral
// socket and releases it on return; there is no connection state to go
// stale between calls.
type Client struct {
	port      int
	broadcast string
	timeout   time.Duration
}

// NewClient creates a protocol client. Zero values select the well-known
// port, the limited broadcast address and a 1s reply timeout.
func NewClient(port int, broadcast string, timeout time.Duration) *Client {
	if port <= 0 {
		port = DefaultPort
	}
	if broadcast == "" {
		broadcast = "255.255.255.255"
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Client{port: port, broadcast: broadcast, timeout: timeout}
}

// Port returns the UDP port the client sends to.
func (c *Client) Port() int {
	return c.port
}

// Send serializes cmd into one datagram addressed to ip. With waitReply
// false it returns right after the send. With waitReply true it blocks up
// to timeout (the client default when zero) for exactly one inbound
// datagram and decodes it. A missing, late or malformed reply yields
// (nil, nil): absence of a reply is an operating condition of UDP, not an
// error. Errors are reserved for programmer mistakes such as an invalid
// address.
func (c *Client) Send(ctx context.Context, ip string, cmd Command, waitReply bool, timeout time.Duration) (*Response, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s command: %w", cmd.Method, err)
	}

	conn, err := net.Dial("udp4", net.JoinHostPort(ip, strconv.Itoa(c.port)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ip, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", cmd.Method, ip, err)
	}

	log.Debug().Str("ip", ip).Str("method", cmd.Method).Bool("wait_reply", waitReply).Msg("Sent command")

	if !waitReply {
		return nil, nil
	}

	if timeout <= 0 {
		timeout = c.timeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		// Timeout, ICMP unreachable and the like all mean the same thing
		// to callers: state unknown.
		log.Debug().Str("ip", ip).Str("method", cmd.Method).Err(err).Msg("No reply")
		return nil, nil
	}

	resp := decodeResponse(buf[:n])
	if resp == nil {
		log.Debug().Str("ip", ip).Str("method", cmd.Method).Msg("Discarding malformed reply")
	}
	return resp, nil
}
