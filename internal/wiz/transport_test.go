package wiz

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeBulb is an in-process UDP responder standing in for a WiZ device.
// The handler returns zero or more reply datagrams per received command.
type fakeBulb struct {
	conn    *net.UDPConn
	handler func(cmd Command) [][]byte

	mu       sync.Mutex
	received []Command
}

func newFakeBulb(t *testing.T, handler func(cmd Command) [][]byte) *fakeBulb {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	b := &fakeBulb{conn: conn, handler: handler}
	go b.serve()
	t.Cleanup(func() { conn.Close() })

	return b
}

func (b *fakeBulb) serve() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(buf[:n], &cmd); err != nil {
			continue
		}

		b.mu.Lock()
		b.received = append(b.received, cmd)
		b.mu.Unlock()

		if b.handler == nil {
			continue
		}
		for _, reply := range b.handler(cmd) {
			b.conn.WriteToUDP(reply, addr)
		}
	}
}

func (b *fakeBulb) port() int {
	return b.conn.LocalAddr().(*net.UDPAddr).Port
}

func (b *fakeBulb) commands() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Command, len(b.received))
	copy(out, b.received)
	return out
}

func (b *fakeBulb) waitForCommands(t *testing.T, n int) []Command {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cmds := b.commands(); len(cmds) >= n {
			return cmds
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d commands, got %d", n, len(b.commands()))
	return nil
}

func replyWith(payloads ...string) func(Command) [][]byte {
	return func(Command) [][]byte {
		var out [][]byte
		for _, p := range payloads {
			out = append(out, []byte(p))
		}
		return out
	}
}

func TestSendWaitsForReply(t *testing.T) {
	bulb := newFakeBulb(t, replyWith(`{"method":"getPilot","result":{"state":true,"dimming":42,"temp":3000}}`))
	client := NewClient(bulb.port(), "127.0.0.1", 500*time.Millisecond)

	resp, err := client.Send(context.Background(), "127.0.0.1", GetPilot(), true, 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp == nil || !resp.HasResult() {
		t.Fatalf("expected a reply with result, got %+v", resp)
	}

	st, err := ParseLightState(resp.Result)
	if err != nil {
		t.Fatalf("ParseLightState: %v", err)
	}
	if st.Dimming == nil || *st.Dimming != 42 {
		t.Errorf("dimming = %v, want 42", st.Dimming)
	}
	if st.State == nil || !*st.State {
		t.Errorf("state = %v, want true", st.State)
	}
}

func TestSendTimeoutReturnsNoReply(t *testing.T) {
	// The bulb swallows everything.
	bulb := newFakeBulb(t, nil)
	client := NewClient(bulb.port(), "127.0.0.1", time.Second)

	timeout := 150 * time.Millisecond
	start := time.Now()
	resp, err := client.Send(context.Background(), "127.0.0.1", GetPilot(), true, timeout)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	if resp != nil {
		t.Fatalf("expected no reply, got %+v", resp)
	}
	if elapsed > timeout+300*time.Millisecond {
		t.Errorf("Send blocked for %v, want <= ~%v", elapsed, timeout)
	}
}

func TestSendMalformedReplyIsNoReply(t *testing.T) {
	bulb := newFakeBulb(t, replyWith(`this is not json`))
	client := NewClient(bulb.port(), "127.0.0.1", 500*time.Millisecond)

	resp, err := client.Send(context.Background(), "127.0.0.1", GetPilot(), true, 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp != nil {
		t.Fatalf("malformed reply must decode to nil, got %+v", resp)
	}
}

func TestSendFireAndForget(t *testing.T) {
	bulb := newFakeBulb(t, nil)
	client := NewClient(bulb.port(), "127.0.0.1", time.Second)

	start := time.Now()
	resp, err := client.Send(context.Background(), "127.0.0.1", SetPilot(LightState{Dimming: Int(50)}), false, 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp != nil {
		t.Fatalf("fire-and-forget must not return a reply, got %+v", resp)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("fire-and-forget blocked for %v", elapsed)
	}

	cmds := bulb.waitForCommands(t, 1)
	if cmds[0].Method != MethodSetPilot {
		t.Errorf("method = %q, want %q", cmds[0].Method, MethodSetPilot)
	}
}

func TestSendInvalidAddress(t *testing.T) {
	client := NewClient(DefaultPort, "", 0)

	if _, err := client.Send(context.Background(), "999.999.999.999", GetPilot(), false, 0); err == nil {
		t.Fatal("expected an error for an unresolvable address")
	}
}
