package wiz

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func pilotParams(t *testing.T, cmd Command) LightState {
	t.Helper()
	raw, err := json.Marshal(cmd.Params)
	if err != nil {
		t.Fatalf("re-marshal params: %v", err)
	}
	var st LightState
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	return st
}

func TestSessionPower(t *testing.T) {
	bulb := newFakeBulb(t, nil)
	session := NewSession(NewClient(bulb.port(), "127.0.0.1", time.Second), "127.0.0.1")

	if err := session.Power(false); err != nil {
		t.Fatalf("Power: %v", err)
	}

	cmds := bulb.waitForCommands(t, 1)
	if cmds[0].Method != MethodSetPilot {
		t.Fatalf("method = %q, want %q", cmds[0].Method, MethodSetPilot)
	}
	params := pilotParams(t, cmds[0])
	if params.State == nil || *params.State {
		t.Errorf("state = %v, want false", params.State)
	}
	if params.Dimming != nil || params.Temp != nil {
		t.Errorf("power command must carry only the state flag, got %+v", params)
	}
}

func TestSessionSetPilotMergesPowerOn(t *testing.T) {
	bulb := newFakeBulb(t, nil)
	session := NewSession(NewClient(bulb.port(), "127.0.0.1", time.Second), "127.0.0.1")

	if err := session.SetPilot(LightState{Dimming: Int(80), Temp: Int(4000)}); err != nil {
		t.Fatalf("SetPilot: %v", err)
	}

	cmds := bulb.waitForCommands(t, 1)
	params := pilotParams(t, cmds[0])
	if params.State == nil || !*params.State {
		t.Errorf("state = %v, want implicit true", params.State)
	}
	if params.Dimming == nil || *params.Dimming != 80 {
		t.Errorf("dimming = %v, want 80", params.Dimming)
	}
	if params.Temp == nil || *params.Temp != 4000 {
		t.Errorf("temp = %v, want 4000", params.Temp)
	}
}

func TestSessionState(t *testing.T) {
	bulb := newFakeBulb(t, replyWith(`{"method":"getPilot","result":{"state":true,"dimming":65,"temp":2700,"r":255,"g":120,"b":40}}`))
	session := NewSession(NewClient(bulb.port(), "127.0.0.1", time.Second), "127.0.0.1")

	st, err := session.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st == nil {
		t.Fatal("expected a state, got nil")
	}
	if *st.Dimming != 65 || *st.Temp != 2700 || *st.R != 255 || *st.G != 120 || *st.B != 40 {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestSessionStateNoReply(t *testing.T) {
	bulb := newFakeBulb(t, nil)
	session := NewSession(NewClient(bulb.port(), "127.0.0.1", 150*time.Millisecond), "127.0.0.1")

	st, err := session.State(context.Background())
	if err != nil {
		t.Fatalf("no reply must not be an error, got %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil state, got %+v", st)
	}
}
