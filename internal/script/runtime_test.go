package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wizd/internal/fade"
	"wizd/internal/kv"
	"wizd/internal/presets"
	"wizd/internal/wiz"
)

type call struct {
	name     string
	params   wiz.LightState
	preset   string
	duration time.Duration
	steps    int
	on       bool
}

type fakeController struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeController) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeController) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeController) Devices() []wiz.Device {
	return []wiz.Device{{IP: "192.0.2.10", ModuleName: "ESP01_SHRGB1C_31", MAC: "a8bb50000001"}}
}

func (f *fakeController) Select(ip string) error {
	f.record(call{name: "select"})
	return nil
}

func (f *fakeController) Power(on bool) error {
	f.record(call{name: "power", on: on})
	return nil
}

func (f *fakeController) SetParams(params wiz.LightState) error {
	f.record(call{name: "pilot", params: params})
	return nil
}

func (f *fakeController) GetState(context.Context) (*wiz.LightState, error) {
	return &wiz.LightState{State: wiz.Bool(true), Dimming: wiz.Int(70)}, nil
}

func (f *fakeController) FadeTo(_ context.Context, target wiz.LightState, duration time.Duration, steps int) (fade.Plan, error) {
	f.record(call{name: "fade", params: target, duration: duration, steps: steps})
	return fade.Plan{}, nil
}

func (f *fakeController) ApplyPreset(_ context.Context, name string, duration time.Duration, steps int) error {
	f.record(call{name: "preset", preset: name, duration: duration, steps: steps})
	return nil
}

const sceneScript = `
local wiz = require("wiz")
local presets = require("presets")
local log = require("log")

wiz.scene("evening", function()
	wiz.power(true)
	wiz.fade({ temp = 2200, dimming = 30 }, { duration = "2s", steps = 8 })
	log.info("evening started", { mood = "calm" })
end)

wiz.scene("relax_now", function()
	presets.apply("Relax", { duration = 1 })
end)

wiz.scene("report", function()
	local st = wiz.state()
	if st.dimming ~= 70 then
		error("unexpected dimming " .. tostring(st.dimming))
	end
end)

wiz.scene("bad", function()
	error("boom")
end)
`

func newTestRuntime(t *testing.T) (*Runtime, *fakeController) {
	t.Helper()

	ctrl := &fakeController{}
	store := presets.NewStore(kv.NewMemoryBucket("presets"))
	r := NewRuntime(ctrl, store, time.Second, 20)
	t.Cleanup(r.Close)

	path := filepath.Join(t.TempDir(), "scenes.lua")
	if err := os.WriteFile(path, []byte(sceneScript), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.LoadScript(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Serve(ctx)

	return r, ctrl
}

func TestLoadRegistersScenes(t *testing.T) {
	r, _ := newTestRuntime(t)

	got := r.Names()
	want := []string{"bad", "evening", "relax_now", "report"}
	if len(got) != len(want) {
		t.Fatalf("scenes = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scenes = %v, want %v", got, want)
		}
	}
}

func TestRunSceneDrivesController(t *testing.T) {
	r, ctrl := newTestRuntime(t)

	if err := r.Run(context.Background(), "evening"); err != nil {
		t.Fatalf("run: %v", err)
	}

	calls := ctrl.recorded()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].name != "power" || !calls[0].on {
		t.Errorf("first call = %+v", calls[0])
	}
	f := calls[1]
	if f.name != "fade" || *f.params.Temp != 2200 || *f.params.Dimming != 30 {
		t.Errorf("fade call = %+v", f)
	}
	if f.duration != 2*time.Second || f.steps != 8 {
		t.Errorf("fade opts = %v/%d", f.duration, f.steps)
	}
}

func TestScenePresetApply(t *testing.T) {
	r, ctrl := newTestRuntime(t)

	if err := r.Run(context.Background(), "relax_now"); err != nil {
		t.Fatalf("run: %v", err)
	}

	calls := ctrl.recorded()
	if len(calls) != 1 || calls[0].preset != "Relax" || calls[0].duration != time.Second {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestSceneReadsState(t *testing.T) {
	r, _ := newTestRuntime(t)
	if err := r.Run(context.Background(), "report"); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunUnknownScene(t *testing.T) {
	r, _ := newTestRuntime(t)
	if err := r.Run(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown scene")
	}
}

func TestSceneErrorPropagates(t *testing.T) {
	r, _ := newTestRuntime(t)

	err := r.Run(context.Background(), "bad")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunAfterClose(t *testing.T) {
	r, _ := newTestRuntime(t)
	r.Close()
	if err := r.Run(context.Background(), "evening"); err != ErrRuntimeClosed {
		t.Fatalf("err = %v, want ErrRuntimeClosed", err)
	}
}
