package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wizd/internal/controller"
	"wizd/internal/eventbus"
	"wizd/internal/fade"
	"wizd/internal/kv"
	"wizd/internal/presets"
	"wizd/internal/wiz"
)

type fakeScenes struct {
	ran []string
}

func (f *fakeScenes) Run(_ context.Context, name string) error {
	if name == "broken" {
		return errors.New("scene failed")
	}
	f.ran = append(f.ran, name)
	return nil
}

func (f *fakeScenes) Names() []string { return []string{"evening", "broken"} }

func newTestServer(t *testing.T) (*httptest.Server, *fakeScenes) {
	t.Helper()

	bus := eventbus.NewWithConfig(1, 256)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	})

	store := presets.NewStore(kv.NewMemoryBucket("presets"))
	engine := fade.NewEngine(bus)
	ctrl := controller.New(wiz.NewClient(0, "", 0), engine, bus, store, kv.NewMemoryBucket("device_states"))

	scenes := &fakeScenes{}
	srv := NewServer("127.0.0.1", 0, ctrl, store, scenes, nil, 100*time.Millisecond)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, scenes
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: bad response body: %v", method, path, err)
	}
	return resp, out
}

func TestDevicesEmpty(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := do(t, ts, http.MethodGet, "/devices", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := out["selected"]; ok {
		t.Fatalf("selected should be absent, got %v", out["selected"])
	}
}

func TestGuardedWithoutSelection(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/power", `{"on":true}`},
		{http.MethodPost, "/pilot", `{"dimming":50}`},
		{http.MethodGet, "/state", ""},
		{http.MethodPost, "/fade", `{"temp":2700,"duration":"1s"}`},
		{http.MethodPost, "/presets/Warm/apply", ""},
	}
	for _, tc := range cases {
		resp, out := do(t, ts, tc.method, tc.path, tc.body)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("%s %s: status = %d, want 409 (%v)", tc.method, tc.path, resp.StatusCode, out)
		}
	}
}

func TestSelectUnknownDevice(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, http.MethodPost, "/select", `{"ip":"192.0.2.50"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestValidationErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, http.MethodPost, "/pilot", `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", resp.StatusCode)
	}

	resp, _ = do(t, ts, http.MethodPost, "/pilot", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty pilot: status = %d", resp.StatusCode)
	}

	resp, _ = do(t, ts, http.MethodPost, "/fade", `{"duration":"1s"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("fade without target: status = %d", resp.StatusCode)
	}

	resp, _ = do(t, ts, http.MethodPost, "/fade", `{"temp":2700,"duration":"shortly"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad duration: status = %d", resp.StatusCode)
	}
}

func TestPresetLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := do(t, ts, http.MethodGet, "/presets", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status = %d", resp.StatusCode)
	}
	builtins := out["presets"].([]any)
	if len(builtins) != 7 {
		t.Fatalf("got %d presets, want 7 builtins", len(builtins))
	}

	resp, _ = do(t, ts, http.MethodPut, "/presets/Reading", `{"temp":4200,"dimming":85}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save: status = %d", resp.StatusCode)
	}

	resp, out = do(t, ts, http.MethodGet, "/presets", "")
	if resp.StatusCode != http.StatusOK || len(out["presets"].([]any)) != 8 {
		t.Fatalf("list after save: %v", out)
	}

	resp, _ = do(t, ts, http.MethodPut, "/presets/Reading", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty params: status = %d", resp.StatusCode)
	}

	resp, _ = do(t, ts, http.MethodDelete, "/presets/Reading", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status = %d", resp.StatusCode)
	}

	resp, _ = do(t, ts, http.MethodDelete, "/presets/Reading", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete again: status = %d", resp.StatusCode)
	}

	resp, _ = do(t, ts, http.MethodPost, "/presets/Nope/apply", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("apply unknown: status = %d", resp.StatusCode)
	}
}

func TestSceneRoutes(t *testing.T) {
	ts, scenes := newTestServer(t)

	resp, out := do(t, ts, http.MethodGet, "/scenes", "")
	if resp.StatusCode != http.StatusOK || len(out["scenes"].([]any)) != 2 {
		t.Fatalf("scene list: %v", out)
	}

	resp, _ = do(t, ts, http.MethodPost, "/scenes/evening/run", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run: status = %d", resp.StatusCode)
	}
	if len(scenes.ran) != 1 || scenes.ran[0] != "evening" {
		t.Fatalf("ran = %v", scenes.ran)
	}

	resp, _ = do(t, ts, http.MethodPost, "/scenes/broken/run", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("broken scene: status = %d", resp.StatusCode)
	}
}
