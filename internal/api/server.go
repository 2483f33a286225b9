// Package api exposes the controller over HTTP. Handlers stay thin: they
// decode JSON, call the controller and map its errors to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"wizd/internal/controller"
	"wizd/internal/fade"
	"wizd/internal/history"
	"wizd/internal/presets"
	"wizd/internal/wiz"
)

// SceneRunner runs named Lua scenes. Optional; a nil runner disables the
// scene routes.
type SceneRunner interface {
	Run(ctx context.Context, name string) error
	Names() []string
}

// Server is the HTTP front end over the controller.
type Server struct {
	addr       string
	ctrl       *controller.Controller
	presets    *presets.Store
	scenes     SceneRunner
	history    *history.Store
	scanBudget time.Duration
	httpServer *http.Server
}

// NewServer creates an API server. scanBudget bounds POST /rescan.
func NewServer(host string, port int, ctrl *controller.Controller, presetStore *presets.Store, scenes SceneRunner, hist *history.Store, scanBudget time.Duration) *Server {
	return &Server{
		addr:       fmt.Sprintf("%s:%d", host, port),
		ctrl:       ctrl,
		presets:    presetStore,
		scenes:     scenes,
		history:    hist,
		scanBudget: scanBudget,
	}
}

// Handler builds the route table. Exposed separately so tests can drive it
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("POST /rescan", s.handleRescan)
	mux.HandleFunc("POST /select", s.handleSelect)
	mux.HandleFunc("POST /power", s.handlePower)
	mux.HandleFunc("POST /pilot", s.handlePilot)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /fade", s.handleFade)
	mux.HandleFunc("POST /fade/stop", s.handleFadeStop)

	mux.HandleFunc("GET /presets", s.handlePresetList)
	mux.HandleFunc("PUT /presets/{name}", s.handlePresetSave)
	mux.HandleFunc("DELETE /presets/{name}", s.handlePresetDelete)
	mux.HandleFunc("POST /presets/{name}/apply", s.handlePresetApply)

	if s.scenes != nil {
		mux.HandleFunc("GET /scenes", s.handleSceneList)
		mux.HandleFunc("POST /scenes/{name}/run", s.handleSceneRun)
	}

	if s.history != nil {
		mux.HandleFunc("GET /history", s.handleHistory)
	}

	return mux
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"devices": s.ctrl.Devices()}
	if sel, ok := s.ctrl.Selected(); ok {
		out["selected"] = sel.IP
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	devices, err := s.ctrl.Rescan(r.Context(), s.scanBudget)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.Select(req.IP); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeOK(w)
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.Power(req.On); err != nil {
		writeControllerError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handlePilot(w http.ResponseWriter, r *http.Request) {
	var params wiz.LightState
	if !decodeBody(w, r, &params) {
		return
	}
	if params.IsEmpty() {
		writeError(w, http.StatusBadRequest, errors.New("empty pilot parameters"))
		return
	}
	if err := s.ctrl.SetParams(params); err != nil {
		writeControllerError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.GetState(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	out := map[string]any{
		"reachable": st != nil,
		"baseline":  s.ctrl.Baseline(),
	}
	if st != nil {
		out["state"] = st
	}
	writeJSON(w, http.StatusOK, out)
}

type fadeRequest struct {
	wiz.LightState
	Duration jsonDuration `json:"duration"`
	Steps    int             `json:"steps"`
}

// jsonDuration accepts both "2s" strings and bare milliseconds.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = jsonDuration(parsed)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*d = jsonDuration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (s *Server) handleFade(w http.ResponseWriter, r *http.Request) {
	var req fadeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LightState.IsEmpty() {
		writeError(w, http.StatusBadRequest, errors.New("no target parameters"))
		return
	}

	plan, err := s.ctrl.FadeTo(r.Context(), req.LightState, time.Duration(req.Duration), req.Steps)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"plan": plan})
}

func (s *Server) handleFadeStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.StopFade()
	writeOK(w)
}

func (s *Server) handlePresetList(w http.ResponseWriter, r *http.Request) {
	list, err := s.presets.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": list})
}

func (s *Server) handlePresetSave(w http.ResponseWriter, r *http.Request) {
	var params wiz.LightState
	if !decodeBody(w, r, &params) {
		return
	}
	if err := s.presets.Save(r.PathValue("name"), params); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeOK(w)
}

func (s *Server) handlePresetDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := s.presets.Delete(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fmt.Errorf("no custom preset %q", r.PathValue("name")))
		return
	}
	writeOK(w)
}

func (s *Server) handlePresetApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Duration jsonDuration `json:"duration"`
		Steps    int             `json:"steps"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	name := r.PathValue("name")
	if _, ok, err := s.presets.Get(name); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown preset %q", name))
		return
	}

	err := s.ctrl.ApplyPreset(r.Context(), name, time.Duration(req.Duration), req.Steps)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleSceneList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenes": s.scenes.Names()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", v))
			return
		}
		limit = n
	}

	var (
		entries []*history.Entry
		err     error
	)
	if et := r.URL.Query().Get("type"); et != "" {
		entries, err = s.history.ByType(et, limit)
	} else {
		entries, err = s.history.Recent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleSceneRun(w http.ResponseWriter, r *http.Request) {
	if err := s.scenes.Run(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeOK(w)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// writeControllerError maps controller failures onto HTTP semantics: a
// missing selection is a client-side conflict, not a server fault.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrNoDevice):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, fade.ErrPreempted):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode API response")
	}
}
