package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brewos/brewlink/internal/app"
	"github.com/brewos/brewlink/internal/cloud"
	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/transport"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/machine", s.handleMachine)
		r.Post("/command", s.handleCommand)

		r.Post("/demo", s.handleEnterDemo)
		r.Delete("/demo", s.handleExitDemo)

		r.Get("/devices", s.handleListDevices)
		r.Post("/device/select", s.handleSelectDevice)
		r.Post("/devices/pair", s.handlePairDevice)
		r.Delete("/devices/{deviceID}", s.handleUnpairDevice)

		r.Get("/auth/url", s.handleAuthURL)
		r.Post("/auth/callback", s.handleAuthCallback)

		r.Post("/setup/complete", s.handleCompleteSetup)
		r.Post("/logout", s.handleLogout)
	})

	return r
}

// handleHealth returns the server health status, probing the
// preferences database when one is wired in.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			s.logger.Error("health probe failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "degraded",
				"version": s.version,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// transportInfo describes the transport currently holding the
// connection slot, if any. DeviceOnline is set for transports that
// track the appliance's presence separately from their own link, like
// the relay's retained presence topic.
type transportInfo struct {
	Kind         transport.Kind   `json:"kind"`
	Status       transport.Status `json:"status"`
	DeviceOnline *bool            `json:"deviceOnline,omitempty"`
}

// stateResponse is the frontend's routing contract: everything it needs
// to decide which view tree to render.
type stateResponse struct {
	Route          string         `json:"route"`
	DeviceID       string         `json:"deviceId,omitempty"`
	Phase          app.Phase      `json:"phase"`
	Mode           string         `json:"mode"`
	Initialized    bool           `json:"initialized"`
	DemoActive     bool           `json:"demoActive"`
	Provisioning   bool           `json:"provisioning"`
	SetupComplete  bool           `json:"setupComplete"`
	Authenticated  bool           `json:"authenticated"`
	DeviceCount    int            `json:"deviceCount"`
	SelectedDevice string         `json:"selectedDevice,omitempty"`
	Transport      *transportInfo `json:"transport,omitempty"`
}

// handleState returns the routed view plus the application state behind it.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state := s.orch.State()
	sel := s.orch.Selection()

	resp := stateResponse{
		Route:          string(sel.Route),
		DeviceID:       sel.DeviceID,
		Phase:          s.orch.Phase(),
		Mode:           string(state.Mode),
		Initialized:    state.Initialized,
		DemoActive:     state.DemoActive,
		Provisioning:   state.Provisioning,
		SetupComplete:  state.SetupComplete,
		Authenticated:  state.Authenticated,
		DeviceCount:    state.DeviceCount,
		SelectedDevice: state.SelectedDevice,
	}

	if s.registry != nil {
		if tr := s.registry.Current(); tr != nil {
			resp.Transport = &transportInfo{Kind: tr.Kind(), Status: tr.Status()}
			if presence, ok := tr.(interface{ DeviceOnline() bool }); ok {
				online := presence.DeviceOnline()
				resp.Transport.DeviceOnline = &online
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMachine returns the latest machine snapshot, 404 when nothing
// has been received on the current connection yet.
func (s *Server) handleMachine(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.store.Latest()
	if !ok {
		writeNotFound(w, "no machine state received yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// commandRequest is the body of POST /api/command.
type commandRequest struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// handleCommand forwards a machine command to the active transport.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd := machine.Command{Type: req.Type, Params: req.Params}
	if err := cmd.Validate(); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.orch.Send(cmd); err != nil {
		switch {
		case errors.Is(err, app.ErrNoTransport), errors.Is(err, transport.ErrNotConnected):
			writeUnavailable(w, "no active connection to the machine")
		default:
			writeInternalError(w, "command delivery failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"sent": true})
}

// handleEnterDemo switches the application into demo mode.
func (s *Server) handleEnterDemo(w http.ResponseWriter, r *http.Request) {
	sel, err := s.orch.EnterDemo(r.Context())
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": sel.Route, "deviceId": sel.DeviceID})
}

// handleExitDemo leaves demo mode and re-resolves the real connection.
func (s *Server) handleExitDemo(w http.ResponseWriter, r *http.Request) {
	sel, err := s.orch.ExitDemo(r.Context())
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": sel.Route, "deviceId": sel.DeviceID})
}

// handleListDevices returns the paired appliance list.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.orch.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// selectDeviceRequest is the body of POST /api/device/select.
type selectDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

// handleSelectDevice switches the cloud session to another paired appliance.
func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "deviceId is required")
		return
	}

	sel, err := s.orch.SelectDevice(r.Context(), req.DeviceID)
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": sel.Route, "deviceId": sel.DeviceID})
}

// handleAuthURL starts the cloud login flow: the frontend opens the
// returned URL in the user's browser.
func (s *Server) handleAuthURL(w http.ResponseWriter, _ *http.Request) {
	url, err := s.orch.BeginLogin()
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

// authCallbackRequest is the body of POST /api/auth/callback: the state
// and code the provider's redirect carried.
type authCallbackRequest struct {
	State string `json:"state"`
	Code  string `json:"code"`
}

// handleAuthCallback completes the cloud login flow.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req authCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.State == "" || req.Code == "" {
		writeBadRequest(w, "state and code are required")
		return
	}

	sel, err := s.orch.CompleteLogin(r.Context(), req.State, req.Code)
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": sel.Route, "deviceId": sel.DeviceID})
}

// pairDeviceRequest is the body of POST /api/devices/pair.
type pairDeviceRequest struct {
	Code string `json:"code"`
}

// handlePairDevice claims an appliance by the pairing code it displays.
func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	var req pairDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	sel, err := s.orch.PairDevice(r.Context(), req.Code)
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": sel.Route, "deviceId": sel.DeviceID})
}

// handleUnpairDevice releases a paired appliance from the account.
func (s *Server) handleUnpairDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		writeBadRequest(w, "device id is required")
		return
	}

	sel, err := s.orch.UnpairDevice(r.Context(), deviceID)
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": sel.Route, "deviceId": sel.DeviceID})
}

// handleCompleteSetup marks the local appliance's first-run wizard done.
func (s *Server) handleCompleteSetup(w http.ResponseWriter, r *http.Request) {
	sel, err := s.orch.CompleteSetup(r.Context())
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": sel.Route, "deviceId": sel.DeviceID})
}

// handleLogout signs the cloud session out.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sel, err := s.orch.Logout(r.Context())
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": sel.Route, "deviceId": sel.DeviceID})
}

// writeOrchestratorError maps orchestrator sentinels onto HTTP responses.
func (s *Server) writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUnknownDevice):
		writeNotFound(w, "device is not in the paired list")
	case errors.Is(err, app.ErrNotCloudMode):
		writeConflict(w, "operation requires cloud mode")
	case errors.Is(err, app.ErrClosed):
		writeUnavailable(w, "application is shutting down")
	case errors.Is(err, app.ErrSuperseded):
		writeConflict(w, "superseded by a newer connection change")
	case errors.Is(err, app.ErrLoginState):
		writeBadRequest(w, "login state did not match, restart the login flow")
	case errors.Is(err, app.ErrNoSession):
		writeConflict(w, "cloud session is not configured")
	case errors.Is(err, cloud.ErrNotAuthenticated):
		writeUnauthorized(w, "cloud session is signed out")
	case errors.Is(err, cloud.ErrPairingFailed):
		writeBadRequest(w, "pairing code was not accepted")
	default:
		s.logger.Error("orchestrator operation failed", "error", err)
		writeInternalError(w, "operation failed")
	}
}
