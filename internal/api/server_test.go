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

	"github.com/brewos/brewlink/internal/app"
	"github.com/brewos/brewlink/internal/cloud"
	"github.com/brewos/brewlink/internal/infrastructure/config"
	"github.com/brewos/brewlink/internal/infrastructure/logging"
	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/transport"
	"github.com/brewos/brewlink/internal/view"
)

// fakeOrchestrator is a scriptable Orchestrator for handler tests.
type fakeOrchestrator struct {
	phase     app.Phase
	state     view.State
	selection view.Selection
	devices   []cloud.Device

	sent    []machine.Command
	sendErr error

	opSelection view.Selection
	opErr       error

	enterDemoCalls int
	exitDemoCalls  int
	selectedIDs    []string
	setupCalls     int
	logoutCalls    int

	authURL        string
	beginLoginErr  error
	callbackStates []string
	callbackCodes  []string
	pairCodes      []string
	unpairIDs      []string
}

func (f *fakeOrchestrator) Phase() app.Phase          { return f.phase }
func (f *fakeOrchestrator) State() view.State         { return f.state }
func (f *fakeOrchestrator) Selection() view.Selection { return f.selection }
func (f *fakeOrchestrator) Devices() []cloud.Device   { return f.devices }

func (f *fakeOrchestrator) Send(cmd machine.Command) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeOrchestrator) EnterDemo(_ context.Context) (view.Selection, error) {
	f.enterDemoCalls++
	return f.opSelection, f.opErr
}

func (f *fakeOrchestrator) ExitDemo(_ context.Context) (view.Selection, error) {
	f.exitDemoCalls++
	return f.opSelection, f.opErr
}

func (f *fakeOrchestrator) SelectDevice(_ context.Context, deviceID string) (view.Selection, error) {
	f.selectedIDs = append(f.selectedIDs, deviceID)
	return f.opSelection, f.opErr
}

func (f *fakeOrchestrator) CompleteSetup(_ context.Context) (view.Selection, error) {
	f.setupCalls++
	return f.opSelection, f.opErr
}

func (f *fakeOrchestrator) Logout(_ context.Context) (view.Selection, error) {
	f.logoutCalls++
	return f.opSelection, f.opErr
}

func (f *fakeOrchestrator) BeginLogin() (string, error) {
	return f.authURL, f.beginLoginErr
}

func (f *fakeOrchestrator) CompleteLogin(_ context.Context, state, code string) (view.Selection, error) {
	f.callbackStates = append(f.callbackStates, state)
	f.callbackCodes = append(f.callbackCodes, code)
	return f.opSelection, f.opErr
}

func (f *fakeOrchestrator) PairDevice(_ context.Context, code string) (view.Selection, error) {
	f.pairCodes = append(f.pairCodes, code)
	return f.opSelection, f.opErr
}

func (f *fakeOrchestrator) UnpairDevice(_ context.Context, deviceID string) (view.Selection, error) {
	f.unpairIDs = append(f.unpairIDs, deviceID)
	return f.opSelection, f.opErr
}

// testServer creates a Server wired to a fake orchestrator and an empty store.
func testServer(t *testing.T, orch *fakeOrchestrator) (*Server, *machine.Store) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	store := machine.NewStore()

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Logger:       log,
		Orchestrator: orch,
		Store:        store,
		Registry:     transport.NewRegistry(false, nil),
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return srv, store
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

// fakeHealthChecker is a scriptable dependency probe.
type fakeHealthChecker struct {
	err error
}

func (f *fakeHealthChecker) HealthCheck(_ context.Context) error { return f.err }

func TestHealth_ProbesDependency(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	checker := &fakeHealthChecker{}

	srv, err := New(Deps{
		Config:       config.APIConfig{Host: "127.0.0.1"},
		Logger:       log,
		Orchestrator: &fakeOrchestrator{},
		Store:        machine.NewStore(),
		Version:      "test",
		Health:       checker,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthy probe status = %d, want %d", w.Code, http.StatusOK)
	}

	checker.err = errors.New("database is gone")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing probe status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/state", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── State Endpoint Tests ──────────────────────────────────────────

func TestState(t *testing.T) {
	orch := &fakeOrchestrator{
		phase: app.PhaseResolved,
		state: view.State{
			Initialized:    true,
			Mode:           view.ModeCloud,
			Authenticated:  true,
			DeviceCount:    2,
			SelectedDevice: "BRW-7F3A21",
		},
		selection: view.Selection{Route: view.RouteShell, DeviceID: "BRW-7F3A21"},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["route"] != "shell" {
		t.Errorf("route = %v, want shell", resp["route"])
	}
	if resp["deviceId"] != "BRW-7F3A21" {
		t.Errorf("deviceId = %v, want BRW-7F3A21", resp["deviceId"])
	}
	if resp["mode"] != "cloud" {
		t.Errorf("mode = %v, want cloud", resp["mode"])
	}
	if resp["phase"] != "resolved" {
		t.Errorf("phase = %v, want resolved", resp["phase"])
	}
	if int(resp["deviceCount"].(float64)) != 2 {
		t.Errorf("deviceCount = %v, want 2", resp["deviceCount"])
	}
	if _, present := resp["transport"]; present {
		t.Error("transport should be omitted when the slot is empty")
	}
}

func TestState_Uninitialized(t *testing.T) {
	orch := &fakeOrchestrator{
		phase:     app.PhaseResolving,
		state:     view.State{Mode: view.ModeUndetermined},
		selection: view.Selection{Route: view.RouteLoading},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["route"] != "loading" {
		t.Errorf("route = %v, want loading", resp["route"])
	}
	if resp["initialized"] != false {
		t.Errorf("initialized = %v, want false", resp["initialized"])
	}
}

// fakePresenceTransport occupies the registry slot and reports the
// appliance's presence like the relay transport does.
type fakePresenceTransport struct {
	online bool
	events chan machine.Snapshot
}

func newFakePresenceTransport(online bool) *fakePresenceTransport {
	return &fakePresenceTransport{online: online, events: make(chan machine.Snapshot)}
}

func (f *fakePresenceTransport) Connect(_ context.Context) error { return nil }
func (f *fakePresenceTransport) Disconnect()                     {}
func (f *fakePresenceTransport) Send(_ machine.Command) error    { return nil }
func (f *fakePresenceTransport) Events() <-chan machine.Snapshot { return f.events }
func (f *fakePresenceTransport) Status() transport.Status        { return transport.StatusConnected }
func (f *fakePresenceTransport) Kind() transport.Kind            { return transport.KindCloud }
func (f *fakePresenceTransport) DeviceOnline() bool              { return f.online }

func TestState_ReportsDevicePresence(t *testing.T) {
	orch := &fakeOrchestrator{
		state:     view.State{Mode: view.ModeCloud, Authenticated: true},
		selection: view.Selection{Route: view.RouteShell},
	}
	srv, _ := testServer(t, orch)
	if err := srv.registry.Register(newFakePresenceTransport(true)); err != nil {
		t.Fatalf("registering transport: %v", err)
	}
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Transport *transportInfo `json:"transport"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Transport == nil {
		t.Fatal("transport missing from state response")
	}
	if resp.Transport.DeviceOnline == nil || !*resp.Transport.DeviceOnline {
		t.Errorf("deviceOnline = %v, want true", resp.Transport.DeviceOnline)
	}
}

// ─── Machine Endpoint Tests ────────────────────────────────────────

func TestMachine_NoSnapshot(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/machine", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMachine_ReturnsLatest(t *testing.T) {
	srv, store := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	store.Update(machine.Snapshot{
		State:      machine.StateReady,
		Mode:       machine.ModeOn,
		BrewTemp:   92.5,
		ReceivedAt: time.Now(),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/machine", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var snap machine.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.State != machine.StateReady {
		t.Errorf("state = %v, want ready", snap.State)
	}
	if snap.BrewTemp != 92.5 {
		t.Errorf("brewTemp = %v, want 92.5", snap.BrewTemp)
	}
}

// ─── Command Endpoint Tests ────────────────────────────────────────

func TestCommand_Forwarded(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"type": "set_temp", "params": {"boiler": "brew", "temp": 93.5}}`
	req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	if len(orch.sent) != 1 {
		t.Fatalf("sent commands = %d, want 1", len(orch.sent))
	}
	if orch.sent[0].Type != machine.CmdSetTemp {
		t.Errorf("command type = %q, want set_temp", orch.sent[0].Type)
	}
	if orch.sent[0].Params["temp"] != 93.5 {
		t.Errorf("params.temp = %v, want 93.5", orch.sent[0].Params["temp"])
	}
}

func TestCommand_InvalidJSON(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCommand_MissingType(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(`{"params": {}}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCommand_NoTransport(t *testing.T) {
	orch := &fakeOrchestrator{sendErr: app.ErrNoTransport}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"type": "set_mode", "params": {"mode": "on"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var errResp Error
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if errResp.Code != ErrCodeUnavailable {
		t.Errorf("code = %q, want %q", errResp.Code, ErrCodeUnavailable)
	}
}

// ─── Demo Endpoint Tests ───────────────────────────────────────────

func TestEnterDemo(t *testing.T) {
	orch := &fakeOrchestrator{
		opSelection: view.Selection{Route: view.RouteShell, DeviceID: "DEMO-1"},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/demo", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if orch.enterDemoCalls != 1 {
		t.Errorf("EnterDemo calls = %d, want 1", orch.enterDemoCalls)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["route"] != "shell" {
		t.Errorf("route = %v, want shell", resp["route"])
	}
	if resp["deviceId"] != "DEMO-1" {
		t.Errorf("deviceId = %v, want DEMO-1", resp["deviceId"])
	}
}

func TestExitDemo(t *testing.T) {
	orch := &fakeOrchestrator{
		opSelection: view.Selection{Route: view.RouteLogin},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/demo", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if orch.exitDemoCalls != 1 {
		t.Errorf("ExitDemo calls = %d, want 1", orch.exitDemoCalls)
	}
}

// ─── Device Endpoint Tests ─────────────────────────────────────────

func TestListDevices(t *testing.T) {
	orch := &fakeOrchestrator{
		devices: []cloud.Device{
			{ID: "BRW-7F3A21", Name: "Kitchen", Online: true},
			{ID: "BRW-0B44C9", Name: "Office", Online: false},
		},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

func TestSelectDevice(t *testing.T) {
	orch := &fakeOrchestrator{
		opSelection: view.Selection{Route: view.RouteShell, DeviceID: "BRW-0B44C9"},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"deviceId": "BRW-0B44C9"}`
	req := httptest.NewRequest(http.MethodPost, "/api/device/select", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if len(orch.selectedIDs) != 1 || orch.selectedIDs[0] != "BRW-0B44C9" {
		t.Errorf("selected = %v, want [BRW-0B44C9]", orch.selectedIDs)
	}
}

func TestSelectDevice_MissingID(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/device/select", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSelectDevice_Unknown(t *testing.T) {
	orch := &fakeOrchestrator{opErr: app.ErrUnknownDevice}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"deviceId": "BRW-MISSING"}`
	req := httptest.NewRequest(http.MethodPost, "/api/device/select", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSelectDevice_NotCloudMode(t *testing.T) {
	orch := &fakeOrchestrator{opErr: app.ErrNotCloudMode}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"deviceId": "BRW-7F3A21"}`
	req := httptest.NewRequest(http.MethodPost, "/api/device/select", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// ─── Setup and Session Endpoint Tests ──────────────────────────────

func TestCompleteSetup(t *testing.T) {
	orch := &fakeOrchestrator{
		opSelection: view.Selection{Route: view.RouteShell},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/setup/complete", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if orch.setupCalls != 1 {
		t.Errorf("CompleteSetup calls = %d, want 1", orch.setupCalls)
	}
}

func TestLogout(t *testing.T) {
	orch := &fakeOrchestrator{
		opSelection: view.Selection{Route: view.RouteLogin},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if orch.logoutCalls != 1 {
		t.Errorf("Logout calls = %d, want 1", orch.logoutCalls)
	}
}

// ─── Auth and Pairing Endpoint Tests ───────────────────────────────

func TestAuthURL(t *testing.T) {
	orch := &fakeOrchestrator{authURL: "https://cloud.brewos.example/authorize?state=abc"}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/auth/url", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["url"] != orch.authURL {
		t.Errorf("url = %v, want %q", resp["url"], orch.authURL)
	}
}

func TestAuthCallback(t *testing.T) {
	orch := &fakeOrchestrator{
		opSelection: view.Selection{Route: view.RouteShell, DeviceID: "BRW-7F3A21"},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"state": "abc", "code": "auth-code-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/callback", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if len(orch.callbackStates) != 1 || orch.callbackStates[0] != "abc" {
		t.Errorf("callback states = %v, want [abc]", orch.callbackStates)
	}
	if len(orch.callbackCodes) != 1 || orch.callbackCodes[0] != "auth-code-1" {
		t.Errorf("callback codes = %v, want [auth-code-1]", orch.callbackCodes)
	}
}

func TestAuthCallback_MissingFields(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	for _, body := range []string{`{}`, `{"state": "abc"}`, `{"code": "auth-code-1"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/callback", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestAuthCallback_StateMismatch(t *testing.T) {
	orch := &fakeOrchestrator{opErr: app.ErrLoginState}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"state": "stale", "code": "auth-code-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/callback", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPairDevice(t *testing.T) {
	orch := &fakeOrchestrator{
		opSelection: view.Selection{Route: view.RouteShell, DeviceID: "BRW-0B44C9"},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"code": "PAIR-1234"}`
	req := httptest.NewRequest(http.MethodPost, "/api/devices/pair", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if len(orch.pairCodes) != 1 || orch.pairCodes[0] != "PAIR-1234" {
		t.Errorf("pair codes = %v, want [PAIR-1234]", orch.pairCodes)
	}
}

func TestPairDevice_MissingCode(t *testing.T) {
	srv, _ := testServer(t, &fakeOrchestrator{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/devices/pair", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPairDevice_Rejected(t *testing.T) {
	orch := &fakeOrchestrator{opErr: cloud.ErrPairingFailed}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"code": "PAIR-BAD"}`
	req := httptest.NewRequest(http.MethodPost, "/api/devices/pair", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPairDevice_SignedOut(t *testing.T) {
	orch := &fakeOrchestrator{opErr: cloud.ErrNotAuthenticated}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	body := `{"code": "PAIR-1234"}`
	req := httptest.NewRequest(http.MethodPost, "/api/devices/pair", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUnpairDevice(t *testing.T) {
	orch := &fakeOrchestrator{
		opSelection: view.Selection{Route: view.RouteShell},
	}
	srv, _ := testServer(t, orch)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/devices/BRW-0B44C9", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if len(orch.unpairIDs) != 1 || orch.unpairIDs[0] != "BRW-0B44C9" {
		t.Errorf("unpaired = %v, want [BRW-0B44C9]", orch.unpairIDs)
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	orch := &fakeOrchestrator{
		selection: view.Selection{Route: view.RouteLoading},
	}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 18972,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Logger:       log,
		Orchestrator: orch,
		Store:        machine.NewStore(),
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:18972/healthz")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get("http://127.0.0.1:18972/healthz"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestNew_MissingDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	if _, err := New(Deps{Orchestrator: &fakeOrchestrator{}, Store: machine.NewStore()}); err == nil {
		t.Error("expected error when logger is missing")
	}
	if _, err := New(Deps{Logger: log, Store: machine.NewStore()}); err == nil {
		t.Error("expected error when orchestrator is missing")
	}
	if _, err := New(Deps{Logger: log, Orchestrator: &fakeOrchestrator{}}); err == nil {
		t.Error("expected error when store is missing")
	}
}
