package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brewos/brewlink/internal/cloud"
	"github.com/brewos/brewlink/internal/localapi"
	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/prefs"
	"github.com/brewos/brewlink/internal/transport"
	"github.com/brewos/brewlink/internal/view"
)

// Phase is the mode resolver's lifecycle state.
type Phase string

// Resolver phases. A stuck Resolving phase is a defect: resolution
// always reaches Resolved, defaulting to cloud on failure.
const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseResolving     Phase = "resolving"
	PhaseResolved      Phase = "resolved"
)

// Logger is the logging interface the orchestrator needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// DeviceAPI is the appliance REST surface the resolver depends on.
// Implemented by localapi.Client.
type DeviceAPI interface {
	Mode(ctx context.Context) (localapi.ModeInfo, error)
	IsSetupComplete(ctx context.Context) bool
	CompleteSetup(ctx context.Context) error
}

// CloudSession is the cloud-mode collaborator boundary.
// Implemented by cloud.Session.
type CloudSession interface {
	Authenticated() bool
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) error
	Devices(ctx context.Context) ([]cloud.Device, error)
	RelayCredentials(ctx context.Context, deviceID string) (cloud.RelayCredentials, error)
	Pair(ctx context.Context, code string) (cloud.Device, error)
	Unpair(ctx context.Context, deviceID string) error
	Logout() error
}

// Prefs is the persisted preference surface the orchestrator depends on.
// Implemented by prefs.Store.
type Prefs interface {
	DemoActive(ctx context.Context) (bool, error)
	SetDemoActive(ctx context.Context, active bool) error
	SelectedDevice(ctx context.Context) (string, error)
	SetSelectedDevice(ctx context.Context, deviceID string) error
	CachedDevices(ctx context.Context) ([]prefs.CachedDevice, error)
	ReplaceCachedDevices(ctx context.Context, devices []prefs.CachedDevice) error
}

// Factories construct transports. Injected so tests can substitute
// fakes and so the orchestrator never imports concrete transports.
type Factories struct {
	// Local builds the LAN transport.
	Local func() transport.Transport

	// Cloud builds a relay transport scoped to a device, authenticated
	// with relay credentials.
	Cloud func(deviceID string, creds cloud.RelayCredentials) transport.Transport

	// Demo builds the simulator transport.
	Demo func() transport.Transport
}

// Options configures the orchestrator.
type Options struct {
	DeviceAPI      DeviceAPI
	Session        CloudSession
	Prefs          Prefs
	Registry       *transport.Registry
	Binder         *machine.Binder
	Store          *machine.Store
	Factories      Factories
	ResolveTimeout time.Duration
	Logger         Logger
}

// Orchestrator owns the mode resolver state machine and the transport
// lifecycle around the registry's single slot.
type Orchestrator struct {
	deviceAPI      DeviceAPI
	session        CloudSession
	prefs          Prefs
	registry       *transport.Registry
	binder         *machine.Binder
	store          *machine.Store
	factories      Factories
	resolveTimeout time.Duration
	logger         Logger

	// opMu serializes every operation that touches the transport slot.
	opMu sync.Mutex

	// mu guards the fields below; held only for short reads/writes so
	// State() never blocks behind a network call.
	mu         sync.Mutex
	phase      Phase
	closed     bool
	epoch      uint64
	state      view.State
	devices    []cloud.Device
	loginState string
}

// New creates an orchestrator in the uninitialized phase.
func New(opts Options) *Orchestrator {
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 5 * time.Second
	}
	return &Orchestrator{
		deviceAPI:      opts.DeviceAPI,
		session:        opts.Session,
		prefs:          opts.Prefs,
		registry:       opts.Registry,
		binder:         opts.Binder,
		store:          opts.Store,
		factories:      opts.Factories,
		resolveTimeout: opts.ResolveTimeout,
		logger:         opts.Logger,
		phase:          PhaseUninitialized,
		state:          view.State{Mode: view.ModeUndetermined},
	}
}

// Phase returns the resolver's current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// State returns the current routing state.
func (o *Orchestrator) State() view.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Selection returns the route the view layer should render now.
func (o *Orchestrator) Selection() view.Selection {
	return view.Select(o.State())
}

// Devices returns the paired device list from the last resolution.
func (o *Orchestrator) Devices() []cloud.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]cloud.Device, len(o.devices))
	copy(out, o.devices)
	return out
}

// Send forwards a command over the active transport.
func (o *Orchestrator) Send(cmd machine.Command) error {
	tr := o.registry.Current()
	if tr == nil {
		return ErrNoTransport
	}
	return tr.Send(cmd)
}

// Resolve runs one full mode resolution: teardown of any previous
// transport, the demo-override check, mode discovery, the setup gate,
// and transport activation for the branch that applies.
//
// Resolution always terminates: discovery runs under the configured
// timeout and any failure resolves to cloud/unauthenticated.
func (o *Orchestrator) Resolve(ctx context.Context) (view.Selection, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return view.Selection{}, ErrClosed
	}
	o.phase = PhaseResolving
	o.epoch++
	epoch := o.epoch
	o.mu.Unlock()

	// Any previous transport dies before a new branch is chosen.
	o.binder.Unbind()
	o.registry.Teardown()
	o.store.Clear()

	state := o.resolveBranch(ctx, epoch)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return view.Selection{}, ErrClosed
	}
	o.phase = PhaseResolved
	state.Initialized = true
	o.state = state
	o.mu.Unlock()

	selection := view.Select(state)
	if o.logger != nil {
		o.logger.Info("mode resolved",
			"mode", string(state.Mode),
			"route", string(selection.Route),
			"rule", view.Explain(state),
		)
	}
	return selection, nil
}

// resolveBranch evaluates the branch logic and activates a transport
// where the branch calls for one. Caller holds opMu.
func (o *Orchestrator) resolveBranch(ctx context.Context, epoch uint64) view.State {
	// Demo override: checked first and exclusively, no network involved.
	demoActive, err := o.prefs.DemoActive(ctx)
	if err != nil && o.logger != nil {
		o.logger.Warn("reading demo flag failed", "error", err)
	}
	if demoActive {
		return o.resolveDemo(ctx, epoch)
	}

	modeCtx, cancel := context.WithTimeout(ctx, o.resolveTimeout)
	info, err := o.deviceAPI.Mode(modeCtx)
	cancel()
	if err != nil {
		// Appliance absent or slow: the safe default is cloud,
		// unauthenticated users land on login.
		if o.logger != nil {
			o.logger.Debug("mode discovery failed, defaulting to cloud", "error", err)
		}
		return o.resolveCloud(ctx, epoch)
	}

	if info.Mode == "local" {
		return o.resolveLocal(ctx, epoch, info)
	}
	return o.resolveCloud(ctx, epoch)
}

// resolveDemo activates the simulator. Connect is synchronous and never
// fails.
func (o *Orchestrator) resolveDemo(ctx context.Context, epoch uint64) view.State {
	tr := o.factories.Demo()
	o.activate(ctx, epoch, tr)

	deviceID := ""
	if demo, ok := tr.(interface{ DeviceID() string }); ok {
		deviceID = demo.DeviceID()
	}
	return view.State{
		DemoActive:     true,
		Mode:           view.ModeUndetermined,
		SelectedDevice: deviceID,
	}
}

// resolveLocal handles the local branch: provisioning first, then the
// setup gate, then transport activation.
func (o *Orchestrator) resolveLocal(ctx context.Context, epoch uint64, info localapi.ModeInfo) view.State {
	state := view.State{Mode: view.ModeLocal}

	if info.APMode {
		// No usable network identity yet; Wi-Fi setup only, no transport.
		state.Provisioning = true
		return state
	}

	// Setup gate: once per resolution, fail-open inside the client.
	gateCtx, cancel := context.WithTimeout(ctx, o.resolveTimeout)
	state.SetupComplete = o.deviceAPI.IsSetupComplete(gateCtx)
	cancel()
	if !state.SetupComplete {
		return state
	}

	if err := o.activate(ctx, epoch, o.factories.Local()); err != nil && o.logger != nil {
		// Non-fatal: the transport self-heals in the background.
		o.logger.Warn("local transport not yet connected", "error", err)
	}
	return state
}

// resolveCloud handles the cloud branch: session check, device list,
// and relay activation once a device is selectable.
func (o *Orchestrator) resolveCloud(ctx context.Context, epoch uint64) view.State {
	state := view.State{Mode: view.ModeCloud}

	if o.session == nil || !o.session.Authenticated() {
		return state
	}
	state.Authenticated = true

	devices := o.loadDevices(ctx)
	state.DeviceCount = len(devices)

	o.mu.Lock()
	o.devices = devices
	o.mu.Unlock()

	if len(devices) == 0 {
		return state
	}

	deviceID := o.pickDevice(ctx, devices)
	if deviceID == "" {
		return state
	}
	state.SelectedDevice = deviceID

	if err := o.activateCloud(ctx, epoch, deviceID); err != nil && o.logger != nil {
		o.logger.Warn("relay transport not yet connected",
			"device_id", deviceID, "error", err)
	}
	return state
}

// loadDevices fetches the paired device list, falling back to the local
// cache so a flaky cloud API does not blank the device picker.
func (o *Orchestrator) loadDevices(ctx context.Context) []cloud.Device {
	devices, err := o.session.Devices(ctx)
	if err != nil {
		if o.logger != nil {
			o.logger.Warn("device list fetch failed, using cache", "error", err)
		}
		cached, cacheErr := o.prefs.CachedDevices(ctx)
		if cacheErr != nil {
			return nil
		}
		devices = make([]cloud.Device, 0, len(cached))
		for _, d := range cached {
			devices = append(devices, cloud.Device{ID: d.ID, Name: d.Name, Online: d.Online})
		}
		return devices
	}

	cached := make([]prefs.CachedDevice, 0, len(devices))
	for _, d := range devices {
		cached = append(cached, prefs.CachedDevice{ID: d.ID, Name: d.Name, Online: d.Online})
	}
	if err := o.prefs.ReplaceCachedDevices(ctx, cached); err != nil && o.logger != nil {
		o.logger.Warn("caching device list failed", "error", err)
	}
	return devices
}

// pickDevice derives the selected device: the user's persisted choice
// when it still exists, otherwise the first online device, otherwise
// the first device.
func (o *Orchestrator) pickDevice(ctx context.Context, devices []cloud.Device) string {
	saved, err := o.prefs.SelectedDevice(ctx)
	if err == nil && saved != "" {
		for _, d := range devices {
			if d.ID == saved {
				return saved
			}
		}
	}
	for _, d := range devices {
		if d.Online {
			return d.ID
		}
	}
	return devices[0].ID
}

// activateCloud builds and activates a relay transport for one device.
func (o *Orchestrator) activateCloud(ctx context.Context, epoch uint64, deviceID string) error {
	creds, err := o.session.RelayCredentials(ctx, deviceID)
	if err != nil {
		return err
	}
	return o.activate(ctx, epoch, o.factories.Cloud(deviceID, creds))
}

// activate connects, registers, and binds a transport. The epoch is
// re-checked after the (possibly slow) connect so a teardown that
// happened mid-dial wins: the late transport is disconnected and never
// registered.
func (o *Orchestrator) activate(ctx context.Context, epoch uint64, tr transport.Transport) error {
	connectErr := tr.Connect(ctx)

	o.mu.Lock()
	live := !o.closed && o.epoch == epoch
	o.mu.Unlock()

	if !live {
		tr.Disconnect()
		return ErrSuperseded
	}

	if err := o.registry.Register(tr); err != nil && o.logger != nil {
		o.logger.Error("registry slot was occupied during activation", "error", err)
	}
	o.binder.Bind(tr.Events())
	return connectErr
}

// SelectDevice switches the active relay to another paired device and
// persists the choice. Cloud mode only.
func (o *Orchestrator) SelectDevice(ctx context.Context, deviceID string) (view.Selection, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return view.Selection{}, ErrClosed
	}
	if o.state.Mode != view.ModeCloud || o.state.DemoActive {
		o.mu.Unlock()
		return view.Selection{}, ErrNotCloudMode
	}
	var known bool
	for _, d := range o.devices {
		if d.ID == deviceID {
			known = true
			break
		}
	}
	o.epoch++
	epoch := o.epoch
	o.mu.Unlock()

	if !known {
		return view.Selection{}, ErrUnknownDevice
	}

	if err := o.prefs.SetSelectedDevice(ctx, deviceID); err != nil && o.logger != nil {
		o.logger.Warn("persisting device selection failed", "error", err)
	}

	o.binder.Unbind()
	o.registry.Teardown()
	o.store.Clear()

	if err := o.activateCloud(ctx, epoch, deviceID); err != nil && o.logger != nil {
		o.logger.Warn("relay transport not yet connected",
			"device_id", deviceID, "error", err)
	}

	o.mu.Lock()
	o.state.SelectedDevice = deviceID
	state := o.state
	o.mu.Unlock()
	return view.Select(state), nil
}

// EnterDemo sets the demo override and re-resolves. The demo branch
// wins the next resolution outright.
func (o *Orchestrator) EnterDemo(ctx context.Context) (view.Selection, error) {
	if err := o.prefs.SetDemoActive(ctx, true); err != nil {
		return view.Selection{}, err
	}
	return o.Resolve(ctx)
}

// ExitDemo clears the demo override and re-resolves, destroying the
// simulator. Demo state never leaks into the next session.
func (o *Orchestrator) ExitDemo(ctx context.Context) (view.Selection, error) {
	if err := o.prefs.SetDemoActive(ctx, false); err != nil {
		return view.Selection{}, err
	}
	return o.Resolve(ctx)
}

// BeginLogin issues a fresh state nonce and returns the browser URL
// that starts the cloud login flow. The frontend opens the URL; the
// provider redirects back with the code and the same state, which
// CompleteLogin verifies.
func (o *Orchestrator) BeginLogin() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return "", ErrClosed
	}
	if o.session == nil {
		return "", ErrNoSession
	}
	o.loginState = uuid.NewString()
	return o.session.AuthURL(o.loginState), nil
}

// CompleteLogin finishes the login flow: the callback's state must match
// the nonce BeginLogin issued, then the code is exchanged for a token
// and the mode re-resolves into the authenticated cloud branch.
func (o *Orchestrator) CompleteLogin(ctx context.Context, state, code string) (view.Selection, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return view.Selection{}, ErrClosed
	}
	expected := o.loginState
	o.loginState = ""
	o.mu.Unlock()

	if o.session == nil {
		return view.Selection{}, ErrNoSession
	}
	if expected == "" || state != expected {
		return view.Selection{}, ErrLoginState
	}

	if err := o.session.Exchange(ctx, code); err != nil {
		return view.Selection{}, err
	}
	return o.Resolve(ctx)
}

// PairDevice claims an appliance by its pairing code, selects it, and
// re-resolves so the relay connects to the new device.
func (o *Orchestrator) PairDevice(ctx context.Context, code string) (view.Selection, error) {
	if o.session == nil {
		return view.Selection{}, ErrNoSession
	}

	device, err := o.session.Pair(ctx, code)
	if err != nil {
		return view.Selection{}, err
	}
	if err := o.prefs.SetSelectedDevice(ctx, device.ID); err != nil && o.logger != nil {
		o.logger.Warn("persisting device selection failed", "error", err)
	}
	if o.logger != nil {
		o.logger.Info("device paired", "device_id", device.ID, "name", device.Name)
	}
	return o.Resolve(ctx)
}

// UnpairDevice releases an appliance from the account. A selection
// pointing at the released device is forgotten before re-resolving.
func (o *Orchestrator) UnpairDevice(ctx context.Context, deviceID string) (view.Selection, error) {
	if o.session == nil {
		return view.Selection{}, ErrNoSession
	}

	if err := o.session.Unpair(ctx, deviceID); err != nil {
		return view.Selection{}, err
	}

	saved, err := o.prefs.SelectedDevice(ctx)
	if err == nil && saved == deviceID {
		if err := o.prefs.SetSelectedDevice(ctx, ""); err != nil && o.logger != nil {
			o.logger.Warn("clearing device selection failed", "error", err)
		}
	}
	if o.logger != nil {
		o.logger.Info("device unpaired", "device_id", deviceID)
	}
	return o.Resolve(ctx)
}

// Logout signs the cloud session out, forgets the device selection, and
// re-resolves; an unauthenticated cloud state routes to login.
func (o *Orchestrator) Logout(ctx context.Context) (view.Selection, error) {
	if o.session != nil {
		if err := o.session.Logout(); err != nil {
			return view.Selection{}, err
		}
	}
	if err := o.prefs.SetSelectedDevice(ctx, ""); err != nil && o.logger != nil {
		o.logger.Warn("clearing device selection failed", "error", err)
	}
	return o.Resolve(ctx)
}

// CompleteSetup finishes the first-run wizard on the appliance and
// re-resolves into the local-ready branch.
func (o *Orchestrator) CompleteSetup(ctx context.Context) (view.Selection, error) {
	if err := o.deviceAPI.CompleteSetup(ctx); err != nil {
		return view.Selection{}, err
	}
	return o.Resolve(ctx)
}

// Shutdown tears the orchestrator down: the epoch bump invalidates any
// in-flight activation immediately, then the transport slot is drained.
// Safe to call once; further operations return ErrClosed.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.epoch++
	o.mu.Unlock()

	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.binder.Unbind()
	o.registry.Teardown()
	if o.logger != nil {
		o.logger.Info("orchestrator shut down")
	}
}
