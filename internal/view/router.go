package view

// Route identifies a top-level view tree.
type Route string

// Top-level routes, one per view tree a frontend can render.
const (
	RouteLoading      Route = "loading"
	RouteWiFiSetup    Route = "wifi_setup"
	RouteSetupWizard  Route = "setup_wizard"
	RouteLogin        Route = "login"
	RouteOnboarding   Route = "onboarding"
	RouteDevicePicker Route = "device_picker"
	RouteShell        Route = "shell"
)

// Mode is the resolved connectivity context.
type Mode string

// Connectivity modes. Undetermined only exists before resolution
// completes; the resolver's failure default is cloud.
const (
	ModeUndetermined Mode = "undetermined"
	ModeLocal        Mode = "local"
	ModeCloud        Mode = "cloud"
)

// State is everything routing depends on. Produced by the orchestrator;
// routing itself never mutates it.
type State struct {
	// Initialized is false until mode resolution has completed once.
	Initialized bool

	// DemoActive is the client-side demo override.
	DemoActive bool

	// Mode is the resolved connectivity context.
	Mode Mode

	// Provisioning is true while a local appliance serves its setup
	// access point. Only meaningful in local mode.
	Provisioning bool

	// SetupComplete is the (fail-open) setup gate result. Only
	// meaningful in local mode.
	SetupComplete bool

	// Authenticated reports a signed-in cloud session.
	Authenticated bool

	// DeviceCount is the size of the paired device list.
	DeviceCount int

	// SelectedDevice is the device the shell controls, "" when none is
	// chosen yet. In local mode the appliance itself is implied and
	// this may stay empty.
	SelectedDevice string
}

// Selection is the routing outcome: the route plus the device the shell
// is scoped to, when there is one.
type Selection struct {
	Route    Route
	DeviceID string
}

// rule is one row of the precedence table.
type rule struct {
	name string
	when func(State) bool
	pick func(State) Selection
}

// rules is the precedence table, highest priority first. Order is
// load-bearing: a demo session that finished initializing wins over
// every mode branch, but an uninitialized one still shows loading.
var rules = []rule{
	{
		name: "demo",
		when: func(s State) bool { return s.DemoActive && s.Initialized },
		pick: func(s State) Selection {
			return Selection{Route: RouteShell, DeviceID: s.SelectedDevice}
		},
	},
	{
		name: "loading",
		when: func(s State) bool { return !s.Initialized },
		pick: func(State) Selection {
			return Selection{Route: RouteLoading}
		},
	},
	{
		name: "local-provisioning",
		when: func(s State) bool { return s.Mode == ModeLocal && s.Provisioning },
		pick: func(State) Selection {
			return Selection{Route: RouteWiFiSetup}
		},
	},
	{
		name: "local-setup-incomplete",
		when: func(s State) bool { return s.Mode == ModeLocal && !s.SetupComplete },
		pick: func(State) Selection {
			return Selection{Route: RouteSetupWizard}
		},
	},
	{
		name: "local-ready",
		when: func(s State) bool { return s.Mode == ModeLocal },
		pick: func(s State) Selection {
			return Selection{Route: RouteShell, DeviceID: s.SelectedDevice}
		},
	},
	{
		name: "cloud-unauthenticated",
		when: func(s State) bool { return !s.Authenticated },
		pick: func(State) Selection {
			return Selection{Route: RouteLogin}
		},
	},
	{
		name: "cloud-no-devices",
		when: func(s State) bool { return s.DeviceCount == 0 },
		pick: func(State) Selection {
			return Selection{Route: RouteOnboarding}
		},
	},
	{
		name: "cloud-device-unselected",
		when: func(s State) bool { return s.SelectedDevice == "" },
		pick: func(State) Selection {
			return Selection{Route: RouteDevicePicker}
		},
	},
	{
		name: "cloud-ready",
		when: func(State) bool { return true },
		pick: func(s State) Selection {
			return Selection{Route: RouteShell, DeviceID: s.SelectedDevice}
		},
	},
}

// Select picks the view for the given state. The last rule always
// matches, so a Selection is always produced.
func Select(s State) Selection {
	selection, _ := match(s)
	return selection
}

// Explain returns the name of the precedence rule that decided the
// route. Used in debug logging.
func Explain(s State) string {
	_, name := match(s)
	return name
}

func match(s State) (Selection, string) {
	for _, r := range rules {
		if r.when(s) {
			return r.pick(s), r.name
		}
	}
	// Unreachable: cloud-ready is a catch-all.
	return Selection{Route: RouteLoading}, "fallback"
}
