// Package demo provides the in-process simulator transport.
//
// Demo mode lets a user evaluate BrewLink with no appliance and no
// network: Connect never fails, a ticker fabricates plausible machine
// state (heat-up curves, idle pressure, shot timing), and commands are
// applied to the fabricated state with an immediate snapshot emitted in
// response.
//
// The simulator owns a single goroutine and a single ticker; Disconnect
// stops both deterministically so nothing survives a demo session.
package demo

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/transport"
)

// Simulation constants, chosen to feel like a dual-boiler machine.
const (
	ambientTemp        = 23.0
	defaultBrewTarget  = 93.0
	defaultSteamTarget = 125.0
	heatRatePerTick    = 2.6  // degrees gained per tick while heating
	coolRatePerTick    = 0.4  // degrees lost per tick toward ambient
	readyBand          = 0.75 // within this of setpoint counts as ready
	brewPressure       = 9.0
	idlePressure       = 0.0
	eventBufferSize    = 16
)

// Demo-only shot commands. The real machine starts a shot from the brew
// lever, not over the wire; the simulator has no lever, so the demo UI
// drives shots with these. Real firmware ignores them.
const (
	CmdPullShot = "pull_shot"
	CmdStopShot = "stop_shot"
)

// Heating targets the simulator can be asked for via set_mode.
const (
	targetStandby = "standby"
	targetBrew    = "brew"
	targetSteam   = "steam"
)

// Transport is the demo simulator. It implements transport.Transport.
type Transport struct {
	deviceID string
	interval time.Duration

	mu        sync.Mutex
	connected bool
	closed    bool
	stop      chan struct{}
	done      chan struct{}
	events    chan machine.Snapshot

	// Fabricated machine state, guarded by mu.
	target     string
	brewTemp   float64
	steamTemp  float64
	brewTarget float64
	steamTgt   float64
	brewing    bool
	brewStart  time.Time

	rng *rand.Rand
}

// New creates a demo transport.
//
// Parameters:
//   - tickInterval: how often a fabricated snapshot is emitted
func New(tickInterval time.Duration) *Transport {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Transport{
		deviceID:   "DEMO-" + uuid.NewString()[:8],
		interval:   tickInterval,
		events:     make(chan machine.Snapshot, eventBufferSize),
		target:     targetBrew,
		brewTemp:   ambientTemp,
		steamTemp:  ambientTemp,
		brewTarget: defaultBrewTarget,
		steamTgt:   defaultSteamTarget,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // Simulation jitter, not crypto
	}
}

// DeviceID returns the fabricated device identity for this demo session.
func (t *Transport) DeviceID() string { return t.deviceID }

// Connect marks the transport connected and starts the tick loop.
// It is synchronous and never fails.
func (t *Transport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}
	if t.connected {
		return nil
	}

	t.connected = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)

	// Seed consumers with an initial snapshot so the UI renders
	// immediately instead of waiting a full tick.
	t.emitLocked()
	return nil
}

// Disconnect stops the tick loop, closes the event stream, and releases
// the ticker. Safe to call multiple times and from any state.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	wasConnected := t.connected
	t.connected = false
	stop := t.stop
	done := t.done
	t.mu.Unlock()

	if wasConnected {
		close(stop)
		<-done
	}
	close(t.events)
}

// Send applies a command to the fabricated state and immediately emits an
// updated snapshot, mimicking the firmware's command acknowledgement.
func (t *Transport) Send(cmd machine.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}
	if !t.connected {
		return transport.ErrNotConnected
	}

	t.apply(cmd)
	t.emitLocked()
	return nil
}

// Events returns the fabricated snapshot stream.
func (t *Transport) Events() <-chan machine.Snapshot { return t.events }

// Status reports connected while the simulator is running.
func (t *Transport) Status() transport.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return transport.StatusConnected
	}
	return transport.StatusDisconnected
}

// Kind identifies this transport as the demo simulator.
func (t *Transport) Kind() transport.Kind { return transport.KindDemo }

// run is the tick loop. One tick advances the simulation and emits a
// snapshot.
func (t *Transport) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			t.advance()
			t.emitLocked()
			t.mu.Unlock()
		}
	}
}

// apply mutates the fabricated state per command. Unknown command names
// are accepted and ignored, like real firmware. Mode aliases mirror the
// firmware's set_mode handling.
func (t *Transport) apply(cmd machine.Command) {
	switch cmd.Type {
	case machine.CmdSetMode:
		mode, _ := cmd.Params["mode"].(string)
		switch mode {
		case "on", "ready", "brew":
			t.target = targetBrew
		case "steam":
			t.target = targetSteam
		case "off", "standby", "idle":
			t.target = targetStandby
			t.brewing = false
		}
	case machine.CmdSetTemp:
		temp, ok := cmd.Params["temp"].(float64)
		if !ok {
			return
		}
		if boiler, _ := cmd.Params["boiler"].(string); boiler == "steam" {
			t.steamTgt = temp
		} else {
			t.brewTarget = temp
		}
	case CmdPullShot:
		if !t.brewing && t.target != targetStandby {
			t.brewing = true
			t.brewStart = time.Now()
		}
	case CmdStopShot:
		t.brewing = false
	}
}

// advance moves temperatures toward their targets and adds a little
// sensor jitter.
func (t *Transport) advance() {
	jitter := func() float64 { return (t.rng.Float64() - 0.5) * 0.2 }

	heatToward := func(current, target float64) float64 {
		switch {
		case current < target-heatRatePerTick:
			return current + heatRatePerTick + jitter()
		case current > target+coolRatePerTick:
			return current - coolRatePerTick + jitter()
		default:
			return target + jitter()
		}
	}

	switch t.target {
	case targetBrew:
		t.brewTemp = heatToward(t.brewTemp, t.brewTarget)
		t.steamTemp = heatToward(t.steamTemp, ambientTemp)
	case targetSteam:
		t.brewTemp = heatToward(t.brewTemp, t.brewTarget)
		t.steamTemp = heatToward(t.steamTemp, t.steamTgt)
	default: // standby
		t.brewTemp = heatToward(t.brewTemp, ambientTemp)
		t.steamTemp = heatToward(t.steamTemp, ambientTemp)
	}
}

// emitLocked builds a snapshot from the current fabricated state and
// delivers it without blocking. Caller must hold t.mu.
func (t *Transport) emitLocked() {
	snap := t.snapshotLocked()
	select {
	case t.events <- snap:
	default:
		// Consumer stalled; drop the oldest tick to stay live.
		select {
		case <-t.events:
		default:
		}
		select {
		case t.events <- snap:
		default:
		}
	}
}

// snapshotLocked derives the reported machine state. Caller must hold t.mu.
func (t *Transport) snapshotLocked() machine.Snapshot {
	state := machine.StateHeating
	heating := true

	atBrewTemp := t.brewTemp >= t.brewTarget-readyBand
	switch {
	case t.brewing:
		state = machine.StateBrewing
	case t.target == targetStandby:
		state = machine.StateIdle
		heating = false
	case t.target == targetSteam:
		state = machine.StateSteaming
	case atBrewTemp:
		state = machine.StateReady
		heating = false
	}

	mode := machine.ModeOn
	if t.target == targetStandby {
		mode = machine.ModeStandby
	}

	pressure := idlePressure
	var shot machine.Shot
	if t.brewing {
		pressure = brewPressure + (t.rng.Float64()-0.5)*0.3
		elapsed := time.Since(t.brewStart)
		// Rough 2g/s extraction after a 6s pre-infusion ramp
		weight := maxFloat(0, (elapsed.Seconds()-6)*2)
		flowRate := 0.0
		if weight > 0 {
			flowRate = 2 + (t.rng.Float64()-0.5)*0.4
		}
		shot = machine.Shot{
			Active:   true,
			Weight:   roundTenth(weight),
			FlowRate: roundTenth(flowRate),
		}
	}

	return machine.Snapshot{
		State:         state,
		Mode:          mode,
		IsHeating:     heating,
		IsBrewing:     t.brewing,
		BrewTemp:      roundTenth(t.brewTemp),
		BrewSetpoint:  t.brewTarget,
		SteamTemp:     roundTenth(t.steamTemp),
		SteamSetpoint: t.steamTgt,
		Pressure:      roundTenth(pressure),
		Shot:          shot,
		ReceivedAt:    time.Now(),
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func roundTenth(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
