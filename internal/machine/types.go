package machine

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the machine's reported control state.
type State string

// Machine states as reported by the control board.
const (
	StateInit     State = "init"
	StateIdle     State = "idle"
	StateHeating  State = "heating"
	StateReady    State = "ready"
	StateBrewing  State = "brewing"
	StateSteaming State = "steaming"
	StateCooldown State = "cooldown"
	StateFault    State = "fault"
	StateSafe     State = "safe"
	StateUnknown  State = "unknown"
)

// Mode is the machine's reported power mode. The appliance derives it
// from the state: "on" from heating through cooldown, "standby" otherwise.
type Mode string

// Power modes.
const (
	ModeStandby Mode = "standby"
	ModeOn      Mode = "on"
)

// Shot reports an in-progress or just-finished brew, with scale readings
// when a scale is paired.
type Shot struct {
	Active   bool    `json:"active"`
	Weight   float64 `json:"weight,omitempty"`
	FlowRate float64 `json:"flowRate,omitempty"`
}

// Snapshot is a single decoded device-state message, flattened from the
// appliance's sectioned status broadcast into the fields BrewLink models.
//
// The appliance broadcasts a status frame roughly once per second while a
// client is connected, and immediately after applying a command. Fields
// BrewLink does not model are preserved in Raw.
type Snapshot struct {
	State         State   `json:"state"`
	Mode          Mode    `json:"mode"`
	IsHeating     bool    `json:"isHeating"`
	IsBrewing     bool    `json:"isBrewing"`
	BrewTemp      float64 `json:"brewTemp"`
	BrewSetpoint  float64 `json:"brewSetpoint"`
	SteamTemp     float64 `json:"steamTemp"`
	SteamSetpoint float64 `json:"steamSetpoint"`
	GroupTemp     float64 `json:"groupTemp"`
	Pressure      float64 `json:"pressure"`
	Shot          Shot    `json:"shot"`
	WaterLow      bool    `json:"waterLow"`

	// ReceivedAt is stamped by the transport on receipt.
	ReceivedAt time.Time `json:"-"`

	// Raw is the full wire payload, retained because the schema is owned
	// by the firmware and newer firmware may carry sections we don't know.
	Raw json.RawMessage `json:"-"`
}

// Message envelope types the appliance uses on its push channel.
// The same channel also carries "log", "deviceInfo", and OTA progress
// frames; only "status" frames are snapshots.
const (
	statusMessageType  = "status"
	commandMessageType = "command"
)

// wireEnvelope carries the type discriminator every appliance message has.
type wireEnvelope struct {
	Type string `json:"type"`
}

// wireStatus mirrors the sections of the appliance's status broadcast
// that BrewLink models. Everything else stays in Raw.
type wireStatus struct {
	Machine struct {
		State     string `json:"state"`
		Mode      string `json:"mode"`
		IsHeating bool   `json:"isHeating"`
		IsBrewing bool   `json:"isBrewing"`
	} `json:"machine"`
	Temps struct {
		Brew struct {
			Current  float64 `json:"current"`
			Setpoint float64 `json:"setpoint"`
		} `json:"brew"`
		Steam struct {
			Current  float64 `json:"current"`
			Setpoint float64 `json:"setpoint"`
		} `json:"steam"`
		Group float64 `json:"group"`
	} `json:"temps"`
	Pressure float64 `json:"pressure"`
	Scale    struct {
		Connected bool    `json:"connected"`
		Weight    float64 `json:"weight"`
		FlowRate  float64 `json:"flowRate"`
	} `json:"scale"`
	Water struct {
		TankLevel string `json:"tankLevel"`
	} `json:"water"`
}

// DecodeSnapshot parses an inbound wire message into a Snapshot.
//
// Returns ErrNotSnapshot for well-formed messages of a different type and
// ErrMalformedMessage for unparseable payloads. Transports use this to
// filter their inbound stream down to state snapshots.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var envelope wireEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if envelope.Type != statusMessageType {
		return Snapshot{}, fmt.Errorf("%w: type %q", ErrNotSnapshot, envelope.Type)
	}

	var wire wireStatus
	if err := json.Unmarshal(data, &wire); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	snap := Snapshot{
		State:         State(wire.Machine.State),
		Mode:          Mode(wire.Machine.Mode),
		IsHeating:     wire.Machine.IsHeating,
		IsBrewing:     wire.Machine.IsBrewing,
		BrewTemp:      wire.Temps.Brew.Current,
		BrewSetpoint:  wire.Temps.Brew.Setpoint,
		SteamTemp:     wire.Temps.Steam.Current,
		SteamSetpoint: wire.Temps.Steam.Setpoint,
		GroupTemp:     wire.Temps.Group,
		Pressure:      wire.Pressure,
		Shot: Shot{
			Active:   wire.Machine.IsBrewing,
			Weight:   wire.Scale.Weight,
			FlowRate: wire.Scale.FlowRate,
		},
		WaterLow:   wire.Water.TankLevel == "low",
		ReceivedAt: time.Now(),
	}
	snap.Raw = append(json.RawMessage(nil), data...)
	return snap, nil
}

// Command is a control command in the appliance's wire format: a JSON
// envelope of type "command" whose "cmd" field names the operation, with
// command-specific parameters alongside.
//
// Parameters are kept schemaless: the set of commands is owned by the
// firmware and grows with it; the firmware ignores commands it does not
// recognise.
type Command struct {
	Type   string
	Params map[string]any
}

// Command names understood by current firmware.
const (
	CmdSetMode        = "set_mode"
	CmdSetTemp        = "set_temp"
	CmdSetEco         = "set_eco"
	CmdEnterEco       = "enter_eco"
	CmdExitEco        = "exit_eco"
	CmdSetPreinfusion = "set_preinfusion"
	CmdTare           = "tare"
	CmdRestart        = "restart"
)

// Validate checks the command is sendable.
func (c Command) Validate() error {
	if c.Type == "" {
		return ErrInvalidCommand
	}
	return nil
}

// MarshalJSON wraps the command in the wire envelope:
// {"type": "command", "cmd": "...", "<param>": ..., ...}.
func (c Command) MarshalJSON() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(c.Params)+2)
	for k, v := range c.Params {
		if k == "type" || k == "cmd" {
			continue
		}
		payload[k] = v
	}
	payload["type"] = commandMessageType
	payload["cmd"] = c.Type
	return json.Marshal(payload)
}

// UnmarshalJSON parses the wire envelope back into a Command.
func (c *Command) UnmarshalJSON(data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	envelope, _ := payload["type"].(string)
	name, _ := payload["cmd"].(string)
	if envelope != commandMessageType || name == "" {
		return ErrInvalidCommand
	}
	delete(payload, "type")
	delete(payload, "cmd")

	c.Type = name
	if len(payload) > 0 {
		c.Params = payload
	} else {
		c.Params = nil
	}
	return nil
}
