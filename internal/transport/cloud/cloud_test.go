package cloud

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/brewos/brewlink/internal/infrastructure/config"
	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/transport"
)

// testConfig returns a relay configuration pointing at an unreachable
// broker. Tests exercising a live session need a real relay and are out
// of scope here.
func testConfig() Config {
	return Config{
		Relay: config.RelayConfig{
			Host:     "127.0.0.1",
			Port:     1,
			TLS:      false,
			ClientID: "brewlink-test",
			QoS:      1,
			Reconnect: config.ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     5,
			},
		},
		DeviceID: "BRW-7F3A21",
		Username: "user-42",
		Password: "access-token",
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name:     "DeviceState",
			builder:  func() string { return Topics{}.DeviceState("BRW-7F3A21") },
			expected: "brewos/dev/BRW-7F3A21/state",
		},
		{
			name:     "DeviceCommand",
			builder:  func() string { return Topics{}.DeviceCommand("BRW-7F3A21") },
			expected: "brewos/dev/BRW-7F3A21/command",
		},
		{
			name:     "DevicePresence",
			builder:  func() string { return Topics{}.DevicePresence("BRW-7F3A21") },
			expected: "brewos/dev/BRW-7F3A21/presence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.builder(); result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

func TestBrokerURL(t *testing.T) {
	tr := New(testConfig(), nil)
	if got := tr.brokerURL(); got != "tcp://127.0.0.1:1" {
		t.Errorf("brokerURL() = %q, want tcp://127.0.0.1:1", got)
	}

	cfg := testConfig()
	cfg.Relay.TLS = true
	cfg.Relay.Port = 8883
	tr = New(cfg, nil)
	if got := tr.brokerURL(); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() with TLS = %q, want ssl://127.0.0.1:8883", got)
	}
}

func TestClientID(t *testing.T) {
	a, b := New(testConfig(), nil), New(testConfig(), nil)

	idA, idB := a.clientID(), b.clientID()
	if !strings.HasPrefix(idA, "brewlink-test-") {
		t.Errorf("clientID() = %q, want brewlink-test- prefix", idA)
	}
	// Random suffix keeps two instances from stealing each other's session
	if idA == idB {
		t.Errorf("clientID() not unique across instances: %q", idA)
	}

	cfg := testConfig()
	cfg.Relay.ClientID = ""
	if id := New(cfg, nil).clientID(); !strings.HasPrefix(id, "brewlink-") {
		t.Errorf("clientID() with empty config = %q, want brewlink- prefix", id)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.TLS = true
	tr := New(cfg, nil)

	opts := tr.buildClientOptions()

	if len(opts.Servers) != 1 || opts.Servers[0].Scheme != "ssl" {
		t.Fatalf("broker servers = %v, want one ssl:// entry", opts.Servers)
	}
	if opts.Username != "user-42" {
		t.Errorf("username = %q, want user-42", opts.Username)
	}
	if opts.Password != "access-token" {
		t.Errorf("password not carried into options")
	}
	if !opts.AutoReconnect {
		t.Error("auto-reconnect not enabled")
	}
	// Without connect retry a failed first dial would end the session
	// for good, and the orchestrator's failed-transport registration
	// would never heal.
	if !opts.ConnectRetry {
		t.Error("connect retry not enabled")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
}

func TestStatus_InitialState(t *testing.T) {
	tr := New(testConfig(), nil)
	if tr.Status() != transport.StatusDisconnected {
		t.Errorf("Status() = %q, want disconnected", tr.Status())
	}
	if tr.Kind() != transport.KindCloud {
		t.Errorf("Kind() = %q, want cloud", tr.Kind())
	}
	if tr.DeviceID() != "BRW-7F3A21" {
		t.Errorf("DeviceID() = %q, want BRW-7F3A21", tr.DeviceID())
	}
}

func TestConnect_BrokerUnreachable(t *testing.T) {
	tr := New(testConfig(), nil)
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := tr.Connect(ctx)
	if !errors.Is(err, transport.ErrConnectFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectFailed", err)
	}
	// The client keeps dialling in the background
	if tr.Status() != transport.StatusConnecting {
		t.Errorf("Status() after failed dial = %q, want connecting", tr.Status())
	}
}

func TestConnect_RetriesAfterFailedFirstDial(t *testing.T) {
	// Reserve a port, then close it so the first dial is refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig()
	cfg.Relay.Port = port
	tr := New(cfg, nil)
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := tr.Connect(ctx); !errors.Is(err, transport.ErrConnectFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectFailed", err)
	}
	if tr.Status() != transport.StatusConnecting {
		t.Fatalf("Status() after failed dial = %q, want connecting", tr.Status())
	}

	// Bring the broker address back; the background retry must dial it
	ln, err = net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("relistening: %v", err)
	}
	defer ln.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		accepted <- acceptResult{conn, acceptErr}
	}()

	select {
	case result := <-accepted:
		if result.err != nil {
			t.Fatalf("accept: %v", result.err)
		}
		result.conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("no redial within retry window")
	}
}

func TestSend_NotConnected(t *testing.T) {
	tr := New(testConfig(), nil)
	defer tr.Disconnect()

	err := tr.Send(machine.Command{Type: machine.CmdSetMode})
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Send() before connect error = %v, want ErrNotConnected", err)
	}
}

func TestSend_InvalidCommand(t *testing.T) {
	tr := New(testConfig(), nil)
	defer tr.Disconnect()

	if err := tr.Send(machine.Command{}); !errors.Is(err, machine.ErrInvalidCommand) {
		t.Errorf("Send(empty) error = %v, want ErrInvalidCommand", err)
	}
}

func TestDisconnect_BeforeConnect(t *testing.T) {
	tr := New(testConfig(), nil)

	tr.Disconnect()
	tr.Disconnect() // idempotent

	if _, open := <-tr.Events(); open {
		t.Error("events open after Disconnect")
	}
	if err := tr.Send(machine.Command{Type: machine.CmdSetMode}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send() after Disconnect error = %v, want ErrClosed", err)
	}
	if err := tr.Connect(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Connect() after Disconnect error = %v, want ErrClosed", err)
	}
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestHandleMessage_FiltersNonSnapshots(t *testing.T) {
	tr := New(testConfig(), nil)
	defer tr.Disconnect()

	stateTopic := Topics{}.DeviceState(tr.DeviceID())
	tr.handleMessage(nil, &fakeMessage{topic: stateTopic, payload: []byte(`{"type":"log","message":"boot"}`)})
	tr.handleMessage(nil, &fakeMessage{topic: stateTopic, payload: []byte(`not json`)})
	tr.handleMessage(nil, &fakeMessage{topic: stateTopic, payload: []byte(`{"type":"status","machine":{"state":"ready","mode":"on"}}`)})

	select {
	case snap := <-tr.Events():
		if snap.State != machine.StateReady {
			t.Errorf("State = %q, want ready", snap.State)
		}
	default:
		t.Fatal("snapshot not delivered")
	}

	// The log and malformed frames must not have produced events
	select {
	case snap := <-tr.Events():
		t.Errorf("unexpected extra event: %+v", snap)
	default:
	}
}

func TestHandlePresence(t *testing.T) {
	tr := New(testConfig(), nil)
	defer tr.Disconnect()

	if tr.DeviceOnline() {
		t.Fatal("DeviceOnline() true before any presence message")
	}

	presenceTopic := Topics{}.DevicePresence(tr.DeviceID())
	tr.handlePresence(nil, &fakeMessage{topic: presenceTopic, payload: []byte("online")})
	if !tr.DeviceOnline() {
		t.Error("DeviceOnline() = false after online message")
	}

	tr.handlePresence(nil, &fakeMessage{topic: presenceTopic, payload: []byte(" OFFLINE\n")})
	if tr.DeviceOnline() {
		t.Error("DeviceOnline() = true after offline message")
	}

	tr.handlePresence(nil, &fakeMessage{topic: presenceTopic, payload: []byte("Online")})
	if !tr.DeviceOnline() {
		t.Error("DeviceOnline() = false after mixed-case online message")
	}

	// A lost broker session invalidates the last retained reading
	tr.handleConnectionLost(errors.New("session dropped"))
	if tr.DeviceOnline() {
		t.Error("DeviceOnline() = true after connection loss")
	}
}

func TestDeliver_DropsOldestWhenStalled(t *testing.T) {
	tr := New(testConfig(), nil)
	defer tr.Disconnect()

	for i := 0; i < eventBufferSize+4; i++ {
		tr.deliver(machine.Snapshot{BrewTemp: float64(i)})
	}

	// The buffer holds the newest snapshots; the oldest were dropped
	first := <-tr.Events()
	if first.BrewTemp == 0 {
		t.Error("oldest snapshot survived a full buffer")
	}
}
