package cloud

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/brewos/brewlink/internal/infrastructure/config"
	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/transport"
)

// Connection constants.
const (
	// connectTimeout is the maximum time to wait for the initial broker
	// connection.
	connectTimeout = 10 * time.Second

	// publishTimeout is the maximum time to wait for publish acknowledgment.
	publishTimeout = 5 * time.Second

	// subscribeTimeout is the maximum time to wait for subscribe acknowledgment.
	subscribeTimeout = 5 * time.Second

	// disconnectQuiesce is the time (milliseconds) to allow pending
	// operations to flush on disconnect.
	disconnectQuiesce = 1000

	// keepAlive is the MQTT keepalive interval.
	keepAlive = 60 * time.Second

	tlsMinVersion = tls.VersionTLS12

	eventBufferSize = 16
)

// Logger is the logging interface the transport needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Config holds the relay transport's connection parameters.
type Config struct {
	// Relay is the broker connection configuration.
	Relay config.RelayConfig

	// DeviceID is the paired appliance the session is scoped to.
	DeviceID string

	// Username and Password authenticate the relay session. The cloud
	// service issues these from the user's access token.
	Username string
	Password string
}

// Transport is the cloud relay transport. It implements
// transport.Transport.
type Transport struct {
	cfg    Config
	logger Logger
	topics Topics

	client pahomqtt.Client

	mu           sync.Mutex
	started      bool
	closed       bool
	connected    bool
	deviceOnline bool

	events chan machine.Snapshot
}

// New creates a cloud relay transport for one paired appliance.
// Connect starts the broker session.
func New(cfg Config, logger Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: logger,
		events: make(chan machine.Snapshot, eventBufferSize),
	}
}

// DeviceID returns the appliance this transport is scoped to.
func (t *Transport) DeviceID() string { return t.cfg.DeviceID }

// Connect establishes the broker session and subscribes to the device's
// state and presence topics.
//
// The paho client owns all redialling: drops after a successful connect
// reconnect with backoff capped at the configured maximum, and a failed
// first dial keeps retrying in the background at the initial-delay
// interval. When Connect returns an error the transport has not given
// up; Status reports connecting until the session lands or Disconnect
// is called.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	opts := t.buildClientOptions()
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		t.handleConnect(client)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.handleConnectionLost(err)
	})

	t.mu.Lock()
	t.client = pahomqtt.NewClient(opts)
	client := t.client
	t.mu.Unlock()

	token := client.Connect()
	if !waitToken(ctx, token, connectTimeout) {
		return fmt.Errorf("%w: relay connect timed out", transport.ErrConnectFailed)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrConnectFailed, err)
	}

	// The on-connect handler runs asynchronously; mark connected here so
	// Status() is truthful the moment Connect returns.
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Info("relay transport connected",
			"device_id", t.cfg.DeviceID,
			"broker", t.brokerURL(),
		)
	}
	return nil
}

// Disconnect tears down the broker session and closes the event stream.
// Safe to call multiple times and before Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.connected = false
	client := t.client
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}
	close(t.events)
}

// Send publishes a command to the device's command topic.
func (t *Transport) Send(cmd machine.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	client := t.client
	connected := t.connected
	t.mu.Unlock()

	if client == nil || !connected || !client.IsConnected() {
		return transport.ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	topic := t.topics.DeviceCommand(t.cfg.DeviceID)
	token := client.Publish(topic, byte(t.cfg.Relay.QoS), false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish timed out", transport.ErrNotConnected)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrNotConnected, err)
	}
	return nil
}

// Events returns the inbound snapshot stream.
func (t *Transport) Events() <-chan machine.Snapshot { return t.events }

// Status reports the current relay session state.
func (t *Transport) Status() transport.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed || !t.started:
		return transport.StatusDisconnected
	case t.connected && t.client != nil && t.client.IsConnected():
		return transport.StatusConnected
	default:
		return transport.StatusConnecting
	}
}

// Kind identifies this transport as the cloud relay.
func (t *Transport) Kind() transport.Kind { return transport.KindCloud }

// handleConnect runs on initial connect and on every reconnect; it
// (re)subscribes to the device's state and presence topics.
func (t *Transport) handleConnect(client pahomqtt.Client) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.connected = true
	t.mu.Unlock()

	subs := []struct {
		topic   string
		handler pahomqtt.MessageHandler
	}{
		{t.topics.DeviceState(t.cfg.DeviceID), t.handleMessage},
		{t.topics.DevicePresence(t.cfg.DeviceID), t.handlePresence},
	}
	for _, sub := range subs {
		token := client.Subscribe(sub.topic, byte(t.cfg.Relay.QoS), sub.handler)
		if !token.WaitTimeout(subscribeTimeout) || token.Error() != nil {
			if t.logger != nil {
				t.logger.Warn("relay subscription failed",
					"topic", sub.topic, "error", token.Error())
			}
		}
	}
}

// handleConnectionLost marks the session reconnecting; paho redials.
// Presence is reset because a retained update could be missed while
// the broker session is down.
func (t *Transport) handleConnectionLost(err error) {
	t.mu.Lock()
	closed := t.closed
	t.connected = false
	t.deviceOnline = false
	t.mu.Unlock()

	if !closed && t.logger != nil {
		t.logger.Warn("relay connection lost, reconnecting",
			"device_id", t.cfg.DeviceID, "error", err)
	}
}

// handleMessage decodes a relayed state snapshot and delivers it.
func (t *Transport) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	snap, err := machine.DecodeSnapshot(msg.Payload())
	if err != nil {
		// The state topic also carries log/status mirror frames.
		if !errors.Is(err, machine.ErrNotSnapshot) && t.logger != nil {
			t.logger.Debug("dropping malformed relay message",
				"topic", msg.Topic(), "error", err)
		}
		return
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	t.deliver(snap)
}

// handlePresence tracks the appliance's retained presence flag. The
// relay publishes "online"/"offline" from the firmware's broker session,
// so a connected relay session can still mean an absent appliance.
func (t *Transport) handlePresence(_ pahomqtt.Client, msg pahomqtt.Message) {
	online := strings.EqualFold(strings.TrimSpace(string(msg.Payload())), "online")

	t.mu.Lock()
	changed := t.deviceOnline != online
	t.deviceOnline = online
	t.mu.Unlock()

	if changed && t.logger != nil {
		t.logger.Info("appliance presence changed",
			"device_id", t.cfg.DeviceID, "online", online)
	}
}

// DeviceOnline reports whether the appliance's retained presence topic
// last showed it online. False until the first presence message arrives.
func (t *Transport) DeviceOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deviceOnline
}

// deliver hands a snapshot to consumers without blocking the paho
// handler goroutine.
func (t *Transport) deliver(snap machine.Snapshot) {
	select {
	case t.events <- snap:
	default:
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

// buildClientOptions creates paho options from the relay config.
func (t *Transport) buildClientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(t.brokerURL())
	opts.SetClientID(t.clientID())

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(t.cfg.Relay.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(t.cfg.Relay.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	if t.cfg.Relay.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// brokerURL builds the broker URL from the relay config.
func (t *Transport) brokerURL() string {
	scheme := "tcp"
	if t.cfg.Relay.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, t.cfg.Relay.Host, t.cfg.Relay.Port)
}

// clientID derives a unique broker client identity. The configured ID is
// a prefix; the random suffix prevents session stealing when two app
// instances share a config.
func (t *Transport) clientID() string {
	prefix := t.cfg.Relay.ClientID
	if prefix == "" {
		prefix = "brewlink"
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// waitToken waits for a paho token honouring both the context and the
// timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() { done <- token.WaitTimeout(timeout) }()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}
