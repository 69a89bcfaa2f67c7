// Package local provides the LAN transport: a persistent WebSocket to the
// appliance's /ws endpoint on the serving origin.
//
// The connection is self-healing: after a drop (or a failed first dial)
// the transport keeps redialling with exponential backoff until
// Disconnect. The application layer only ever observes "connected" or
// "not yet connected".
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/transport"
)

// Logger is the logging interface the transport needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Connection tuning.
const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second

	// readLimit bounds inbound frames; state snapshots are small, stats
	// payloads are the largest messages current firmware sends.
	readLimit = 64 * 1024

	eventBufferSize = 16
)

// Config holds the local transport's connection parameters.
type Config struct {
	// URL is the appliance WebSocket endpoint, e.g. "ws://brewos.local/ws".
	URL string

	// InitialBackoff is the delay before the first redial.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential redial delay.
	MaxBackoff time.Duration
}

// Transport is the LAN WebSocket transport. It implements
// transport.Transport.
type Transport struct {
	cfg    Config
	logger Logger

	mu      sync.Mutex
	started bool
	closed  bool
	status  transport.Status
	conn    *websocket.Conn
	stop    chan struct{}
	done    chan struct{}

	// writeMu serialises writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex

	events chan machine.Snapshot
}

// New creates a local transport. Connect starts the connection.
func New(cfg Config, logger Logger) *Transport {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Transport{
		cfg:    cfg,
		logger: logger,
		status: transport.StatusDisconnected,
		events: make(chan machine.Snapshot, eventBufferSize),
	}
}

// Connect dials the appliance and starts the self-healing read loop.
//
// The first dial's outcome is reported to the caller; on failure the
// transport keeps retrying in the background with exponential backoff, so
// an error here means "not yet connected", not "gave up".
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
	t.status = transport.StatusConnecting
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stop, t.done
	t.mu.Unlock()

	firstResult := make(chan error, 1)
	go t.run(stop, done, firstResult)

	select {
	case err := <-firstResult:
		if err != nil {
			return fmt.Errorf("%w: %w", transport.ErrConnectFailed, err)
		}
		return nil
	case <-ctx.Done():
		// The background loop keeps trying; the caller just stops waiting.
		return fmt.Errorf("%w: %w", transport.ErrConnectFailed, ctx.Err())
	}
}

// Disconnect tears down the socket and the reconnect loop, then closes
// the event stream. Safe to call multiple times and from any state, even
// while a dial is in flight: the loop checks liveness before applying a
// dial result, so a connection completed after teardown is discarded.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	started := t.started
	stop := t.stop
	done := t.done
	conn := t.conn
	t.status = transport.StatusDisconnected
	t.mu.Unlock()

	if started {
		close(stop)
		if conn != nil {
			conn.Close() //nolint:errcheck // Unblocks the read loop
		}
		<-done
	}
	close(t.events)
}

// Send forwards a command over the socket.
func (t *Transport) Send(cmd machine.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return transport.ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // Deadline errors surface on write
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrNotConnected, err)
	}
	return nil
}

// Events returns the inbound snapshot stream.
func (t *Transport) Events() <-chan machine.Snapshot { return t.events }

// Status reports the current connection state.
func (t *Transport) Status() transport.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Kind identifies this transport as the local LAN connection.
func (t *Transport) Kind() transport.Kind { return transport.KindLocal }

// run dials, reads, and redials until stopped. The first dial's outcome
// is reported once on firstResult.
func (t *Transport) run(stop <-chan struct{}, done chan<- struct{}, firstResult chan<- error) {
	defer close(done)

	backoff := t.cfg.InitialBackoff
	first := true

	report := func(err error) {
		if first {
			firstResult <- err
			first = false
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	for {
		if stopped(stop) {
			report(errors.New("transport stopped"))
			return
		}

		conn, resp, err := dialer.Dial(t.cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close() //nolint:errcheck // Handshake response body is not used
		}

		// A dial completed after teardown must not resurrect the
		// transport.
		if stopped(stop) {
			if conn != nil {
				conn.Close() //nolint:errcheck // Teardown race cleanup
			}
			report(errors.New("transport stopped"))
			return
		}

		if err != nil {
			report(err)
			if t.logger != nil {
				t.logger.Warn("local transport dial failed, retrying",
					"url", t.cfg.URL, "backoff", backoff.String(), "error", err)
			}
			if !sleep(stop, backoff) {
				return
			}
			backoff = nextBackoff(backoff, t.cfg.MaxBackoff)
			continue
		}

		conn.SetReadLimit(readLimit)
		t.mu.Lock()
		t.conn = conn
		t.status = transport.StatusConnected
		t.mu.Unlock()
		if t.logger != nil {
			t.logger.Info("local transport connected", "url", t.cfg.URL)
		}
		report(nil)
		backoff = t.cfg.InitialBackoff

		t.readLoop(conn, stop)

		t.mu.Lock()
		t.conn = nil
		if !t.closed {
			t.status = transport.StatusConnecting
		}
		t.mu.Unlock()

		if stopped(stop) {
			return
		}
		if t.logger != nil {
			t.logger.Warn("local transport connection lost, reconnecting",
				"url", t.cfg.URL, "backoff", backoff.String())
		}
		if !sleep(stop, backoff) {
			return
		}
		backoff = nextBackoff(backoff, t.cfg.MaxBackoff)
	}
}

// readLoop delivers inbound snapshots until the connection drops or the
// transport stops.
func (t *Transport) readLoop(conn *websocket.Conn, stop <-chan struct{}) {
	defer conn.Close() //nolint:errcheck // Read loop owns connection teardown

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if stopped(stop) {
			return
		}

		snap, err := machine.DecodeSnapshot(data)
		if err != nil {
			// Logs, stats pushes, and OTA progress share this channel.
			if !errors.Is(err, machine.ErrNotSnapshot) && t.logger != nil {
				t.logger.Debug("dropping malformed message", "error", err)
			}
			continue
		}

		t.deliver(snap)
	}
}

// deliver hands a snapshot to consumers without blocking the read loop.
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

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// sleep waits d or until stop closes; reports false when stopped.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current, maxDelay time.Duration) time.Duration {
	next := current * 2
	if next > maxDelay {
		return maxDelay
	}
	return next
}
