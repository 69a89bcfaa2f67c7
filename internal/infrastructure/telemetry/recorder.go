package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/brewos/brewlink/internal/infrastructure/config"
	"github.com/brewos/brewlink/internal/machine"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Logger is the logging interface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder wraps the InfluxDB v2 client and follows the domain store.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Write operations are non-blocking and batched.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   Logger

	mu        sync.Mutex
	connected bool
}

// Connect establishes a connection to the InfluxDB server.
//
// Parameters:
//   - cfg: telemetry configuration from config.yaml
//   - logger: for async write failures, may be nil
//
// Returns:
//   - *Recorder: connected recorder ready for use
//   - error: ErrDisabled when telemetry is off, ErrConnectionFailed when
//     InfluxDB cannot be reached
func Connect(cfg config.TelemetryConfig, logger Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &Recorder{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:    logger,
		connected: true,
	}

	go r.handleWriteErrors(r.writeAPI.Errors())

	return r, nil
}

// handleWriteErrors drains async write failures from the WriteAPI.
func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		if r.logger != nil {
			r.logger.Warn("telemetry write failed", "error", err)
		}
	}
}

// Follow subscribes to the domain store and records every snapshot
// until the returned stop function is called.
//
// Parameters:
//   - store: the domain store to follow
//   - deviceID: resolves the device the readings belong to; evaluated
//     per snapshot since the active device can change between sessions
func (r *Recorder) Follow(store *machine.Store, deviceID func() string) (stop func()) {
	events, unsubscribe := store.Subscribe()
	stopCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-stopCh:
				return
			case snap, ok := <-events:
				if !ok {
					return
				}
				r.Record(deviceID(), snap)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			unsubscribe()
			<-done
		})
	}
}

// Record writes one snapshot's readings. Non-blocking; points are
// batched and flushed asynchronously.
func (r *Recorder) Record(deviceID string, snap machine.Snapshot) {
	if !r.IsConnected() {
		return
	}

	r.writeAPI.WritePoint(readingPoint(deviceID, snap))
	if snap.Shot.Active {
		r.writeAPI.WritePoint(shotPoint(deviceID, snap))
	}
}

// readingPoint builds the temperature/pressure measurement for a snapshot.
func readingPoint(deviceID string, snap machine.Snapshot) *write.Point {
	ts := snap.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		"machine_readings",
		map[string]string{
			"device_id": deviceID,
			"state":     string(snap.State),
			"mode":      string(snap.Mode),
		},
		map[string]interface{}{
			"brew_temp":      snap.BrewTemp,
			"brew_setpoint":  snap.BrewSetpoint,
			"steam_temp":     snap.SteamTemp,
			"steam_setpoint": snap.SteamSetpoint,
			"pressure":       snap.Pressure,
		},
		ts,
	)
}

// shotPoint builds the in-progress shot measurement for a snapshot.
func shotPoint(deviceID string, snap machine.Snapshot) *write.Point {
	ts := snap.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		"shots",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"weight_g":  snap.Shot.Weight,
			"flow_rate": snap.Shot.FlowRate,
			"pressure":  snap.Pressure,
		},
		ts,
	)
}

// IsConnected returns the current connection state.
func (r *Recorder) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Close flushes pending points and releases the client.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return
	}
	r.connected = false
	r.mu.Unlock()

	r.writeAPI.Flush()
	r.client.Close()
}
