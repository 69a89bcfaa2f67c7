package localapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultTimeout bounds individual appliance requests. Mode discovery
// passes its own deadline through ctx; this is the fallback for the
// rest of the surface.
const defaultTimeout = 10 * time.Second

// maxBodySize bounds response bodies; the appliance's largest response
// is the Wi-Fi scan list.
const maxBodySize = 256 * 1024

// ModeInfo is the appliance's answer to mode discovery.
type ModeInfo struct {
	// Mode is the appliance's self-reported serving mode, "local" on
	// current firmware.
	Mode string `json:"mode"`

	// APMode reports whether the appliance is serving its provisioning
	// access point instead of joining the LAN.
	APMode bool `json:"apMode"`
}

// SetupStatus is the appliance's first-run wizard state.
type SetupStatus struct {
	Complete bool `json:"complete"`
}

// DeviceInfo describes the appliance's identity and firmware.
type DeviceInfo struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
}

// Network is one entry from the appliance's Wi-Fi scan.
type Network struct {
	SSID   string `json:"ssid"`
	RSSI   int    `json:"rssi"`
	Secure bool   `json:"secure"`
}

// Client talks to the appliance's REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an appliance API client.
//
// Parameters:
//   - baseURL: the appliance's HTTP base, e.g. "http://brewos.local:80"
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Mode queries the appliance's serving mode. The caller's ctx carries
// the discovery deadline; on timeout or network failure the appliance
// is treated as absent from the LAN.
func (c *Client) Mode(ctx context.Context) (ModeInfo, error) {
	var info ModeInfo
	if err := c.getJSON(ctx, "/api/mode", &info); err != nil {
		return ModeInfo{}, err
	}
	return info, nil
}

// IsSetupComplete reports whether the first-run wizard has been
// finished on the appliance.
//
// Fail-open: a missing endpoint (older firmware), a network error, or a
// malformed body all report true. The wizard must never trap a user
// whose machine cannot answer the question.
func (c *Client) IsSetupComplete(ctx context.Context) bool {
	var status SetupStatus
	if err := c.getJSON(ctx, "/api/setup/status", &status); err != nil {
		return true
	}
	return status.Complete
}

// CompleteSetup marks the first-run wizard finished on the appliance.
func (c *Client) CompleteSetup(ctx context.Context) error {
	return c.postJSON(ctx, "/api/setup/complete", nil, nil)
}

// Info fetches the appliance's identity.
func (c *Client) Info(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	if err := c.getJSON(ctx, "/api/info", &info); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}

// Networks fetches the appliance's Wi-Fi scan results. Used by the
// provisioning flow while the appliance serves its access point.
func (c *Client) Networks(ctx context.Context) ([]Network, error) {
	var resp struct {
		Networks []Network `json:"networks"`
	}
	if err := c.getJSON(ctx, "/api/wifi/networks", &resp); err != nil {
		return nil, err
	}
	return resp.Networks, nil
}

// ConnectWiFi submits LAN credentials to a provisioning appliance. The
// appliance reboots onto the network, so the response may be cut short;
// a dropped connection after submission is not an error.
func (c *Client) ConnectWiFi(ctx context.Context, ssid, password string) error {
	body := map[string]string{"ssid": ssid, "password": password}
	err := c.postJSON(ctx, "/api/wifi/connect", body, nil)
	if err == nil || ctx.Err() != nil {
		return err
	}

	// A definite rejection from the appliance is real; a dropped
	// connection after submission is the reboot racing the response.
	var httpErr *statusError
	if errors.As(err, &httpErr) {
		return err
	}
	return nil
}

// getJSON performs a GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read side only

	if resp.StatusCode != http.StatusOK {
		return &statusError{path: path, code: resp.StatusCode}
	}

	body := io.LimitReader(resp.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrBadResponse, path, err)
	}
	return nil
}

// postJSON performs a POST with an optional JSON body, decoding the
// response into out when non-nil.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read side only

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{path: path, code: resp.StatusCode}
	}

	if out != nil {
		body := io.LimitReader(resp.Body, maxBodySize)
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding %s: %w", ErrBadResponse, path, err)
		}
	}
	return nil
}

// statusError reports a non-success HTTP status from the appliance.
type statusError struct {
	path string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("localapi: %s returned status %d", e.path, e.code)
}

func (e *statusError) Is(target error) bool { return target == ErrBadResponse }
