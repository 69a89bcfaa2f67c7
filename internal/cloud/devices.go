package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	requestTimeout = 15 * time.Second
	maxBodySize    = 1 << 20
)

// Device is a paired appliance as the cloud service knows it.
type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Model    string    `json:"model"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// RelayCredentials authenticate a relay broker session for one device.
type RelayCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Devices fetches the user's paired appliance list.
func (s *Session) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := s.apiRequest(ctx, http.MethodGet, "/api/v1/devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Pair claims an appliance using the pairing code it displays, adding
// it to the user's device list.
func (s *Session) Pair(ctx context.Context, code string) (Device, error) {
	var device Device
	body := map[string]string{"code": code}
	if err := s.apiRequest(ctx, http.MethodPost, "/api/v1/devices/pair", body, &device); err != nil {
		return Device{}, fmt.Errorf("%w: %w", ErrPairingFailed, err)
	}
	return device, nil
}

// Unpair removes an appliance from the user's device list.
func (s *Session) Unpair(ctx context.Context, deviceID string) error {
	return s.apiRequest(ctx, http.MethodDelete, "/api/v1/devices/"+deviceID, nil, nil)
}

// RelayCredentials requests broker credentials scoped to one device.
// The credentials are short-lived; request fresh ones per connection.
func (s *Session) RelayCredentials(ctx context.Context, deviceID string) (RelayCredentials, error) {
	var creds RelayCredentials
	path := "/api/v1/devices/" + deviceID + "/relay-credentials"
	if err := s.apiRequest(ctx, http.MethodPost, path, nil, &creds); err != nil {
		return RelayCredentials{}, err
	}
	return creds, nil
}

// apiRequest performs an authenticated JSON request against the cloud
// API, decoding the response into out when non-nil.
func (s *Session) apiRequest(ctx context.Context, method, path string, in, out any) error {
	accessToken, err := s.AccessToken(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read side only

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned status %d", ErrRequestFailed, method, path, resp.StatusCode)
	}

	if out != nil {
		body := io.LimitReader(resp.Body, maxBodySize)
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding %s: %w", ErrRequestFailed, path, err)
		}
	}
	return nil
}
