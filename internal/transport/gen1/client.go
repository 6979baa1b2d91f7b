package gen1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks plain HTTP to a first-generation device. Requests are short
// and local; anything slower than the timeout is treated as the device being
// away.
type Client struct {
	address  string
	username string
	password string
	http     *http.Client
}

const requestTimeout = 3 * time.Second

func NewClient(address, username, password string) *Client {
	return &Client{
		address:  address,
		username: username,
		password: password,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

// GetStatus fetches /status, the full capability snapshot.
func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	return c.getJSON(ctx, "/status", nil)
}

// GetSettings fetches /settings, used at pairing time for model and name.
func (c *Client) GetSettings(ctx context.Context) (map[string]any, error) {
	return c.getJSON(ctx, "/settings", nil)
}

// Probe fetches /shelly, the unauthenticated identity endpoint.
func (c *Client) Probe(ctx context.Context) (map[string]any, error) {
	return c.getJSON(ctx, "/shelly", nil)
}

// SetRelay drives /relay/N. turn is "on", "off" or "toggle".
func (c *Client) SetRelay(ctx context.Context, channel int, turn string) error {
	_, err := c.getJSON(ctx, "/relay/"+strconv.Itoa(channel), url.Values{"turn": {turn}})
	return err
}

// SetLight drives /light/N (or /color/N firmware aliases it). params carries
// turn, brightness, red/green/blue, temp and friends as plain query values.
func (c *Client) SetLight(ctx context.Context, channel int, params url.Values) error {
	_, err := c.getJSON(ctx, "/light/"+strconv.Itoa(channel), params)
	return err
}

// SetRoller drives /roller/N. go is "open", "close", "stop" or "to_pos" with
// roller_pos set.
func (c *Client) SetRoller(ctx context.Context, channel int, params url.Values) error {
	_, err := c.getJSON(ctx, "/roller/"+strconv.Itoa(channel), params)
	return err
}

// Call issues a gen2-style RPC over HTTP GET, for polled Plus/Pro devices
// that have no socket session. Params become query values.
func (c *Client) Call(ctx context.Context, method string, params url.Values) (map[string]any, error) {
	return c.getJSON(ctx, "/rpc/"+method, params)
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	u := url.URL{Scheme: "http", Host: c.address, Path: path}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("device %s: %s %s", c.address, path, resp.Status)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("device %s: decode %s: %w", c.address, path, err)
	}
	return out, nil
}
