package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTClient fetches account-wide state over the cloud HTTP API. It backs
// the periodic reconciliation pass; the live path is the WebSocket relay.
type RESTClient struct {
	server string
	token  string
	http   *http.Client
}

func NewRESTClient(server, token string) *RESTClient {
	return &RESTClient{
		server: server,
		token:  token,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// AllStatus fetches the status of every device on the account, keyed by the
// cloud's device id.
func (c *RESTClient) AllStatus(ctx context.Context) (map[string]map[string]any, error) {
	var out struct {
		IsOK bool `json:"isok"`
		Data struct {
			DevicesStatus map[string]map[string]any `json:"devices_status"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/device/all_status", url.Values{
		"show_info": {"true"},
	}, &out); err != nil {
		return nil, err
	}
	if !out.IsOK {
		return nil, fmt.Errorf("cloud rejected all_status request")
	}
	return out.Data.DevicesStatus, nil
}

// RelayControl drives a relay channel through the cloud HTTP API. turn is
// "on", "off" or "toggle".
func (c *RESTClient) RelayControl(ctx context.Context, deviceID string, channel int, turn string) error {
	var out struct {
		IsOK bool `json:"isok"`
	}
	err := c.post(ctx, "/device/relay/control", url.Values{
		"id":      {deviceID},
		"channel": {fmt.Sprint(channel)},
		"turn":    {turn},
	}, &out)
	if err != nil {
		return err
	}
	if !out.IsOK {
		return fmt.Errorf("cloud rejected relay control for %s", deviceID)
	}
	return nil
}

func (c *RESTClient) post(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("auth_key", c.token)
	u := url.URL{Scheme: "https", Host: c.server, Path: path}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("cloud %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloud %s: decode: %w", path, err)
	}
	return nil
}
