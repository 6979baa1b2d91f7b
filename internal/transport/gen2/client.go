package gen2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Frame is one JSON-RPC 2.0 message on the device socket. Responses carry Id
// and Result or Error; notifications carry Method and Params.
type Frame struct {
	ID     *int64          `json:"id,omitempty"`
	Src    string          `json:"src,omitempty"`
	Dst    string          `json:"dst,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Notification is an unsolicited NotifyStatus/NotifyFullStatus/NotifyEvent
// frame from the device.
type Notification struct {
	Src    string
	Method string
	Params map[string]any
}

// inactivity budget on the read side. Devices notify on change and answer
// pings, so a silent two minutes means the session is dead.
const readDeadline = 120 * time.Second

const dialTimeout = 10 * time.Second

// Client is one outbound WebSocket JSON-RPC session to a gen2 device. A
// Client is single-use: after Closed() fires, dial a fresh one.
type Client struct {
	src  string
	conn *websocket.Conn

	mu      sync.Mutex
	writeMu sync.Mutex
	nextID  int64
	pending map[int64]chan Frame
	closed  bool

	notifications chan Notification
	done          chan struct{}
}

// Dial opens ws://<address>/rpc and starts the read loop.
func Dial(ctx context.Context, address string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: "/rpc"}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	c := &Client{
		src:           "shelly2mqtt-" + uuid.NewString()[:8],
		conn:          conn,
		pending:       make(map[int64]chan Frame),
		notifications: make(chan Notification, 16),
		done:          make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	go c.readLoop()
	return c, nil
}

// Notifications delivers unsolicited frames. The channel closes when the
// session dies.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications
}

// Closed fires when the session is gone for any reason.
func (c *Client) Closed() <-chan struct{} {
	return c.done
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// Ping sends a WebSocket-level ping. The pong extends the read deadline.
func (c *Client) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Call issues a request and waits for the matching response. The error is an
// *RPCError when the device rejected the call and a transport error when the
// session died underneath it.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("rpc session closed")
	}
	c.nextID++
	id := c.nextID
	reply := make(chan Frame, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		rawParams = b
	}
	frame := Frame{ID: &id, Src: c.src, Method: method, Params: rawParams}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", method, err)
	}

	select {
	case resp := <-reply:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-c.done:
		return nil, fmt.Errorf("rpc %s: session closed", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetFullStatus fetches Shelly.GetStatus, decoded to the generic map shape
// the status splitter takes.
func (c *Client) GetFullStatus(ctx context.Context) (map[string]any, error) {
	raw, err := c.Call(ctx, "Shelly.GetStatus", nil)
	if err != nil {
		return nil, err
	}
	var status map[string]any
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
		close(c.notifications)
		close(c.done)
	}()

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return
		}
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.ID != nil && frame.Method == "" {
			c.mu.Lock()
			reply, ok := c.pending[*frame.ID]
			c.mu.Unlock()
			if ok {
				reply <- frame
			}
			continue
		}
		if frame.Method == "" {
			continue
		}
		var params map[string]any
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				continue
			}
		}
		select {
		case c.notifications <- Notification{Src: frame.Src, Method: frame.Method, Params: params}:
		default:
			// slow consumer drops a notification; the next status report
			// carries the same state again
		}
	}
}
