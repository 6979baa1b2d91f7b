package cloud

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	wsPort = 6113
	wsPath = "/shelly/wss/hk_sock"

	// the relay answers pings lazily; a pong can trail by several ping
	// cycles before the session is declared dead
	pingInterval   = 120 * time.Second
	pongBudget     = 370 * time.Second
	maxMissedPings = 3

	// the relay throttles chatty clients, so sends are spaced out
	sendInterval = 500 * time.Millisecond
)

// StatusEvent is a Shelly:StatusOnChange relay frame.
type StatusEvent struct {
	DeviceID string
	Gen      int
	Status   map[string]any
}

// OnlineEvent is a Shelly:Online relay frame.
type OnlineEvent struct {
	DeviceID string
	Online   bool
}

// Socket is one session to the cloud WebSocket relay. Events arrive on
// Statuses and Onlines; commands go out through SendCommand, rate limited.
// Like a device socket it is single-use: after Closed fires, dial again.
type Socket struct {
	logger  *zap.Logger
	conn    *websocket.Conn
	limiter *rate.Limiter

	writeMu sync.Mutex
	trid    atomic.Int64

	statuses chan StatusEvent
	onlines  chan OnlineEvent
	done     chan struct{}
	closed   atomic.Bool

	pongMu   sync.Mutex
	lastPong time.Time
	missed   int
}

// DialSocket connects to the account's relay server with the auth token in
// the URL, the only place the relay accepts it.
func DialSocket(ctx context.Context, server, token string, logger *zap.Logger) (*Socket, error) {
	u := url.URL{
		Scheme:   "wss",
		Host:     fmt.Sprintf("%s:%d", hostOnly(server), wsPort),
		Path:     wsPath,
		RawQuery: url.Values{"t": {token}}.Encode(),
	}
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial cloud relay: %w", err)
	}
	s := &Socket{
		logger:   logger.With(zap.String("component", "cloudws")),
		conn:     conn,
		limiter:  rate.NewLimiter(rate.Every(sendInterval), 1),
		statuses: make(chan StatusEvent, 32),
		onlines:  make(chan OnlineEvent, 32),
		done:     make(chan struct{}),
		lastPong: time.Now(),
	}
	conn.SetPongHandler(func(string) error {
		s.pongMu.Lock()
		s.lastPong = time.Now()
		s.missed = 0
		s.pongMu.Unlock()
		return nil
	})
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

func (s *Socket) Statuses() <-chan StatusEvent { return s.statuses }
func (s *Socket) Onlines() <-chan OnlineEvent  { return s.onlines }
func (s *Socket) Closed() <-chan struct{}      { return s.done }
func (s *Socket) Connected() bool              { return !s.closed.Load() }

func (s *Socket) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		return s.conn.Close()
	}
	return nil
}

// SendCommand pushes a Shelly:CommandRequest frame. The call blocks on the
// rate limiter so bursts are spread out instead of rejected.
func (s *Socket) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if s.closed.Load() {
		return fmt.Errorf("cloud relay session closed")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	frame := map[string]any{
		"event":    "Shelly:CommandRequest",
		"trid":     s.trid.Add(1),
		"deviceId": deviceID,
		"data": map[string]any{
			"cmd":    command,
			"params": params,
		},
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("cloud command %s: %w", command, err)
	}
	return nil
}

type relayFrame struct {
	Event  string `json:"event"`
	Device struct {
		ID  any `json:"id"`
		Gen int `json:"gen"`
	} `json:"device"`
	Status map[string]any `json:"status"`
	Online int            `json:"online"`
}

func (s *Socket) readLoop() {
	defer func() {
		s.closed.Store(true)
		s.conn.Close()
		close(s.statuses)
		close(s.onlines)
		close(s.done)
	}()
	for {
		var frame relayFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if !s.closed.Load() {
				s.logger.Debug("cloud relay read failed", zap.Error(err))
			}
			return
		}
		deviceID := deviceIDString(frame.Device.ID)
		switch frame.Event {
		case "Shelly:StatusOnChange":
			select {
			case s.statuses <- StatusEvent{DeviceID: deviceID, Gen: frame.Device.Gen, Status: frame.Status}:
			default:
				s.logger.Warn("cloud status queue full, dropping frame", zap.String("device", deviceID))
			}
		case "Shelly:Online":
			select {
			case s.onlines <- OnlineEvent{DeviceID: deviceID, Online: frame.Online != 0}:
			default:
			}
		}
	}
}

func (s *Socket) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		s.pongMu.Lock()
		stale := time.Since(s.lastPong) > pongBudget
		s.missed++
		missed := s.missed
		s.pongMu.Unlock()
		if stale || missed > maxMissedPings {
			s.logger.Warn("cloud relay stopped answering pings, terminating session")
			s.Close()
			return
		}
		s.writeMu.Lock()
		err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
		s.writeMu.Unlock()
		if err != nil {
			s.Close()
			return
		}
	}
}

// deviceIDString normalizes the relay's device id, which arrives as a string
// for gen2 devices and a bare number for gen1.
func deviceIDString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%x", int64(v))
	}
	return ""
}

func hostOnly(server string) string {
	if u, err := url.Parse("//" + server); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return server
}
