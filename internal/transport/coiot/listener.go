package coiot

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	coap "github.com/dustin/go-coap"
	"go.uber.org/zap"
)

// Devices multicast unsolicited /cit/s status reports to this group.
const (
	multicastGroup = "224.0.1.187"
	DefaultPort    = 5683
)

// vendor option numbers on status reports. These exceed the option range the
// coap package resolves through Message.Option, so they are read straight
// from the datagram's option block.
const (
	optGlobalDeviceID = 3332
	optStatusSerial   = 3412
)

// Event is one decoded status report. DeviceID is the announced identity
// ("SHSW-25#69C0D1#2" reduced to its serial fragment for routing); ByChannel
// holds the decoded properties per channel.
type Event struct {
	DeviceID  string
	Model     string
	Serial    int
	Addr      string
	ByChannel map[int]map[string]any
}

// Listener joins the CoIoT multicast group and decodes status reports.
// Reports are deduplicated per device by serial: devices re-announce the same
// state periodically and only serial changes carry news.
type Listener struct {
	logger *zap.Logger
	conn   *net.UDPConn
	events chan Event

	mu    sync.Mutex
	seen  map[string]int
	wg    sync.WaitGroup
	close sync.Once
}

func NewListener(port int, logger *zap.Logger) (*Listener, error) {
	if port == 0 {
		port = DefaultPort
	}
	group := &net.UDPAddr{IP: net.ParseIP(multicastGroup), Port: port}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("join coiot multicast group: %w", err)
	}
	l := &Listener{
		logger: logger.With(zap.String("component", "coiot")),
		conn:   conn,
		events: make(chan Event, 32),
		seen:   make(map[string]int),
	}
	l.wg.Add(1)
	go l.readLoop()
	return l, nil
}

func (l *Listener) Events() <-chan Event {
	return l.events
}

func (l *Listener) Close(ctx context.Context) error {
	l.close.Do(func() {
		l.conn.Close()
	})
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) readLoop() {
	defer l.wg.Done()
	defer close(l.events)
	buf := make([]byte, 4096)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		ev, err := l.decode(datagram, addr)
		if err != nil {
			l.logger.Debug("dropping coiot packet", zap.Error(err), zap.Stringer("from", addr))
			continue
		}
		if l.duplicate(ev) {
			continue
		}
		select {
		case l.events <- ev:
		default:
			l.logger.Warn("coiot event queue full, dropping report",
				zap.String("device", ev.DeviceID))
		}
	}
}

func (l *Listener) duplicate(ev Event) bool {
	if ev.Serial == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[ev.DeviceID] == ev.Serial {
		return true
	}
	l.seen[ev.DeviceID] = ev.Serial
	return false
}

func (l *Listener) decode(datagram []byte, addr *net.UDPAddr) (Event, error) {
	msg, err := coap.ParseMessage(datagram)
	if err != nil {
		return Event{}, fmt.Errorf("parse coap message: %w", err)
	}
	if len(msg.Payload) == 0 {
		return Event{}, fmt.Errorf("empty payload")
	}

	opts, err := rawOptions(datagram)
	if err != nil {
		return Event{}, err
	}
	announced := string(opts[optGlobalDeviceID])
	if announced == "" {
		return Event{}, fmt.Errorf("status report without device id option")
	}
	model, deviceID := splitDeviceID(announced)

	ev := Event{
		DeviceID: deviceID,
		Model:    model,
		Serial:   beInt(opts[optStatusSerial]),
		Addr:     addr.IP.String(),
	}
	ev.ByChannel, err = decodePayload(msg.Payload)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// splitDeviceID breaks "MODEL#SERIAL#version" apart. Routing uses the serial
// fragment; the model tag refines unknown pairings.
func splitDeviceID(announced string) (model, id string) {
	parts := strings.Split(announced, "#")
	if len(parts) >= 2 {
		return parts[0], strings.ToLower(parts[1])
	}
	return "", strings.ToLower(announced)
}

// statusPayload is the /cit/s body: G holds [channel, propertyID, value]
// triples. Values are numbers for readings and strings for input events.
type statusPayload struct {
	G [][]any `json:"G"`
}

func decodePayload(payload []byte) (map[int]map[string]any, error) {
	var body statusPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode status payload: %w", err)
	}
	out := make(map[int]map[string]any)
	for _, triple := range body.G {
		if len(triple) != 3 {
			continue
		}
		id, ok := triple[1].(float64)
		if !ok {
			continue
		}
		field, channel, ok := decodeProp(int(id))
		if !ok {
			continue
		}
		if out[channel] == nil {
			out[channel] = make(map[string]any)
		}
		out[channel][field] = triple[2]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("status payload carries no known properties")
	}
	return out, nil
}

// rawOptions walks the option block of a CoAP datagram and returns option
// values by number. Extended deltas are handled so the vendor options above
// 255 come through intact.
func rawOptions(datagram []byte) (map[int][]byte, error) {
	if len(datagram) < 4 {
		return nil, fmt.Errorf("datagram too short")
	}
	tokenLen := int(datagram[0] & 0x0f)
	pos := 4 + tokenLen
	if pos > len(datagram) {
		return nil, fmt.Errorf("token exceeds datagram")
	}

	extend := func(nibble int) (int, error) {
		switch nibble {
		case 13:
			if pos >= len(datagram) {
				return 0, fmt.Errorf("truncated option header")
			}
			v := int(datagram[pos]) + 13
			pos++
			return v, nil
		case 14:
			if pos+1 >= len(datagram) {
				return 0, fmt.Errorf("truncated option header")
			}
			v := (int(datagram[pos])<<8 | int(datagram[pos+1])) + 269
			pos += 2
			return v, nil
		default:
			return nibble, nil
		}
	}

	opts := make(map[int][]byte)
	number := 0
	for pos < len(datagram) {
		b := datagram[pos]
		if b == 0xff {
			break
		}
		pos++
		delta, err := extend(int(b >> 4))
		if err != nil {
			return nil, err
		}
		length, err := extend(int(b & 0x0f))
		if err != nil {
			return nil, err
		}
		if pos+length > len(datagram) {
			return nil, fmt.Errorf("option value exceeds datagram")
		}
		number += delta
		opts[number] = datagram[pos : pos+length]
		pos += length
	}
	return opts, nil
}

func beInt(b []byte) int {
	v := 0
	for _, x := range b {
		v = v<<8 | int(x)
	}
	return v
}
