package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/normalize"

	"go.uber.org/zap"
)

// RPCSession is a live device WebSocket session. Connected is checked before
// every send so a command against a dead socket fails immediately instead of
// queueing behind a reconnect.
type RPCSession interface {
	Connected() bool
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// CloudSession is the shared relay session. Rate limiting lives inside it.
type CloudSession interface {
	Connected() bool
	SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error
}

// HTTPCaller drives one device over local HTTP. It carries the status fetch
// too so the polling path shares the client.
type HTTPCaller interface {
	GetStatus(ctx context.Context) (map[string]any, error)
	SetRelay(ctx context.Context, channel int, turn string) error
	SetLight(ctx context.Context, channel int, params url.Values) error
	SetRoller(ctx context.Context, channel int, params url.Values) error
	Call(ctx context.Context, method string, params url.Values) (map[string]any, error)
}

// Sessions resolves the transport session a device is currently attached to.
// The actor layer owns the sessions; the dispatcher only borrows them.
type Sessions interface {
	SocketFor(mainID string) (RPCSession, bool)
	HTTPFor(dev *domain.LogicalDevice) HTTPCaller
	Cloud() (CloudSession, bool)
}

// Dispatcher translates host commands into device calls. Inbound state flows
// elsewhere; everything here is outbound, and outbound errors surface to the
// caller.
type Dispatcher struct {
	sessions Sessions
	logger   *zap.Logger
}

func New(sessions Sessions, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		logger:   logger.With(zap.String("component", "dispatch")),
	}
}

// Dispatch executes one action against one logical device. Actions a device
// cannot perform on its transport succeed as no-ops; transport failures are
// the caller's to see.
func (d *Dispatcher) Dispatch(ctx context.Context, dev *domain.LogicalDevice, action domain.Action, params map[string]any) error {
	d.logger.Debug("dispatching command",
		zap.String("device", dev.ID),
		zap.Stringer("action", action),
		zap.Stringer("mode", dev.Mode))

	switch dev.Mode {
	case domain.ModeSocket:
		return d.viaSocket(ctx, dev, action, params)
	case domain.ModePush, domain.ModePoll:
		return d.viaHTTP(ctx, dev, action, params)
	case domain.ModeCloud:
		return d.viaCloud(ctx, dev, action, params)
	case domain.ModeHardwareLink:
		// wired behind another unit, nothing to send
		return nil
	}
	return fmt.Errorf("device %s: no dispatch route for mode %s", dev.ID, dev.Mode)
}

func (d *Dispatcher) viaSocket(ctx context.Context, dev *domain.LogicalDevice, action domain.Action, params map[string]any) error {
	session, ok := d.sessions.SocketFor(dev.MainID)
	if !ok || !session.Connected() {
		return fmt.Errorf("device %s: socket not connected", dev.ID)
	}

	call := func(method string, p map[string]any) error {
		_, err := session.Call(ctx, method, p)
		return err
	}

	switch action {
	case domain.ActionTurnOn, domain.ActionTurnOff:
		return call("Switch.Set", map[string]any{
			"id": dev.Channel, "on": action == domain.ActionTurnOn,
		})
	case domain.ActionToggle:
		return call("Switch.Toggle", map[string]any{"id": dev.Channel})
	case domain.ActionSetBrightness:
		return call("Light.Set", map[string]any{
			"id": dev.Channel, "brightness": percent(params, "dim"),
		})
	case domain.ActionSetColor:
		r, g, b := rgbFromParams(params)
		return call("RGB.Set", map[string]any{
			"id": dev.Channel, "rgb": []int{r, g, b},
		})
	case domain.ActionSetColorTemp:
		return call("Light.Set", map[string]any{
			"id": dev.Channel, "ct": kelvinFromParams(params, dev.Model),
		})
	case domain.ActionSetPosition:
		return call("Cover.GoToPosition", map[string]any{
			"id": dev.Channel, "pos": percent(params, "windowcoverings_set"),
		})
	case domain.ActionReboot:
		return call("Shelly.Reboot", nil)
	case domain.ActionUpdateFirmware:
		return call("Shelly.Update", map[string]any{"stage": "stable"})
	}
	return nil
}

func (d *Dispatcher) viaHTTP(ctx context.Context, dev *domain.LogicalDevice, action domain.Action, params map[string]any) error {
	client := d.sessions.HTTPFor(dev)

	if dev.Model.Gen >= 2 {
		return d.viaHTTPRPC(ctx, client, dev, action, params)
	}

	switch action {
	case domain.ActionTurnOn:
		return client.SetRelay(ctx, dev.Channel, "on")
	case domain.ActionTurnOff:
		return client.SetRelay(ctx, dev.Channel, "off")
	case domain.ActionToggle:
		return client.SetRelay(ctx, dev.Channel, "toggle")
	case domain.ActionSetBrightness:
		return client.SetLight(ctx, dev.Channel, url.Values{
			"brightness": {strconv.Itoa(percent(params, "dim"))},
		})
	case domain.ActionSetColor:
		r, g, b := rgbFromParams(params)
		return client.SetLight(ctx, dev.Channel, url.Values{
			"red":   {strconv.Itoa(r)},
			"green": {strconv.Itoa(g)},
			"blue":  {strconv.Itoa(b)},
			"mode":  {"color"},
		})
	case domain.ActionSetColorTemp:
		return client.SetLight(ctx, dev.Channel, url.Values{
			"temp": {strconv.Itoa(kelvinFromParams(params, dev.Model))},
			"mode": {"white"},
		})
	case domain.ActionSetPosition:
		return client.SetRoller(ctx, dev.Channel, url.Values{
			"go":         {"to_pos"},
			"roller_pos": {strconv.Itoa(percent(params, "windowcoverings_set"))},
		})
	case domain.ActionReboot:
		_, err := client.Call(ctx, "reboot", nil)
		return err
	case domain.ActionUpdateFirmware:
		_, err := client.Call(ctx, "ota", url.Values{"update": {"true"}})
		return err
	}
	return nil
}

// viaHTTPRPC drives a polled gen2 device through its HTTP RPC endpoint.
func (d *Dispatcher) viaHTTPRPC(ctx context.Context, client HTTPCaller, dev *domain.LogicalDevice, action domain.Action, params map[string]any) error {
	id := strconv.Itoa(dev.Channel)
	var err error
	switch action {
	case domain.ActionTurnOn, domain.ActionTurnOff:
		_, err = client.Call(ctx, "Switch.Set", url.Values{
			"id": {id}, "on": {strconv.FormatBool(action == domain.ActionTurnOn)},
		})
	case domain.ActionToggle:
		_, err = client.Call(ctx, "Switch.Toggle", url.Values{"id": {id}})
	case domain.ActionSetBrightness:
		_, err = client.Call(ctx, "Light.Set", url.Values{
			"id": {id}, "brightness": {strconv.Itoa(percent(params, "dim"))},
		})
	case domain.ActionSetPosition:
		_, err = client.Call(ctx, "Cover.GoToPosition", url.Values{
			"id": {id}, "pos": {strconv.Itoa(percent(params, "windowcoverings_set"))},
		})
	case domain.ActionReboot:
		_, err = client.Call(ctx, "Shelly.Reboot", nil)
	case domain.ActionUpdateFirmware:
		_, err = client.Call(ctx, "Shelly.Update", url.Values{"stage": {"stable"}})
	case domain.ActionSetColor, domain.ActionSetColorTemp:
		// no polled gen2 color targets paired so far
		return nil
	}
	return err
}

func (d *Dispatcher) viaCloud(ctx context.Context, dev *domain.LogicalDevice, action domain.Action, params map[string]any) error {
	session, ok := d.sessions.Cloud()
	if !ok || !session.Connected() {
		return fmt.Errorf("device %s: cloud relay not connected", dev.ID)
	}

	switch action {
	case domain.ActionTurnOn, domain.ActionTurnOff:
		turn := "off"
		if action == domain.ActionTurnOn {
			turn = "on"
		}
		return session.SendCommand(ctx, dev.MainID, "relay", map[string]any{
			"id": dev.Channel, "turn": turn,
		})
	case domain.ActionToggle:
		return session.SendCommand(ctx, dev.MainID, "relay", map[string]any{
			"id": dev.Channel, "turn": "toggle",
		})
	case domain.ActionSetBrightness:
		return session.SendCommand(ctx, dev.MainID, "light", map[string]any{
			"id": dev.Channel, "brightness": percent(params, "dim"),
		})
	case domain.ActionSetPosition:
		return session.SendCommand(ctx, dev.MainID, "roller_to_pos", map[string]any{
			"id": dev.Channel, "pos": percent(params, "windowcoverings_set"),
		})
	case domain.ActionSetColor, domain.ActionSetColorTemp,
		domain.ActionReboot, domain.ActionUpdateFirmware:
		// the relay exposes no endpoint for these; swallow rather than fail
		// the flow that triggered them
		d.logger.Debug("action unsupported over cloud relay, ignoring",
			zap.String("device", dev.ID), zap.Stringer("action", action))
		return nil
	}
	return nil
}

// percent reads a 0..1 host value and scales it to the 0..100 device range.
func percent(params map[string]any, key string) int {
	v, _ := floatParam(params, key)
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return int(math.Round(v * 100))
}

func rgbFromParams(params map[string]any) (r, g, b int) {
	h, _ := floatParam(params, "light_hue")
	s, ok := floatParam(params, "light_saturation")
	if !ok {
		s = 1
	}
	v, ok := floatParam(params, "dim")
	if !ok {
		v = 1
	}
	rf, gf, bf := normalize.HSVToRGB(h, s, v)
	return int(math.Round(rf)), int(math.Round(gf)), int(math.Round(bf))
}

func kelvinFromParams(params map[string]any, model domain.Model) int {
	norm, _ := floatParam(params, "light_temperature")
	return int(math.Round(normalize.NormToColorTemp(norm, model)))
}

func floatParam(params map[string]any, key string) (float64, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
