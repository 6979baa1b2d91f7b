package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/normalize"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/transport/gen2"
	. "shelly2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	// reconnect cadence is fixed, never backed off: a device that stays away
	// for an hour still gets a dial every 30 seconds
	socketReconnectDelay = 30 * time.Second

	// pings keep the 120s read deadline alive on quiet devices; the full
	// status request doubles as a state resync
	socketPingInterval = 63 * time.Second
)

// RPCClient is the slice of the device WebSocket client the session actor
// drives. Satisfied by *gen2.Client; faked in tests.
type RPCClient interface {
	dispatch.RPCSession
	Notifications() <-chan gen2.Notification
	Closed() <-chan struct{}
	Ping() error
	Close() error
}

// SocketDialFunc opens the RPC session. Injected so tests run without a
// device on the network.
type SocketDialFunc func(ctx context.Context, address string) (RPCClient, error)

// SocketSessionActor owns the WebSocket RPC session of one physical unit.
// Inbound notifications fan out to the unit's logical devices through the
// registry; the live client is registered in the hub for the dispatcher.
type SocketSessionActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	mainID      string
	address     string
	dial        SocketDialFunc
	reg         *registry.Registry
	hub         *dispatch.Hub
	eventStream *eventstream.EventStream
	logger      *zap.Logger

	client     RPCClient
	online     bool
	pingCancel scheduler.CancelFunc
}

type socketDial struct{}

type socketDialed struct {
	client RPCClient
	err    error
}

type socketClosed struct{}

type socketPingTick struct{}

type socketNotification struct {
	n gen2.Notification
}

type fullStatusResult struct {
	status map[string]any
	err    error
}

func NewSocketSessionActor(mainID, address string, dial SocketDialFunc, reg *registry.Registry,
	hub *dispatch.Hub, es *eventstream.EventStream, logger *zap.Logger) *SocketSessionActor {
	act := &SocketSessionActor{
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		mainID:      mainID,
		address:     address,
		dial:        dial,
		reg:         reg,
		hub:         hub,
		eventStream: es,
		logger:      ActorLogger(fmt.Sprintf("%s-%s", domain.ACTOR_ID_SOCKET_PREFIX, mainID), logger),
	}
	act.behavior.Become(act.DisconnectedReceive)
	return act
}

func (state *SocketSessionActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *SocketSessionActor) DisconnectedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("socket@disconnected started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		ctx.Send(ctx.Self(), socketDial{})
	case socketDial:
		state.logger.Debug("socket@disconnected dialing", zap.String("address", state.address))
		dial := state.dial
		address := state.address
		NewBackgroundTask(ctx, func() (*socketDialed, error) {
			dctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			client, err := dial(dctx, address)
			return &socketDialed{client: client, err: err}, nil
		}).OnError(func(err error) {
			ctx.Send(ctx.Self(), socketDialed{err: err})
		}).PipeTo(ctx.Self())
	case socketDialed:
		if msg.err != nil {
			state.logger.Warn("socket@disconnected dial failed", zap.Error(msg.err))
			state.setOnline(false, msg.err.Error())
			state.scheduler.SendOnce(socketReconnectDelay, ctx.Self(), socketDial{})
			return
		}
		state.attach(ctx, msg.client)
	case socketPingTick:
		// a tick from the previous session; the new session schedules its own
		state.logger.Debug("socket@disconnected dropping stale ping tick")
	case *actor.Stopping:
		state.teardown()
	default:
		state.logger.Debug("socket@disconnected stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *SocketSessionActor) ConnectedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case socketNotification:
		state.handleNotification(msg.n)
	case fullStatusResult:
		if msg.err != nil {
			state.logger.Warn("socket@connected status fetch failed", zap.Error(msg.err))
			return
		}
		state.ingestStatus(msg.status)
	case socketPingTick:
		if state.client == nil {
			return
		}
		if err := state.client.Ping(); err != nil {
			state.logger.Debug("socket@connected ping failed", zap.Error(err))
		}
		state.requestFullStatus(ctx)
		state.schedulePing(ctx)
	case socketClosed:
		state.logger.Info("socket@connected session closed, scheduling reconnect")
		state.detach()
		state.setOnline(false, "socket closed")
		state.scheduler.SendOnce(socketReconnectDelay, ctx.Self(), socketDial{})
		state.behavior.Become(state.DisconnectedReceive)
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      fmt.Sprintf("%s-%s", domain.ACTOR_ID_SOCKET_PREFIX, state.mainID),
			Healthy: state.online,
			State:   "connected",
		})
	case *actor.Stopping:
		state.teardown()
	case *actor.Restarting:
		state.teardown()
	default:
		state.logger.Debug("socket@connected ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *SocketSessionActor) attach(ctx actor.Context, client RPCClient) {
	state.client = client
	state.hub.RegisterSocket(state.mainID, client)
	state.setOnline(true, "")

	// pump notifications and the close signal onto the mailbox
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	go func() {
		for n := range client.Notifications() {
			root.Send(self, socketNotification{n: n})
		}
		root.Send(self, socketClosed{})
	}()

	// a fresh session starts from a full snapshot
	state.requestFullStatus(ctx)
	state.schedulePing(ctx)

	state.behavior.Become(state.ConnectedReceive)
	state.stash.UnstashAll(ctx)
}

func (state *SocketSessionActor) schedulePing(ctx actor.Context) {
	state.pingCancel = state.scheduler.SendOnce(socketPingInterval, ctx.Self(), socketPingTick{})
}

func (state *SocketSessionActor) requestFullStatus(ctx actor.Context) {
	client := state.client
	if client == nil {
		return
	}
	NewBackgroundTask(ctx, func() (*fullStatusResult, error) {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		raw, err := client.Call(cctx, "Shelly.GetStatus", nil)
		if err != nil {
			return &fullStatusResult{err: err}, nil
		}
		status, err := decodeStatus(raw)
		return &fullStatusResult{status: status, err: err}, nil
	}).OnError(func(err error) {
		ctx.Send(ctx.Self(), fullStatusResult{err: err})
	}).PipeTo(ctx.Self())
}

func (state *SocketSessionActor) handleNotification(n gen2.Notification) {
	switch n.Method {
	case "NotifyStatus", "NotifyFullStatus":
		state.ingestStatus(n.Params)
	case "NotifyEvent":
		state.publishInputEvents(n.Params)
	}
}

// ingestStatus splits a status payload per component and routes each slice to
// the logical device owning that channel.
func (state *SocketSessionActor) ingestStatus(status map[string]any) {
	for _, comp := range normalize.SplitRPCStatus(status) {
		ch := comp.Channel
		devices := state.reg.Resolve(state.mainID, registry.Hint{Channel: &ch})
		for _, dev := range devices {
			for _, ev := range normalize.Ingest(normalize.TransportRPC, dev, comp.Fields) {
				state.eventStream.Publish(ev)
			}
		}
	}
}

func (state *SocketSessionActor) publishInputEvents(params map[string]any) {
	events, ok := params["events"].([]any)
	if !ok {
		return
	}
	for _, raw := range events {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		eventName, _ := entry["event"].(string)
		if eventName == "" {
			continue
		}
		component, _ := entry["component"].(string)
		ch := 0
		if component != "" {
			_, ch = normalize.SplitComponentKey(component)
		}
		devices := state.reg.Resolve(state.mainID, registry.Hint{Channel: &ch})
		for _, dev := range devices {
			state.eventStream.Publish(domain.TriggerEvent{
				DeviceID: dev.ID,
				Name:     domain.TRIGGER_INPUT_EVENT,
				Tokens:   map[string]any{"action": eventName, "channel": ch},
			})
		}
	}
}

func (state *SocketSessionActor) setOnline(online bool, reason string) {
	if state.online == online {
		return
	}
	state.online = online
	trigger := domain.TRIGGER_DEVICE_OFFLINE
	if online {
		trigger = domain.TRIGGER_DEVICE_ONLINE
	}
	for _, dev := range state.reg.Resolve(state.mainID, registry.Hint{}) {
		state.eventStream.Publish(domain.AvailabilityEvent{
			DeviceID: dev.ID, Available: online, Reason: reason,
		})
		state.eventStream.Publish(domain.TriggerEvent{DeviceID: dev.ID, Name: trigger})
	}
}

func (state *SocketSessionActor) detach() {
	state.hub.DeregisterSocket(state.mainID)
	if state.pingCancel != nil {
		state.pingCancel()
		state.pingCancel = nil
	}
	if state.client != nil {
		state.client.Close()
		state.client = nil
	}
}

func (state *SocketSessionActor) teardown() {
	state.detach()
	state.setOnline(false, "session actor stopping")
}

func decodeStatus(raw json.RawMessage) (map[string]any, error) {
	var status map[string]any
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}
