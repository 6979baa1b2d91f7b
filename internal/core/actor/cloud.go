package actor

import (
	"context"
	"fmt"
	"time"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/normalize"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/transport/cloud"
	. "shelly2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// the relay drops sessions routinely; reconnects use the same fixed cadence
// as device sockets
const cloudReconnectDelay = 30 * time.Second

// CloudSocket is the slice of the relay session the actor drives. Satisfied
// by *cloud.Socket.
type CloudSocket interface {
	dispatch.CloudSession
	Statuses() <-chan cloud.StatusEvent
	Onlines() <-chan cloud.OnlineEvent
	Closed() <-chan struct{}
	Close() error
}

// CloudDialFunc opens a relay session against the account server.
type CloudDialFunc func(ctx context.Context, server, token string) (CloudSocket, error)

// CloudStatusFetcher backs the periodic REST reconciliation pass.
type CloudStatusFetcher interface {
	AllStatus(ctx context.Context) (map[string]map[string]any, error)
}

// CloudSessionActor owns the account-wide relay session. Live state arrives
// over the socket; the REST reconciliation pass catches devices whose change
// frames were lost.
type CloudSessionActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	server      string
	token       string
	dial        CloudDialFunc
	rest        CloudStatusFetcher
	reg         *registry.Registry
	hub         *dispatch.Hub
	eventStream *eventstream.EventStream
	logger      *zap.Logger

	socket CloudSocket
	// last reported reachability per logical device, so repeated cloud
	// online frames fire the trigger only on an actual change
	online map[string]bool
}

type cloudDial struct{}

type cloudDialed struct {
	socket CloudSocket
	err    error
}

type cloudSocketClosed struct{}

type cloudStatusMsg struct {
	ev cloud.StatusEvent
}

type cloudOnlineMsg struct {
	ev cloud.OnlineEvent
}

type cloudReconcileResult struct {
	statuses map[string]map[string]any
	err      error
}

func NewCloudSessionActor(server, token string, dial CloudDialFunc, rest CloudStatusFetcher,
	reg *registry.Registry, hub *dispatch.Hub, es *eventstream.EventStream, logger *zap.Logger) *CloudSessionActor {
	act := &CloudSessionActor{
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		server:      server,
		token:       token,
		dial:        dial,
		rest:        rest,
		reg:         reg,
		hub:         hub,
		eventStream: es,
		online:      make(map[string]bool),
		logger:      ActorLogger(domain.ACTOR_ID_CLOUD, logger),
	}
	act.behavior.Become(act.DisconnectedReceive)
	return act
}

func (state *CloudSessionActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *CloudSessionActor) DisconnectedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("cloud@disconnected started", zap.String("server", state.server))
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		ctx.Send(ctx.Self(), cloudDial{})
	case cloudDial:
		dial := state.dial
		server, token := state.server, state.token
		NewBackgroundTask(ctx, func() (*cloudDialed, error) {
			dctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			socket, err := dial(dctx, server, token)
			return &cloudDialed{socket: socket, err: err}, nil
		}).OnError(func(err error) {
			ctx.Send(ctx.Self(), cloudDialed{err: err})
		}).PipeTo(ctx.Self())
	case cloudDialed:
		if msg.err != nil {
			state.logger.Warn("cloud@disconnected dial failed", zap.Error(msg.err))
			state.eventStream.Publish(domain.TriggerEvent{
				Name:   domain.TRIGGER_CLOUD_ERROR,
				Tokens: map[string]any{"error": msg.err.Error()},
			})
			state.scheduler.SendOnce(cloudReconnectDelay, ctx.Self(), cloudDial{})
			return
		}
		state.attach(ctx, msg.socket)
	case domain.CloudRefreshRequest:
		// reconcile even while the socket is down; REST still works
		state.reconcile(ctx)
	case cloudReconcileResult:
		state.handleReconcile(msg)
	case *actor.Stopping:
		state.detach()
	default:
		state.logger.Debug("cloud@disconnected stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *CloudSessionActor) ConnectedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case cloudStatusMsg:
		state.ingestStatus(msg.ev.DeviceID, msg.ev.Status)
	case cloudOnlineMsg:
		for _, dev := range state.reg.Resolve(msg.ev.DeviceID, registry.Hint{}) {
			if dev.Mode != domain.ModeCloud {
				continue
			}
			if prev, seen := state.online[dev.ID]; seen && prev == msg.ev.Online {
				continue
			}
			state.online[dev.ID] = msg.ev.Online
			state.eventStream.Publish(domain.AvailabilityEvent{
				DeviceID: dev.ID, Available: msg.ev.Online, Reason: "cloud report",
			})
			trigger := domain.TRIGGER_DEVICE_OFFLINE
			if msg.ev.Online {
				trigger = domain.TRIGGER_DEVICE_ONLINE
			}
			state.eventStream.Publish(domain.TriggerEvent{
				DeviceID: dev.ID,
				Name:     trigger,
				Tokens:   map[string]any{"reason": "cloud report"},
			})
		}
	case cloudSocketClosed:
		state.logger.Info("cloud@connected relay session closed, scheduling reconnect")
		state.detach()
		state.eventStream.Publish(domain.TriggerEvent{
			Name:   domain.TRIGGER_CLOUD_ERROR,
			Tokens: map[string]any{"error": "relay session closed"},
		})
		state.scheduler.SendOnce(cloudReconnectDelay, ctx.Self(), cloudDial{})
		state.behavior.Become(state.DisconnectedReceive)
		state.stash.UnstashAll(ctx)
	case domain.CloudRefreshRequest:
		state.reconcile(ctx)
	case cloudReconcileResult:
		state.handleReconcile(msg)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CLOUD,
			Healthy: state.socket != nil && state.socket.Connected(),
			State:   "connected",
		})
	case *actor.Stopping, *actor.Restarting:
		state.detach()
	default:
		state.logger.Debug("cloud@connected ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *CloudSessionActor) attach(ctx actor.Context, socket CloudSocket) {
	state.socket = socket
	state.hub.RegisterCloud(socket)

	self := ctx.Self()
	root := ctx.ActorSystem().Root
	go func() {
		statuses := socket.Statuses()
		onlines := socket.Onlines()
		for statuses != nil || onlines != nil {
			select {
			case ev, ok := <-statuses:
				if !ok {
					statuses = nil
					continue
				}
				root.Send(self, cloudStatusMsg{ev: ev})
			case ev, ok := <-onlines:
				if !ok {
					onlines = nil
					continue
				}
				root.Send(self, cloudOnlineMsg{ev: ev})
			}
		}
		root.Send(self, cloudSocketClosed{})
	}()

	// align cached state with the account immediately
	state.reconcile(ctx)

	state.behavior.Become(state.ConnectedReceive)
	state.stash.UnstashAll(ctx)
}

func (state *CloudSessionActor) reconcile(ctx actor.Context) {
	rest := state.rest
	if rest == nil {
		return
	}
	NewBackgroundTask(ctx, func() (*cloudReconcileResult, error) {
		cctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		statuses, err := rest.AllStatus(cctx)
		return &cloudReconcileResult{statuses: statuses, err: err}, nil
	}).OnError(func(err error) {
		ctx.Send(ctx.Self(), cloudReconcileResult{err: err})
	}).PipeTo(ctx.Self())
}

func (state *CloudSessionActor) handleReconcile(msg cloudReconcileResult) {
	if msg.err != nil {
		state.logger.Warn("cloud reconciliation failed", zap.Error(msg.err))
		state.eventStream.Publish(domain.TriggerEvent{
			Name:   domain.TRIGGER_CLOUD_ERROR,
			Tokens: map[string]any{"error": msg.err.Error()},
		})
		return
	}
	state.logger.Debug("cloud reconciliation", zap.Int("devices", len(msg.statuses)))
	for deviceID, status := range msg.statuses {
		state.ingestStatus(deviceID, status)
	}
}

// ingestStatus handles both shapes the cloud emits: gen2 component keys and
// gen1 channel arrays.
func (state *CloudSessionActor) ingestStatus(deviceID string, status map[string]any) {
	if components := normalize.SplitRPCStatus(status); len(components) > 0 {
		for _, comp := range components {
			ch := comp.Channel
			for _, dev := range state.cloudDevices(deviceID, &ch) {
				for _, ev := range normalize.Ingest(normalize.TransportCloud, dev, comp.Fields) {
					state.eventStream.Publish(ev)
				}
			}
		}
		return
	}
	for ch, fields := range normalize.SplitGen1Status(status) {
		channel := ch
		for _, dev := range state.cloudDevices(deviceID, &channel) {
			for _, ev := range normalize.Ingest(normalize.TransportHTTP, dev, fields) {
				state.eventStream.Publish(ev)
			}
		}
	}
}

// cloudDevices filters resolution to cloud-mode devices: an account may also
// contain units the bridge drives locally, and those must not be double-fed.
func (state *CloudSessionActor) cloudDevices(deviceID string, channel *int) []*domain.LogicalDevice {
	var out []*domain.LogicalDevice
	for _, dev := range state.reg.Resolve(deviceID, registry.Hint{Channel: channel}) {
		if dev.Mode == domain.ModeCloud {
			out = append(out, dev)
		}
	}
	return out
}

func (state *CloudSessionActor) detach() {
	state.hub.DeregisterCloud()
	if state.socket != nil {
		state.socket.Close()
		state.socket = nil
	}
}
