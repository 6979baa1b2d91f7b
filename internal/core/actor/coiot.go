package actor

import (
	"context"
	"fmt"
	"time"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/normalize"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/transport/coiot"
	. "shelly2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// CoIoTActor owns the multicast listener shared by every push-mode device.
// One report may fan out to several logical devices; per-channel slices are
// routed through the registry like every other inbound path.
type CoIoTActor struct {
	port        int
	reg         *registry.Registry
	eventStream *eventstream.EventStream
	logger      *zap.Logger

	listener *coiot.Listener
	// reports for push devices double as keepalive; the master forwards
	// activity notes to the device's poll actor
	onActivity func(mainID string)
}

type coiotReport struct {
	event coiot.Event
}

type coiotListenerDown struct{}

func NewCoIoTActor(port int, reg *registry.Registry, es *eventstream.EventStream,
	onActivity func(mainID string), logger *zap.Logger) *CoIoTActor {
	return &CoIoTActor{
		port:        port,
		reg:         reg,
		eventStream: es,
		onActivity:  onActivity,
		logger:      ActorLogger(domain.ACTOR_ID_COIOT, logger),
	}
}

func (state *CoIoTActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("coiot started")
		listener, err := coiot.NewListener(state.port, state.logger)
		if err != nil {
			// no multicast socket means no push transport at all; let the
			// supervisor restart with backoff
			panic(err)
		}
		state.listener = listener

		self := ctx.Self()
		root := ctx.ActorSystem().Root
		go func() {
			for ev := range listener.Events() {
				root.Send(self, coiotReport{event: ev})
			}
			root.Send(self, coiotListenerDown{})
		}()
	case coiotReport:
		state.ingest(msg.event)
	case coiotListenerDown:
		state.logger.Error("coiot listener closed unexpectedly")
		panic("coiot listener closed")
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_COIOT,
			Healthy: state.listener != nil,
			State:   "listening",
		})
	case *actor.Stopping, *actor.Restarting:
		state.close()
	default:
		state.logger.Debug("coiot ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *CoIoTActor) ingest(event coiot.Event) {
	matchedMain := ""
	for ch, fields := range event.ByChannel {
		channel := ch
		devices := state.reg.Resolve(event.DeviceID, registry.Hint{Channel: &channel})
		if len(devices) == 0 && event.Addr != "" {
			devices = state.reg.Resolve(event.Addr, registry.Hint{Channel: &channel})
		}
		for _, dev := range devices {
			matchedMain = dev.MainID
			for _, ev := range normalize.Ingest(normalize.TransportCoIoT, dev, fields) {
				state.eventStream.Publish(ev)
			}
		}
	}
	if matchedMain == "" {
		state.logger.Debug("coiot report for unknown device",
			zap.String("device", event.DeviceID), zap.String("addr", event.Addr))
		return
	}
	if state.onActivity != nil {
		state.onActivity(matchedMain)
	}
}

func (state *CoIoTActor) close() {
	if state.listener != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := state.listener.Close(stopCtx); err != nil {
			state.logger.Warn("coiot listener close", zap.Error(err))
		}
		state.listener = nil
	}
}
