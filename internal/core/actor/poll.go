package actor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/normalize"
	"shelly2mqtt/internal/registry"
	. "shelly2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// offline is declared after this many consecutive poll misses, so a single
// dropped request does not flap availability
const pollOfflineThreshold = 2

// ActivityNote tells a session actor its device was heard from on another
// path (a CoIoT report for a polled push device). Resets the miss counter.
type ActivityNote struct{}

// PollSessionActor polls one physical unit over local HTTP. It serves both
// poll-mode devices and push-mode devices, where the poll is the keepalive
// fallback for a quiet CoIoT announcer.
type PollSessionActor struct {
	behavior  actor.Behavior
	scheduler *scheduler.TimerScheduler

	mainID      string
	mode        domain.CommMode
	gen         int
	interval    time.Duration
	reg         *registry.Registry
	hub         *dispatch.Hub
	eventStream *eventstream.EventStream
	logger      *zap.Logger

	misses   int
	online   bool
	nextTick scheduler.CancelFunc
	// a push device heard on CoIoT skips its next fallback poll
	skipNext bool
}

type pollTick struct{}

type pollResult struct {
	status map[string]any
	err    error
}

// PollInterval picks the cadence for a device. Battery devices sleep most of
// the time, so their schedule is jittered to avoid hammering them the moment
// they wake.
func PollInterval(model domain.Model, base time.Duration) time.Duration {
	if model.Battery {
		return base + time.Duration(rand.IntN(10000))*time.Millisecond
	}
	return base
}

func NewPollSessionActor(dev *domain.LogicalDevice, interval time.Duration, reg *registry.Registry,
	hub *dispatch.Hub, es *eventstream.EventStream, logger *zap.Logger) *PollSessionActor {
	act := &PollSessionActor{
		behavior:    actor.NewBehavior(),
		mainID:      dev.MainID,
		mode:        dev.Mode,
		gen:         dev.Model.Gen,
		interval:    PollInterval(dev.Model, interval),
		reg:         reg,
		hub:         hub,
		eventStream: es,
		logger:      ActorLogger(fmt.Sprintf("%s-%s", domain.ACTOR_ID_POLL_PREFIX, dev.MainID), logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PollSessionActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollSessionActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poll@default started", zap.Duration("interval", state.interval))
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		ctx.Send(ctx.Self(), pollTick{})
	case pollTick:
		if state.skipNext {
			state.skipNext = false
			state.reschedule(ctx, state.interval)
			return
		}
		state.poll(ctx)
		state.reschedule(ctx, state.cadence())
	case pollResult:
		state.handlePollResult(ctx, msg)
	case ActivityNote:
		if state.misses >= pollOfflineThreshold {
			state.reschedule(ctx, state.interval)
		}
		state.misses = 0
		state.skipNext = true
		state.markOnline(true, "")
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      fmt.Sprintf("%s-%s", domain.ACTOR_ID_POLL_PREFIX, state.mainID),
			Healthy: state.online,
			State:   "polling",
		})
	default:
		state.logger.Debug("poll@default ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollSessionActor) poll(ctx actor.Context) {
	devices := state.reg.Resolve(state.mainID, registry.Hint{})
	if len(devices) == 0 {
		return
	}
	client := state.hub.HTTPFor(devices[0])
	gen2Device := state.gen >= 2

	NewBackgroundTask(ctx, func() (*pollResult, error) {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var status map[string]any
		var err error
		if gen2Device {
			status, err = client.Call(cctx, "Shelly.GetStatus", nil)
		} else {
			status, err = client.GetStatus(cctx)
		}
		return &pollResult{status: status, err: err}, nil
	}).OnError(func(err error) {
		ctx.Send(ctx.Self(), pollResult{err: err})
	}).PipeTo(ctx.Self())
}

func (state *PollSessionActor) handlePollResult(ctx actor.Context, msg pollResult) {
	if msg.err != nil {
		state.misses++
		state.logger.Debug("poll miss", zap.Int("consecutive", state.misses), zap.Error(msg.err))
		if state.misses == pollOfflineThreshold {
			state.markOnline(false, msg.err.Error())
			// drop to the slow retry cadence until the device answers again
			state.reschedule(ctx, socketPingInterval)
		}
		return
	}
	recovered := state.misses >= pollOfflineThreshold
	state.misses = 0
	state.markOnline(true, "")
	if recovered {
		state.reschedule(ctx, state.interval)
	}
	state.ingestStatus(msg.status)
}

// cadence is the regular interval while the device answers and the slow
// keepalive interval once it stopped answering.
func (state *PollSessionActor) cadence() time.Duration {
	if state.misses >= pollOfflineThreshold {
		return socketPingInterval
	}
	return state.interval
}

func (state *PollSessionActor) reschedule(ctx actor.Context, after time.Duration) {
	if state.nextTick != nil {
		state.nextTick()
	}
	state.nextTick = state.scheduler.SendOnce(after, ctx.Self(), pollTick{})
}

func (state *PollSessionActor) ingestStatus(status map[string]any) {
	if state.gen >= 2 {
		for _, comp := range normalize.SplitRPCStatus(status) {
			ch := comp.Channel
			for _, dev := range state.reg.Resolve(state.mainID, registry.Hint{Channel: &ch}) {
				for _, ev := range normalize.Ingest(normalize.TransportHTTP, dev, comp.Fields) {
					state.eventStream.Publish(ev)
				}
			}
		}
		return
	}
	for ch, fields := range normalize.SplitGen1Status(status) {
		channel := ch
		for _, dev := range state.reg.Resolve(state.mainID, registry.Hint{Channel: &channel}) {
			for _, ev := range normalize.Ingest(normalize.TransportHTTP, dev, fields) {
				state.eventStream.Publish(ev)
			}
		}
	}
}

func (state *PollSessionActor) markOnline(online bool, reason string) {
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
