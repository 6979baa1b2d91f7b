package actor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	adactor "shelly2mqtt/internal/adapter/actor"
	"shelly2mqtt/internal/config"
	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/mqtt"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/transport/gen1"
	. "shelly2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// BridgeMasterActor spawns and supervises the transport sessions, routes
// commands to the dispatcher and owns the registry lifecycle. Everything
// else communicates through it.
type BridgeMasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	store       registry.Store
	reg         *registry.Registry
	hub         *dispatch.Hub
	dispatcher  *dispatch.Dispatcher
	eventStream *eventstream.EventStream

	mqttActorProvider MQTTActorProvider
	socketDial        SocketDialFunc
	cloudDial         CloudDialFunc
	cloudRest         CloudStatusFetcher
	cloudServer       string

	mqttActor      *actor.PID
	coiotActor     *actor.PID
	cloudActor     *actor.PID
	discoveryActor *actor.PID
	sessions       map[string]*actor.PID

	currentHealthCheck healthCheckResult
	logger             *zap.Logger
	baseLogger         *zap.Logger
}

type healthCheckResult struct {
	expected   int
	received   int
	allHealthy bool
	respondTo  *actor.PID
}

// sessionActivity is posted by the CoIoT callback when a push device was
// heard, so its fallback poll actor can relax.
type sessionActivity struct {
	mainID string
}

type dispatchResult struct {
	replyTo *actor.PID
	err     error
}

type pairProbeResult struct {
	profile domain.DeviceProfile
	replyTo *actor.PID
	err     error
}

func NewBridgeMasterActor(config config.Config, store registry.Store, reg *registry.Registry,
	hub *dispatch.Hub, mqttActorProvider MQTTActorProvider, socketDial SocketDialFunc,
	cloudDial CloudDialFunc, cloudRest CloudStatusFetcher, cloudServer string, logger *zap.Logger) *BridgeMasterActor {
	act := &BridgeMasterActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		store:             store,
		reg:               reg,
		hub:               hub,
		eventStream:       &eventstream.EventStream{},
		mqttActorProvider: mqttActorProvider,
		socketDial:        socketDial,
		cloudDial:         cloudDial,
		cloudRest:         cloudRest,
		cloudServer:       cloudServer,
		sessions:          make(map[string]*actor.PID),
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		baseLogger:        logger,
	}
	act.dispatcher = dispatch.New(hub, logger)
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *BridgeMasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *BridgeMasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// initial registry load and transport sessions
		state.reg.Rebuild()
		state.syncSessions(ctx)

		// start CoIoT listener
		if state.config.CoIoT.Enable {
			coiotPID, err := state.startCoIoTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.coiotActor = coiotPID
		}

		// start cloud session
		if state.config.Cloud.Token != "" {
			cloudPID, err := state.startCloudActor(ctx)
			if err != nil {
				panic(err)
			}
			state.cloudActor = cloudPID
		}

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			discoveryPID, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.discoveryActor = discoveryPID
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BridgeMasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.startHealthCheck(ctx)
	case adactor.ParsedCommand:
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command == nil {
			return
		}
		action, params, err := mqtt.CommandToAction(*msg.Command)
		if err != nil {
			state.logger.Warn("master@default dropping invalid command", zap.Error(err))
			return
		}
		state.handleDispatch(ctx, domain.DispatchCommandRequest{
			DeviceID: msg.Command.DeviceId,
			Action:   action,
			Params:   params,
		}, nil)
	case domain.DispatchCommandRequest:
		state.handleDispatch(ctx, msg, ForRequest(msg).ReplyTo(ctx))
	case dispatchResult:
		if msg.err != nil {
			state.logger.Warn("master@default dispatch failed", zap.Error(msg.err))
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, domain.DispatchCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.err},
			})
		}
	case domain.PairDeviceRequest:
		state.logger.Info("master@default pairing device", zap.String("device", msg.Profile.ID))
		state.handlePair(ctx, msg)
	case pairProbeResult:
		state.finishPair(ctx, msg)
	case domain.UnpairDeviceRequest:
		state.logger.Info("master@default unpairing device", zap.String("device", msg.DeviceID))
		err := state.store.Remove(msg.DeviceID)
		if err == nil {
			state.rebuild(ctx)
		}
		ForRequest(msg).Respond(ctx, domain.UnpairDeviceResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	case domain.ListDevicesRequest:
		ForRequest(msg).Respond(ctx, domain.ListDevicesResponse{Devices: state.deviceSummaries()})
	case domain.RebuildRegistryRequest:
		count := state.rebuild(ctx)
		// the periodic job fires this without a sender
		if ctx.Sender() != nil || msg.ReplyTo() != nil {
			ForRequest(msg).Respond(ctx, domain.RebuildRegistryResponse{Count: count})
		}
	case domain.CloudRefreshRequest:
		if state.cloudActor != nil {
			ctx.Send(state.cloudActor, msg)
		}
	case sessionActivity:
		if pid, ok := state.sessions[msg.mainID]; ok {
			ctx.Send(pid, ActivityNote{})
		}
	case *actor.Terminated:
		// the bridge is useless without its broker link
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_MQTT) {
			state.logger.Error("master@default mqtt terminated")
			panic(errors.New("mqtt terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BridgeMasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// a silent child counts as unhealthy
		state.currentHealthCheck.allHealthy = false
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.received++
		if !msg.Healthy {
			state.currentHealthCheck.allHealthy = false
		}
		if state.currentHealthCheck.received >= state.currentHealthCheck.expected {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BridgeMasterActor) startHealthCheck(ctx actor.Context) {
	children := []*actor.PID{state.mqttActor}
	if state.coiotActor != nil {
		children = append(children, state.coiotActor)
	}
	if state.cloudActor != nil {
		children = append(children, state.cloudActor)
	}
	state.currentHealthCheck = healthCheckResult{
		expected:   len(children),
		allHealthy: true,
		respondTo:  ctx.Sender(),
	}
	for _, child := range children {
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(child, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{Healthy: false}
		})
	}
	ctx.SetReceiveTimeout(1 * time.Second)
	state.behavior.BecomeStacked(state.HealthCheckReceive)
}

func (state *BridgeMasterActor) handleDispatch(ctx actor.Context, req domain.DispatchCommandRequest, replyTo *actor.PID) {
	dev, ok := state.reg.Device(req.DeviceID)
	if !ok {
		state.logger.Warn("master@default command for unknown device", zap.String("device", req.DeviceID))
		if replyTo != nil {
			ctx.Send(replyTo, domain.DispatchCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("unknown device %s", req.DeviceID),
				},
			})
		}
		return
	}
	dispatcher := state.dispatcher
	NewBackgroundTask(ctx, func() (*dispatchResult, error) {
		dctx, cancel := commandContext()
		defer cancel()
		err := dispatcher.Dispatch(dctx, dev, req.Action, req.Params)
		return &dispatchResult{replyTo: replyTo, err: err}, nil
	}).OnError(func(err error) {
		ctx.Send(ctx.Self(), dispatchResult{replyTo: replyTo, err: err})
	}).PipeTo(ctx.Self())
}

// handlePair probes the device over HTTP before committing it to the store.
// Both generations answer /shelly unauthenticated; cloud and hardware-link
// pairings have no local address to probe.
func (state *BridgeMasterActor) handlePair(ctx actor.Context, msg domain.PairDeviceRequest) {
	replyTo := ForRequest(msg).ReplyTo(ctx)
	profile := msg.Profile

	mode, err := domain.ParseCommMode(profile.Mode)
	if err != nil {
		ctx.Send(replyTo, domain.PairDeviceResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
		return
	}
	if mode == domain.ModeCloud || mode == domain.ModeHardwareLink || profile.Address == "" {
		ctx.Send(ctx.Self(), pairProbeResult{profile: profile, replyTo: replyTo})
		return
	}

	client := gen1.NewClient(profile.Address, profile.Username, profile.Password)
	NewBackgroundTask(ctx, func() (*pairProbeResult, error) {
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := client.Probe(pctx)
		return &pairProbeResult{profile: profile, replyTo: replyTo, err: err}, nil
	}).OnError(func(err error) {
		ctx.Send(ctx.Self(), pairProbeResult{profile: profile, replyTo: replyTo, err: err})
	}).PipeTo(ctx.Self())
}

func (state *BridgeMasterActor) finishPair(ctx actor.Context, msg pairProbeResult) {
	err := msg.err
	if err != nil {
		err = fmt.Errorf("device %s unreachable: %w", msg.profile.ID, err)
	} else {
		err = state.store.Add(msg.profile)
		if err == nil {
			state.rebuild(ctx)
		}
	}
	if msg.replyTo != nil {
		ctx.Send(msg.replyTo, domain.PairDeviceResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	}
}

func (state *BridgeMasterActor) rebuild(ctx actor.Context) int {
	count := state.reg.Rebuild()
	state.syncSessions(ctx)
	if state.discoveryActor != nil {
		ctx.Send(state.discoveryActor, PublishDiscoveryTick{})
	}
	return count
}

// syncSessions reconciles session actors with the registry: one socket or
// poll actor per physical unit that needs a local transport. Cloud and
// hardware-link devices carry no session of their own.
func (state *BridgeMasterActor) syncSessions(ctx actor.Context) {
	wanted := make(map[string]*domain.LogicalDevice)
	for _, dev := range state.reg.Snapshot() {
		switch dev.Mode {
		case domain.ModeSocket, domain.ModePoll, domain.ModePush:
			if _, ok := wanted[dev.MainID]; !ok {
				wanted[dev.MainID] = dev
			}
		}
	}

	// stop sessions of unpaired units
	for mainID, pid := range state.sessions {
		if _, ok := wanted[mainID]; !ok {
			state.logger.Info("master stopping session", zap.String("device", mainID))
			ctx.Stop(pid)
			delete(state.sessions, mainID)
		}
	}

	// start missing sessions
	for mainID, dev := range wanted {
		if _, ok := state.sessions[mainID]; ok {
			continue
		}
		pid, err := state.startSessionActor(ctx, dev)
		if err != nil {
			state.logger.Error("master could not start session",
				zap.String("device", mainID), zap.Error(err))
			continue
		}
		state.sessions[mainID] = pid
	}
}

func (state *BridgeMasterActor) startSessionActor(ctx actor.Context, dev *domain.LogicalDevice) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 1*time.Minute, decider)

	var props *actor.Props
	var name string
	if dev.Mode == domain.ModeSocket {
		name = fmt.Sprintf("%s-%s", domain.ACTOR_ID_SOCKET_PREFIX, dev.MainID)
		props = actor.PropsFromProducer(func() actor.Actor {
			return NewSocketSessionActor(dev.MainID, dev.Address, state.socketDial, state.reg,
				state.hub, state.eventStream, state.baseLogger)
		}, actor.WithSupervisor(supervisor))
	} else {
		interval := time.Duration(state.config.Local.PollIntervalMillis) * time.Millisecond
		if dev.Model.Battery {
			interval = time.Duration(state.config.Local.BatteryPollIntervalMillis) * time.Millisecond
		}
		if dev.Mode == domain.ModePush {
			// fallback keepalive polling only; CoIoT carries the live state
			interval = socketPingInterval
		}
		name = fmt.Sprintf("%s-%s", domain.ACTOR_ID_POLL_PREFIX, dev.MainID)
		props = actor.PropsFromProducer(func() actor.Actor {
			return NewPollSessionActor(dev, interval, state.reg, state.hub, state.eventStream, state.baseLogger)
		}, actor.WithSupervisor(supervisor))
	}
	return ctx.SpawnNamed(props, name)
}

func (state *BridgeMasterActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)
	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *BridgeMasterActor) startCoIoTActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	self := ctx.Self()
	root := ctx.ActorSystem().Root
	onActivity := func(mainID string) {
		root.Send(self, sessionActivity{mainID: mainID})
	}

	coiotProps := actor.PropsFromProducer(func() actor.Actor {
		return NewCoIoTActor(state.config.CoIoT.Port, state.reg, state.eventStream, onActivity, state.baseLogger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(coiotProps, domain.ACTOR_ID_COIOT)
}

func (state *BridgeMasterActor) startCloudActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)
	cloudProps := actor.PropsFromProducer(func() actor.Actor {
		return NewCloudSessionActor(state.cloudServer, state.config.Cloud.Token, state.cloudDial,
			state.cloudRest, state.reg, state.hub, state.eventStream, state.baseLogger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(cloudProps, domain.ACTOR_ID_CLOUD)
}

func (state *BridgeMasterActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.reg, state.mqttActor, state.baseLogger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_DISCOVERY)
}

func (state *BridgeMasterActor) deviceSummaries() []domain.DeviceSummary {
	devices := state.reg.Snapshot()
	out := make([]domain.DeviceSummary, 0, len(devices))
	for _, dev := range devices {
		out = append(out, domain.DeviceSummary{
			ID:      dev.ID,
			Model:   dev.Model.ID,
			Channel: dev.Channel,
			Mode:    dev.Mode.String(),
			Address: dev.Address,
		})
	}
	return out
}

// commandContext bounds one outbound dispatch. Cloud commands can sit in the
// rate limiter, so the deadline is generous.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy,
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
