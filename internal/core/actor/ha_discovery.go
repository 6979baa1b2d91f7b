package actor

import (
	"errors"
	"fmt"
	"time"

	"shelly2mqtt/internal/config"
	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// PublishDiscoveryTick asks the discovery actor to re-announce every entity.
// Sent after each registry rebuild so newly paired devices show up.
type PublishDiscoveryTick struct{}

type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	reg       *registry.Registry
	mqttActor *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, reg *registry.Registry, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		reg:       reg,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// publishing into a dead MQTT session would silently drop the
		// configs, so the broker link is verified first
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@starting ActorHealthResponse", zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT actor is not healthy"))
		}
		state.publish(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case PublishDiscoveryTick:
		state.publish(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DISCOVERY,
			Healthy: true,
		})
	default:
		state.logger.Debug("hadiscovery@default: ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) publish(ctx actor.Context) {
	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch
	var lights []domain.GenericLight
	var covers []domain.GenericCover

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	for _, dev := range state.reg.Snapshot() {
		capabilities := dev.Capabilities()
		if len(capabilities) == 0 {
			// nothing reported yet; announced on the next tick instead
			continue
		}
		s, sw, l, cv := domain.DeviceEntities(dev.ID, dev.Model, capabilities, bridgeDevice.Id)
		sensors = append(sensors, s...)
		switches = append(switches, sw...)
		lights = append(lights, l...)
		covers = append(covers, cv...)
	}

	state.logger.Debug("hadiscovery publish",
		zap.Int("sensors", len(sensors)),
		zap.Int("switches", len(switches)),
		zap.Int("lights", len(lights)),
		zap.Int("covers", len(covers)))

	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:  sensors,
		Switches: switches,
		Lights:   lights,
		Covers:   covers,
	})
}
