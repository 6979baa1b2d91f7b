package actor

import (
	"testing"
	"time"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/util"
	"shelly2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, &es, logger) })
	pid := context.Spawn(props)

	time.Sleep(2 * time.Second)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.NotNil(t, resp)

	es.Publish(domain.CapabilityUpdateEvent{
		DeviceID:   "shellyswitch25-abc123",
		Capability: "measure_power",
		Value:      24.5,
		Decimals:   1,
	})
	es.Publish(domain.AvailabilityEvent{
		DeviceID:  "shellyswitch25-abc123",
		Available: true,
		Reason:    "poll ok",
	})

	time.Sleep(1 * time.Second)

	context.Stop(pid)

	time.Sleep(1 * time.Second)

	as.Shutdown()
}

func TestCapabilityPayload(t *testing.T) {
	assert.Equal(t, "", capabilityPayload(domain.CapabilityUpdateEvent{Value: nil}))
	assert.Equal(t, "on", capabilityPayload(domain.CapabilityUpdateEvent{Value: true}))
	assert.Equal(t, "off", capabilityPayload(domain.CapabilityUpdateEvent{Value: false}))
	assert.Equal(t, "24.5", capabilityPayload(domain.CapabilityUpdateEvent{Value: 24.5, Decimals: 1}))
	assert.Equal(t, "245", capabilityPayload(domain.CapabilityUpdateEvent{Value: 245.0, Decimals: 0}))
	assert.Equal(t, "S", capabilityPayload(domain.CapabilityUpdateEvent{Value: "S"}))
}
