package actor

import (
	"testing"
	"time"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/registry"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPollCadenceSlowsWhileOffline(t *testing.T) {
	profile := domain.DeviceProfile{ID: "shellyplug-s-ffeedd", Model: "SHPLG-S", Mode: "poll"}
	model := domain.ModelByID(profile.Model)
	dev := domain.NewLogicalDevice(profile, 0, domain.ModePoll, model)

	store := registry.NewMemoryStore([]domain.DeviceProfile{profile})
	reg := registry.New(store, zap.NewNop())
	act := NewPollSessionActor(dev, 5*time.Second, reg, dispatch.NewHub(), &eventstream.EventStream{}, zap.NewNop())

	assert.Equal(t, 5*time.Second, act.cadence())
	act.misses = pollOfflineThreshold
	assert.Equal(t, socketPingInterval, act.cadence())
	act.misses = pollOfflineThreshold + 3
	assert.Equal(t, socketPingInterval, act.cadence())
	act.misses = 0
	assert.Equal(t, 5*time.Second, act.cadence())
}

func TestPollOfflineTriggerFiresOnceThenSlowsDown(t *testing.T) {
	as := actor.NewActorSystem()
	root := as.Root

	// nothing listens on port 1, so every poll misses
	store := registry.NewMemoryStore([]domain.DeviceProfile{{
		ID: "shellyplug-s-ffeedd", Model: "SHPLG-S", Mode: "poll", Address: "127.0.0.1:1",
	}})
	reg := registry.New(store, zap.NewNop())
	reg.Rebuild()
	hub := dispatch.NewHub()
	es := &eventstream.EventStream{}

	recorder := &triggerRecorder{}
	sub := es.Subscribe(recorder.record)
	defer es.Unsubscribe(sub)

	dev, ok := reg.Device("shellyplug-s-ffeedd")
	require.True(t, ok)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPollSessionActor(dev, 100*time.Millisecond, reg, hub, es, zap.NewNop())
	})
	pid := root.Spawn(props)

	// a device that was never reachable stays silent
	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, recorder.named(domain.TRIGGER_DEVICE_OFFLINE))

	// one good answer brings it online; the misses that follow take it
	// offline exactly once, after which the slow retry cadence keeps quiet
	root.Send(pid, pollResult{status: map[string]any{}})
	time.Sleep(2 * time.Second)

	assert.Len(t, recorder.named(domain.TRIGGER_DEVICE_ONLINE), 1)
	assert.Len(t, recorder.named(domain.TRIGGER_DEVICE_OFFLINE), 1)

	root.Stop(pid)
	as.Shutdown()
}
