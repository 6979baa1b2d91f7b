package actor

import (
	"fmt"
	"testing"
	"time"

	adactor "shelly2mqtt/internal/adapter/actor"
	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnTestMaster(t *testing.T) (*actor.ActorSystem, *actor.PID) {
	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	var profiles []domain.DeviceProfile
	for _, entry := range cfg.Devices {
		profiles = append(profiles, entry.Profile())
	}
	store := registry.NewMemoryStore(profiles)
	reg := registry.New(store, logger)
	hub := dispatch.NewHub()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewBridgeMasterActor(cfg, store, reg, hub, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger)
		}, nil, nil, nil, "", logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Fatal(err)
	}
	return as, pid
}

func TestMasterActorHealth(t *testing.T) {

	as, pid := spawnTestMaster(t)
	context := as.Root

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.NotNil(t, healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	context.Stop(pid)

	as.Shutdown()
}

func TestMasterActorListPairUnpair(t *testing.T) {

	as, pid := spawnTestMaster(t)
	context := as.Root

	time.Sleep(1 * time.Second)

	// SHSW-25 expands to one logical device per channel
	res, err := context.RequestFuture(pid, domain.ListDevicesRequest{}, 5*time.Second).Result()
	assert.NoError(t, err)
	list, ok := res.(domain.ListDevicesResponse)
	assert.True(t, ok)
	assert.Len(t, list.Devices, 2)

	res, err = context.RequestFuture(pid, domain.PairDeviceRequest{
		Profile: domain.DeviceProfile{
			ID:    "shellyplug-s-0011ff",
			Model: "SHPLG-S",
			Mode:  "poll",
		},
	}, 5*time.Second).Result()
	assert.NoError(t, err)
	pairResp, ok := res.(domain.PairDeviceResponse)
	assert.True(t, ok)
	assert.NoError(t, pairResp.GetResponseError())

	res, err = context.RequestFuture(pid, domain.ListDevicesRequest{}, 5*time.Second).Result()
	assert.NoError(t, err)
	list = res.(domain.ListDevicesResponse)
	assert.Len(t, list.Devices, 3)

	// pairing the same unit twice must fail
	res, err = context.RequestFuture(pid, domain.PairDeviceRequest{
		Profile: domain.DeviceProfile{
			ID:    "shellyplug-s-0011ff",
			Model: "SHPLG-S",
			Mode:  "poll",
		},
	}, 5*time.Second).Result()
	assert.NoError(t, err)
	pairResp = res.(domain.PairDeviceResponse)
	assert.Error(t, pairResp.GetResponseError())

	res, err = context.RequestFuture(pid, domain.UnpairDeviceRequest{
		DeviceID: "shellyplug-s-0011ff",
	}, 5*time.Second).Result()
	assert.NoError(t, err)
	unpairResp, ok := res.(domain.UnpairDeviceResponse)
	assert.True(t, ok)
	assert.NoError(t, unpairResp.GetResponseError())

	res, err = context.RequestFuture(pid, domain.ListDevicesRequest{}, 5*time.Second).Result()
	assert.NoError(t, err)
	list = res.(domain.ListDevicesResponse)
	assert.Len(t, list.Devices, 2)

	context.Stop(pid)
	as.Shutdown()
}

func TestMasterActorRebuild(t *testing.T) {

	as, pid := spawnTestMaster(t)
	context := as.Root

	time.Sleep(1 * time.Second)

	res, err := context.RequestFuture(pid, domain.RebuildRegistryRequest{}, 5*time.Second).Result()
	assert.NoError(t, err)
	rebuild, ok := res.(domain.RebuildRegistryResponse)
	assert.True(t, ok)
	assert.Equal(t, 2, rebuild.Count)

	context.Stop(pid)
	as.Shutdown()
}

func TestMasterActorDispatchUnknownDevice(t *testing.T) {

	as, pid := spawnTestMaster(t)
	context := as.Root

	time.Sleep(1 * time.Second)

	res, err := context.RequestFuture(pid, domain.DispatchCommandRequest{
		DeviceID: "nosuchdevice",
		Action:   domain.ActionTurnOn,
	}, 5*time.Second).Result()
	assert.NoError(t, err)
	resp, ok := res.(domain.DispatchCommandResponse)
	assert.True(t, ok)
	assert.Error(t, resp.GetResponseError())

	context.Stop(pid)
	as.Shutdown()
}
