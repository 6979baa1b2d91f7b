package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/transport/cloud"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCloudSocket struct {
	statuses chan cloud.StatusEvent
	onlines  chan cloud.OnlineEvent
	done     chan struct{}
}

func newFakeCloudSocket() *fakeCloudSocket {
	return &fakeCloudSocket{
		statuses: make(chan cloud.StatusEvent),
		onlines:  make(chan cloud.OnlineEvent),
		done:     make(chan struct{}),
	}
}

func (f *fakeCloudSocket) Connected() bool { return true }
func (f *fakeCloudSocket) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	return nil
}
func (f *fakeCloudSocket) Statuses() <-chan cloud.StatusEvent { return f.statuses }
func (f *fakeCloudSocket) Onlines() <-chan cloud.OnlineEvent  { return f.onlines }
func (f *fakeCloudSocket) Closed() <-chan struct{}            { return f.done }
func (f *fakeCloudSocket) Close() error                       { return nil }

type triggerRecorder struct {
	mu       sync.Mutex
	triggers []domain.TriggerEvent
}

func (r *triggerRecorder) record(evt any) {
	if tr, ok := evt.(domain.TriggerEvent); ok {
		r.mu.Lock()
		r.triggers = append(r.triggers, tr)
		r.mu.Unlock()
	}
}

func (r *triggerRecorder) named(name string) []domain.TriggerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TriggerEvent
	for _, tr := range r.triggers {
		if tr.Name == name {
			out = append(out, tr)
		}
	}
	return out
}

func TestCloudOnlineReportFiresTriggerOncePerChange(t *testing.T) {
	as := actor.NewActorSystem()
	root := as.Root

	store := registry.NewMemoryStore([]domain.DeviceProfile{{
		ID: "shellyplug-s-aabbcc", Model: "SHPLG-S", Mode: "cloud",
	}})
	reg := registry.New(store, zap.NewNop())
	reg.Rebuild()
	hub := dispatch.NewHub()
	es := &eventstream.EventStream{}

	recorder := &triggerRecorder{}
	sub := es.Subscribe(recorder.record)
	defer es.Unsubscribe(sub)

	socket := newFakeCloudSocket()
	dial := func(ctx context.Context, server, token string) (CloudSocket, error) {
		return socket, nil
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewCloudSessionActor("server.shelly.cloud", "token", dial, nil, reg, hub, es, zap.NewNop())
	})
	pid := root.Spawn(props)
	time.Sleep(300 * time.Millisecond)

	// the relay repeats online frames; a repeat must not re-fire the trigger
	socket.onlines <- cloud.OnlineEvent{DeviceID: "shellyplug-s-aabbcc", Online: false}
	socket.onlines <- cloud.OnlineEvent{DeviceID: "shellyplug-s-aabbcc", Online: false}
	time.Sleep(300 * time.Millisecond)

	offline := recorder.named(domain.TRIGGER_DEVICE_OFFLINE)
	require.Len(t, offline, 1)
	assert.Equal(t, "shellyplug-s-aabbcc", offline[0].DeviceID)
	assert.NotEmpty(t, offline[0].Tokens["reason"])

	// an actual change fires again
	socket.onlines <- cloud.OnlineEvent{DeviceID: "shellyplug-s-aabbcc", Online: true}
	time.Sleep(300 * time.Millisecond)

	assert.Len(t, recorder.named(domain.TRIGGER_DEVICE_ONLINE), 1)
	assert.Len(t, recorder.named(domain.TRIGGER_DEVICE_OFFLINE), 1)

	root.Stop(pid)
	as.Shutdown()
}
