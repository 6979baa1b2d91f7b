package actor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/transport/gen2"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRPCClient struct {
	pings  atomic.Int32
	notifs chan gen2.Notification
	done   chan struct{}
}

func newFakeRPCClient() *fakeRPCClient {
	return &fakeRPCClient{
		notifs: make(chan gen2.Notification),
		done:   make(chan struct{}),
	}
}

func (f *fakeRPCClient) Connected() bool { return true }
func (f *fakeRPCClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (f *fakeRPCClient) Notifications() <-chan gen2.Notification { return f.notifs }
func (f *fakeRPCClient) Closed() <-chan struct{}                 { return f.done }
func (f *fakeRPCClient) Ping() error                             { f.pings.Add(1); return nil }
func (f *fakeRPCClient) Close() error                            { return nil }

func TestSocketSessionKeepaliveDoesNotLeakAcrossReconnects(t *testing.T) {
	as := actor.NewActorSystem()
	root := as.Root

	store := registry.NewMemoryStore([]domain.DeviceProfile{{
		ID: "shellyplus1-aabbcc", Model: "shellyplus1", Address: "192.168.1.60", Mode: "socket",
	}})
	reg := registry.New(store, zap.NewNop())
	reg.Rebuild()
	hub := dispatch.NewHub()
	es := &eventstream.EventStream{}

	first := newFakeRPCClient()
	second := newFakeRPCClient()
	var dials atomic.Int32
	dial := func(ctx context.Context, address string) (RPCClient, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewSocketSessionActor("shellyplus1-aabbcc", "192.168.1.60", dial, reg, hub, es, zap.NewNop())
	})
	pid := root.Spawn(props)

	time.Sleep(300 * time.Millisecond)
	_, ok := hub.SocketFor("shellyplus1-aabbcc")
	require.True(t, ok, "first session registered in the hub")

	// the device drops the connection, and the keepalive tick of the dead
	// session still fires while the actor is disconnected
	close(first.notifs)
	time.Sleep(200 * time.Millisecond)
	root.Send(pid, socketPingTick{})

	// skip the reconnect delay
	root.Send(pid, socketDial{})
	time.Sleep(500 * time.Millisecond)

	_, ok = hub.SocketFor("shellyplus1-aabbcc")
	require.True(t, ok, "second session registered in the hub")
	assert.EqualValues(t, 0, second.pings.Load(),
		"a fresh session runs exactly one keepalive cycle, starting a full interval away")

	root.Stop(pid)
	as.Shutdown()
}
