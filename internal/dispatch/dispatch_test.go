package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"

	"shelly2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRPC struct {
	connected bool
	calls     []string
	params    []any
	err       error
}

func (f *fakeRPC) Connected() bool { return f.connected }

func (f *fakeRPC) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	f.params = append(f.params, params)
	return nil, f.err
}

type fakeCloud struct {
	connected bool
	commands  []string
	devices   []string
}

func (f *fakeCloud) Connected() bool { return f.connected }

func (f *fakeCloud) SendCommand(_ context.Context, deviceID, command string, _ map[string]any) error {
	f.devices = append(f.devices, deviceID)
	f.commands = append(f.commands, command)
	return nil
}

type fakeHTTP struct {
	relayTurns []string
	rpcCalls   []string
}

func (f *fakeHTTP) GetStatus(context.Context) (map[string]any, error) { return nil, nil }

func (f *fakeHTTP) SetRelay(_ context.Context, _ int, turn string) error {
	f.relayTurns = append(f.relayTurns, turn)
	return nil
}

func (f *fakeHTTP) SetLight(_ context.Context, _ int, _ url.Values) error { return nil }

func (f *fakeHTTP) SetRoller(_ context.Context, _ int, _ url.Values) error { return nil }

func (f *fakeHTTP) Call(_ context.Context, method string, _ url.Values) (map[string]any, error) {
	f.rpcCalls = append(f.rpcCalls, method)
	return nil, nil
}

type fakeSessions struct {
	rpc   *fakeRPC
	cloud *fakeCloud
	http  *fakeHTTP
}

func (f *fakeSessions) SocketFor(string) (RPCSession, bool) {
	if f.rpc == nil {
		return nil, false
	}
	return f.rpc, true
}

func (f *fakeSessions) HTTPFor(*domain.LogicalDevice) HTTPCaller { return f.http }

func (f *fakeSessions) Cloud() (CloudSession, bool) {
	if f.cloud == nil {
		return nil, false
	}
	return f.cloud, true
}

func device(model, mode string, channel int) *domain.LogicalDevice {
	m, _ := domain.ParseCommMode(mode)
	return domain.NewLogicalDevice(domain.DeviceProfile{
		ID:    "shellyswitch25-abc123",
		Model: model,
	}, channel, m, domain.ModelByID(model))
}

func TestSocketDispatch(t *testing.T) {
	sessions := &fakeSessions{rpc: &fakeRPC{connected: true}}
	d := New(sessions, zap.NewNop())
	dev := device("shellyplus2pm", "socket", 1)

	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionTurnOn, nil))
	require.Equal(t, []string{"Switch.Set"}, sessions.rpc.calls)
	params := sessions.rpc.params[0].(map[string]any)
	assert.Equal(t, 1, params["id"])
	assert.Equal(t, true, params["on"])

	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionToggle, nil))
	assert.Equal(t, "Switch.Toggle", sessions.rpc.calls[1])
}

func TestSocketDispatchFailsFastWhenDisconnected(t *testing.T) {
	sessions := &fakeSessions{rpc: &fakeRPC{connected: false}}
	d := New(sessions, zap.NewNop())

	err := d.Dispatch(context.Background(), device("shellyplus1pm", "socket", 0), domain.ActionTurnOn, nil)
	require.Error(t, err)
	assert.Empty(t, sessions.rpc.calls, "nothing may be queued against a dead socket")
}

func TestSocketDispatchSurfacesTransportErrors(t *testing.T) {
	sessions := &fakeSessions{rpc: &fakeRPC{connected: true, err: fmt.Errorf("boom")}}
	d := New(sessions, zap.NewNop())

	err := d.Dispatch(context.Background(), device("shellyplus1pm", "socket", 0), domain.ActionTurnOn, nil)
	assert.ErrorContains(t, err, "boom")
}

func TestGen1HTTPDispatch(t *testing.T) {
	sessions := &fakeSessions{http: &fakeHTTP{}}
	d := New(sessions, zap.NewNop())
	dev := device("SHSW-25", "poll", 0)

	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionTurnOff, nil))
	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionToggle, nil))
	assert.Equal(t, []string{"off", "toggle"}, sessions.http.relayTurns)

	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionReboot, nil))
	assert.Equal(t, []string{"reboot"}, sessions.http.rpcCalls)
}

func TestGen2PollDispatchUsesRPCEndpoint(t *testing.T) {
	sessions := &fakeSessions{http: &fakeHTTP{}}
	d := New(sessions, zap.NewNop())
	dev := device("shellyplus1pm", "poll", 0)

	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionTurnOn, nil))
	assert.Equal(t, []string{"Switch.Set"}, sessions.http.rpcCalls)
	assert.Empty(t, sessions.http.relayTurns)
}

func TestCloudDispatch(t *testing.T) {
	sessions := &fakeSessions{cloud: &fakeCloud{connected: true}}
	d := New(sessions, zap.NewNop())
	dev := device("SHSW-25", "cloud", 1)

	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionTurnOn, nil))
	require.Equal(t, []string{"relay"}, sessions.cloud.commands)
	// the physical unit id goes over the wire, not the channel-suffixed one
	assert.Equal(t, []string{"shellyswitch25-abc123"}, sessions.cloud.devices)
}

func TestCloudUnsupportedActionsAreNoOps(t *testing.T) {
	sessions := &fakeSessions{cloud: &fakeCloud{connected: true}}
	d := New(sessions, zap.NewNop())
	dev := device("SHSW-1", "cloud", 0)

	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionReboot, nil))
	require.NoError(t, d.Dispatch(context.Background(), dev, domain.ActionUpdateFirmware, nil))
	assert.Empty(t, sessions.cloud.commands)
}

func TestCloudDispatchFailsWithoutRelay(t *testing.T) {
	d := New(&fakeSessions{}, zap.NewNop())
	err := d.Dispatch(context.Background(), device("SHSW-1", "cloud", 0), domain.ActionTurnOn, nil)
	assert.Error(t, err)
}

func TestHardwareLinkIsNoOp(t *testing.T) {
	d := New(&fakeSessions{}, zap.NewNop())
	assert.NoError(t, d.Dispatch(context.Background(), device("SHSW-1", "hwlink", 0), domain.ActionTurnOn, nil))
}

func TestParamScaling(t *testing.T) {
	assert.Equal(t, 75, percent(map[string]any{"dim": 0.75}, "dim"))
	assert.Equal(t, 0, percent(map[string]any{"dim": -0.5}, "dim"))
	assert.Equal(t, 100, percent(map[string]any{"dim": 2.0}, "dim"))
	assert.Equal(t, 0, percent(nil, "dim"))

	r, g, b := rgbFromParams(map[string]any{"light_hue": 0.0, "light_saturation": 1.0})
	assert.Equal(t, [3]int{255, 0, 0}, [3]int{r, g, b})
}
