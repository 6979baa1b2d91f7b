package registry

import (
	"fmt"
	"testing"

	"shelly2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyStore struct {
	*MemoryStore
	fail bool
}

func (s *flakyStore) Profiles() ([]domain.DeviceProfile, error) {
	if s.fail {
		return nil, fmt.Errorf("store unavailable")
	}
	return s.MemoryStore.Profiles()
}

func twoChannelProfile() domain.DeviceProfile {
	return domain.DeviceProfile{
		ID:      "shellyswitch25-abc123",
		Model:   "SHSW-25",
		Address: "192.168.1.40",
		Mode:    "socket",
	}
}

func TestRebuildExpandsChannels(t *testing.T) {
	store := NewMemoryStore([]domain.DeviceProfile{twoChannelProfile()})
	reg := New(store, zap.NewNop())

	count := reg.Rebuild()
	assert.Equal(t, 2, count)

	devices := reg.Snapshot()
	require.Len(t, devices, 2)
	assert.Equal(t, "shellyswitch25-abc123", devices[0].ID)
	assert.Equal(t, "shellyswitch25-abc123-channel-1", devices[1].ID)
	assert.Equal(t, 0, devices[0].Channel)
	assert.Equal(t, 1, devices[1].Channel)
	for _, dev := range devices {
		assert.Equal(t, "shellyswitch25-abc123", dev.MainID)
	}
}

func TestResolveFanOut(t *testing.T) {
	store := NewMemoryStore([]domain.DeviceProfile{twoChannelProfile()})
	reg := New(store, zap.NewNop())
	reg.Rebuild()

	// no hint at all: a full-status event addresses every channel
	devices := reg.Resolve("abc123", Hint{})
	require.Len(t, devices, 2)

	// explicit channel narrows to one
	ch := 1
	devices = reg.Resolve("abc123", Hint{Channel: &ch})
	require.Len(t, devices, 1)
	assert.Equal(t, 1, devices[0].Channel)

	// component tag carries the channel
	devices = reg.Resolve("abc123", Hint{Component: "switch:1"})
	require.Len(t, devices, 1)
	assert.Equal(t, 1, devices[0].Channel)

	// trailing digit in a raw field name
	devices = reg.Resolve("abc123", Hint{Field: "relay1"})
	require.Len(t, devices, 1)
	assert.Equal(t, 1, devices[0].Channel)

	// no trailing digit means channel 0
	devices = reg.Resolve("abc123", Hint{Field: "relay"})
	require.Len(t, devices, 1)
	assert.Equal(t, 0, devices[0].Channel)
}

func TestResolveMatchesSubstringsAndAddress(t *testing.T) {
	store := NewMemoryStore([]domain.DeviceProfile{
		{ID: "shelly1pm-C45BBE78", Model: "SHSW-PM", Address: "10.0.0.5", Mode: "poll"},
	})
	reg := New(store, zap.NewNop())
	reg.Rebuild()

	// MAC fragment, case-insensitive
	assert.Len(t, reg.Resolve("c45bbe78", Hint{}), 1)
	// full announced id containing the configured one
	assert.Len(t, reg.Resolve("shelly1pm-c45bbe78", Hint{}), 1)
	// address match
	assert.Len(t, reg.Resolve("10.0.0.5", Hint{}), 1)
	// miss is silent
	assert.Empty(t, reg.Resolve("deadbeef", Hint{}))
	assert.Empty(t, reg.Resolve("", Hint{}))
}

func TestRebuildKeepsSnapshotOnStoreError(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore([]domain.DeviceProfile{twoChannelProfile()})}
	reg := New(store, zap.NewNop())
	require.Equal(t, 2, reg.Rebuild())

	store.fail = true
	assert.Equal(t, 2, reg.Rebuild())
	assert.Len(t, reg.Snapshot(), 2)
}

func TestRebuildPreservesValueCaches(t *testing.T) {
	store := NewMemoryStore([]domain.DeviceProfile{twoChannelProfile()})
	reg := New(store, zap.NewNop())
	reg.Rebuild()

	dev, ok := reg.Device("shellyswitch25-abc123")
	require.True(t, ok)
	require.True(t, dev.CommitValue("onoff", true))

	require.NoError(t, store.Add(domain.DeviceProfile{
		ID: "shellyplug-s-112233", Model: "SHPLG-S", Mode: "poll",
	}))
	reg.Rebuild()

	dev, ok = reg.Device("shellyswitch25-abc123")
	require.True(t, ok)
	v, cached := dev.CachedValue("onoff")
	require.True(t, cached, "cache survives a rebuild")
	assert.Equal(t, true, v)
	// so the same state replayed after the rebuild is still not a write
	assert.False(t, dev.CommitValue("onoff", true))
}

func TestRebuildRefreshesProfileFields(t *testing.T) {
	store := NewMemoryStore([]domain.DeviceProfile{twoChannelProfile()})
	reg := New(store, zap.NewNop())
	reg.Rebuild()

	dev, ok := reg.Device("shellyswitch25-abc123")
	require.True(t, ok)
	require.Equal(t, domain.ModeSocket, dev.Mode)
	require.True(t, dev.CommitValue("onoff", true))

	// re-pair the same unit with a different mode and address
	require.NoError(t, store.Remove("shellyswitch25-abc123"))
	require.NoError(t, store.Add(domain.DeviceProfile{
		ID:      "shellyswitch25-abc123",
		Model:   "SHSW-25",
		Address: "192.168.1.99",
		Mode:    "poll",
	}))
	reg.Rebuild()

	dev, ok = reg.Device("shellyswitch25-abc123")
	require.True(t, ok)
	assert.Equal(t, domain.ModePoll, dev.Mode)
	assert.Equal(t, "192.168.1.99", dev.Address)
	v, cached := dev.CachedValue("onoff")
	require.True(t, cached)
	assert.Equal(t, true, v)
}

func TestChannelFromFieldGuards(t *testing.T) {
	assert.Equal(t, 0, channelFromField("em1"))
	assert.Equal(t, 0, channelFromField("pm1"))
	assert.Equal(t, 1, channelFromField("input1"))
	assert.Equal(t, 2, channelFromField("roller2"))
	assert.Equal(t, 0, channelFromField("output"))
	assert.Equal(t, 0, channelFromField("123"))
}
