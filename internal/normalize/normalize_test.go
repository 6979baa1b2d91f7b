package normalize

import (
	"testing"

	"shelly2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice(model string) *domain.LogicalDevice {
	return domain.NewLogicalDevice(domain.DeviceProfile{
		ID:    "shellyplus1pm-a8032ab12345",
		Model: model,
	}, 0, domain.ModeSocket, domain.ModelByID(model))
}

func TestIngestSwitchStatus(t *testing.T) {
	dev := testDevice("shellyplus1pm")

	status := map[string]any{
		"switch:0": map[string]any{
			"output": true,
			"apower": 12.3,
		},
	}
	components := SplitRPCStatus(status)
	require.Len(t, components, 1)
	assert.Equal(t, "switch", components[0].Component)
	assert.Equal(t, 0, components[0].Channel)

	changed := Ingest(TransportRPC, dev, components[0].Fields)
	require.Len(t, changed, 2)

	byCapability := make(map[string]domain.CapabilityUpdateEvent)
	for _, ev := range changed {
		byCapability[ev.Capability] = ev
	}
	assert.Equal(t, true, byCapability["onoff"].Value)
	assert.Equal(t, 12.3, byCapability["measure_power"].Value)

	// identical payload again: no writes at all
	changed = Ingest(TransportRPC, dev, components[0].Fields)
	assert.Empty(t, changed)

	// single field change: exactly one write
	changed = Ingest(TransportRPC, dev, map[string]any{
		"output": true,
		"apower": 15.0,
	})
	require.Len(t, changed, 1)
	assert.Equal(t, "measure_power", changed[0].Capability)
	assert.Equal(t, 15.0, changed[0].Value)
}

func TestIngestIdempotentAcrossTransports(t *testing.T) {
	dev := testDevice("SHSW-PM")

	changed := Ingest(TransportHTTP, dev, map[string]any{"ison": true})
	require.Len(t, changed, 1)

	// the CoIoT path reporting the same state must not produce a write
	changed = Ingest(TransportCoIoT, dev, map[string]any{"output": true})
	assert.Empty(t, changed)
}

func TestSentinelReadings(t *testing.T) {
	model := domain.ModelByID("SHDW-2")

	for _, tr := range []Transport{TransportRPC, TransportCoIoT} {
		u, ok := Map(tr, model, "tilt", float64(-1))
		require.True(t, ok, "tilt should be known to %s", tr)
		assert.Nil(t, u.Value, "%s tilt sentinel", tr)

		u, ok = Map(tr, model, "temperature", float64(999))
		if tr == TransportRPC {
			u, ok = Map(tr, model, "tC", float64(999))
		}
		require.True(t, ok)
		assert.Nil(t, u.Value, "%s temperature sentinel", tr)
	}

	u, ok := Map(TransportHTTP, model, "bat.value", float64(-1))
	require.True(t, ok)
	assert.Nil(t, u.Value)

	u, ok = Map(TransportCoIoT, model, "motion", float64(-1))
	require.True(t, ok)
	assert.Nil(t, u.Value)

	// valid readings pass through
	u, _ = Map(TransportCoIoT, model, "tilt", float64(45))
	assert.Equal(t, 45.0, u.Value)
}

func TestEnergyScaleByModel(t *testing.T) {
	wattHour := domain.ModelByID("SHEM")
	wattMinute := domain.ModelByID("SHSW-25")

	u, ok := Map(TransportHTTP, wattHour, "total", float64(1000))
	require.True(t, ok)
	assert.InDelta(t, 1.0, u.Value.(float64), 1e-9)

	u, ok = Map(TransportHTTP, wattMinute, "total", float64(1000))
	require.True(t, ok)
	assert.InDelta(t, 0.017, u.Value.(float64), 1e-9)

	// same model rule regardless of transport
	u, ok = Map(TransportCoIoT, wattMinute, "energy", float64(1000))
	require.True(t, ok)
	assert.InDelta(t, 0.017, u.Value.(float64), 1e-9)
}

func TestFlattenSkipsBookkeeping(t *testing.T) {
	leaves := Flatten("aenergy", map[string]any{
		"total":     float64(5000),
		"by_minute": []any{1.0, 2.0, 3.0},
		"minute_ts": float64(1700000000),
	})
	assert.Equal(t, map[string]any{"aenergy.total": float64(5000)}, leaves)
}

func TestIngestNestedEnergy(t *testing.T) {
	dev := testDevice("shellyplus1pm")

	changed := Ingest(TransportRPC, dev, map[string]any{
		"output": false,
		"aenergy": map[string]any{
			"total":     float64(2500),
			"by_minute": []any{0.0, 0.0, 0.0},
			"minute_ts": float64(1700000000),
		},
	})
	byCapability := make(map[string]any)
	for _, ev := range changed {
		byCapability[ev.Capability] = ev.Value
	}
	assert.Equal(t, false, byCapability["onoff"])
	assert.InDelta(t, 2.5, byCapability["meter_power"].(float64), 1e-9)
	assert.NotContains(t, byCapability, "by_minute")
}

func TestDeriveColorFromRGB(t *testing.T) {
	dev := testDevice("SHBLB-1")

	changed := Ingest(TransportHTTP, dev, map[string]any{
		"ison":  true,
		"red":   float64(255),
		"green": float64(0),
		"blue":  float64(0),
	})
	byCapability := make(map[string]any)
	for _, ev := range changed {
		byCapability[ev.Capability] = ev.Value
	}
	assert.Equal(t, 0.0, byCapability["light_hue"])
	assert.Equal(t, 1.0, byCapability["light_saturation"])
}

func TestGen1StatusSplit(t *testing.T) {
	status := map[string]any{
		"relays": []any{
			map[string]any{"ison": true},
			map[string]any{"ison": false},
		},
		"meters": []any{
			map[string]any{"power": 20.5, "total": float64(300)},
			map[string]any{"power": 0.0, "total": float64(0)},
		},
		"tmp": map[string]any{"tC": 41.2},
	}
	byChannel := SplitGen1Status(status)
	require.Len(t, byChannel, 2)
	assert.Equal(t, true, byChannel[0]["ison"])
	assert.Equal(t, false, byChannel[1]["ison"])
	assert.Equal(t, 20.5, byChannel[0]["power"])
	assert.Equal(t, 41.2, byChannel[0]["tmp.tC"])
	assert.NotContains(t, byChannel[1], "tmp.tC")
}

func TestUnknownFieldsDropped(t *testing.T) {
	_, ok := Map(TransportRPC, domain.ModelByID("shellyplus1"), "freq", float64(50))
	assert.False(t, ok)
}
