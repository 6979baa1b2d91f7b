package mqtt

import (
	"testing"

	"shelly2mqtt/internal/config"
	"shelly2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "shelly2mqtt",
		},
	}
}

func TestCommandTopicParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/shellyswitch25-abc123-channel-1/onoff/set"
	r := commandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	require.Len(t, matches, 1)
	assert.Equal(matches[0][1], "shellyswitch25-abc123-channel-1", "device extract")
	assert.Equal(matches[0][2], "onoff", "capability extract")
}

func TestCommandTopicParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/shellyswitch25-abc123/onoff/state"
	r := commandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestCommandToAction(t *testing.T) {
	action, params, err := CommandToAction(ParsedMQTTCommand{Capability: "onoff", Payload: "on"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionTurnOn, action)
	assert.Nil(t, params)

	action, _, err = CommandToAction(ParsedMQTTCommand{Capability: "onoff", Payload: "toggle"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionToggle, action)

	action, params, err = CommandToAction(ParsedMQTTCommand{Capability: "dim", Payload: "0.42"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSetBrightness, action)
	assert.Equal(t, 0.42, params["dim"])

	_, _, err = CommandToAction(ParsedMQTTCommand{Capability: "dim", Payload: "bright"})
	assert.Error(t, err)

	_, _, err = CommandToAction(ParsedMQTTCommand{Capability: "frobnicate", Payload: "1"})
	assert.Error(t, err)
}

func TestTopicShapes(t *testing.T) {
	cfg := testConfig()
	client := CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)

	assert.Equal(t, "shelly2mqtt/dev-1/onoff/state", client.CapabilityStateTopic("dev-1", "onoff"))
	assert.Equal(t, "shelly2mqtt/dev-1/onoff/set", client.CapabilityCommandTopic("dev-1", "onoff"))
	assert.Equal(t, "shelly2mqtt/dev-1/availability", client.AvailabilityTopic("dev-1"))
	assert.Equal(t, "shelly2mqtt/dev-1/event", client.EventTopic("dev-1"))
	assert.Equal(t, "shelly2mqtt/bridge/state", client.BridgeStateTopic())
}

func TestDiscoveryMessages(t *testing.T) {
	cfg := testConfig()
	client := CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)

	dev := domain.GenericDevice{Id: "shellyswitch25-abc123", Name: "Living Room", Model: "SHSW-25"}

	sw := GenericSwitchToHADiscoveryMessage(client, domain.GenericSwitch{
		Device: dev, Id: "onoff", UniqueId: "shellyswitch25-abc123_onoff", Name: "Living Room",
	})
	assert.Equal(t, "shelly2mqtt/shellyswitch25-abc123/onoff/state", sw.StateTopic)
	assert.Equal(t, "shelly2mqtt/shellyswitch25-abc123/onoff/set", sw.CommandTopic)
	assert.Equal(t, "shelly2mqtt/shellyswitch25-abc123/availability", sw.AvTopic)

	sensor := GenericSensorToHADiscoveryMessage(client, domain.GenericSensor{
		Device: dev, Id: "measure_power", UniqueId: "shellyswitch25-abc123_measure_power",
		Name: "Power", SensorType: domain.SENSOR_TYPE_SENSOR,
		DeviceClass: "power", StateClass: "measurement", UnitOfMeasurement: "W",
	})
	assert.Equal(t, "shelly2mqtt/shellyswitch25-abc123/measure_power/state", sensor.StateTopic)
	assert.Empty(t, sensor.CommandTopic)

	bridge := GenericSensorToHADiscoveryMessage(client, domain.GenericSensor{
		Device: dev, Id: domain.SENSOR_ID_BRIDGE_STATE, SensorType: domain.SENSOR_TYPE_BINARY,
	})
	assert.Equal(t, client.BridgeStateTopic(), bridge.StateTopic)
	assert.Equal(t, MQTT_PAYLOAD_ONLINE, bridge.PayloadOn)

	light := GenericLightToHADiscoveryMessage(client, domain.GenericLight{
		Device: dev, Id: "light", UniqueId: "x_light", Brightness: true, ColorTemp: true,
	})
	assert.Equal(t, "shelly2mqtt/shellyswitch25-abc123/dim/set", light.BrightnessCommandTopic)
	assert.Equal(t, 100, light.BrightnessScale)
	assert.NotEmpty(t, light.ColorTempStateTopic)
}
