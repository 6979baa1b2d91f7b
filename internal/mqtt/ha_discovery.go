package mqtt

import (
	"fmt"

	"shelly2mqtt/internal/core/domain"
)

// Entity ids are the capability names, scoped under the logical device, so
// discovery topics line up one-to-one with the state topics.

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	EnabledByDefault  *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`

	BrightnessStateTopic   string `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic string `json:"brightness_command_topic,omitempty"`
	BrightnessScale        int    `json:"brightness_scale,omitempty"`
	ColorTempStateTopic    string `json:"color_temp_state_topic,omitempty"`
	ColorTempCommandTopic  string `json:"color_temp_command_topic,omitempty"`

	PositionTopic    string `json:"position_topic,omitempty"`
	SetPositionTopic string `json:"set_position_topic,omitempty"`
	PositionOpen     int    `json:"position_open,omitempty"`
	PositionClosed   int    `json:"position_closed,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func HADiscoverySensorTopic(discoveryTopic string, sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", discoveryTopic, sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func HADiscoverySwitchTopic(discoveryTopic string, sw domain.GenericSwitch) string {
	return fmt.Sprintf("%s/switch/%s/%s/config", discoveryTopic, sw.Device.Id, sw.Id)
}

func HADiscoveryLightTopic(discoveryTopic string, light domain.GenericLight) string {
	return fmt.Sprintf("%s/light/%s/%s/config", discoveryTopic, light.Device.Id, light.Id)
}

func HADiscoveryCoverTopic(discoveryTopic string, cover domain.GenericCover) string {
	return fmt.Sprintf("%s/cover/%s/%s/config", discoveryTopic, cover.Device.Id, cover.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	dev := device(sensor.Device)
	var topic string
	if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
		topic = client.BridgeStateTopic()
	} else {
		topic = client.CapabilityStateTopic(sensor.Device.Id, sensor.Id)
	}
	disConfig := HADiscoveryConfig{
		Device:            dev,
		StateTopic:        topic,
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		AvTopic:           client.BridgeStateTopic(),
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	} else if sensor.SensorType == domain.SENSOR_TYPE_BINARY {
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
		disConfig.AvTopic = client.AvailabilityTopic(sensor.Device.Id)
	} else {
		disConfig.AvTopic = client.AvailabilityTopic(sensor.Device.Id)
	}
	return disConfig
}

func GenericSwitchToHADiscoveryMessage(client *MQTTClient, sw domain.GenericSwitch) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:       device(sw.Device),
		StateTopic:   client.CapabilityStateTopic(sw.Device.Id, sw.Id),
		CommandTopic: client.CapabilityCommandTopic(sw.Device.Id, sw.Id),
		AvTopic:      client.AvailabilityTopic(sw.Device.Id),
		Name:         sw.Name,
		UniqueId:     sw.UniqueId,
		Icon:         sw.Icon,
		Platform:     "mqtt",
		PayloadOn:    MQTT_PAYLOAD_ON,
		PayloadOff:   MQTT_PAYLOAD_OFF,
	}
}

func GenericLightToHADiscoveryMessage(client *MQTTClient, light domain.GenericLight) HADiscoveryConfig {
	disConfig := HADiscoveryConfig{
		Device:       device(light.Device),
		StateTopic:   client.CapabilityStateTopic(light.Device.Id, "onoff"),
		CommandTopic: client.CapabilityCommandTopic(light.Device.Id, "onoff"),
		AvTopic:      client.AvailabilityTopic(light.Device.Id),
		Name:         light.Name,
		UniqueId:     light.UniqueId,
		Platform:     "mqtt",
		PayloadOn:    MQTT_PAYLOAD_ON,
		PayloadOff:   MQTT_PAYLOAD_OFF,
	}
	if light.Brightness {
		disConfig.BrightnessStateTopic = client.CapabilityStateTopic(light.Device.Id, "dim")
		disConfig.BrightnessCommandTopic = client.CapabilityCommandTopic(light.Device.Id, "dim")
		disConfig.BrightnessScale = 100
	}
	if light.ColorTemp {
		disConfig.ColorTempStateTopic = client.CapabilityStateTopic(light.Device.Id, "light_temperature")
		disConfig.ColorTempCommandTopic = client.CapabilityCommandTopic(light.Device.Id, "light_temperature")
	}
	return disConfig
}

// Roller position rides the capability topic as a 0..1 value, so the open
// position is 1 rather than the HA default of 100.
func GenericCoverToHADiscoveryMessage(client *MQTTClient, cover domain.GenericCover) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:           device(cover.Device),
		PositionTopic:    client.CapabilityStateTopic(cover.Device.Id, cover.Id),
		SetPositionTopic: client.CapabilityCommandTopic(cover.Device.Id, cover.Id),
		AvTopic:          client.AvailabilityTopic(cover.Device.Id),
		Name:             cover.Name,
		UniqueId:         cover.UniqueId,
		Platform:         "mqtt",
		PositionOpen:     1,
	}
}

func device(d domain.GenericDevice) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
