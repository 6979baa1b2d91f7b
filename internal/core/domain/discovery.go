package domain

import (
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

// Discovery entity builders. Entity ids are capability names so discovery
// configs and state topics line up without a mapping table.

func BridgeDevice(baseTopic string) GenericDevice {
	return GenericDevice{
		Id:           fmt.Sprintf("%s_bridge", baseTopic),
		Name:         "Shelly Bridge",
		Manufacturer: "shelly2mqtt",
		Model:        "bridge",
		Version:      versioninfo.Short(),
	}
}

func BridgeSensors(device GenericDevice) []GenericSensor {
	return []GenericSensor{
		{
			Device:         device,
			Id:             SENSOR_ID_BRIDGE_STATE,
			UniqueId:       fmt.Sprintf("%s_%s", device.Id, SENSOR_ID_BRIDGE_STATE),
			Name:           "Bridge state",
			SensorType:     SENSOR_TYPE_BINARY,
			DeviceClass:    "connectivity",
			EntityCategory: "diagnostic",
		},
	}
}

// DiscoveryDevice describes one logical device for the host UI.
func DiscoveryDevice(id string, model Model, via string) GenericDevice {
	return GenericDevice{
		Id:           id,
		Name:         fmt.Sprintf("%s %s", model.Name, id),
		Manufacturer: "Shelly",
		Model:        model.ID,
		ViaDevice:    via,
	}
}

type capabilityMeta struct {
	binary      bool
	deviceClass string
	stateClass  string
	unit        string
}

var sensorCapabilities = map[string]capabilityMeta{
	"measure_power":        {deviceClass: "power", stateClass: "measurement", unit: "W"},
	"measure_voltage":      {deviceClass: "voltage", stateClass: "measurement", unit: "V"},
	"measure_current":      {deviceClass: "current", stateClass: "measurement", unit: "A"},
	"meter_power":          {deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	"meter_power_returned": {deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	"measure_temperature":  {deviceClass: "temperature", stateClass: "measurement", unit: "°C"},
	"measure_humidity":     {deviceClass: "humidity", stateClass: "measurement", unit: "%"},
	"measure_battery":      {deviceClass: "battery", stateClass: "measurement", unit: "%"},
	"measure_luminance":    {deviceClass: "illuminance", stateClass: "measurement", unit: "lx"},
	"alarm_water":          {binary: true, deviceClass: "moisture"},
	"alarm_motion":         {binary: true, deviceClass: "motion"},
	"alarm_contact":        {binary: true, deviceClass: "door"},
	"alarm_tamper":         {binary: true, deviceClass: "vibration"},
	"tilt":                 {stateClass: "measurement", unit: "°"},
}

// DeviceEntities derives the host entities for one logical device from the
// capabilities it has reported so far. Relays become switches, light models
// become light entities, rollers become covers, everything measurable becomes
// a sensor.
func DeviceEntities(deviceID string, model Model, capabilities []string, via string) (
	sensors []GenericSensor, switches []GenericSwitch, lights []GenericLight, covers []GenericCover) {

	device := DiscoveryDevice(deviceID, model, via)

	hasLight := false
	for _, c := range capabilities {
		if c == "dim" || c == "light_temperature" || c == "light_hue" {
			hasLight = true
		}
	}

	for _, c := range capabilities {
		if meta, ok := sensorCapabilities[c]; ok {
			sensorType := SENSOR_TYPE_SENSOR
			if meta.binary {
				sensorType = SENSOR_TYPE_BINARY
			}
			sensors = append(sensors, GenericSensor{
				Device:            device,
				Id:                c,
				UniqueId:          fmt.Sprintf("%s_%s", deviceID, c),
				Name:              c,
				SensorType:        sensorType,
				DeviceClass:       meta.deviceClass,
				StateClass:        meta.stateClass,
				UnitOfMeasurement: meta.unit,
			})
			continue
		}
		if c == "onoff" && !hasLight {
			switches = append(switches, GenericSwitch{
				Device:   device,
				Id:       c,
				UniqueId: fmt.Sprintf("%s_%s", deviceID, c),
				Name:     device.Name,
			})
			continue
		}
		if c == "windowcoverings_set" {
			covers = append(covers, GenericCover{
				Device:   device,
				Id:       c,
				UniqueId: fmt.Sprintf("%s_%s", deviceID, c),
				Name:     device.Name,
			})
		}
	}

	if hasLight {
		lights = append(lights, GenericLight{
			Device:     device,
			Id:         "light",
			UniqueId:   fmt.Sprintf("%s_light", deviceID),
			Name:       device.Name,
			Brightness: contains(capabilities, "dim"),
			ColorTemp:  contains(capabilities, "light_temperature"),
			Color:      contains(capabilities, "light_hue"),
		})
	}

	return sensors, switches, lights, covers
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
