package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sensorsByID(sensors []GenericSensor) map[string]GenericSensor {
	out := make(map[string]GenericSensor, len(sensors))
	for _, s := range sensors {
		out[s.Id] = s
	}
	return out
}

func TestDeviceEntitiesForDoorWindowSensor(t *testing.T) {
	model := ModelByID("SHDW-2")
	sensors, switches, lights, covers := DeviceEntities("shellydw2-aabbcc", model,
		[]string{"alarm_contact", "alarm_tamper", "tilt", "measure_battery", "measure_luminance"}, "bridge")

	assert.Empty(t, switches)
	assert.Empty(t, lights)
	assert.Empty(t, covers)
	require.Len(t, sensors, 5)

	byID := sensorsByID(sensors)
	assert.Equal(t, SENSOR_TYPE_BINARY, byID["alarm_contact"].SensorType)
	assert.Equal(t, "door", byID["alarm_contact"].DeviceClass)
	assert.Equal(t, SENSOR_TYPE_BINARY, byID["alarm_tamper"].SensorType)
	assert.Equal(t, "vibration", byID["alarm_tamper"].DeviceClass)
	assert.Equal(t, SENSOR_TYPE_SENSOR, byID["tilt"].SensorType)
	assert.Equal(t, "°", byID["tilt"].UnitOfMeasurement)
	assert.Equal(t, "battery", byID["measure_battery"].DeviceClass)
}

func TestDeviceEntitiesForMeteredRoller(t *testing.T) {
	model := ModelByID("SHSW-25")
	sensors, switches, lights, covers := DeviceEntities("shellyswitch25-aabbcc", model,
		[]string{"onoff", "measure_power", "measure_voltage", "measure_current",
			"meter_power", "meter_power_returned", "windowcoverings_set"}, "bridge")

	assert.Empty(t, lights)
	require.Len(t, switches, 1)
	require.Len(t, covers, 1)
	assert.Equal(t, "shellyswitch25-aabbcc_windowcoverings_set", covers[0].UniqueId)
	require.Len(t, sensors, 5)

	byID := sensorsByID(sensors)
	assert.Equal(t, "V", byID["measure_voltage"].UnitOfMeasurement)
	assert.Equal(t, "voltage", byID["measure_voltage"].DeviceClass)
	assert.Equal(t, "A", byID["measure_current"].UnitOfMeasurement)
	assert.Equal(t, "current", byID["measure_current"].DeviceClass)
	assert.Equal(t, "kWh", byID["meter_power_returned"].UnitOfMeasurement)
	assert.Equal(t, "total_increasing", byID["meter_power_returned"].StateClass)
}
