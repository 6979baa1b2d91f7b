package util

import (
	"shelly2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "shelly2mqtt",
		},
		Local: config.LocalConfig{
			PollIntervalMillis:            5000,
			BatteryPollIntervalMillis:     60000,
			RegistryRebuildIntervalMillis: 60000,
		},
		Devices: []config.DeviceEntry{
			{ID: "shellyswitch25-abc123", Model: "SHSW-25", Address: "127.0.0.1", Mode: "poll"},
		},
		Port: 8080,
	}
}
