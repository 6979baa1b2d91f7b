package config

import (
	"errors"
	"regexp"
	"strings"

	"shelly2mqtt/internal/core/domain"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig  `mapstructure:"mqtt"`
	Cloud    CloudConfig `mapstructure:"cloud"`
	CoIoT    CoIoTConfig `mapstructure:"coiot"`
	Local    LocalConfig `mapstructure:"local"`

	Devices []DeviceEntry `mapstructure:"devices"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type CloudConfig struct {
	Token string
	// ReconcileIntervalMillis spaces the periodic all_status REST pass.
	ReconcileIntervalMillis uint32 `mapstructure:"reconcile_interval_millis"`
}

type CoIoTConfig struct {
	Enable bool
	Port   int
}

type LocalConfig struct {
	// PollIntervalMillis is the base cadence for polled mains devices.
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
	// BatteryPollIntervalMillis is the slower cadence for sleepy devices.
	BatteryPollIntervalMillis uint32 `mapstructure:"battery_poll_interval_millis"`
	// RegistryRebuildIntervalMillis spaces the periodic pairing refresh.
	RegistryRebuildIntervalMillis uint32 `mapstructure:"registry_rebuild_interval_millis"`
}

// DeviceEntry is one paired device in the config file, mirrored into the
// device store at startup.
type DeviceEntry struct {
	ID       string
	Model    string
	Address  string
	Mode     string
	Username string
	Password string
}

func (e DeviceEntry) Profile() domain.DeviceProfile {
	return domain.DeviceProfile{
		ID:       strings.ToLower(e.ID),
		Model:    e.Model,
		Address:  e.Address,
		Mode:     e.Mode,
		Username: e.Username,
		Password: e.Password,
	}
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
