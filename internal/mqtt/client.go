package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"time"

	"shelly2mqtt/internal/config"
	"shelly2mqtt/internal/core/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("shelly2mqtt_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:        mqtt.NewClient(opts),
		cfg:           cfg.MQTT,
		commandRegexp: commandExtractor(cfg.MQTT.BaseTopic),
	}
}

type MQTTClient struct {
	client        mqtt.Client
	cfg           config.MQTTConfig
	commandRegexp *regexp.Regexp
}

// ParsedMQTTCommand is one inbound set request: a device, a capability and
// the raw payload.
type ParsedMQTTCommand struct {
	DeviceId   string
	Capability string
	Payload    string
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) CapabilityStateTopic(deviceId, capability string) string {
	return fmt.Sprintf("%s/%s/%s/state", c.baseTopic(), deviceId, capability)
}

func (c *MQTTClient) CapabilityCommandTopic(deviceId, capability string) string {
	return fmt.Sprintf("%s/%s/%s/set", c.baseTopic(), deviceId, capability)
}

func (c *MQTTClient) AvailabilityTopic(deviceId string) string {
	return fmt.Sprintf("%s/%s/availability", c.baseTopic(), deviceId)
}

func (c *MQTTClient) EventTopic(deviceId string) string {
	return fmt.Sprintf("%s/%s/event", c.baseTopic(), deviceId)
}

func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	matches := c.commandRegexp.FindAllStringSubmatch(msg.Topic(), 1)
	if len(matches) == 0 || len(matches[0]) != 3 {
		return nil, errors.New("invalid command topic")
	}
	return &ParsedMQTTCommand{
		DeviceId:   matches[0][1],
		Capability: matches[0][2],
		Payload:    string(msg.Payload()),
	}, nil
}

// CommandToAction turns a parsed set request into a dispatchable action.
// Unknown capabilities are an error so the subscriber can log and drop them.
func CommandToAction(cmd ParsedMQTTCommand) (domain.Action, map[string]any, error) {
	switch cmd.Capability {
	case "onoff":
		switch cmd.Payload {
		case MQTT_PAYLOAD_ON, "true", "1":
			return domain.ActionTurnOn, nil, nil
		case MQTT_PAYLOAD_OFF, "false", "0":
			return domain.ActionTurnOff, nil, nil
		case "toggle":
			return domain.ActionToggle, nil, nil
		}
		return 0, nil, fmt.Errorf("invalid onoff payload %q", cmd.Payload)
	case "dim":
		v, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid dim payload %q", cmd.Payload)
		}
		return domain.ActionSetBrightness, map[string]any{"dim": v}, nil
	case "light_temperature":
		v, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid light_temperature payload %q", cmd.Payload)
		}
		return domain.ActionSetColorTemp, map[string]any{"light_temperature": v}, nil
	case "light_hue":
		v, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid light_hue payload %q", cmd.Payload)
		}
		return domain.ActionSetColor, map[string]any{"light_hue": v}, nil
	case "windowcoverings_set":
		v, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid windowcoverings_set payload %q", cmd.Payload)
		}
		return domain.ActionSetPosition, map[string]any{"windowcoverings_set": v}, nil
	case "reboot":
		return domain.ActionReboot, nil, nil
	case "ota":
		return domain.ActionUpdateFirmware, nil, nil
	}
	return 0, nil, fmt.Errorf("unknown capability %q", cmd.Capability)
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.commandTopic(), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Unsubscribe(topic string, continuation func(error), timeout time.Duration) {
	token := c.client.Unsubscribe(topic)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT unsubscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/+/+/set", c.baseTopic())
}

func commandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("%s/([a-zA-Z0-9_-]+)/([a-zA-Z0-9_.]+)/set", baseTopic))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
