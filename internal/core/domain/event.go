package domain

// Events published on the internal event stream. The MQTT actor subscribes
// and mirrors them to the host; automation triggers ride the same bus.

// CapabilityUpdateEvent is emitted once per capability whose value actually
// changed. Value nil means "no valid reading" (sentinel mapped to unknown).
type CapabilityUpdateEvent struct {
	DeviceID   string
	Capability string
	Value      any
	Decimals   uint
}

// AvailabilityEvent reflects a device going (un)reachable on its transport.
type AvailabilityEvent struct {
	DeviceID  string
	Available bool
	Reason    string
}

// TriggerEvent is a host-visible automation trigger with free-form tokens.
type TriggerEvent struct {
	DeviceID string
	Name     string
	Tokens   map[string]any
}

// BridgeStateEvent reports the bridge's own online state.
type BridgeStateEvent struct {
	Online bool
}

const (
	TRIGGER_DEVICE_OFFLINE = "device_offline"
	TRIGGER_DEVICE_ONLINE  = "device_online"
	TRIGGER_CLOUD_ERROR    = "cloud_error"
	TRIGGER_INPUT_EVENT    = "input_event"
)

// Discovery entity descriptions, consumed by the MQTT discovery publisher.

type GenericDevice struct {
	Id           string
	Name         string
	Manufacturer string
	Model        string
	Version      string
	ViaDevice    string
}

type GenericSensor struct {
	Device            GenericDevice
	Id                string
	UniqueId          string
	Name              string
	SensorType        string
	DeviceClass       string
	StateClass        string
	UnitOfMeasurement string
	EntityCategory    string
	Icon              string
	EnabledByDefault  *bool
}

type GenericSwitch struct {
	Device   GenericDevice
	Id       string
	UniqueId string
	Name     string
	Icon     string
}

type GenericCover struct {
	Device   GenericDevice
	Id       string
	UniqueId string
	Name     string
}

type GenericLight struct {
	Device     GenericDevice
	Id         string
	UniqueId   string
	Name       string
	Brightness bool
	ColorTemp  bool
	Color      bool
}

const (
	SENSOR_TYPE_SENSOR = "sensor"
	SENSOR_TYPE_BINARY = "binary_sensor"

	SENSOR_ID_BRIDGE_STATE = "bridge_state"
)
